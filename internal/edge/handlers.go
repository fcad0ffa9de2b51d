package edge

import (
	"encoding/json"
	"net/http"

	mrequestid "github.com/rakunlabs/ada/middleware/requestid"

	"github.com/rakunlabs/gate/internal/protocol"
	"github.com/rakunlabs/gate/internal/router"
)

// protocolHandler returns the POST handler for one wire protocol: decode,
// authenticate, route, execute, and forward the response stream verbatim.
func (s *Server) protocolHandler(proto router.Protocol) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth, authErr := s.authenticate(r)
		if authErr != "" {
			httpErrorJSON(w, http.StatusUnauthorized, "authentication_error", authErr)
			return
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpErrorJSON(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: "+err.Error())
			return
		}

		model, _ := body["model"].(string)
		if model == "" {
			httpErrorJSON(w, http.StatusBadRequest, "invalid_request_error", "\"model\" is required")
			return
		}
		if !auth.modelAllowed(model) {
			httpErrorJSON(w, http.StatusForbidden, "invalid_request_error", "token does not have access to model "+model)
			return
		}

		desc := router.RequestDescriptor{
			Model:        model,
			Protocol:     proto,
			Capabilities: protocol.ExtractCapabilities(body, proto),
		}

		rc := router.RequestContext{
			Identity:      auth.identity,
			CorrelationID: r.Header.Get(mrequestid.HeaderXRequestID),
			TraceID:       r.Header.Get(mrequestid.HeaderXRequestID),
			Headers:       r.Header,
			Query:         r.URL.Query(),
		}

		ctx := r.Context()
		plan, err := s.router.Route(ctx, rc, desc)
		if err != nil {
			s.writeRouterError(w, err)
			return
		}

		respStream, err := s.router.Execute(ctx, plan, router.NewRequestStream(proto, body))
		if err != nil {
			s.writeRouterError(w, err)
			return
		}

		if desc.Capabilities.NeedsStreaming {
			s.streamResponse(w, r, proto, respStream)
			return
		}
		s.accumulateResponse(w, r, proto, respStream)
	}
}

func (s *Server) writeRouterError(w http.ResponseWriter, err error) {
	httpErrorJSON(w, router.StatusFor(err), "router_error", err.Error())
}

// streamResponse forwards each Content chunk as an SSE event, as soon as
// it's produced.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, proto router.Protocol, stream router.ResponseStream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpErrorJSON(w, http.StatusInternalServerError, "server_error", "streaming not supported by this server")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	for {
		chunk, ok, err := stream.Next(ctx)
		if err != nil {
			s.log.Error("response stream error", "error", err)
			writeSSEDone(w, flusher)
			return
		}
		if !ok {
			writeSSEDone(w, flusher)
			return
		}

		switch chunk.Kind {
		case router.ChunkContent:
			writeSSEChunk(w, flusher, chunk.Content)
		case router.ChunkStop:
			if chunk.Stop != nil && chunk.Stop.Reason == router.StopError {
				writeSSEChunk(w, flusher, map[string]any{"error": map[string]any{"message": chunk.Stop.Error}})
			}
			writeSSEDone(w, flusher)
			return
		}
	}
}

// accumulateResponse collects every Content chunk and writes one JSON body
// once the stream completes.
func (s *Server) accumulateResponse(w http.ResponseWriter, r *http.Request, proto router.Protocol, stream router.ResponseStream) {
	ctx := r.Context()

	var contents []any
	var usage *router.Usage

	for {
		chunk, ok, err := stream.Next(ctx)
		if err != nil {
			httpErrorJSON(w, http.StatusBadGateway, "upstream_error", err.Error())
			return
		}
		if !ok {
			httpResponseJSON(w, accumulate(proto, contents, usage), http.StatusOK)
			return
		}

		switch chunk.Kind {
		case router.ChunkContent:
			contents = append(contents, chunk.Content)
		case router.ChunkUsage:
			usage = chunk.Usage
		case router.ChunkStop:
			if chunk.Stop != nil && chunk.Stop.Reason == router.StopError {
				httpErrorJSON(w, http.StatusBadGateway, "upstream_error", chunk.Stop.Error)
				return
			}
			httpResponseJSON(w, accumulate(proto, contents, usage), http.StatusOK)
			return
		}
	}
}

// ListModels reports every currently healthy connector as one list entry,
// in the OpenAI /v1/models list shape. Connectors are the routable unit the
// router exposes; it has no notion of a per-connector model catalog, so the
// connector id (e.g. "provider://anthropic/fallback") stands in for "id".
func (s *Server) ListModels(w http.ResponseWriter, r *http.Request) {
	if _, authErr := s.authenticate(r); authErr != "" {
		httpErrorJSON(w, http.StatusUnauthorized, "authentication_error", authErr)
		return
	}

	var data []map[string]any
	for id, conn := range s.router.Registry().GetAll() {
		health := conn.Probe(r.Context())
		if idx := s.router.Index(); idx != nil {
			if snap, ok := idx.Get(id); ok {
				health = snap.Health
			}
		}
		if !health.Healthy {
			continue
		}
		data = append(data, map[string]any{
			"id":     id,
			"object": "model",
		})
	}

	httpResponseJSON(w, map[string]any{"object": "list", "data": data}, http.StatusOK)
}
