package httpconn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/rakunlabs/gate/internal/router"
	"github.com/rakunlabs/gate/internal/transport"
	"github.com/worldline-go/klient"
)

// Connector is the single configurable HTTP-backed router.Connector type
// serving Anthropic, OpenAI, OpenAI-Codex and custom providers.
type Connector struct {
	cfg    Config
	client *transport.Client
	log    *slog.Logger
}

// New builds a Connector from cfg, configuring the underlying klient
// transport the same way the gateway's own provider clients do (base URL,
// logger, proxy, TLS verification).
func New(cfg Config, proxy string, insecureSkipVerify bool, log *slog.Logger) (*Connector, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := []klient.OptionClientFn{
		klient.WithBaseURL(cfg.BaseURL),
		klient.WithLogger(log),
		klient.WithDisableRetry(true),
	}
	if proxy != "" {
		opts = append(opts, klient.WithProxy(proxy))
	}
	if insecureSkipVerify {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}

	c, err := transport.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &Connector{cfg: cfg, client: c, log: log}, nil
}

// Describe implements router.Connector.
func (c *Connector) Describe(ctx context.Context) router.ConnectorDescription {
	return router.ConnectorDescription{
		ID:                c.cfg.ID,
		AcceptedProtocols: c.cfg.AcceptedProtocols,
		Capabilities:      c.cfg.Capabilities,
		CostStructure:     c.cfg.CostStructure,
	}
}

// Probe implements router.Connector. The base implementation is
// static-optimistic, as specified; richer probing (e.g. a lightweight
// upstream ping) is an extension point left to a future connector variant.
func (c *Connector) Probe(ctx context.Context) router.ConnectorHealth {
	return router.ConnectorHealth{
		Healthy:   true,
		ErrorRate: 0,
		LastCheck: time.Now(),
	}
}

// Execute implements router.Connector: builds the upstream URL, resolves
// credentials, forwards the request body, and decodes the response as
// either an SSE stream or an accumulated body.
func (c *Connector) Execute(ctx context.Context, rc router.RequestContext, request router.RequestStream) (router.ResponseStream, error) {
	path := Endpoint(c.cfg.Provider, request.Protocol())
	if path == "" {
		return router.ResponseStream{}, router.ErrInvalidRoutingConfig(
			fmt.Sprintf("provider %s does not serve protocol %s", c.cfg.Provider, request.Protocol()))
	}

	var query url.Values
	if rc.Query != nil {
		query = rc.Query
	}
	fullURL, err := BuildURL(c.cfg.BaseURL, path, query)
	if err != nil {
		return router.ResponseStream{}, router.ErrInternal("build url: " + err.Error())
	}

	headers, ok := BuildOutgoingHeaders(ctx, c.cfg, rc.Headers)
	if !ok {
		return router.ResponseStream{}, router.ErrServiceUnavailable("no credential available for " + c.cfg.ID)
	}

	bodies, err := request.Drain(ctx)
	if err != nil {
		return router.ResponseStream{}, err
	}
	var body map[string]any
	if len(bodies) > 0 {
		body = bodies[0]
	}

	writer, stream := router.NewResponseStream(16)

	go c.run(ctx, fullURL, body, headers, writer)

	return stream, nil
}

func (c *Connector) run(ctx context.Context, fullURL string, body map[string]any, headers http.Header, writer router.ResponseStreamWriter) {
	defer writer.Close()

	streamResp, err := c.client.PostJSONStream(ctx, fullURL, body, headers)
	if err != nil {
		_ = writer.Send(ctx, router.StopChunk(router.StopError, err.Error(), nil))
		return
	}
	defer streamResp.Body.Close()

	contentType := streamResp.Header.Get("Content-Type")
	upstreamHeaders := map[string]string{}
	for k := range streamResp.Header {
		upstreamHeaders[k] = streamResp.Header.Get(k)
	}
	_ = writer.Send(ctx, router.HeadersChunk(upstreamHeaders))

	if isEventStream(contentType) {
		done := false
		err := streamSSE(streamResp.Body, func(chunk router.ResponseChunk) {
			if done {
				return
			}
			_ = writer.Send(ctx, chunk)
			if chunk.Kind == router.ChunkStop {
				done = true
			}
		})
		if err != nil && !done {
			_ = writer.Send(ctx, router.StopChunk(router.StopError, err.Error(), nil))
		}
		return
	}

	raw, err := readAll(streamResp.Body)
	if err != nil {
		_ = writer.Send(ctx, router.StopChunk(router.StopError, err.Error(), nil))
		return
	}
	_ = writer.Send(ctx, router.ContentChunk(decodeAccumulatedBody(raw)))
	_ = writer.Send(ctx, router.StopChunk(router.StopComplete, "", nil))
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
