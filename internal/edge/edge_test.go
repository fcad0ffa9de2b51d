package edge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rakunlabs/gate/internal/config"
	"github.com/rakunlabs/gate/internal/router"
	"github.com/rakunlabs/gate/internal/strategy"
)

type stubConnector struct {
	id       string
	accepts  []router.Protocol
	healthy  bool
	streamed []router.ResponseChunk // when set, Execute streams these chunks
}

func (c *stubConnector) Describe(ctx context.Context) router.ConnectorDescription {
	return router.ConnectorDescription{
		ID:                c.id,
		AcceptedProtocols: c.accepts,
		Capabilities:      router.ConnectorCapabilities{SupportsStreaming: true, Modalities: []string{"text"}},
	}
}

func (c *stubConnector) Probe(ctx context.Context) router.ConnectorHealth {
	return router.ConnectorHealth{Healthy: c.healthy}
}

func (c *stubConnector) Execute(ctx context.Context, rc router.RequestContext, request router.RequestStream) (router.ResponseStream, error) {
	writer, stream := router.NewResponseStream(len(c.streamed) + 1)
	go func() {
		for _, chunk := range c.streamed {
			_ = writer.Send(ctx, chunk)
		}
		writer.Close()
	}()
	return stream, nil
}

func newTestServer(t *testing.T, conn *stubConnector) *Server {
	t.Helper()
	reg := router.NewRegistry()
	reg.Register(conn.id, conn)

	r := router.NewRouterBuilder().
		Registry(reg).
		Strategy(strategy.NewSimple()).
		Build()

	gw := config.Gateway{AuthTokens: []config.AuthTokenConfig{{Token: "test-token"}}}
	return New(config.Server{}, gw, r, nil)
}

// doRequest exercises a handler method directly with a real http.Request,
// bypassing ada's route dispatch (not under test here; route registration
// is exercised simply by New not panicking).
func doRequest(handler http.HandlerFunc, method, path, token string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHealthDoesNotRequireAuth(t *testing.T) {
	s := newTestServer(t, &stubConnector{id: "c1", accepts: []router.Protocol{router.ProtocolOpenAIChat}, healthy: true})
	rec := doRequest(s.Health, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatCompletionsRejectsMissingAuth(t *testing.T) {
	s := newTestServer(t, &stubConnector{id: "c1", accepts: []router.Protocol{router.ProtocolOpenAIChat}, healthy: true})
	rec := doRequest(s.protocolHandler(router.ProtocolOpenAIChat), http.MethodPost, "/v1/chat/completions", "", `{"model":"gpt-4o"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestChatCompletionsNonStreamingAccumulatesChunks(t *testing.T) {
	conn := &stubConnector{
		id:      "c1",
		accepts: []router.Protocol{router.ProtocolOpenAIChat},
		healthy: true,
		streamed: []router.ResponseChunk{
			router.ContentChunk(map[string]any{
				"object":  "chat.completion",
				"choices": []any{map[string]any{"message": map[string]any{"content": "hi"}}},
			}),
			router.StopChunk(router.StopComplete, "", nil),
		},
	}
	s := newTestServer(t, conn)

	rec := doRequest(s.protocolHandler(router.ProtocolOpenAIChat), http.MethodPost, "/v1/chat/completions", "test-token", `{"model":"gpt-4o"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["object"] != "chat.completion" {
		t.Fatalf("got %v", body)
	}
}

func TestChatCompletionsStreamingForwardsSSE(t *testing.T) {
	conn := &stubConnector{
		id:      "c1",
		accepts: []router.Protocol{router.ProtocolOpenAIChat},
		healthy: true,
		streamed: []router.ResponseChunk{
			router.ContentChunk(map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"content": "hi"}}}}),
			router.StopChunk(router.StopComplete, "", nil),
		},
	}
	s := newTestServer(t, conn)

	rec := doRequest(s.protocolHandler(router.ProtocolOpenAIChat), http.MethodPost, "/v1/chat/completions", "test-token", `{"model":"gpt-4o","stream":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "data: ") || !strings.Contains(rec.Body.String(), "[DONE]") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestChatCompletionsRejectsDisallowedModel(t *testing.T) {
	conn := &stubConnector{id: "c1", accepts: []router.Protocol{router.ProtocolOpenAIChat}, healthy: true}
	reg := router.NewRegistry()
	reg.Register(conn.id, conn)
	r := router.NewRouterBuilder().Registry(reg).Strategy(strategy.NewSimple()).Build()
	gw := config.Gateway{AuthTokens: []config.AuthTokenConfig{{Token: "scoped", AllowedModels: []string{"allowed-model"}}}}
	s := New(config.Server{}, gw, r, nil)

	rec := doRequest(s.protocolHandler(router.ProtocolOpenAIChat), http.MethodPost, "/v1/chat/completions", "scoped", `{"model":"other-model"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestChatCompletionsNoEligibleConnectorReturnsServiceUnavailable(t *testing.T) {
	conn := &stubConnector{id: "c1", accepts: []router.Protocol{router.ProtocolAnthropic}, healthy: true}
	s := newTestServer(t, conn)

	rec := doRequest(s.protocolHandler(router.ProtocolOpenAIChat), http.MethodPost, "/v1/chat/completions", "test-token", `{"model":"gpt-4o"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestListModelsReturnsHealthyConnectors(t *testing.T) {
	s := newTestServer(t, &stubConnector{id: "c1", accepts: []router.Protocol{router.ProtocolOpenAIChat}, healthy: true})
	rec := doRequest(s.ListModels, http.MethodGet, "/v1/models", "test-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, _ := body["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("got %v", body)
	}
}
