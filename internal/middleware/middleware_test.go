package middleware

import (
	"context"
	"net/http"
	"testing"

	"github.com/rakunlabs/gate/internal/router"
)

func drain(t *testing.T, stream router.ResponseStream) []router.ResponseChunk {
	t.Helper()
	var out []router.ResponseChunk
	for {
		chunk, ok, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("stream.Next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, chunk)
	}
}

func terminalNext(chunks ...router.ResponseChunk) router.Next {
	return func(ctx context.Context, rc router.RequestContext, request router.RequestStream) (router.ResponseStream, error) {
		writer, stream := router.NewResponseStream(len(chunks))
		for _, c := range chunks {
			_ = writer.Send(ctx, c)
		}
		writer.Close()
		return stream, nil
	}
}

func TestMonitoringPassesChunksThrough(t *testing.T) {
	mw := NewMonitoring("test-service", nil)
	next := terminalNext(
		router.UsageChunk(10, 5),
		router.StopChunk(router.StopComplete, "", nil),
	)

	stream, err := mw.Process(context.Background(), router.RequestContext{TraceID: "t1"}, router.RequestStream{}, next)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	chunks := drain(t, stream)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
}

type fakeRegistrar struct {
	registered []string
}

func (f *fakeRegistrar) RegisterAnthropicKey(ctx context.Context, key string) error {
	f.registered = append(f.registered, key)
	return nil
}

func TestKeyCaptureRegistersOnCompleteAnthropicRequest(t *testing.T) {
	reg := &fakeRegistrar{}
	mw := NewKeyCapture(reg)

	headers := http.Header{}
	headers.Set("x-api-key", "sk-ant-captured-key")
	rc := router.RequestContext{Headers: headers}
	request := router.NewRequestStream(router.ProtocolAnthropic, map[string]any{})

	next := terminalNext(router.StopChunk(router.StopComplete, "", nil))
	stream, err := mw.Process(context.Background(), rc, request, next)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	drain(t, stream)

	if len(reg.registered) != 1 || reg.registered[0] != "sk-ant-captured-key" {
		t.Fatalf("expected the key to be captured once, got %v", reg.registered)
	}
}

func TestKeyCaptureSkipsNonAnthropicProtocol(t *testing.T) {
	reg := &fakeRegistrar{}
	mw := NewKeyCapture(reg)

	headers := http.Header{}
	headers.Set("x-api-key", "sk-ant-should-not-capture")
	rc := router.RequestContext{Headers: headers}
	request := router.NewRequestStream(router.ProtocolOpenAIChat, map[string]any{})

	next := terminalNext(router.StopChunk(router.StopComplete, "", nil))
	stream, err := mw.Process(context.Background(), rc, request, next)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	drain(t, stream)

	if len(reg.registered) != 0 {
		t.Fatalf("expected no capture for a non-Anthropic protocol, got %v", reg.registered)
	}
}

func TestKeyCaptureSkipsOnError(t *testing.T) {
	reg := &fakeRegistrar{}
	mw := NewKeyCapture(reg)

	headers := http.Header{}
	headers.Set("x-api-key", "sk-ant-should-not-capture")
	rc := router.RequestContext{Headers: headers}
	request := router.NewRequestStream(router.ProtocolAnthropic, map[string]any{})

	next := terminalNext(router.StopChunk(router.StopError, "boom", nil))
	stream, err := mw.Process(context.Background(), rc, request, next)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	drain(t, stream)

	if len(reg.registered) != 0 {
		t.Fatalf("expected no capture when the stream ends in an error, got %v", reg.registered)
	}
}

type fakeRecorder struct {
	records []router.UsageRecord
}

func (f *fakeRecorder) RecordUsage(ctx context.Context, record router.UsageRecord) error {
	f.records = append(f.records, record)
	return nil
}

func TestCostTrackerRecordsUsageOnCost(t *testing.T) {
	rec := &fakeRecorder{}
	mw := NewCostTracker(rec, nil)

	cost := &router.Cost{InputTokens: 100, OutputTokens: 50, TotalCostUSD: 0.01}
	next := terminalNext(
		router.MetadataChunk(map[string]any{"model": "claude-3", "provider": "anthropic"}),
		router.StopChunk(router.StopComplete, "", cost),
	)

	rc := router.RequestContext{Identity: router.IdentityContext{UserID: "u1"}}
	stream, err := mw.Process(context.Background(), rc, router.RequestStream{}, next)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	drain(t, stream)

	if len(rec.records) != 1 {
		t.Fatalf("got %d records, want 1", len(rec.records))
	}
	got := rec.records[0]
	if got.ModelID != "claude-3" || got.ProviderID != "anthropic" {
		t.Fatalf("metadata not captured: %+v", got)
	}
	if got.TotalTokens != 150 {
		t.Fatalf("total tokens = %d, want 150", got.TotalTokens)
	}
}

func TestCostTrackerSkipsWhenNoCost(t *testing.T) {
	rec := &fakeRecorder{}
	mw := NewCostTracker(rec, nil)

	next := terminalNext(router.StopChunk(router.StopComplete, "", nil))
	stream, err := mw.Process(context.Background(), router.RequestContext{}, router.RequestStream{}, next)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	drain(t, stream)

	if len(rec.records) != 0 {
		t.Fatalf("expected no usage record without a cost, got %v", rec.records)
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	mw := NewRateLimit(RateLimitConfig{RequestsPerMinute: 1, Behavior: QuotaReject}, nil)
	rc := router.RequestContext{Identity: router.IdentityContext{UserID: "u1"}}
	next := terminalNext(router.StopChunk(router.StopComplete, "", nil))

	if _, err := mw.Process(context.Background(), rc, router.RequestStream{}, next); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	_, err := mw.Process(context.Background(), rc, router.RequestStream{}, next)
	if err == nil {
		t.Fatal("expected the second request within the window to be rejected")
	}
}

func TestRateLimitTracksIdentitiesIndependently(t *testing.T) {
	mw := NewRateLimit(RateLimitConfig{RequestsPerMinute: 1, Behavior: QuotaReject}, nil)
	next := terminalNext(router.StopChunk(router.StopComplete, "", nil))

	rc1 := router.RequestContext{Identity: router.IdentityContext{UserID: "u1"}}
	rc2 := router.RequestContext{Identity: router.IdentityContext{UserID: "u2"}}

	if _, err := mw.Process(context.Background(), rc1, router.RequestStream{}, next); err != nil {
		t.Fatalf("u1 first request should pass: %v", err)
	}
	if _, err := mw.Process(context.Background(), rc2, router.RequestStream{}, next); err != nil {
		t.Fatalf("u2 first request should pass: %v", err)
	}
}

func TestRateLimitEnforcesTokenBudgetFromUsageChunks(t *testing.T) {
	tokens := 10
	mw := NewRateLimit(RateLimitConfig{RequestsPerMinute: 100, TokensPerMinute: &tokens, Behavior: QuotaReject}, nil)
	rc := router.RequestContext{Identity: router.IdentityContext{UserID: "u1"}}
	next := terminalNext(router.UsageChunk(6, 6), router.StopChunk(router.StopComplete, "", nil))

	stream, err := mw.Process(context.Background(), rc, router.RequestStream{}, next)
	if err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	drain(t, stream)

	// The first response used 12 tokens, already over the 10/minute budget.
	if _, err := mw.Process(context.Background(), rc, router.RequestStream{}, next); err == nil {
		t.Fatal("expected the second request to be rejected for exceeding the token budget")
	}
}

func TestRateLimitWarnOnlyPassesThroughOverBudget(t *testing.T) {
	mw := NewRateLimit(RateLimitConfig{RequestsPerMinute: 1, Behavior: QuotaWarnOnly}, nil)
	rc := router.RequestContext{Identity: router.IdentityContext{UserID: "u1"}}
	next := terminalNext(router.StopChunk(router.StopComplete, "", nil))

	if _, err := mw.Process(context.Background(), rc, router.RequestStream{}, next); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if _, err := mw.Process(context.Background(), rc, router.RequestStream{}, next); err != nil {
		t.Fatalf("expected warn_only to pass the over-budget request through, got %v", err)
	}
}
