package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/rakunlabs/gate/internal/router"
)

// Monitoring logs request start/completion and taps the response stream for
// token usage and stream-level errors.
type Monitoring struct {
	ServiceName string
	Log         *slog.Logger
}

// NewMonitoring builds a Monitoring middleware. log defaults to slog.Default().
func NewMonitoring(serviceName string, log *slog.Logger) Monitoring {
	if serviceName == "" {
		serviceName = "gate-router"
	}
	if log == nil {
		log = slog.Default()
	}
	return Monitoring{ServiceName: serviceName, Log: log}
}

func (m Monitoring) Process(ctx context.Context, rc router.RequestContext, request router.RequestStream, next router.Next) (router.ResponseStream, error) {
	start := time.Now()
	traceID := rc.TraceID
	if traceID == "" {
		traceID = "unknown"
	}

	m.Log.Info("processing request",
		"service", m.ServiceName, "trace_id", traceID, "user_id", rc.Identity.UserID)

	stream, err := next(ctx, rc, request)
	if err != nil {
		m.Log.Error("request failed",
			"service", m.ServiceName, "trace_id", traceID,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return stream, err
	}

	m.Log.Info("request completed successfully",
		"service", m.ServiceName, "trace_id", traceID, "duration_ms", time.Since(start).Milliseconds())

	var chunkCount int
	var totalTokens int
	var hasError bool

	monitored := interceptStream(ctx, stream, func(chunk router.ResponseChunk) {
		chunkCount++
		switch chunk.Kind {
		case router.ChunkUsage:
			totalTokens = chunk.Usage.PromptTokens + chunk.Usage.CompletionTokens
			m.Log.Debug("token usage",
				"service", m.ServiceName, "trace_id", traceID,
				"prompt_tokens", chunk.Usage.PromptTokens, "completion_tokens", chunk.Usage.CompletionTokens)
		case router.ChunkStop:
			if chunk.Stop != nil && chunk.Stop.Error != "" {
				hasError = true
				m.Log.Error("stream error", "service", m.ServiceName, "trace_id", traceID, "error", chunk.Stop.Error)
			}
		}
	}, func() {
		m.Log.Info("stream completed",
			"service", m.ServiceName, "trace_id", traceID,
			"chunks", chunkCount, "total_tokens", totalTokens,
			"duration_ms", time.Since(start).Milliseconds(), "success", !hasError)
	})

	return monitored, nil
}
