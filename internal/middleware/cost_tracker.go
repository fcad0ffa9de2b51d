package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rakunlabs/gate/internal/router"
)

// CostTracker records a usage entry once a request's final cost is known,
// taken from the Stop chunk's Cost field, tagged with whatever model/
// provider the response's Metadata chunk advertised along the way.
type CostTracker struct {
	Recorder router.UsageRecorder
	Log      *slog.Logger
}

func NewCostTracker(recorder router.UsageRecorder, log *slog.Logger) CostTracker {
	if log == nil {
		log = slog.Default()
	}
	return CostTracker{Recorder: recorder, Log: log}
}

func (m CostTracker) Process(ctx context.Context, rc router.RequestContext, request router.RequestStream, next router.Next) (router.ResponseStream, error) {
	stream, err := next(ctx, rc, request)
	if err != nil {
		return stream, err
	}

	var model, provider string
	var cost *router.Cost

	return interceptStream(ctx, stream, func(chunk router.ResponseChunk) {
		switch chunk.Kind {
		case router.ChunkMetadata:
			if v, ok := chunk.Metadata["model"].(string); ok {
				model = v
			}
			if v, ok := chunk.Metadata["provider"].(string); ok {
				provider = v
			}
		case router.ChunkStop:
			if chunk.Stop != nil && chunk.Stop.Cost != nil {
				cost = chunk.Stop.Cost
			}
		}
	}, func() {
		if cost == nil || m.Recorder == nil {
			return
		}
		record := router.UsageRecord{
			ID:           ulid.Make().String(),
			OrgID:        rc.Identity.OrgID,
			UserID:       rc.Identity.UserID,
			APIKeyHash:   rc.Identity.APIKeyHash,
			RequestID:    rc.TraceID,
			ProviderID:   provider,
			ModelID:      model,
			InputTokens:  uint64(cost.InputTokens),
			OutputTokens: uint64(cost.OutputTokens),
			TotalTokens:  uint64(cost.InputTokens + cost.OutputTokens),
			CostUSD:      cost.TotalCostUSD,
			Timestamp:    time.Now().UTC(),
		}
		if err := m.Recorder.RecordUsage(ctx, record); err != nil {
			m.Log.Error("failed to record usage", "error", err)
		}
	}), nil
}
