package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/rakunlabs/gate/internal/router"
)

// Latency scores candidates to favor the lowest observed probe latency,
// with an optional hard ceiling and a quadratic decay that heavily favors
// the fastest connectors.
type Latency struct {
	MaxLatency *time.Duration
	Percentile float64
}

// NewLatency builds a latency strategy optimizing for p95 with no ceiling.
func NewLatency() Latency { return Latency{Percentile: 0.95} }

// NewLatencyWithMax builds a latency strategy that drops any candidate
// whose probed latency exceeds max.
func NewLatencyWithMax(max time.Duration) Latency {
	return Latency{MaxLatency: &max, Percentile: 0.95}
}

// WithPercentile returns a copy of l labeled as optimizing for the given
// percentile (clamped to [0,1]); it does not change the scoring formula,
// only the rationale text, matching the source strategy's own behavior.
func (l Latency) WithPercentile(p float64) Latency {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	l.Percentile = p
	return l
}

func (l Latency) Evaluate(ctx context.Context, rc router.RequestContext, request router.RequestDescriptor, candidates []router.CandidateConnector) ([]router.ScoredRoute, error) {
	minLatencyMS := 0
	first := true
	for _, c := range candidates {
		if c.Health.LatencyMS == nil {
			continue
		}
		if first || *c.Health.LatencyMS < minLatencyMS {
			minLatencyMS = *c.Health.LatencyMS
			first = false
		}
	}

	routes := make([]router.ScoredRoute, 0, len(candidates))
	for _, c := range candidates {
		latencyMS := 1000
		if c.Health.LatencyMS != nil {
			latencyMS = *c.Health.LatencyMS
		}
		latency := time.Duration(latencyMS) * time.Millisecond

		if l.MaxLatency != nil && latency > *l.MaxLatency {
			continue
		}

		latencyScore := 1.0
		if latencyMS > 0 {
			normalized := float64(minLatencyMS) / float64(latencyMS)
			latencyScore = normalized * normalized
		}

		healthFactor := 0.1
		if c.Health.Healthy {
			healthFactor = 1.0 - c.Health.ErrorRate*0.5
		}

		conversionPenalty := 1.0
		if c.NeedsConvert {
			conversionPenalty = 0.95
		}

		finalScore := latencyScore * healthFactor * conversionPenalty

		routes = append(routes, router.ScoredRoute{
			ConnectorID:      c.Description.ID,
			Score:            finalScore,
			EstimatedLatency: &latency,
			ConversionNeeded: c.NeedsConvert,
			Rationale: fmt.Sprintf("Latency-optimized: %dms (p%.0f), score=%.3f",
				latencyMS, l.Percentile*100, finalScore),
		})
	}

	sortDescending(routes)
	return routes, nil
}
