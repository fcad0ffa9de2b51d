package strategy

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/rakunlabs/gate/internal/router"
)

// Weighted scores candidates by a configured per-connector weight, adjusted
// for health and, unless Deterministic, jittered for load distribution.
type Weighted struct {
	Weights       map[string]float64
	Deterministic bool
}

// NewWeighted builds a randomized weighted strategy.
func NewWeighted(weights map[string]float64) Weighted {
	return Weighted{Weights: weights}
}

// NewDeterministicWeighted builds a weighted strategy with no randomization,
// useful for reproducible tests.
func NewDeterministicWeighted(weights map[string]float64) Weighted {
	return Weighted{Weights: weights, Deterministic: true}
}

func (w Weighted) Evaluate(ctx context.Context, rc router.RequestContext, request router.RequestDescriptor, candidates []router.CandidateConnector) ([]router.ScoredRoute, error) {
	routes := make([]router.ScoredRoute, 0, len(candidates))
	for _, c := range candidates {
		baseWeight := 1.0
		if ww, ok := w.Weights[c.Description.ID]; ok {
			baseWeight = ww
		}

		healthFactor := 0.1
		if c.Health.Healthy {
			healthFactor = 1.0 - c.Health.ErrorRate
		}

		score := baseWeight * healthFactor
		if !w.Deterministic {
			randomFactor := 0.8 + rand.Float64()*0.4
			score *= randomFactor
		}

		routes = append(routes, router.ScoredRoute{
			ConnectorID:      c.Description.ID,
			Score:            score,
			EstimatedLatency: latencyFromHealth(c.Health),
			ConversionNeeded: c.NeedsConvert,
			Rationale:        fmt.Sprintf("Weighted routing: base_weight=%.2f, health_factor=%.2f", baseWeight, healthFactor),
		})
	}
	sortDescending(routes)
	return routes, nil
}
