package strategy

import (
	"context"
	"fmt"

	"github.com/rakunlabs/gate/internal/router"
)

// Cost scores candidates to favor cheaper estimated cost per request, with
// an optional hard budget and a small preference for connectors that
// advertise cached-input pricing.
type Cost struct {
	Budget       *float64
	PreferCached bool
}

// NewCost builds a budget-less, cache-preferring cost strategy.
func NewCost() Cost { return Cost{PreferCached: true} }

// NewCostWithBudget builds a cost strategy that drops any candidate whose
// estimated cost exceeds budget.
func NewCostWithBudget(budget float64) Cost { return Cost{Budget: &budget, PreferCached: true} }

func (s Cost) estimateCost(c router.CandidateConnector, request router.RequestDescriptor) *float64 {
	if c.Description.CostStructure == nil {
		return nil
	}
	cs := c.Description.CostStructure

	estimatedInputTokens := 0
	if request.ContextLengthHint != nil {
		estimatedInputTokens = *request.ContextLengthHint
	}
	maxTokens := 512
	if request.Capabilities.MaxTokens != nil {
		maxTokens = *request.Capabilities.MaxTokens
	}
	estimatedOutputTokens := maxTokens / 2
	if estimatedOutputTokens < 1 {
		estimatedOutputTokens = 1
	}

	inputCost := cs.InputCostPer1K * float64(estimatedInputTokens) / 1000
	outputCost := cs.OutputCostPer1K * float64(estimatedOutputTokens) / 1000
	total := inputCost + outputCost
	return &total
}

func (s Cost) Evaluate(ctx context.Context, rc router.RequestContext, request router.RequestDescriptor, candidates []router.CandidateConnector) ([]router.ScoredRoute, error) {
	routes := make([]router.ScoredRoute, 0, len(candidates))

	for _, c := range candidates {
		estimatedCost := s.estimateCost(c, request)

		if s.Budget != nil && estimatedCost != nil && *estimatedCost > *s.Budget {
			continue
		}

		costScore := 0.5
		if estimatedCost != nil {
			const maxCost = 1.0
			clamped := *estimatedCost
			if clamped > maxCost {
				clamped = maxCost
			}
			costScore = (maxCost - clamped) / maxCost
		}

		cacheBoost := 0.0
		if s.PreferCached && c.Description.CostStructure != nil && c.Description.CostStructure.CachedInputCostPer1K != nil {
			cacheBoost = 0.1
		}

		healthPenalty := 0.5
		if c.Health.Healthy {
			healthPenalty = c.Health.ErrorRate
		}

		finalScore := (costScore + cacheBoost) * (1.0 - healthPenalty)

		routes = append(routes, router.ScoredRoute{
			ConnectorID:      c.Description.ID,
			Score:            finalScore,
			EstimatedCost:    estimatedCost,
			EstimatedLatency: latencyFromHealth(c.Health),
			ConversionNeeded: c.NeedsConvert,
			Rationale:        fmt.Sprintf("Cost-optimized: estimated_cost=%s, score=%.3f", formatCost(estimatedCost), finalScore),
		})
	}

	sortDescending(routes)
	return routes, nil
}
