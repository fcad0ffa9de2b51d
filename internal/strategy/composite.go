package strategy

import (
	"context"
	"fmt"

	"github.com/rakunlabs/gate/internal/router"
)

// Member pairs a strategy with the weight Composite gives its scores in the
// blended average.
type Member struct {
	Strategy router.RoutingStrategy
	Weight   float64
}

// Composite blends the scores of several strategies into a single weighted
// average per connector, re-sorting the result.
type Composite struct {
	members []Member
}

// NewComposite builds a composite strategy from weighted members.
func NewComposite(members ...Member) Composite {
	return Composite{members: members}
}

func (c Composite) Evaluate(ctx context.Context, rc router.RequestContext, request router.RequestDescriptor, candidates []router.CandidateConnector) ([]router.ScoredRoute, error) {
	if len(c.members) == 0 {
		return nil, nil
	}

	type scoreWeight struct {
		score, weight float64
	}
	allScores := map[string][]scoreWeight{}
	finalRoutes := map[string]router.ScoredRoute{}

	for _, m := range c.members {
		scored, err := m.Strategy.Evaluate(ctx, rc, request, candidates)
		if err != nil {
			return nil, err
		}
		for _, route := range scored {
			allScores[route.ConnectorID] = append(allScores[route.ConnectorID], scoreWeight{route.Score, m.Weight})
			finalRoutes[route.ConnectorID] = route
		}
	}

	result := make([]router.ScoredRoute, 0, len(finalRoutes))
	for connectorID, scores := range allScores {
		totalWeight := 0.0
		weightedSum := 0.0
		for _, sw := range scores {
			totalWeight += sw.weight
			weightedSum += sw.score * sw.weight
		}
		finalScore := 0.0
		if totalWeight > 0 {
			finalScore = weightedSum / totalWeight
		}

		route, ok := finalRoutes[connectorID]
		if !ok {
			continue
		}
		route.Score = finalScore
		route.Rationale = fmt.Sprintf("Composite score from %d strategies", len(c.members))
		result = append(result, route)
	}

	sortDescending(result)
	return result, nil
}
