// Package strategy implements the built-in router.RoutingStrategy
// implementations: ordered fallback, weighted load balancing, cost and
// latency optimization, best-of-N fan-out, provider affinity, and a
// composite that blends several strategies by weight.
package strategy

import (
	"context"

	"github.com/rakunlabs/gate/internal/router"
)

// Simple returns candidates in their incoming order, with strictly
// decreasing scores so downstream sorting is stable even when every other
// signal ties.
type Simple struct{}

func NewSimple() Simple { return Simple{} }

func (Simple) Evaluate(ctx context.Context, rc router.RequestContext, request router.RequestDescriptor, candidates []router.CandidateConnector) ([]router.ScoredRoute, error) {
	routes := make([]router.ScoredRoute, 0, len(candidates))
	for i, c := range candidates {
		routes = append(routes, router.ScoredRoute{
			ConnectorID:      c.Description.ID,
			Score:            1.0 / float64(i+1),
			ConversionNeeded: c.NeedsConvert,
			Rationale:        "Simple ordered routing",
		})
	}
	return routes, nil
}
