package strategy

import (
	"fmt"
	"sort"
	"time"

	"github.com/rakunlabs/gate/internal/router"
)

// sortDescending orders routes by score, highest first. The weighted, cost,
// latency, provider-affinity and composite strategies apply it to their
// output before returning; Simple, BestOfN and scripted do not.
func sortDescending(routes []router.ScoredRoute) {
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Score > routes[j].Score
	})
}

// latencyFromHealth converts a health snapshot's optional millisecond
// latency into a *time.Duration, or nil if unknown.
func latencyFromHealth(h router.ConnectorHealth) *time.Duration {
	if h.LatencyMS == nil {
		return nil
	}
	d := time.Duration(*h.LatencyMS) * time.Millisecond
	return &d
}

// formatCost renders an optional estimated cost the way the rationale
// strings across these strategies expect: "none" when absent.
func formatCost(cost *float64) string {
	if cost == nil {
		return "none"
	}
	return fmt.Sprintf("%.6f", *cost)
}
