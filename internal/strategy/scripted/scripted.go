// Package scripted implements an additive routing strategy that scores
// candidates by running a user-supplied JavaScript function body per
// candidate, via the same goja runtime the gateway's workflow engine uses
// for its script and conditional nodes.
package scripted

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/rakunlabs/gate/internal/router"
)

// Strategy scores each candidate by running Code as the body of a
// JavaScript function with "candidate" and "request" bound as plain
// objects. The function must return a number; anything else scores 0.
//
// Code runs once per candidate in a fresh VM, matching the workflow
// engine's own per-node isolation — a routing strategy is not a place to
// share mutable script state across candidates.
type Strategy struct {
	Code string
}

// New builds a scripted strategy from a JavaScript function body.
func New(code string) Strategy {
	return Strategy{Code: code}
}

func (s Strategy) Evaluate(ctx context.Context, rc router.RequestContext, request router.RequestDescriptor, candidates []router.CandidateConnector) ([]router.ScoredRoute, error) {
	routes := make([]router.ScoredRoute, 0, len(candidates))

	for _, c := range candidates {
		score, err := s.scoreOne(c, request)
		if err != nil {
			return nil, router.ErrPlugin(fmt.Sprintf("scripted strategy: %s: %v", c.Description.ID, err))
		}
		routes = append(routes, router.ScoredRoute{
			ConnectorID:      c.Description.ID,
			Score:            score,
			ConversionNeeded: c.NeedsConvert,
			Rationale:        "Scripted routing",
		})
	}

	return routes, nil
}

func (s Strategy) scoreOne(c router.CandidateConnector, request router.RequestDescriptor) (float64, error) {
	vm := goja.New()

	if err := vm.Set("candidate", map[string]any{
		"id":        c.Description.ID,
		"healthy":   c.Health.Healthy,
		"errorRate": c.Health.ErrorRate,
	}); err != nil {
		return 0, err
	}
	if err := vm.Set("request", map[string]any{
		"model":    request.Model,
		"protocol": string(request.Protocol),
	}); err != nil {
		return 0, err
	}

	val, err := vm.RunString("(function(){" + s.Code + "})()")
	if err != nil {
		return 0, fmt.Errorf("execution error: %w", err)
	}

	exported := val.Export()
	switch v := exported.(type) {
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, nil
	}
}
