package scripted

import (
	"context"
	"testing"

	"github.com/rakunlabs/gate/internal/router"
)

func TestStrategyScoresFromCandidateFields(t *testing.T) {
	strat := New("return candidate.healthy ? 1 - candidate.errorRate : 0")

	cands := []router.CandidateConnector{
		{Description: router.ConnectorDescription{ID: "a"}, Health: router.ConnectorHealth{Healthy: true, ErrorRate: 0.2}},
		{Description: router.ConnectorDescription{ID: "b"}, Health: router.ConnectorHealth{Healthy: false}},
	}

	routes, err := strat.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	if routes[0].Score != 0.8 {
		t.Fatalf("route a score = %v, want 0.8", routes[0].Score)
	}
	if routes[1].Score != 0 {
		t.Fatalf("route b score = %v, want 0", routes[1].Score)
	}
}

func TestStrategyUsesRequestFields(t *testing.T) {
	strat := New("return request.model === 'claude-3' ? 5 : 1")
	cands := []router.CandidateConnector{
		{Description: router.ConnectorDescription{ID: "a"}},
	}
	routes, err := strat.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{Model: "claude-3"}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if routes[0].Score != 5 {
		t.Fatalf("score = %v, want 5", routes[0].Score)
	}
}

func TestStrategyErrorPropagatesAsPluginError(t *testing.T) {
	strat := New("this is not valid javascript (")
	cands := []router.CandidateConnector{{Description: router.ConnectorDescription{ID: "a"}}}
	_, err := strat.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{}, cands)
	if err == nil {
		t.Fatal("expected an error for invalid script")
	}
}
