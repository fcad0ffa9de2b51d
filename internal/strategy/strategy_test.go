package strategy

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rakunlabs/gate/internal/router"
)

func candidate(id string, healthy bool, errorRate float64, latencyMS *int) router.CandidateConnector {
	return router.CandidateConnector{
		Description: router.ConnectorDescription{ID: id},
		Health:      router.ConnectorHealth{Healthy: healthy, ErrorRate: errorRate, LatencyMS: latencyMS},
	}
}

func ms(v int) *int { return &v }

func TestSimpleDecreasingScores(t *testing.T) {
	cands := []router.CandidateConnector{
		candidate("a", true, 0, nil),
		candidate("b", true, 0, nil),
		candidate("c", true, 0, nil),
	}
	routes, err := NewSimple().Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(routes) != 3 {
		t.Fatalf("got %d routes, want 3", len(routes))
	}
	for i := 1; i < len(routes); i++ {
		if routes[i].Score >= routes[i-1].Score {
			t.Fatalf("scores not strictly decreasing: %v", routes)
		}
	}
}

func TestWeightedDeterministicOrdersByWeightAndHealth(t *testing.T) {
	strat := NewDeterministicWeighted(map[string]float64{"a": 2.0, "b": 1.0})
	cands := []router.CandidateConnector{
		candidate("a", true, 0, nil),
		candidate("b", true, 0, nil),
		candidate("c", false, 0, nil),
	}
	routes, err := strat.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if routes[0].ConnectorID != "a" {
		t.Fatalf("expected a first, got %s", routes[0].ConnectorID)
	}
	if routes[len(routes)-1].ConnectorID != "c" {
		t.Fatalf("expected unhealthy c last, got %s", routes[len(routes)-1].ConnectorID)
	}
}

func TestCostSkipsOverBudget(t *testing.T) {
	budget := 0.01
	strat := NewCostWithBudget(budget)
	cheap := router.CandidateConnector{
		Description: router.ConnectorDescription{
			ID:            "cheap",
			CostStructure: &router.CostStructure{InputCostPer1K: 0.001, OutputCostPer1K: 0.001},
		},
		Health: router.ConnectorHealth{Healthy: true},
	}
	expensive := router.CandidateConnector{
		Description: router.ConnectorDescription{
			ID:            "expensive",
			CostStructure: &router.CostStructure{InputCostPer1K: 100, OutputCostPer1K: 100},
		},
		Health: router.ConnectorHealth{Healthy: true},
	}
	hint := 1000
	routes, err := strat.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{ContextLengthHint: &hint}, []router.CandidateConnector{cheap, expensive})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(routes) != 1 || routes[0].ConnectorID != "cheap" {
		t.Fatalf("expected only cheap to survive the budget, got %+v", routes)
	}
}

func TestLatencyFavorsLowerLatency(t *testing.T) {
	strat := NewLatency()
	cands := []router.CandidateConnector{
		candidate("slow", true, 0, ms(500)),
		candidate("fast", true, 0, ms(50)),
	}
	routes, err := strat.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if routes[0].ConnectorID != "fast" {
		t.Fatalf("expected fast first, got %+v", routes)
	}
}

func TestLatencyDropsOverMax(t *testing.T) {
	max := 100 * time.Millisecond
	strat := NewLatencyWithMax(max)
	cands := []router.CandidateConnector{
		candidate("slow", true, 0, ms(500)),
		candidate("fast", true, 0, ms(50)),
	}
	routes, err := strat.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(routes) != 1 || routes[0].ConnectorID != "fast" {
		t.Fatalf("expected only fast under the max-latency ceiling, got %+v", routes)
	}
}

func TestBestOfNSelectsUpToNHealthy(t *testing.T) {
	strat := NewBestOfNFirstComplete(2)
	cands := []router.CandidateConnector{
		candidate("a", true, 0, nil),
		candidate("b", false, 0, nil),
		candidate("c", true, 0, nil),
		candidate("d", true, 0, nil),
	}
	routes, err := strat.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	for _, r := range routes {
		if r.ConnectorID == "b" {
			t.Fatalf("unhealthy candidate b should never be selected")
		}
		if r.Score != 1.0 {
			t.Fatalf("best-of-n candidates should score equally, got %v", r.Score)
		}
	}
}

func TestProviderAffinityPrefersAnthropicForAnthropicProtocol(t *testing.T) {
	strat := NewProviderAffinity()
	cands := []router.CandidateConnector{
		{Description: router.ConnectorDescription{ID: "provider://openai/fallback"}, Health: router.ConnectorHealth{Healthy: true}},
		{Description: router.ConnectorDescription{ID: "provider://anthropic/fallback"}, Health: router.ConnectorHealth{Healthy: true}},
	}
	desc := router.RequestDescriptor{Protocol: router.ProtocolAnthropic, Model: "claude-3-sonnet"}
	routes, err := strat.Evaluate(context.Background(), router.RequestContext{}, desc, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if routes[0].ConnectorID != "provider://anthropic/fallback" {
		t.Fatalf("expected anthropic connector to win, got %+v", routes)
	}
}

func TestProviderAffinityHeaderSignal(t *testing.T) {
	strat := NewProviderAffinity()
	cands := []router.CandidateConnector{
		{Description: router.ConnectorDescription{ID: "provider://openai/fallback"}, Health: router.ConnectorHealth{Healthy: true}},
		{Description: router.ConnectorDescription{ID: "provider://anthropic/fallback"}, Health: router.ConnectorHealth{Healthy: true}},
	}
	headers := http.Header{}
	headers.Set("x-api-key", "sk-ant-abc123")
	rc := router.RequestContext{Headers: headers}
	routes, err := strat.Evaluate(context.Background(), rc, router.RequestDescriptor{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if routes[0].ConnectorID != "provider://anthropic/fallback" {
		t.Fatalf("expected header-sniffed anthropic key to win, got %+v", routes)
	}
}

func TestCompositeBlendsWeightedAverages(t *testing.T) {
	cands := []router.CandidateConnector{
		candidate("a", true, 0, nil),
		candidate("b", true, 0, nil),
	}
	composite := NewComposite(
		Member{Strategy: NewDeterministicWeighted(map[string]float64{"a": 10, "b": 1}), Weight: 1},
		Member{Strategy: NewDeterministicWeighted(map[string]float64{"a": 1, "b": 10}), Weight: 1},
	)
	routes, err := composite.Evaluate(context.Background(), router.RequestContext{}, router.RequestDescriptor{}, cands)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	if routes[0].Score != routes[1].Score {
		t.Fatalf("symmetric weights should tie the two candidates, got %+v", routes)
	}
}
