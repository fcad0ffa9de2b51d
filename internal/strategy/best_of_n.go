package strategy

import (
	"context"
	"fmt"

	"github.com/rakunlabs/gate/internal/router"
)

// SelectionMethod names how a best-of-N sample set is to be reduced to one
// answer. It only changes the rationale text: no code in this repository
// runs the N candidates together or performs the reduction.
type SelectionMethod int

const (
	SelectionFirstComplete SelectionMethod = iota
	SelectionMajorityVote
	SelectionHighestConfidence
	SelectionJudgeModel
)

// BestOfN selects up to N healthy candidates and scores them identically.
// Router.Execute runs only the primary route, so the others are not
// executed.
type BestOfN struct {
	N          int
	Selection  SelectionMethod
	JudgeModel string
}

// NewBestOfN builds a best-of-N strategy. n is floored at 1.
func NewBestOfN(n int, selection SelectionMethod) BestOfN {
	if n < 1 {
		n = 1
	}
	return BestOfN{N: n, Selection: selection}
}

func NewBestOfNFirstComplete(n int) BestOfN { return NewBestOfN(n, SelectionFirstComplete) }
func NewBestOfNMajorityVote(n int) BestOfN  { return NewBestOfN(n, SelectionMajorityVote) }

func NewBestOfNWithJudge(n int, judgeModel string) BestOfN {
	s := NewBestOfN(n, SelectionJudgeModel)
	s.JudgeModel = judgeModel
	return s
}

func (s BestOfN) Evaluate(ctx context.Context, rc router.RequestContext, request router.RequestDescriptor, candidates []router.CandidateConnector) ([]router.ScoredRoute, error) {
	healthy := make([]router.CandidateConnector, 0, len(candidates))
	for _, c := range candidates {
		if c.Health.Healthy {
			healthy = append(healthy, c)
		}
	}
	if len(healthy) == 0 {
		return nil, nil
	}

	n := s.N
	if n > len(healthy) {
		n = len(healthy)
	}
	selected := healthy[:n]

	routes := make([]router.ScoredRoute, 0, n)
	for i, c := range selected {
		routes = append(routes, router.ScoredRoute{
			ConnectorID:      c.Description.ID,
			Score:            1.0,
			EstimatedLatency: latencyFromHealth(c.Health),
			ConversionNeeded: c.NeedsConvert,
			Rationale:        s.rationale(i),
		})
	}
	return routes, nil
}

func (s BestOfN) rationale(index int) string {
	switch s.Selection {
	case SelectionFirstComplete:
		return fmt.Sprintf("Best-of-%d: candidate %d (first-complete)", s.N, index+1)
	case SelectionMajorityVote:
		return fmt.Sprintf("Best-of-%d: candidate %d (majority-vote)", s.N, index+1)
	case SelectionHighestConfidence:
		return fmt.Sprintf("Best-of-%d: candidate %d (highest-confidence)", s.N, index+1)
	case SelectionJudgeModel:
		return fmt.Sprintf("Best-of-%d: candidate %d (judge: %s)", s.N, index+1, s.JudgeModel)
	default:
		return fmt.Sprintf("Best-of-%d: candidate %d", s.N, index+1)
	}
}
