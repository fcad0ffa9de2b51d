package local

import "context"

// EchoGenerator is a deterministic TokenGenerator that reflects the last
// user message back as a single delta, for exercising the local connector
// and the edge routes without a real model runtime behind them.
type EchoGenerator struct{}

func NewEchoGenerator() EchoGenerator { return EchoGenerator{} }

func (EchoGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	var last string
	for _, m := range req.Messages {
		if m.Role == "user" {
			last = m.Content
		}
	}

	return GenerateResult{
		Deltas:           []string{last},
		PromptTokens:     len(req.Messages),
		CompletionTokens: 1,
	}, nil
}
