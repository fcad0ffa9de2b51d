package strategy

import (
	"context"
	"strings"

	"github.com/rakunlabs/gate/internal/router"
)

// ProviderAffinity scores candidates by how strongly the request's
// protocol, headers, and model name point at a particular upstream
// provider, so that e.g. an Anthropic-shaped request prefers an Anthropic
// connector over an equally-healthy OpenAI one.
type ProviderAffinity struct{}

func NewProviderAffinity() ProviderAffinity { return ProviderAffinity{} }

func providerPrefixForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "provider://anthropic"
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1-"), strings.HasPrefix(m, "o3-"):
		return "provider://openai"
	default:
		return ""
	}
}

func providerPrefixForProtocol(p router.Protocol) string {
	switch p {
	case router.ProtocolAnthropic:
		return "provider://anthropic"
	case router.ProtocolOpenAIChat, router.ProtocolOpenAIMessages, router.ProtocolOpenAICompletions, router.ProtocolOpenAIResponses:
		return "provider://openai"
	default:
		return ""
	}
}

func providerPrefixFromHeaders(headers map[string][]string) string {
	get := func(name string) string {
		for k, vs := range headers {
			if strings.EqualFold(k, name) && len(vs) > 0 {
				return vs[0]
			}
		}
		return ""
	}

	if get("anthropic-version") != "" {
		return "provider://anthropic"
	}
	if xKey := get("x-api-key"); strings.HasPrefix(xKey, "sk-ant-") {
		return "provider://anthropic"
	}
	auth := get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		if strings.HasPrefix(token, "sk-ant-") {
			return "provider://anthropic"
		}
	}

	if get("openai-beta") != "" {
		return "provider://openai"
	}
	if strings.HasPrefix(auth, "Bearer ") {
		return "provider://openai"
	}

	return ""
}

// isOAuthBearerToken reports whether auth carries a bearer token that looks
// like an OAuth access token rather than a raw "sk-..." API key.
func isOAuthBearerToken(headers map[string][]string) (string, bool) {
	for k, vs := range headers {
		if !strings.EqualFold(k, "Authorization") || len(vs) == 0 {
			continue
		}
		if token, ok := strings.CutPrefix(vs[0], "Bearer "); ok && !strings.HasPrefix(token, "sk-") {
			return token, true
		}
	}
	return "", false
}

func (ProviderAffinity) Evaluate(ctx context.Context, rc router.RequestContext, request router.RequestDescriptor, candidates []router.CandidateConnector) ([]router.ScoredRoute, error) {
	protocolIntent := providerPrefixForProtocol(request.Protocol)
	headerIntent := providerPrefixFromHeaders(rc.Headers)
	modelHint := providerPrefixForModel(request.Model)
	_, oauthCodex := isOAuthBearerToken(rc.Headers)

	routes := make([]router.ScoredRoute, 0, len(candidates))
	anySignal := false
	for _, c := range candidates {
		score := 0.0
		id := c.Description.ID

		if protocolIntent != "" && strings.HasPrefix(id, protocolIntent) {
			score += 1.0
		}
		if headerIntent != "" && strings.HasPrefix(id, headerIntent) {
			score += 0.6
		}
		if modelHint != "" && strings.HasPrefix(id, modelHint) {
			score += 0.3
		}
		if request.Protocol == router.ProtocolOpenAIResponses && oauthCodex && strings.HasPrefix(id, "provider://openai/codex") {
			score += 0.5
		}
		if strings.HasPrefix(id, "self://") {
			score += 0.1
		}
		if score > 0 {
			anySignal = true
		}

		routes = append(routes, router.ScoredRoute{
			ConnectorID:      id,
			Score:            score,
			ConversionNeeded: c.NeedsConvert,
			Rationale:        "Provider affinity",
		})
	}

	// Inverse-rank tie-breaker, only when no candidate matched any signal.
	if !anySignal {
		for i := range routes {
			routes[i].Score = 1.0 / float64(i+1)
		}
	}

	sortDescending(routes)
	return routes, nil
}
