package httpconn

import (
	"net/url"
	"strings"

	"github.com/rakunlabs/gate/internal/router"
)

// endpointTable maps provider x protocol to an upstream path. An absent
// entry means the pairing is not served by that provider.
var endpointTable = map[Provider]map[router.Protocol]string{
	ProviderAnthropic: {
		router.ProtocolOpenAIChat: "/v1/messages",
		router.ProtocolAnthropic:  "/v1/messages",
	},
	ProviderOpenAI: {
		router.ProtocolOpenAIChat:      "/v1/chat/completions",
		router.ProtocolOpenAIResponses: "/v1/responses",
		router.ProtocolOpenAIMessages:  "/v1/messages",
	},
	ProviderCodex: {
		router.ProtocolOpenAIResponses: "/responses",
	},
}

// Endpoint returns the upstream path for (provider, protocol), or "" if the
// pairing is not served.
func Endpoint(provider Provider, protocol router.Protocol) string {
	return endpointTable[provider][protocol]
}

// BuildURL joins cfg.BaseURL with path, then overwrites query pairs with
// query if it is non-nil. Joining is done with a plain TrimRight + Join
// rather than net/url.JoinPath, whose handling of a trailing-slash base
// differs across libraries and was flagged as an open ambiguity: the Codex
// base URL ("https://chatgpt.com/backend-api/codex/") must join with
// "/responses" to produce ".../codex/responses", not ".../codexresponses"
// or a doubled slash.
func BuildURL(baseURL, path string, query url.Values) (string, error) {
	base := strings.TrimRight(baseURL, "/")
	full := base + "/" + strings.TrimLeft(path, "/")

	if len(query) == 0 {
		return full, nil
	}

	u, err := url.Parse(full)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range query {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
