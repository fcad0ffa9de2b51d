package httpconn

import (
	"context"
	"net/http"
	"strings"
)

// TokenSource is the minimal OAuth2 credential resolver contract; see
// codextoken.Source for the concrete implementation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// credentialHeader is the one resolver-produced header pair to send
// upstream.
type credentialHeader struct {
	Name, Value string
}

// resolveCredential runs the resolver chain in order, stopping at the
// first that yields a credential. Returns ok=false if no resolver produced
// one (e.g. no static key, passthrough disabled or the client sent
// nothing). A key the key-capture middleware previously observed is never
// consulted here: once captured it is persisted and served by its own
// permanent connector with a static key, rather than folded into the
// fallback connector's resolver chain.
func resolveCredential(ctx context.Context, cfg Config, clientHeaders http.Header) (credentialHeader, bool) {
	if cred, ok := staticKeyCredential(ctx, cfg); ok {
		return cred, true
	}
	if cfg.AllowPassthrough {
		if cred, ok := passthroughCredential(cfg.Provider, clientHeaders); ok {
			return cred, true
		}
	}
	return credentialHeader{}, false
}

// staticKeyCredential resolves a configured static key or OAuth2 token
// source into the provider-appropriate header.
func staticKeyCredential(ctx context.Context, cfg Config) (credentialHeader, bool) {
	if cfg.TokenSource != nil {
		tok, err := cfg.TokenSource.Token(ctx)
		if err != nil || tok == "" {
			return credentialHeader{}, false
		}
		return credentialHeader{Name: "Authorization", Value: "Bearer " + tok}, true
	}
	if cfg.APIKey == "" {
		return credentialHeader{}, false
	}
	if cfg.Provider == ProviderAnthropic {
		if strings.HasPrefix(cfg.APIKey, "sk-ant-oat01-") {
			return credentialHeader{Name: "Authorization", Value: "Bearer " + cfg.APIKey}, true
		}
		return credentialHeader{Name: "x-api-key", Value: cfg.APIKey}, true
	}
	return credentialHeader{Name: "Authorization", Value: "Bearer " + cfg.APIKey}, true
}

// passthroughCredential forwards a client-supplied provider credential
// as-is, or upgrades a bare x-api-key into a Bearer token for non-Anthropic
// providers.
func passthroughCredential(provider Provider, clientHeaders http.Header) (credentialHeader, bool) {
	if provider == ProviderAnthropic {
		if key := clientHeaders.Get("x-api-key"); key != "" {
			return credentialHeader{Name: "x-api-key", Value: key}, true
		}
		if auth := clientHeaders.Get("Authorization"); strings.HasPrefix(auth, "Bearer sk-ant-") {
			return credentialHeader{Name: "Authorization", Value: auth}, true
		}
		return credentialHeader{}, false
	}

	if auth := clientHeaders.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return credentialHeader{Name: "Authorization", Value: auth}, true
	}
	if key := clientHeaders.Get("x-api-key"); key != "" {
		return credentialHeader{Name: "Authorization", Value: "Bearer " + key}, true
	}
	return credentialHeader{}, false
}

// forwardedHeaderBlocklist is stripped from client headers before they are
// forwarded upstream.
var forwardedHeaderBlocklist = map[string]bool{
	"Host":           true,
	"Content-Length": true,
	"Content-Type":   true,
	"Authorization":  true,
	"X-Api-Key":      true,
}

// anthropicRequiredHeaders are always sent to Anthropic regardless of the
// credential resolver used.
var anthropicRequiredHeaders = map[string]string{
	"anthropic-version": "2023-06-01",
	"anthropic-beta":    "oauth-2025-04-20",
	"x-app":             "cli",
	"User-Agent":        "claude-cli/1.0 (gate)",
}

// BuildOutgoingHeaders applies the outgoing header hygiene rules: the one
// resolved credential header, provider-required headers, and every client
// header except the blocklisted hop-by-hop/credential ones.
func BuildOutgoingHeaders(ctx context.Context, cfg Config, clientHeaders http.Header) (http.Header, bool) {
	out := make(http.Header)

	cred, ok := resolveCredential(ctx, cfg, clientHeaders)
	if !ok {
		return out, false
	}
	out.Set(cred.Name, cred.Value)

	if cfg.Provider == ProviderAnthropic {
		for k, v := range anthropicRequiredHeaders {
			out.Set(k, v)
		}
	}
	for k, v := range cfg.ExtraHeaders {
		out.Set(k, v)
	}

	for k, vs := range clientHeaders {
		if forwardedHeaderBlocklist[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vs {
			out.Add(k, v)
		}
	}

	return out, true
}
