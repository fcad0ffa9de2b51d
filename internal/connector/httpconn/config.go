// Package httpconn implements the single configurable HTTP-backed connector
// type that serves the Anthropic, OpenAI, and OpenAI-Codex providers (and
// arbitrary "custom" endpoints), per the HTTP connector family design.
package httpconn

import (
	"time"

	"github.com/rakunlabs/gate/internal/router"
)

// Provider identifies which of the HTTP connector family's header/endpoint
// rules apply.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderCodex     Provider = "openai-codex"
	ProviderCustom    Provider = "custom"
)

// Config is the static configuration for one HTTP connector instance.
type Config struct {
	ID                string
	Provider          Provider
	BaseURL           string
	APIKey            string
	Models            []string
	Timeout           time.Duration
	MaxRetries        int
	AcceptedProtocols []router.Protocol
	Capabilities      router.ConnectorCapabilities
	CostStructure     *router.CostStructure
	AllowPassthrough  bool
	ExtraHeaders      map[string]string

	// TokenSource, when set, takes precedence as a credential resolver over
	// the static API key for providers that authenticate via OAuth2 (an
	// OpenAI-Codex connector configured with a refresh token). See
	// codextoken.Source.
	TokenSource TokenSource
}

// IsFallback reports whether cfg describes a fallback connector: no static
// key, passthrough enabled, no pre-populated model list.
func (cfg Config) IsFallback() bool {
	return cfg.APIKey == "" && cfg.TokenSource == nil && cfg.AllowPassthrough && len(cfg.Models) == 0
}

// AnthropicFallback returns the configuration for the built-in Anthropic
// fallback connector.
func AnthropicFallback() Config {
	return Config{
		ID:               router.ProviderConnectorID("anthropic", "fallback"),
		Provider:         ProviderAnthropic,
		BaseURL:          "https://api.anthropic.com",
		AllowPassthrough: true,
		AcceptedProtocols: []router.Protocol{
			router.ProtocolAnthropic, router.ProtocolOpenAIChat,
		},
		Capabilities: router.ConnectorCapabilities{
			SupportsStreaming: true,
			SupportsTools:     true,
			Modalities:        []string{"text", "vision"},
		},
	}
}

// OpenAIFallback returns the configuration for the built-in OpenAI fallback
// connector.
func OpenAIFallback() Config {
	return Config{
		ID:               router.ProviderConnectorID("openai", "fallback"),
		Provider:         ProviderOpenAI,
		BaseURL:          "https://api.openai.com",
		AllowPassthrough: true,
		AcceptedProtocols: []router.Protocol{
			router.ProtocolOpenAIChat, router.ProtocolOpenAIResponses, router.ProtocolOpenAIMessages,
		},
		Capabilities: router.ConnectorCapabilities{
			SupportsStreaming: true,
			SupportsTools:     true,
			Modalities:        []string{"text", "vision"},
		},
	}
}

// CodexFallback returns the configuration for the built-in OpenAI-Codex
// (ChatGPT backend) fallback connector. The base URL carries a trailing
// slash deliberately; see BuildURL for why that matters.
func CodexFallback() Config {
	return Config{
		ID:               router.ProviderConnectorID("openai", "codex"),
		Provider:         ProviderCodex,
		BaseURL:          "https://chatgpt.com/backend-api/codex/",
		AllowPassthrough: true,
		AcceptedProtocols: []router.Protocol{
			router.ProtocolOpenAIResponses,
		},
		Capabilities: router.ConnectorCapabilities{
			SupportsStreaming: true,
			Modalities:        []string{"text"},
		},
	}
}
