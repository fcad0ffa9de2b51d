package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	// Gateway configures the OpenAI-compatible gateway server.
	Gateway Gateway `cfg:"gateway"`

	// Connectors is a map of named HTTP-backed connector configurations,
	// registered into the router alongside the built-in Anthropic/OpenAI/
	// Codex fallback connectors and any captured providers restored from
	// the state backend.
	Connectors map[string]ConnectorConfig `cfg:"connectors"`

	// Local, if set, registers the in-process connector (no outbound HTTP
	// call) under the given connector ID. Useful for tests and for serving
	// a locally-hosted model through the same routing/middleware pipeline.
	Local *LocalConnectorConfig `cfg:"local"`

	// Router selects and configures the routing strategy.
	Router Router `cfg:"router"`

	Store     Store       `cfg:"store"`
	Server    Server      `cfg:"server"`
	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

// ConnectorConfig describes one statically-configured HTTP connector.
//
// Example YAML:
//
//	connectors:
//	  anthropic-direct:
//	    provider: anthropic
//	    api_key: "sk-ant-..."
//	  codex:
//	    provider: openai-codex
//	    codex_refresh_token: "..."
type ConnectorConfig struct {
	// Provider selects the HTTP connector family member: "anthropic",
	// "openai", "openai-codex", or "custom".
	Provider string `cfg:"provider"`

	BaseURL string `cfg:"base_url"`
	APIKey  string `cfg:"api_key" log:"-"`
	Models  []string `cfg:"models"`

	Timeout    time.Duration `cfg:"timeout" default:"60s"`
	MaxRetries int           `cfg:"max_retries"`

	ExtraHeaders       map[string]string `cfg:"extra_headers"`
	Proxy              string            `cfg:"proxy"`
	InsecureSkipVerify bool              `cfg:"insecure_skip_verify"`

	// AllowPassthrough lets a request's own Authorization/x-api-key header
	// stand in for APIKey when APIKey is unset.
	AllowPassthrough bool `cfg:"allow_passthrough"`

	// CodexRefreshToken/CodexClientID configure OAuth2 refresh-grant
	// authentication for a "openai-codex" connector. When CodexRefreshToken
	// is set, it takes precedence over APIKey.
	CodexRefreshToken string `cfg:"codex_refresh_token" log:"-"`
	CodexClientID     string `cfg:"codex_client_id"`
}

// LocalConnectorConfig configures the in-process connector.
type LocalConnectorConfig struct {
	ID            string `cfg:"id" default:"local/default"`
	ContextLength int    `cfg:"context_length" default:"8192"`
}

// Router selects and configures the routing strategy pipeline.
//
// Example YAML:
//
//	router:
//	  strategy: weighted
//	  weighted:
//	    "provider://anthropic/fallback": 2.0
//	    "provider://openai/fallback": 1.0
type Router struct {
	// Strategy names the routing strategy: "simple", "weighted", "cost",
	// "latency", "best_of_n", "provider_affinity", "composite", or
	// "scripted". Defaults to "simple".
	Strategy string `cfg:"strategy" default:"simple"`

	Weighted          map[string]float64 `cfg:"weighted"`
	WeightedDeterministic bool           `cfg:"weighted_deterministic"`
	Cost              *RouterCost        `cfg:"cost"`
	Latency           *RouterLatency     `cfg:"latency"`
	BestOfN           *RouterBestOfN     `cfg:"best_of_n"`
	Composite         []RouterMember     `cfg:"composite"`
	ScriptedCode      string             `cfg:"scripted_code"`

	RateLimit RateLimit `cfg:"rate_limit"`
}

type RouterCost struct {
	Budget       *float64 `cfg:"budget"`
	PreferCached bool     `cfg:"prefer_cached"`
}

type RouterLatency struct {
	MaxMillis  *int    `cfg:"max_millis"`
	Percentile float64 `cfg:"percentile" default:"0.95"`
}

type RouterBestOfN struct {
	N          int    `cfg:"n" default:"3"`
	Selection  string `cfg:"selection" default:"first_complete"`
	JudgeModel string `cfg:"judge_model"`
}

// RouterMember is one weighted member of a "composite" strategy.
type RouterMember struct {
	Strategy string  `cfg:"strategy"`
	Weight   float64 `cfg:"weight"`
}

// RateLimit configures the per-identity request-rate middleware.
type RateLimit struct {
	Enabled           bool   `cfg:"enabled"`
	RequestsPerMinute int    `cfg:"requests_per_minute" default:"60"`
	TokensPerMinute   *int   `cfg:"tokens_per_minute"`
	// Behavior is one of "reject", "warn_only", "track_overage".
	Behavior string `cfg:"behavior" default:"reject"`
}

type Server struct {
	BasePath string `cfg:"base_path"`

	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// ForwardAuth is loaded from configuration, but the edge server does not
	// mount a forward-auth middleware, so it has no effect on request
	// handling.
	ForwardAuth *mforwardauth.ForwardAuth `cfg:"forward_auth"`

	// AdminToken is loaded from configuration but not read anywhere; the
	// edge server registers no settings endpoints.
	AdminToken string `cfg:"admin_token" log:"-"`

	// UserHeader names a header carrying the authenticated user's email
	// address. Nothing in the edge server reads it.
	UserHeader string `cfg:"user_header" default:"X-User"`

	// Alan, if set, enables UDP peer discovery between gateway instances,
	// used to gossip captured Anthropic keys to peers (see internal/cluster).
	Alan *alan.Config `cfg:"alan"`
}

// Gateway configures the OpenAI-compatible gateway server endpoints.
//
// Example YAML:
//
//	gateway:
//	  auth_tokens:
//	    - token: "sk-master-key"
//	      name: "Master Key"
//	      # no restrictions = full access
//	    - token: "sk-ci-token"
//	      name: "CI Pipeline"
//	      allowed_providers:
//	        - openai
//	      allowed_models:
//	        - gpt-4o
//	      expires_at: "2026-12-31T23:59:59Z"
type Gateway struct {
	// AuthTokens is the list of bearer tokens accepted for gateway
	// authentication. Each token can optionally be scoped to specific
	// models and can have an expiration date. If the list is empty, every
	// request to an authenticated route is rejected.
	AuthTokens []AuthTokenConfig `cfg:"auth_tokens"`
}

// AuthTokenConfig describes a single bearer token for gateway authentication,
// with optional scoping and expiration.
type AuthTokenConfig struct {
	// Token is the bearer token value that clients send in the
	// "Authorization: Bearer <token>" header.
	Token string `cfg:"token" json:"token" log:"-"`

	// Name is an optional human-readable label for this token
	// (e.g., "CI Pipeline", "Dev Team").
	Name string `cfg:"name" json:"name"`

	// AllowedProviders is loaded from configuration but not enforced;
	// authentication checks only AllowedModels and ExpiresAt.
	AllowedProviders []string `cfg:"allowed_providers" json:"allowed_providers"`

	// AllowedModels restricts this token to the listed model names, each
	// compared verbatim with the request body's "model" field.
	// If empty/nil, all models are accessible.
	AllowedModels []string `cfg:"allowed_models" json:"allowed_models"`

	// AllowedWebhooks is loaded from configuration but not enforced; the
	// gateway has no webhook routes.
	AllowedWebhooks []string `cfg:"allowed_webhooks" json:"allowed_webhooks"`

	// ExpiresAt is an optional RFC3339 expiration timestamp.
	// After this time the token is rejected. If empty, the token never expires.
	ExpiresAt string `cfg:"expires_at" json:"expires_at"`
}

type Store struct {
	Postgres *StorePostgres `cfg:"postgres"`
	SQLite   *StoreSQLite   `cfg:"sqlite"`

	// EncryptionKey, if set, enables AES-256-GCM encryption of captured
	// provider API keys stored in the state backend and of keys gossiped
	// between cluster peers. The key can be any non-empty string; the AES
	// key is its SHA-256 digest. When empty, no encryption is applied.
	EncryptionKey string `cfg:"encryption_key" log:"-"`
}

type StorePostgres struct {
	TablePrefix     *string        `cfg:"table_prefix"`
	Datasource      string         `cfg:"datasource" log:"-"`
	Schema          string         `cfg:"schema"`
	ConnMaxLifetime *time.Duration `cfg:"conn_max_lifetime"`
	MaxIdleConns    *int           `cfg:"max_idle_conns"`
	MaxOpenConns    *int           `cfg:"max_open_conns"`

	Migrate Migrate `cfg:"migrate"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`
	Datasource  string  `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource" log:"-"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("GATE_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
