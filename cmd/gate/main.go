package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/gate/internal/cluster"
	"github.com/rakunlabs/gate/internal/config"
	"github.com/rakunlabs/gate/internal/connector/httpconn"
	"github.com/rakunlabs/gate/internal/connector/httpconn/codextoken"
	"github.com/rakunlabs/gate/internal/connector/local"
	"github.com/rakunlabs/gate/internal/crypto"
	"github.com/rakunlabs/gate/internal/edge"
	"github.com/rakunlabs/gate/internal/keycapture"
	"github.com/rakunlabs/gate/internal/middleware"
	"github.com/rakunlabs/gate/internal/router"
	"github.com/rakunlabs/gate/internal/statebackend"
	"github.com/rakunlabs/gate/internal/strategy"
	"github.com/rakunlabs/gate/internal/strategy/scripted"
)

var (
	name    = "gate"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	state, err := statebackend.New(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open state backend: %w", err)
	}
	defer state.Close()

	encKey, err := encryptionKey(cfg.Store.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}

	cl, err := newCluster(cfg, encKey)
	if err != nil {
		return fmt.Errorf("failed to start cluster: %w", err)
	}
	if err := cl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cluster: %w", err)
	}
	defer cl.Stop()

	registry := router.NewRegistry()
	registerBuiltinConnectors(registry)
	if err := registerConfiguredConnectors(registry, cfg.Connectors); err != nil {
		return fmt.Errorf("failed to register connectors: %w", err)
	}
	if cfg.Local != nil {
		registerLocalConnector(registry, *cfg.Local)
	}

	index := router.NewIndex()
	if err := registerCapturedProviders(ctx, registry, state, encKey); err != nil {
		return fmt.Errorf("failed to restore captured providers: %w", err)
	}
	index.RefreshFromRegistry(ctx, registry)

	strat, err := buildStrategy(cfg.Router)
	if err != nil {
		return fmt.Errorf("failed to build routing strategy: %w", err)
	}

	registrar := keycapture.New(registry, index, state, cl, encKey, slog.Default())

	builder := router.NewRouterBuilder().
		Registry(registry).
		Index(index).
		StateBackend(state).
		Strategy(strat).
		Middleware(middleware.NewMonitoring(config.Service, slog.Default())).
		Middleware(middleware.NewKeyCapture(registrar)).
		Middleware(middleware.NewCostTracker(state, slog.Default()))

	if cfg.Router.RateLimit.Enabled {
		builder = builder.Middleware(middleware.NewRateLimit(buildRateLimitConfig(cfg.Router.RateLimit), slog.Default()))
	}

	r := builder.Build()

	srv := edge.New(cfg.Server, cfg.Gateway, r, slog.Default())
	return srv.Start(ctx)
}

// encryptionKey derives the AES-256-GCM key used both for cluster key-
// capture gossip and for captured provider entries at rest, or returns nil
// if no encryption key is configured.
func encryptionKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, nil
	}
	key, err := crypto.DeriveKey(passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	return key, nil
}

// newCluster builds the cluster coordinator that gossips captured API keys
// between instances, or a single-node stand-in when clustering is disabled.
func newCluster(cfg *config.Config, encKey []byte) (*cluster.Cluster, error) {
	if cfg.Server.Alan == nil {
		return cluster.Local(), nil
	}
	return cluster.New(cfg.Server.Alan, encKey)
}

// registerBuiltinConnectors wires the three always-available HTTP fallback
// connectors: direct API keys are never required since each accepts a
// caller's own passed-through Authorization header. A fallback connector is
// retired by the key-capture registrar once a client's key graduates to its
// own permanent connector.
func registerBuiltinConnectors(registry *router.Registry) {
	for _, cfg := range []httpconn.Config{
		httpconn.AnthropicFallback(),
		httpconn.OpenAIFallback(),
		httpconn.CodexFallback(),
	} {
		conn, err := httpconn.New(cfg, "", false, slog.Default())
		if err != nil {
			slog.Error("failed to build fallback connector", "id", cfg.ID, "error", err)
			continue
		}
		registry.Register(cfg.ID, conn)
	}
}

// registerCapturedProviders restores every persisted captured provider as a
// permanent connector, so a key a client brought before a restart does not
// need to be captured again.
func registerCapturedProviders(ctx context.Context, registry *router.Registry, state statebackend.Backend, encKey []byte) error {
	captured, err := state.ListCapturedProviders(ctx)
	if err != nil {
		return fmt.Errorf("list captured providers: %w", err)
	}

	for _, cp := range captured {
		key := cp.APIKey
		if encKey != nil && crypto.IsEncrypted(key) {
			dec, err := crypto.Decrypt(key, encKey)
			if err != nil {
				slog.Error("failed to decrypt captured provider key", "name", cp.Name, "error", err)
				continue
			}
			key = dec
		}

		provider := httpconn.Provider(cp.Provider)
		protocols, caps := providerDefaults(provider)
		id := router.ProviderConnectorID(cp.Provider, cp.Name)

		conn, err := httpconn.New(httpconn.Config{
			ID:                id,
			Provider:          provider,
			BaseURL:           "https://api.anthropic.com",
			APIKey:            key,
			AcceptedProtocols: protocols,
			Capabilities:      caps,
		}, "", false, slog.Default())
		if err != nil {
			slog.Error("failed to rebuild captured provider connector", "name", cp.Name, "error", err)
			continue
		}
		registry.Register(id, conn)
		registry.Remove(router.ProviderConnectorID(cp.Provider, "fallback"))
	}

	return nil
}

// providerDefaults returns the accepted-protocol and capability set a
// connector of this provider serves, mirroring the built-in fallbacks'
// hardcoded values so a user-declared connector for the same provider
// behaves identically.
func providerDefaults(provider httpconn.Provider) ([]router.Protocol, router.ConnectorCapabilities) {
	switch provider {
	case httpconn.ProviderAnthropic:
		return []router.Protocol{router.ProtocolAnthropic, router.ProtocolOpenAIChat},
			router.ConnectorCapabilities{SupportsStreaming: true, SupportsTools: true, Modalities: []string{"text", "vision"}}
	case httpconn.ProviderOpenAI:
		return []router.Protocol{router.ProtocolOpenAIChat, router.ProtocolOpenAIResponses, router.ProtocolOpenAIMessages},
			router.ConnectorCapabilities{SupportsStreaming: true, SupportsTools: true, Modalities: []string{"text", "vision"}}
	case httpconn.ProviderCodex:
		return []router.Protocol{router.ProtocolOpenAIResponses},
			router.ConnectorCapabilities{SupportsStreaming: true, Modalities: []string{"text"}}
	default:
		return []router.Protocol{router.ProtocolOpenAIChat}, router.ConnectorCapabilities{SupportsStreaming: true, Modalities: []string{"text"}}
	}
}

// registerConfiguredConnectors builds one httpconn.Connector per entry in
// cfg.Connectors, named "provider://<provider>/<name>".
func registerConfiguredConnectors(registry *router.Registry, connectors map[string]config.ConnectorConfig) error {
	for name, cc := range connectors {
		provider := httpconn.Provider(cc.Provider)
		protocols, caps := providerDefaults(provider)

		hcCfg := httpconn.Config{
			ID:                router.ProviderConnectorID(cc.Provider, name),
			Provider:          provider,
			BaseURL:           cc.BaseURL,
			APIKey:            cc.APIKey,
			Models:            cc.Models,
			Timeout:           cc.Timeout,
			MaxRetries:        cc.MaxRetries,
			AcceptedProtocols: protocols,
			Capabilities:      caps,
			AllowPassthrough:  cc.AllowPassthrough,
			ExtraHeaders:      cc.ExtraHeaders,
		}

		if cc.CodexRefreshToken != "" {
			hcCfg.TokenSource = codextoken.New(cc.CodexRefreshToken, cc.CodexClientID)
		}

		conn, err := httpconn.New(hcCfg, cc.Proxy, cc.InsecureSkipVerify, slog.Default())
		if err != nil {
			return fmt.Errorf("connector %q: %w", name, err)
		}
		registry.Register(hcCfg.ID, conn)
	}
	return nil
}

// registerLocalConnector wires the in-process connector under a
// "self://<id>" id; the local connector accepts the OpenAI Chat and
// Anthropic protocols.
func registerLocalConnector(registry *router.Registry, cfg config.LocalConnectorConfig) {
	name := cfg.ID
	if name == "" {
		name = "local/default"
	}
	id := router.SelfConnectorID(name)
	conn := local.New(id, cfg.ContextLength, local.NewEchoGenerator())
	registry.Register(id, conn)
}

// buildStrategy selects and configures the routing strategy named by
// cfg.Strategy, falling back to the unconfigurable simple strategy.
func buildStrategy(cfg config.Router) (router.RoutingStrategy, error) {
	switch cfg.Strategy {
	case "", "simple":
		return strategy.NewSimple(), nil
	case "weighted":
		if cfg.WeightedDeterministic {
			return strategy.NewDeterministicWeighted(cfg.Weighted), nil
		}
		return strategy.NewWeighted(cfg.Weighted), nil
	case "cost":
		if cfg.Cost != nil && cfg.Cost.Budget != nil {
			return strategy.NewCostWithBudget(*cfg.Cost.Budget), nil
		}
		return strategy.NewCost(), nil
	case "latency":
		if cfg.Latency != nil && cfg.Latency.MaxMillis != nil {
			return strategy.NewLatencyWithMax(time.Duration(*cfg.Latency.MaxMillis) * time.Millisecond), nil
		}
		return strategy.NewLatency(), nil
	case "best_of_n":
		n, selection, judgeModel := 3, "first_complete", ""
		if cfg.BestOfN != nil {
			n, selection, judgeModel = cfg.BestOfN.N, cfg.BestOfN.Selection, cfg.BestOfN.JudgeModel
		}
		switch selection {
		case "majority_vote":
			return strategy.NewBestOfNMajorityVote(n), nil
		case "judge":
			return strategy.NewBestOfNWithJudge(n, judgeModel), nil
		default:
			return strategy.NewBestOfNFirstComplete(n), nil
		}
	case "provider_affinity":
		return strategy.NewProviderAffinity(), nil
	case "composite":
		members := make([]strategy.Member, 0, len(cfg.Composite))
		for _, m := range cfg.Composite {
			member, err := buildStrategy(config.Router{Strategy: m.Strategy})
			if err != nil {
				return nil, err
			}
			members = append(members, strategy.Member{Strategy: member, Weight: m.Weight})
		}
		return strategy.NewComposite(members...), nil
	case "scripted":
		return scripted.New(cfg.ScriptedCode), nil
	default:
		return nil, fmt.Errorf("unknown routing strategy %q", cfg.Strategy)
	}
}

func buildRateLimitConfig(cfg config.RateLimit) middleware.RateLimitConfig {
	behavior := middleware.QuotaReject
	switch cfg.Behavior {
	case "warn_only":
		behavior = middleware.QuotaWarnOnly
	case "track_overage":
		behavior = middleware.QuotaTrackOverage
	}

	return middleware.RateLimitConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
		TokensPerMinute:   cfg.TokensPerMinute,
		Behavior:          behavior,
	}
}
