// Package keycapture implements the registrar middleware.KeyCapture calls
// once a client's Anthropic key survives a successful round trip on the
// shared fallback connector: the key is promoted to a permanent,
// independently-addressable connector so later requests no longer need to
// bring it along.
package keycapture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rakunlabs/gate/internal/cluster"
	"github.com/rakunlabs/gate/internal/connector/httpconn"
	"github.com/rakunlabs/gate/internal/crypto"
	"github.com/rakunlabs/gate/internal/router"
	"github.com/rakunlabs/gate/internal/statebackend"
)

// Registrar implements middleware.KeyCaptureRegistrar: promoting a captured
// Anthropic key into a permanent connector, persisting it, and retiring the
// fallback connector it rode in on.
type Registrar struct {
	Registry *router.Registry
	Index    *router.Index
	State    statebackend.Backend
	Cluster  *cluster.Cluster

	// EncKey, if set, encrypts the key before it is persisted. Values
	// passed to crypto.Decrypt elsewhere assume the same key.
	EncKey []byte

	Log *slog.Logger
}

// New builds a Registrar. log defaults to slog.Default() if nil.
func New(registry *router.Registry, index *router.Index, state statebackend.Backend, cl *cluster.Cluster, encKey []byte, log *slog.Logger) *Registrar {
	if log == nil {
		log = slog.Default()
	}
	return &Registrar{Registry: registry, Index: index, State: state, Cluster: cl, EncKey: encKey, Log: log}
}

// RegisterAnthropicKey implements the full key-capture contract: dedup,
// reject-if-known, free-name selection, persistence, connector creation,
// fallback retirement, and an index refresh. A failure to list existing
// entries is logged and the capture continues; a failure to encrypt,
// persist, or build the connector is logged and returned. KeyCapture
// discards the returned error, so a registration problem never surfaces as
// a request failure.
func (r *Registrar) RegisterAnthropicKey(ctx context.Context, key string) error {
	const provider = "anthropic"

	if cur, ok := r.Cluster.Store().Current(provider); ok && cur == key {
		return nil
	}

	existing, err := r.State.ListCapturedProviders(ctx)
	if err != nil {
		r.Log.Error("key capture: list captured providers", "error", err)
		existing = nil
	}
	for _, cp := range existing {
		if cp.Provider != provider {
			continue
		}
		if r.decrypt(cp.APIKey) == key {
			// Already registered under cp.Name by an earlier capture (this
			// instance or a peer's); just catch this instance's dedup cache
			// and store up to date.
			return r.Cluster.RegisterAnthropicKey(ctx, key)
		}
	}

	name := freeProviderName(r.Registry, provider)

	encrypted := key
	if r.EncKey != nil {
		encrypted, err = crypto.Encrypt(key, r.EncKey)
		if err != nil {
			r.Log.Error("key capture: encrypt captured key", "error", err)
			return err
		}
	}
	if err := r.State.SetCapturedProvider(ctx, statebackend.CapturedProvider{
		Name:      name,
		Provider:  provider,
		APIKey:    encrypted,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		r.Log.Error("key capture: persist provider entry", "name", name, "error", err)
		return err
	}

	id := router.ProviderConnectorID(provider, name)
	conn, err := httpconn.New(httpconn.Config{
		ID:       id,
		Provider: httpconn.ProviderAnthropic,
		BaseURL:  "https://api.anthropic.com",
		APIKey:   key,
		AcceptedProtocols: []router.Protocol{
			router.ProtocolAnthropic, router.ProtocolOpenAIChat,
		},
		Capabilities: router.ConnectorCapabilities{
			SupportsStreaming: true,
			SupportsTools:     true,
			Modalities:        []string{"text", "vision"},
		},
	}, "", false, r.Log)
	if err != nil {
		r.Log.Error("key capture: build connector", "id", id, "error", err)
		return err
	}
	r.Registry.Register(id, conn)

	fallbackID := router.ProviderConnectorID(provider, "fallback")
	r.Registry.Remove(fallbackID)
	r.Index.Remove(fallbackID)

	r.Index.RefreshFromRegistry(ctx, r.Registry)

	slog.Info("key capture: registered new provider", "id", id)

	return r.Cluster.RegisterAnthropicKey(ctx, key)
}

func (r *Registrar) decrypt(value string) string {
	if r.EncKey == nil || !crypto.IsEncrypted(value) {
		return value
	}
	dec, err := crypto.Decrypt(value, r.EncKey)
	if err != nil {
		r.Log.Error("key capture: decrypt stored key", "error", err)
		return value
	}
	return dec
}

// freeProviderName picks "anthropic", else "anthropic-1", "anthropic-2", …,
// skipping whatever "provider://anthropic/<name>" ids the registry already
// holds (other than the fallback, which is always replaced).
func freeProviderName(registry *router.Registry, provider string) string {
	prefix := "provider://" + provider + "/"
	taken := make(map[string]bool)
	for _, id := range registry.ListIDs() {
		name, ok := strings.CutPrefix(id, prefix)
		if !ok || name == "fallback" {
			continue
		}
		taken[name] = true
	}

	if !taken[provider] {
		return provider
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", provider, i)
		if !taken[candidate] {
			return candidate
		}
	}
}
