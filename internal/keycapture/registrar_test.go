package keycapture

import (
	"context"
	"testing"

	"github.com/rakunlabs/gate/internal/cluster"
	"github.com/rakunlabs/gate/internal/connector/httpconn"
	"github.com/rakunlabs/gate/internal/router"
	"github.com/rakunlabs/gate/internal/statebackend"
)

func newTestRegistrar(t *testing.T) (*Registrar, *router.Registry, *router.Index) {
	t.Helper()

	registry := router.NewRegistry()
	conn, err := httpconn.New(httpconn.AnthropicFallback(), "", false, nil)
	if err != nil {
		t.Fatalf("build fallback connector: %v", err)
	}
	registry.Register(httpconn.AnthropicFallback().ID, conn)

	index := router.NewIndex()
	index.RefreshFromRegistry(context.Background(), registry)

	return New(registry, index, statebackend.NewMemory(), cluster.Local(), nil, nil), registry, index
}

func TestRegisterAnthropicKeyPromotesFallback(t *testing.T) {
	reg, registry, index := newTestRegistrar(t)
	ctx := context.Background()

	if err := reg.RegisterAnthropicKey(ctx, "sk-ant-client-key"); err != nil {
		t.Fatalf("RegisterAnthropicKey: %v", err)
	}

	id := router.ProviderConnectorID("anthropic", "anthropic")
	if _, ok := registry.Get(id); !ok {
		t.Fatalf("expected %q to be registered", id)
	}

	fallbackID := router.ProviderConnectorID("anthropic", "fallback")
	if _, ok := registry.Get(fallbackID); ok {
		t.Fatal("expected fallback connector to be removed")
	}
	if _, ok := index.Get(fallbackID); ok {
		t.Fatal("expected fallback snapshot to be removed")
	}
	if _, ok := index.Get(id); !ok {
		t.Fatal("expected the new connector's snapshot to be refreshed into the index")
	}

	providers, err := reg.State.ListCapturedProviders(ctx)
	if err != nil {
		t.Fatalf("ListCapturedProviders: %v", err)
	}
	if len(providers) != 1 || providers[0].Name != "anthropic" {
		t.Fatalf("got %v", providers)
	}
}

func TestRegisterAnthropicKeyPicksFreeName(t *testing.T) {
	reg, registry, _ := newTestRegistrar(t)
	ctx := context.Background()

	if err := reg.RegisterAnthropicKey(ctx, "sk-ant-first-key"); err != nil {
		t.Fatalf("RegisterAnthropicKey: %v", err)
	}
	if err := reg.RegisterAnthropicKey(ctx, "sk-ant-second-key"); err != nil {
		t.Fatalf("RegisterAnthropicKey: %v", err)
	}

	if _, ok := registry.Get(router.ProviderConnectorID("anthropic", "anthropic")); !ok {
		t.Fatal("expected first capture to take the bare provider name")
	}
	if _, ok := registry.Get(router.ProviderConnectorID("anthropic", "anthropic-1")); !ok {
		t.Fatal("expected second capture to take the next free name")
	}
}

func TestRegisterAnthropicKeyDedupesSameKey(t *testing.T) {
	reg, _, _ := newTestRegistrar(t)
	ctx := context.Background()

	if err := reg.RegisterAnthropicKey(ctx, "sk-ant-repeat-key"); err != nil {
		t.Fatalf("RegisterAnthropicKey: %v", err)
	}
	if err := reg.RegisterAnthropicKey(ctx, "sk-ant-repeat-key"); err != nil {
		t.Fatalf("RegisterAnthropicKey: %v", err)
	}

	providers, err := reg.State.ListCapturedProviders(ctx)
	if err != nil {
		t.Fatalf("ListCapturedProviders: %v", err)
	}
	if len(providers) != 1 {
		t.Fatalf("expected the repeated key not to create a second entry, got %v", providers)
	}
}
