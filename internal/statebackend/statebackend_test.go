package statebackend

import (
	"context"
	"testing"

	"github.com/rakunlabs/gate/internal/router"
)

func TestMemoryResolveModelAlias(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SetModelAlias(ctx, "fast", []string{"openai/gpt-4o-mini", "anthropic/claude-haiku-4-5"}); err != nil {
		t.Fatalf("SetModelAlias: %v", err)
	}

	models, err := m.ResolveModelAlias(ctx, "fast")
	if err != nil {
		t.Fatalf("ResolveModelAlias: %v", err)
	}
	if len(models) != 2 || models[0] != "openai/gpt-4o-mini" {
		t.Fatalf("got %v", models)
	}

	if _, err := m.ResolveModelAlias(ctx, "unknown"); err != nil {
		t.Fatalf("ResolveModelAlias unknown: %v", err)
	}
}

func TestMemoryDeleteModelAlias(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.SetModelAlias(ctx, "fast", []string{"a"})
	if err := m.DeleteModelAlias(ctx, "fast"); err != nil {
		t.Fatalf("DeleteModelAlias: %v", err)
	}
	models, _ := m.ResolveModelAlias(ctx, "fast")
	if models != nil {
		t.Fatalf("expected alias to be gone, got %v", models)
	}
}

func TestMemoryRecordAndListUsage(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.RecordUsage(ctx, router.UsageRecord{ID: "1", OrgID: "org-a", TotalTokens: 10})
	_ = m.RecordUsage(ctx, router.UsageRecord{ID: "2", OrgID: "org-b", TotalTokens: 20})
	_ = m.RecordUsage(ctx, router.UsageRecord{ID: "3", OrgID: "org-a", TotalTokens: 30})

	all, err := m.ListUsage(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	// Most recent first.
	if all[0].ID != "3" {
		t.Fatalf("expected newest record first, got %s", all[0].ID)
	}

	filtered, err := m.ListUsage(ctx, "org-a", 10)
	if err != nil {
		t.Fatalf("ListUsage filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("got %d records for org-a, want 2", len(filtered))
	}

	limited, err := m.ListUsage(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListUsage limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("got %d records, want 1", len(limited))
	}
}

func TestMemorySetAndListCapturedProviders(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_ = m.SetCapturedProvider(ctx, CapturedProvider{Name: "anthropic", Provider: "anthropic", APIKey: "enc:abc"})
	_ = m.SetCapturedProvider(ctx, CapturedProvider{Name: "anthropic-1", Provider: "anthropic", APIKey: "enc:def"})

	all, err := m.ListCapturedProviders(ctx)
	if err != nil {
		t.Fatalf("ListCapturedProviders: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d providers, want 2", len(all))
	}

	// Overwriting an existing name updates in place rather than duplicating.
	_ = m.SetCapturedProvider(ctx, CapturedProvider{Name: "anthropic", Provider: "anthropic", APIKey: "enc:xyz"})
	all, _ = m.ListCapturedProviders(ctx)
	if len(all) != 2 {
		t.Fatalf("got %d providers after overwrite, want 2", len(all))
	}
}

func TestMemorySatisfiesBackendInterface(t *testing.T) {
	var _ Backend = NewMemory()
}
