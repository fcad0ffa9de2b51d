// Package statebackend implements router.StateBackend and
// router.UsageRecorder: model-alias resolution and post-hoc usage
// accounting, backed by an in-memory map, SQLite or Postgres.
package statebackend

import (
	"context"
	"sync"
	"time"

	"github.com/rakunlabs/gate/internal/config"
	"github.com/rakunlabs/gate/internal/router"
)

// New builds a Backend from the store configuration: Postgres if configured,
// else SQLite if configured, else an in-memory backend.
func New(ctx context.Context, cfg config.Store) (Backend, error) {
	if cfg.Postgres != nil {
		return NewPostgres(ctx, cfg.Postgres)
	}
	if cfg.SQLite != nil {
		return NewSQLite(ctx, cfg.SQLite)
	}
	return NewMemory(), nil
}

// Backend is the full contract a state backend satisfies: the router's own
// narrow interfaces plus alias administration, usage lookups, and captured
// provider persistence used by key capture and restored at startup.
type Backend interface {
	router.StateBackend
	router.UsageRecorder

	SetModelAlias(ctx context.Context, alias string, models []string) error
	DeleteModelAlias(ctx context.Context, alias string) error
	ListUsage(ctx context.Context, orgID string, limit int) ([]router.UsageRecord, error)

	// SetCapturedProvider persists a provider entry created by key capture.
	// Callers are responsible for encrypting APIKey beforehand if an
	// encryption key is configured.
	SetCapturedProvider(ctx context.Context, cp CapturedProvider) error
	// ListCapturedProviders returns every persisted captured provider, in
	// no particular order.
	ListCapturedProviders(ctx context.Context) ([]CapturedProvider, error)

	Close()
}

// CapturedProvider is a provider entry created by the key-capture
// middleware: a client-presented key promoted to a named, permanent
// connector configuration.
type CapturedProvider struct {
	Name      string
	Provider  string
	APIKey    string
	CreatedAt time.Time
}

// Memory is an in-memory Backend. Data does not survive process restarts;
// grounded on the teacher's own memory-backed store for the same reason:
// a zero-dependency default that exercises the interface without a
// database.
type Memory struct {
	mu        sync.RWMutex
	aliases   map[string][]string
	usage     []router.UsageRecord
	providers map[string]CapturedProvider
}

func NewMemory() *Memory {
	return &Memory{aliases: make(map[string][]string), providers: make(map[string]CapturedProvider)}
}

func (m *Memory) ResolveModelAlias(_ context.Context, model string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	models, ok := m.aliases[model]
	if !ok {
		return nil, nil
	}

	out := make([]string, len(models))
	copy(out, models)
	return out, nil
}

func (m *Memory) SetModelAlias(_ context.Context, alias string, models []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]string, len(models))
	copy(cp, models)
	m.aliases[alias] = cp
	return nil
}

func (m *Memory) DeleteModelAlias(_ context.Context, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.aliases, alias)
	return nil
}

func (m *Memory) RecordUsage(_ context.Context, record router.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.usage = append(m.usage, record)
	return nil
}

func (m *Memory) ListUsage(_ context.Context, orgID string, limit int) ([]router.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []router.UsageRecord
	for i := len(m.usage) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.usage[i]
		if orgID != "" && rec.OrgID != orgID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *Memory) SetCapturedProvider(_ context.Context, cp CapturedProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[cp.Name] = cp
	return nil
}

func (m *Memory) ListCapturedProviders(_ context.Context) ([]CapturedProvider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CapturedProvider, 0, len(m.providers))
	for _, cp := range m.providers {
		out = append(out, cp)
	}
	return out, nil
}

func (m *Memory) Close() {}
