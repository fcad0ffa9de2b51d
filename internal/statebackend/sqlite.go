package statebackend

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/muz"
	_ "modernc.org/sqlite"

	"github.com/rakunlabs/gate/internal/config"
	"github.com/rakunlabs/gate/internal/router"
)

var DefaultTablePrefix = "gate_"

//go:embed migrations/*
var migrationFS embed.FS

// SQLite is a SQLite-backed Backend: model aliases and usage records
// persist across restarts via goqu-built queries, matching the store
// package's own query style.
type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableAliases   exp.IdentifierExpression
	tableUsage     exp.IdentifierExpression
	tableProviders exp.IdentifierExpression
}

func NewSQLite(ctx context.Context, cfg *config.StoreSQLite) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}
	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}
	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}
	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := migrateDB(ctx, migrate.Datasource, migrate.Table, migrate.Values); err != nil {
		return nil, fmt.Errorf("migrate state backend sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to state backend sqlite")

	return &SQLite{
		db:             db,
		goqu:           goqu.New("sqlite3", db),
		tableAliases:   goqu.T(tablePrefix + "model_aliases"),
		tableUsage:     goqu.T(tablePrefix + "usage_records"),
		tableProviders: goqu.T(tablePrefix + "captured_providers"),
	}, nil
}

func migrateDB(ctx context.Context, datasource, table string, values map[string]string) error {
	db, err := sql.Open("sqlite", datasource)
	if err != nil {
		return fmt.Errorf("open sqlite connection for migration: %w", err)
	}
	defer db.Close()

	m := muz.Migrate{
		Path:      "migrations",
		FS:        migrationFS,
		Extension: ".sql",
		Values:    values,
	}

	driver := muz.NewSQLiteDriver(db, table, slog.Default())

	if err := m.Migrate(ctx, driver); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (s *SQLite) SetCapturedProvider(ctx context.Context, cp CapturedProvider) error {
	now := cp.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	query, _, err := s.goqu.Insert(s.tableProviders).
		Rows(goqu.Record{
			"name":       cp.Name,
			"provider":   cp.Provider,
			"api_key":    cp.APIKey,
			"created_at": now.Format(time.RFC3339),
		}).
		OnConflict(goqu.DoUpdate("name", goqu.Record{"provider": cp.Provider, "api_key": cp.APIKey})).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build set captured provider query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("set captured provider %q: %w", cp.Name, err)
	}
	return nil
}

func (s *SQLite) ListCapturedProviders(ctx context.Context) ([]CapturedProvider, error) {
	query, _, err := s.goqu.From(s.tableProviders).
		Select("name", "provider", "api_key", "created_at").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list captured providers query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list captured providers: %w", err)
	}
	defer rows.Close()

	var out []CapturedProvider
	for rows.Next() {
		var cp CapturedProvider
		var createdAt string
		if err := rows.Scan(&cp.Name, &cp.Provider, &cp.APIKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan captured provider row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			cp.CreatedAt = t
		}
		out = append(out, cp)
	}

	return out, rows.Err()
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close state backend sqlite connection", "error", err)
		}
	}
}

func (s *SQLite) ResolveModelAlias(ctx context.Context, model string) ([]string, error) {
	query, _, err := s.goqu.From(s.tableAliases).
		Select("models").
		Where(goqu.I("alias").Eq(model)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build resolve alias query: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, query).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve alias %q: %w", model, err)
	}

	return strings.Split(raw, ","), nil
}

func (s *SQLite) SetModelAlias(ctx context.Context, alias string, models []string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	record := goqu.Record{
		"alias":      alias,
		"models":     strings.Join(models, ","),
		"created_at": now,
		"updated_at": now,
	}

	query, _, err := s.goqu.Insert(s.tableAliases).
		Rows(record).
		OnConflict(goqu.DoUpdate("alias", goqu.Record{"models": strings.Join(models, ","), "updated_at": now})).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build set alias query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("set alias %q: %w", alias, err)
	}
	return nil
}

func (s *SQLite) DeleteModelAlias(ctx context.Context, alias string) error {
	query, _, err := s.goqu.Delete(s.tableAliases).Where(goqu.I("alias").Eq(alias)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete alias query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete alias %q: %w", alias, err)
	}
	return nil
}

func (s *SQLite) RecordUsage(ctx context.Context, rec router.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var metaJSON []byte
	if len(rec.Metadata) > 0 {
		var err error
		metaJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal usage metadata: %w", err)
		}
	}

	query, _, err := s.goqu.Insert(s.tableUsage).Rows(goqu.Record{
		"id":            rec.ID,
		"org_id":        rec.OrgID,
		"user_id":       rec.UserID,
		"api_key_hash":  rec.APIKeyHash,
		"request_id":    rec.RequestID,
		"provider_id":   rec.ProviderID,
		"model_id":      rec.ModelID,
		"input_tokens":  rec.InputTokens,
		"output_tokens": rec.OutputTokens,
		"total_tokens":  rec.TotalTokens,
		"cost_usd":      rec.CostUSD,
		"metadata":      string(metaJSON),
		"created_at":    rec.Timestamp.Format(time.RFC3339),
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert usage query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (s *SQLite) ListUsage(ctx context.Context, orgID string, limit int) ([]router.UsageRecord, error) {
	sel := s.goqu.From(s.tableUsage).
		Select("id", "org_id", "user_id", "api_key_hash", "request_id", "provider_id", "model_id",
			"input_tokens", "output_tokens", "total_tokens", "cost_usd", "metadata", "created_at").
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit))
	if orgID != "" {
		sel = sel.Where(goqu.I("org_id").Eq(orgID))
	}

	query, _, err := sel.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list usage query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []router.UsageRecord
	for rows.Next() {
		var rec router.UsageRecord
		var metaJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.UserID, &rec.APIKeyHash, &rec.RequestID,
			&rec.ProviderID, &rec.ModelID, &rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens,
			&rec.CostUSD, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal usage metadata: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.Timestamp = t
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}
