// Package postgres records unit outcomes in a Postgres ledger for auditing
// and re-driving units that never completed.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "unit_outcomes"

// LedgerConfig controls the Postgres connection pool used for outcome rows.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Ledger writes one row per processed unit.
type Ledger struct {
	pool  pool
	table string
}

// NewLedger creates a Postgres-backed Ledger using the provided config.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ledger.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: p, table: table}, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(p pool, table string) (*Ledger, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// EnsureSchema creates the ledger table when it does not exist.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id               BIGSERIAL PRIMARY KEY,
	unit_id          TEXT        NOT NULL,
	outcome          TEXT        NOT NULL,
	records_appended INTEGER     NOT NULL,
	pages            INTEGER     NOT NULL,
	last_cursor      TEXT,
	worker_id        TEXT        NOT NULL,
	started_at       TIMESTAMPTZ NOT NULL,
	finished_at      TIMESTAMPTZ NOT NULL,
	duration_ms      BIGINT      NOT NULL,
	error_text       TEXT
)`, l.table)
	if _, err := l.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// RecordOutcome inserts the event. It implements harvest.OutcomeSink.
func (l *Ledger) RecordOutcome(ctx context.Context, event harvest.OutcomeEvent) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("ledger is not configured")
	}
	if event.UnitID == "" {
		return fmt.Errorf("unit id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	unit_id,
	outcome,
	records_appended,
	pages,
	last_cursor,
	worker_id,
	started_at,
	finished_at,
	duration_ms,
	error_text
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`, l.table)

	args := []any{
		event.UnitID,
		string(event.Outcome),
		event.RecordsAppended,
		event.Pages,
		nullable(event.LastCursor),
		event.WorkerID,
		event.StartedAt,
		event.FinishedAt,
		event.DurationMs,
		nullable(event.ErrorText),
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// History returns the most recent outcomes of a unit, newest first.
func (l *Ledger) History(ctx context.Context, unitID string, limit int) ([]harvest.OutcomeEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT unit_id, outcome, records_appended, pages, COALESCE(last_cursor, ''), worker_id,
       started_at, finished_at, duration_ms, COALESCE(error_text, '')
FROM %s
WHERE unit_id = $1
ORDER BY finished_at DESC
LIMIT $2`, l.table)

	rows, err := l.pool.Query(ctx, query, unitID, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var events []harvest.OutcomeEvent
	for rows.Next() {
		var (
			event   harvest.OutcomeEvent
			outcome string
		)
		if err := rows.Scan(
			&event.UnitID,
			&outcome,
			&event.RecordsAppended,
			&event.Pages,
			&event.LastCursor,
			&event.WorkerID,
			&event.StartedAt,
			&event.FinishedAt,
			&event.DurationMs,
			&event.ErrorText,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		event.Outcome = harvest.Outcome(outcome)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return events, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
