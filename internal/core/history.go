package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvmailer/internal/config"
)

// History records finished batches. A failing History never changes a
// batch's outcome; Service only logs the error.
type History interface {
	RecordBatch(ctx context.Context, report *Report) error
	RecentBatches(ctx context.Context, limit int) ([]BatchSummary, error)
}

// NopHistory discards everything. Used when no database is configured.
type NopHistory struct{}

func (NopHistory) RecordBatch(context.Context, *Report) error { return nil }

func (NopHistory) RecentBatches(context.Context, int) ([]BatchSummary, error) {
	return nil, nil
}

// historySchema is applied by EnsureSchema. Statements are idempotent.
const historySchema = `
CREATE TABLE IF NOT EXISTS mail_batches (
	batch_id    UUID PRIMARY KEY,
	account     TEXT NOT NULL,
	file_name   TEXT NOT NULL DEFAULT '',
	total       INTEGER NOT NULL,
	sent        INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS mail_batch_items (
	batch_id UUID NOT NULL REFERENCES mail_batches(batch_id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	to_email TEXT NOT NULL,
	to_name  TEXT NOT NULL DEFAULT '',
	subject  TEXT NOT NULL DEFAULT '',
	status   TEXT NOT NULL,
	error    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (batch_id, position)
);

CREATE INDEX IF NOT EXISTS mail_batches_started_at_idx ON mail_batches (started_at DESC);
`

// PgHistory stores batch history in PostgreSQL.
// Message bodies are not stored.
type PgHistory struct {
	pool *pgxpool.Pool
}

// NewPgHistory creates a history store backed by pool.
func NewPgHistory(pool *pgxpool.Pool) *PgHistory {
	return &PgHistory{pool: pool}
}

// ConnectHistory opens a pool for cfg, checks it answers and applies the
// history schema.
func ConnectHistory(ctx context.Context, cfg config.DatabaseConfig) (*PgHistory, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = int32(cfg.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect history database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	h := NewPgHistory(pool)
	if err := h.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return h, nil
}

// Close releases the pool.
func (h *PgHistory) Close() {
	h.pool.Close()
}

// EnsureSchema creates the history tables if they do not exist.
func (h *PgHistory) EnsureSchema(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, historySchema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// RecordBatch inserts the batch row and one item row per recipient in a
// single transaction. Items are written with COPY.
func (h *PgHistory) RecordBatch(ctx context.Context, report *Report) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO mail_batches
			(batch_id, account, file_name, total, sent, failed, ip_address, user_agent, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		report.BatchID, report.Account, report.FileName, report.Total,
		len(report.Success), len(report.Failed),
		GetIPAddressFromContext(ctx), GetUserAgentFromContext(ctx),
		report.StartedAt, report.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"mail_batch_items"},
		batchItemColumns,
		pgx.CopyFromRows(batchItemRows(report)),
	)
	if err != nil {
		return fmt.Errorf("copy batch items: %w", err)
	}

	return tx.Commit(ctx)
}

var batchItemColumns = []string{"batch_id", "position", "to_email", "to_name", "subject", "status", "error"}

// batchItemRows returns one row per recipient in send order.
func batchItemRows(report *Report) [][]any {
	rows := make([][]any, 0, len(report.Success)+len(report.Failed))
	for _, m := range report.Success {
		rows = append(rows, []any{report.BatchID, m.Position, m.ToEmail, m.ToName, m.Subject, "sent", ""})
	}
	for _, f := range report.Failed {
		rows = append(rows, []any{report.BatchID, f.Position, f.ToEmail, f.ToName, f.Subject, "failed", f.Error})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i][1].(int) < rows[j][1].(int)
	})
	return rows
}

// historyLimit clamps a requested page size to 1-500, defaulting to 50.
func historyLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

// RecentBatches returns up to limit batches, newest first.
func (h *PgHistory) RecentBatches(ctx context.Context, limit int) ([]BatchSummary, error) {
	rows, err := h.pool.Query(ctx, `
		SELECT batch_id::text, account, file_name, total, sent, failed, ip_address, started_at, duration_ms
		FROM mail_batches
		ORDER BY started_at DESC
		LIMIT $1`, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var (
			s          BatchSummary
			durationMs int64
		)
		if err := rows.Scan(&s.BatchID, &s.Account, &s.FileName, &s.Total, &s.Sent, &s.Failed,
			&s.IPAddress, &s.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		s.Duration = (time.Duration(durationMs) * time.Millisecond).String()
		out = append(out, s)
	}
	return out, rows.Err()
}
