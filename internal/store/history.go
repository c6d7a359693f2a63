package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarsh-dev/crm-migrate/internal/migrate"
)

// History persists finished migration runs so results survive a restart.
type History struct {
	pool *pgxpool.Pool
}

var _ migrate.HistoryStore = (*History)(nil)

// NewHistory creates a run history over the given connection pool.
func NewHistory(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

// RecordRun writes one finished run and its row errors in a single
// transaction.
func (h *History) RecordRun(ctx context.Context, snap migrate.Snapshot) error {
	entities, err := json.Marshal(snap.Entities)
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO migration_runs (id, status, entities, error_count, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			entities = EXCLUDED.entities,
			error_count = EXCLUDED.error_count,
			finished_at = EXCLUDED.finished_at`,
		ToPgUUID(snap.ID),
		string(snap.Status),
		entities,
		len(snap.Errors),
		snap.StartTime,
		snap.EndTime,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM migration_errors WHERE run_id = $1`, ToPgUUID(snap.ID)); err != nil {
		return fmt.Errorf("clear run errors: %w", err)
	}

	for _, ie := range snap.Errors {
		_, err = tx.Exec(ctx, `
			INSERT INTO migration_errors (run_id, entity, row_number, field, message)
			VALUES ($1, $2, $3, $4, $5)`,
			ToPgUUID(snap.ID),
			ie.Entity,
			ie.Row,
			ToPgText(ie.Field),
			ie.Message,
		)
		if err != nil {
			return fmt.Errorf("insert run error: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
