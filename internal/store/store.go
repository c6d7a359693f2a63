// Package store is the Postgres persistence layer: duplicate lookups,
// foreign-key resolution, batch inserts with per-row isolation, and the
// migration run history.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarsh-dev/crm-migrate/internal/migrate"
	"github.com/dmarsh-dev/crm-migrate/internal/schema"
)

// Store implements the importer's persistence surface over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ migrate.TargetStore = (*Store)(nil)

// New creates a store over the given connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ExistingKeys returns which of the given natural keys already exist in
// the table. Keys are compared in the same canonical form the importer
// builds them: lower-cased values joined with "|", dates in ISO form.
func (s *Store) ExistingKeys(ctx context.Context, table string, keys []string) (map[string]struct{}, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return nil, fmt.Errorf("unknown table: %s", table)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1)",
		naturalKeyExpr(t), quoteIdentifier(t.Name), naturalKeyExpr(t))

	rows, err := s.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("query existing keys: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		existing[key] = struct{}{}
	}
	return existing, rows.Err()
}

// ResolveParents maps parent natural keys (lower-cased) to row ids.
// Keys with no matching row are absent from the result.
func (s *Store) ResolveParents(ctx context.Context, table string, keys []string) (map[string]string, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return nil, fmt.Errorf("unknown table: %s", table)
	}

	query := fmt.Sprintf("SELECT %s, id FROM %s WHERE %s = ANY($1)",
		naturalKeyExpr(t), quoteIdentifier(t.Name), naturalKeyExpr(t))

	rows, err := s.pool.Query(ctx, query, keys)
	if err != nil {
		return nil, fmt.Errorf("query parent keys: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]string, len(keys))
	for rows.Next() {
		var key string
		var id pgtype.UUID
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan parent row: %w", err)
		}
		ids[key] = PgUUIDToString(id)
	}
	return ids, rows.Err()
}

// InsertBatch inserts the rows in one transaction. Each row gets its own
// savepoint so a constraint violation fails that row alone; the rest of
// the batch commits.
func (s *Store) InsertBatch(ctx context.Context, table string, rows []migrate.Row) (migrate.BatchOutcome, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		return migrate.BatchOutcome{}, fmt.Errorf("unknown table: %s", table)
	}

	fields, idColumns := insertColumns(t)
	stmt := insertStatement(t, fields, idColumns)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return migrate.BatchOutcome{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var outcome migrate.BatchOutcome
	for i, row := range rows {
		args := make([]any, 0, len(fields)+len(idColumns))
		for _, f := range fields {
			args = append(args, fieldValue(f, row.Values[f.Name]))
		}
		for _, col := range idColumns {
			args = append(args, ToPgUUID(row.ParentIDs[col]))
		}

		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return migrate.BatchOutcome{}, fmt.Errorf("create savepoint: %w", err)
		}

		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
			outcome.Failed = append(outcome.Failed, migrate.RowError{
				Index:   row.Index,
				Message: fmt.Sprintf("insert: %v", err),
			})
			continue
		}

		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint)
		outcome.Inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return migrate.BatchOutcome{}, fmt.Errorf("commit: %w", err)
	}
	return outcome, nil
}

// insertColumns splits a table's mappable fields into stored columns and
// foreign-key id columns. Reference fields carry a parent natural key in
// the source data; the key itself is not stored, only the resolved id.
func insertColumns(t schema.Table) (fields []schema.Field, idColumns []string) {
	for _, f := range t.Fields {
		if _, isRef := t.Reference(f.Name); isRef {
			continue
		}
		fields = append(fields, f)
	}
	for _, ref := range t.References {
		idColumns = append(idColumns, ref.IDColumn)
	}
	return fields, idColumns
}

func insertStatement(t schema.Table, fields []schema.Field, idColumns []string) string {
	cols := make([]string, 0, len(fields)+len(idColumns))
	for _, f := range fields {
		cols = append(cols, quoteIdentifier(f.Name))
	}
	for _, col := range idColumns {
		cols = append(cols, quoteIdentifier(col))
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdentifier(t.Name),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "))
}

// naturalKeyExpr builds the SQL expression matching the importer's
// canonical natural key: lower-cased values joined with "|", dates cast
// to their ISO text form.
func naturalKeyExpr(t schema.Table) string {
	parts := make([]string, len(t.NaturalKey))
	for i, name := range t.NaturalKey {
		col := quoteIdentifier(name)
		if f, ok := t.Field(name); ok && f.Type == schema.FieldDate {
			parts[i] = fmt.Sprintf("COALESCE(%s::text, '')", col)
		} else {
			parts[i] = fmt.Sprintf("LOWER(COALESCE(%s, ''))", col)
		}
	}
	return strings.Join(parts, " || '|' || ")
}

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
