package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmarsh-dev/crm-migrate/internal/mapper"
	"github.com/dmarsh-dev/crm-migrate/internal/progress"
	"github.com/dmarsh-dev/crm-migrate/internal/schema"
	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

// Row is one validated source row ready for insertion. Values is keyed by
// target field name; ParentIDs by foreign-key column name.
type Row struct {
	Index     int // 1-indexed source row, counting the header
	Key       string
	Values    map[string]string
	ParentIDs map[string]string
}

// RowError reports one row that failed inside a batch insert.
type RowError struct {
	Index   int
	Field   string
	Message string
}

// BatchOutcome summarizes one batch insert.
type BatchOutcome struct {
	Inserted int
	Failed   []RowError
}

// TargetStore is the persistence surface the importer writes through.
// InsertBatch commits each batch in its own transaction with per-row
// isolation: one bad row fails alone, the rest of the batch commits.
type TargetStore interface {
	// ExistingKeys returns which of the given natural keys already exist
	// in the table.
	ExistingKeys(ctx context.Context, table string, keys []string) (map[string]struct{}, error)

	// ResolveParents maps parent natural keys to their row ids.
	// Keys with no match are absent from the result.
	ResolveParents(ctx context.Context, table string, keys []string) (map[string]string, error)

	// InsertBatch inserts the rows in one transaction.
	InsertBatch(ctx context.Context, table string, rows []Row) (BatchOutcome, error)
}

// importEntity migrates one sheet into one target table: validate every
// row, suppress duplicates within the file and against the table, resolve
// foreign keys, and insert in fixed-size batches. Row-level failures are
// recorded and skipped; only systemic failures (or an abort) return an
// error.
func (e *Engine) importEntity(ctx context.Context, s *Session, ep *EntityProgress, table schema.Table, tm mapper.TableMapping, sheet workbook.Sheet) error {
	cols := make(map[string]int, len(tm.FieldMappings))
	for _, fm := range tm.FieldMappings {
		if idx := sheet.ColumnIndex(fm.SourceField); idx >= 0 {
			cols[fm.TargetField] = idx
		}
	}

	var (
		pending []Row
		rowErrs []ImportError
		dups    int
	)
	seen := make(map[string]struct{}, len(sheet.Rows))

	for i, rec := range sheet.Rows {
		rowNum := i + 2 // header is row 1

		values := make(map[string]string, len(cols))
		for target, col := range cols {
			if col < len(rec) {
				values[target] = rec[col]
			}
		}

		if ierr, ok := validateRow(table, values, rowNum); !ok {
			rowErrs = append(rowErrs, ierr)
			continue
		}

		key, err := naturalKey(table, values)
		if err != nil {
			rowErrs = append(rowErrs, ImportError{
				Entity: table.Name, Row: rowNum, Message: err.Error(),
			})
			continue
		}
		if _, dup := seen[key]; dup {
			dups++
			continue
		}
		seen[key] = struct{}{}

		pending = append(pending, Row{Index: rowNum, Key: key, Values: values})
	}

	s.addErrors(rowErrs...)
	s.updateEntity(ep, func(p *EntityProgress) {
		p.Errors += len(rowErrs)
		p.Duplicates += dups
	})

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		if err := s.gate(ctx); err != nil {
			return err
		}

		end := min(start+e.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		kept, batchErrs, skipped, err := e.prepareBatch(ctx, table, batch)
		if err != nil {
			return err
		}

		var outcome BatchOutcome
		if len(kept) > 0 {
			outcome, err = e.insertWithRetry(ctx, table.Name, kept)
			if err != nil {
				return err
			}
		}
		for _, fe := range outcome.Failed {
			batchErrs = append(batchErrs, ImportError{
				Entity:  table.Name,
				Row:     fe.Index,
				Field:   fe.Field,
				Message: fe.Message,
			})
		}

		s.addErrors(batchErrs...)
		s.updateEntity(ep, func(p *EntityProgress) {
			p.Processed += outcome.Inserted
			p.Errors += len(batchErrs)
			p.Duplicates += skipped
		})
		e.publish(progress.Event{Type: progress.EventEntityProgress,
			Payload: progress.EntityProgress{
				Entity:     table.Name,
				Processed:  ep.Processed,
				Errors:     ep.Errors,
				Duplicates: ep.Duplicates,
			}})
	}

	return nil
}

// prepareBatch drops rows whose natural key already exists in the target
// table and resolves foreign keys for the rest. Rows with an unresolvable
// required parent become row errors.
func (e *Engine) prepareBatch(ctx context.Context, table schema.Table, batch []Row) (kept []Row, rowErrs []ImportError, skipped int, err error) {
	keys := make([]string, len(batch))
	for i, r := range batch {
		keys[i] = r.Key
	}
	existing, err := e.store.ExistingKeys(ctx, table.Name, keys)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("check existing %s: %w", table.Name, err)
	}

	// One lookup per referenced table covering the whole batch.
	resolved := make(map[string]map[string]string, len(table.References))
	for _, ref := range table.References {
		parentKeys := make([]string, 0, len(batch))
		seen := make(map[string]struct{}, len(batch))
		for _, r := range batch {
			k := strings.ToLower(strings.TrimSpace(r.Values[ref.Field]))
			if k == "" {
				continue
			}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			parentKeys = append(parentKeys, k)
		}
		if len(parentKeys) == 0 {
			continue
		}
		ids, rerr := e.store.ResolveParents(ctx, ref.Table, parentKeys)
		if rerr != nil {
			return nil, nil, 0, fmt.Errorf("resolve %s parents: %w", ref.Table, rerr)
		}
		resolved[ref.Field] = ids
	}

rows:
	for _, r := range batch {
		if _, dup := existing[r.Key]; dup {
			skipped++
			continue
		}

		r.ParentIDs = make(map[string]string, len(table.References))
		for _, ref := range table.References {
			val := strings.ToLower(strings.TrimSpace(r.Values[ref.Field]))
			if val == "" {
				continue // Required-empty was already rejected during validation.
			}
			id, ok := resolved[ref.Field][val]
			if !ok {
				if ref.Required {
					rowErrs = append(rowErrs, ImportError{
						Entity:  table.Name,
						Row:     r.Index,
						Field:   ref.Field,
						Message: fmt.Sprintf("no %s found matching %q", strings.TrimSuffix(ref.Table, "s"), r.Values[ref.Field]),
					})
					continue rows
				}
				continue // Optional parent missing; column stays null.
			}
			r.ParentIDs[ref.IDColumn] = id
		}

		kept = append(kept, r)
	}
	return kept, rowErrs, skipped, nil
}

// insertWithRetry runs one batch insert under the configured timeout,
// retrying once before giving up on the entity.
func (e *Engine) insertWithRetry(ctx context.Context, table string, rows []Row) (BatchOutcome, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		bctx := ctx
		cancel := context.CancelFunc(func() {})
		if e.cfg.BatchTimeout > 0 {
			bctx, cancel = context.WithTimeout(ctx, e.cfg.BatchTimeout)
		}
		outcome, err := e.store.InsertBatch(bctx, table, rows)
		cancel()
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return BatchOutcome{}, fmt.Errorf("insert %s batch: %w", table, lastErr)
}

// validateRow checks every mapped and required field value against the
// target schema. The first violation fails the row.
func validateRow(table schema.Table, values map[string]string, rowNum int) (ImportError, bool) {
	for _, f := range table.Fields {
		val, mapped := values[f.Name]
		if !mapped && !f.Required {
			continue
		}
		if err := schema.ValidateValue(f, val); err != nil {
			return ImportError{
				Entity:  table.Name,
				Row:     rowNum,
				Field:   f.Name,
				Message: err.Error(),
			}, false
		}
	}
	return ImportError{}, true
}

// naturalKey builds the duplicate-suppression key for a row: the natural
// key field values lower-cased and joined with "|". Date components are
// canonicalized to ISO form so "1/5/2024" and "2024-01-05" collide.
func naturalKey(table schema.Table, values map[string]string) (string, error) {
	parts := make([]string, len(table.NaturalKey))
	for i, name := range table.NaturalKey {
		v := strings.TrimSpace(values[name])
		if v == "" {
			return "", fmt.Errorf("missing %s for duplicate check", name)
		}
		if f, ok := table.Field(name); ok && f.Type == schema.FieldDate {
			if t, ok := schema.ParseDate(v); ok {
				v = t.Format("2006-01-02")
			}
		}
		parts[i] = strings.ToLower(v)
	}
	return strings.Join(parts, "|"), nil
}
