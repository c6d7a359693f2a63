package migrate

// orchestrator.go drives an approved migration: entities strictly
// sequentially in dependency order, one goroutine per session, progress
// pushed through the broadcaster. Pause and abort are honored at batch
// boundaries only, so an in-flight batch always finishes cleanly.

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmarsh-dev/crm-migrate/internal/mapper"
	"github.com/dmarsh-dev/crm-migrate/internal/progress"
	"github.com/dmarsh-dev/crm-migrate/internal/schema"
	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

func (e *Engine) run(ctx context.Context, s *Session) {
	logger := slog.With("session_id", s.ID)
	logger.Info("migration started", "entities", entityNames(s))

	for _, table := range schema.Tables() {
		tm, sheet, ok := approvedMapping(s, table.Name)
		if !ok {
			continue
		}

		if err := s.gate(ctx); err != nil {
			e.finishWithError(s, logger, err)
			return
		}

		ep := s.entityProgress(table.Name)
		s.setCurrentEntity(table.Name)
		s.updateEntity(ep, func(p *EntityProgress) { p.Status = EntityProcessing })
		e.publish(progress.Event{Type: progress.EventEntityStart,
			Payload: progress.EntityStart{Entity: table.Name, Total: ep.Total}})

		err := e.importEntity(ctx, s, ep, table, tm, sheet)
		if err != nil {
			s.updateEntity(ep, func(p *EntityProgress) { p.Status = EntityError })
			e.finishWithError(s, logger, err)
			return
		}

		s.updateEntity(ep, func(p *EntityProgress) { p.Status = EntityCompleted })
		e.publish(progress.Event{Type: progress.EventEntityComplete,
			Payload: progress.EntityComplete{Entity: table.Name, Errors: ep.Errors}})
		logger.Info("entity complete",
			"entity", table.Name,
			"inserted", ep.Processed,
			"errors", ep.Errors,
			"duplicates", ep.Duplicates,
		)
	}

	s.setCurrentEntity("")
	if err := s.transition(StatusCompleted); err != nil {
		logger.Error("failed to complete session", "error", err)
		return
	}

	snap := s.Snapshot()
	e.publish(progress.Event{Type: progress.EventMigrationComplete,
		Payload: progress.MigrationComplete{Entities: entityNames(s), Errors: len(snap.Errors)}})
	e.recordRun(s)
	logger.Info("migration complete", "errors", len(snap.Errors))
}

// finishWithError terminates the session. Row-level conditions never reach
// here; this path is aborts and systemic failures only.
func (e *Engine) finishWithError(s *Session, logger *slog.Logger, err error) {
	msg := err.Error()
	if errors.Is(err, errAborted) {
		msg = "migration aborted"
	}

	if terr := s.transition(StatusError); terr != nil {
		logger.Error("failed to fail session", "cause", err, "error", terr)
	}
	e.publish(progress.Event{Type: progress.EventMigrationError,
		Payload: progress.MigrationError{Message: msg}})
	e.recordRun(s)
	logger.Error("migration failed", "error", err)
}

// approvedMapping finds the approved mapping targeting the given table and
// the source sheet it maps from.
func approvedMapping(s *Session, table string) (mapper.TableMapping, workbook.Sheet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tm := range s.approved {
		if tm.TargetTable != table {
			continue
		}
		for _, sheet := range s.wb.Sheets {
			if sheet.Name == tm.SourceSheet {
				return tm, sheet, true
			}
		}
	}
	return mapper.TableMapping{}, workbook.Sheet{}, false
}

func entityNames(s *Session) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.entities))
	for i, ep := range s.entities {
		names[i] = ep.Name
	}
	return names
}
