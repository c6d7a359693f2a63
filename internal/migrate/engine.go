package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmarsh-dev/crm-migrate/internal/mapper"
	"github.com/dmarsh-dev/crm-migrate/internal/progress"
	"github.com/dmarsh-dev/crm-migrate/internal/schema"
	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

// maxReviewRatio gates migration start: at most this share of approved
// field mappings may sit below the review threshold, unless the approval
// carries an explicit override.
const maxReviewRatio = 0.5

// Config tunes a migration engine.
type Config struct {
	BatchSize    int           // Rows per transactional batch (default 50)
	SampleRows   int           // Rows sampled per sheet during analysis (default 100)
	BatchTimeout time.Duration // Per-batch deadline; one retry before the entity fails (0 disables)
}

// HistoryStore persists finished runs so they remain inspectable after the
// process restarts. A nil HistoryStore disables persistence.
type HistoryStore interface {
	RecordRun(ctx context.Context, snap Snapshot) error
}

// Engine owns the lifecycle of migration sessions: at most one session is
// live at a time, created on Start and discarded on Reset.
type Engine struct {
	store   TargetStore
	history HistoryStore
	bus     *progress.Broadcaster
	cfg     Config

	mu      sync.Mutex
	current *Session
}

// NewEngine creates an engine over a target store and event broadcaster.
func NewEngine(store TargetStore, history HistoryStore, bus *progress.Broadcaster, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = workbook.DefaultSampleRows
	}
	return &Engine{store: store, history: history, bus: bus, cfg: cfg}
}

// Start creates a session for the given workbook, analyzes every sheet,
// and returns the proposed mappings for review. The session stays in
// analyzing until the reviewed mappings are approved. Starting while a
// non-terminal session exists is rejected.
func (e *Engine) Start(ctx context.Context, wb *workbook.Workbook) (Snapshot, []mapper.TableMapping, error) {
	e.mu.Lock()
	if e.current != nil && !e.current.Status().Terminal() {
		e.mu.Unlock()
		return Snapshot{}, nil, ErrSessionActive
	}

	s := &Session{
		ID:        uuid.New().String(),
		status:    StatusAnalyzing,
		startTime: time.Now(),
		wb:        wb,
		abortCh:   make(chan struct{}),
	}
	e.current = s
	e.mu.Unlock()

	profiles, warnings := workbook.Analyze(wb, e.cfg.SampleRows)
	proposed := mapper.MapWorkbook(profiles)

	s.mu.Lock()
	s.profiles = profiles
	s.warnings = warnings
	s.proposed = proposed
	s.mu.Unlock()

	slog.InfoContext(ctx, "analysis complete",
		"session_id", s.ID,
		"sheets", len(profiles),
		"skipped_sheets", len(warnings),
	)

	if len(profiles) == 0 {
		s.transition(StatusError)
		e.publish(progress.Event{Type: progress.EventMigrationError,
			Payload: progress.MigrationError{Message: "no analyzable sheets in workbook"}})
		return s.Snapshot(), proposed, fmt.Errorf("no analyzable sheets in workbook")
	}

	return s.Snapshot(), proposed, nil
}

// Approve supplies the reviewed mapping set and begins migrating. The
// approval is rejected when more than half of the field mappings fall
// below the review threshold, unless override is set.
func (e *Engine) Approve(ctx context.Context, approved []mapper.TableMapping, override bool) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	if s.Status() != StatusAnalyzing {
		return ErrInvalidTransition
	}

	if err := validateApproved(approved); err != nil {
		return err
	}
	if ratio := mapper.NeedsReviewRatio(approved); ratio > maxReviewRatio && !override {
		return fmt.Errorf("%w: %.0f%% of mappings below confidence %.0f",
			ErrMappingAmbiguity, ratio*100, mapper.ReviewThreshold)
	}

	s.mu.Lock()
	s.approved = approved
	s.entities = buildEntities(approved, s.profiles)
	s.mu.Unlock()

	if err := s.transition(StatusMigrating); err != nil {
		return err
	}

	slog.InfoContext(ctx, "migration approved",
		"session_id", s.ID,
		"entities", len(approved),
		"override", override,
	)

	go e.run(context.WithoutCancel(ctx), s)
	return nil
}

// Pause soft-pauses the running migration at the next batch boundary.
func (e *Engine) Pause() error {
	s, err := e.session()
	if err != nil {
		return err
	}
	return s.pause()
}

// Resume continues a paused migration.
func (e *Engine) Resume() error {
	s, err := e.session()
	if err != nil {
		return err
	}
	return s.resume()
}

// Abort stops the migration at the next batch boundary and moves the
// session to error. Committed batches stay committed.
func (e *Engine) Abort() error {
	s, err := e.session()
	if err != nil {
		return err
	}

	switch s.Status() {
	case StatusAnalyzing:
		// No run loop yet; fail the session directly.
		s.abort()
		if err := s.transition(StatusError); err != nil {
			return err
		}
		e.publish(progress.Event{Type: progress.EventMigrationError,
			Payload: progress.MigrationError{Message: "migration aborted"}})
		e.recordRun(s)
		return nil
	case StatusMigrating:
		s.abort()
		// Also wake a paused run loop so the abort lands.
		s.mu.Lock()
		if s.paused {
			s.paused = false
			close(s.resumeCh)
		}
		s.mu.Unlock()
		return nil
	default:
		return ErrInvalidTransition
	}
}

// Reset discards a terminal session so a new one can start.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return ErrNoSession
	}
	if !e.current.Status().Terminal() {
		return ErrInvalidTransition
	}
	e.current = nil
	return nil
}

// Status returns a snapshot of the current session.
func (e *Engine) Status() (Snapshot, error) {
	s, err := e.session()
	if err != nil {
		return Snapshot{ID: "", Status: StatusIdle, Entities: []EntityProgress{}, Errors: []ImportError{}}, err
	}
	return s.Snapshot(), nil
}

// Proposed returns the mappings produced by analysis, for the review
// surface.
func (e *Engine) Proposed() ([]mapper.TableMapping, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]mapper.TableMapping(nil), s.proposed...), nil
}

func (e *Engine) session() (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil, ErrNoSession
	}
	return e.current, nil
}

func (e *Engine) publish(evt progress.Event) {
	if e.bus != nil {
		e.bus.Publish(evt)
	}
}

func (e *Engine) recordRun(s *Session) {
	if e.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.history.RecordRun(ctx, s.Snapshot()); err != nil {
		slog.Error("failed to record migration run", "session_id", s.ID, "error", err)
	}
}

// validateApproved rejects approval sets that violate mapping invariants:
// unknown target tables or fields, or two mappings claiming one target
// field. Review edits can introduce any of these.
func validateApproved(approved []mapper.TableMapping) error {
	claimedTables := make(map[string]string)
	for _, tm := range approved {
		if tm.TargetTable != "" {
			if prev, dup := claimedTables[tm.TargetTable]; dup {
				return fmt.Errorf("target table %q claimed by both sheets %q and %q",
					tm.TargetTable, prev, tm.SourceSheet)
			}
			claimedTables[tm.TargetTable] = tm.SourceSheet
		}
		if tm.TargetTable == "" {
			continue // Unmapped sheet left in the set; skipped during migration.
		}
		table, ok := schema.Lookup(tm.TargetTable)
		if !ok {
			return fmt.Errorf("unknown target table %q", tm.TargetTable)
		}
		claimed := make(map[string]string)
		for _, fm := range tm.FieldMappings {
			if _, ok := table.Field(fm.TargetField); !ok {
				return fmt.Errorf("unknown target field %q on table %q", fm.TargetField, tm.TargetTable)
			}
			if prev, dup := claimed[fm.TargetField]; dup {
				return fmt.Errorf("target field %q claimed by both %q and %q",
					fm.TargetField, prev, fm.SourceField)
			}
			claimed[fm.TargetField] = fm.SourceField
		}
	}
	return nil
}

// buildEntities creates progress trackers for every approved mapping, in
// target-schema dependency order.
func buildEntities(approved []mapper.TableMapping, profiles []workbook.SheetProfile) []*EntityProgress {
	rowCounts := make(map[string]int, len(profiles))
	for _, p := range profiles {
		rowCounts[p.Name] = p.RowCount
	}

	var entities []*EntityProgress
	for _, table := range schema.Tables() {
		for _, tm := range approved {
			if tm.TargetTable != table.Name {
				continue
			}
			entities = append(entities, &EntityProgress{
				Name:   table.Name,
				Total:  rowCounts[tm.SourceSheet],
				Status: EntityPending,
			})
		}
	}
	return entities
}
