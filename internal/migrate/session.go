// Package migrate runs bulk spreadsheet-to-CRM migrations: a single
// active session per process, entities imported in foreign-key dependency
// order, fixed-size transactional batches, and pause/abort control checked
// at batch boundaries.
package migrate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmarsh-dev/crm-migrate/internal/mapper"
	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

// Status is a migration session's lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusAnalyzing Status = "analyzing"
	StatusMigrating Status = "migrating"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal reports whether a status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// EntityStatus tracks one entity's import state. Transitions only move
// forward: pending -> processing -> completed or error.
type EntityStatus string

const (
	EntityPending    EntityStatus = "pending"
	EntityProcessing EntityStatus = "processing"
	EntityCompleted  EntityStatus = "completed"
	EntityError      EntityStatus = "error"
)

// EntityProgress is the live progress of one entity's import.
// Processed counts inserted rows, Errors failed rows, Duplicates skipped
// rows; Processed + Errors never exceeds Total.
type EntityProgress struct {
	Name       string       `json:"name"`
	Total      int          `json:"total"`
	Processed  int          `json:"processed"`
	Errors     int          `json:"errors"`
	Duplicates int          `json:"duplicates"`
	Status     EntityStatus `json:"status"`
}

// ImportError records one failed row. Entries accumulate on the session
// and are never removed until the session is reset.
type ImportError struct {
	Entity  string `json:"entity"`
	Row     int    `json:"row"` // 1-indexed source row, counting the header
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Snapshot is a point-in-time copy of a session, safe to serialize while
// the migration keeps running.
type Snapshot struct {
	ID               string                    `json:"id"`
	Status           Status                    `json:"status"`
	CurrentEntity    string                    `json:"currentEntity,omitempty"`
	Entities         []EntityProgress          `json:"entities"`
	Errors           []ImportError             `json:"errors"`
	AnalysisWarnings []workbook.AnalysisError  `json:"analysisWarnings,omitempty"`
	StartTime        time.Time                 `json:"startTime"`
	EndTime          time.Time                 `json:"endTime,omitzero"`
}

var (
	// ErrSessionActive is returned when Start is called while a
	// non-terminal session exists.
	ErrSessionActive = errors.New("a migration session is already active")

	// ErrNoSession is returned by control operations when no session exists.
	ErrNoSession = errors.New("no migration session")

	// ErrInvalidTransition is returned when a control operation is not
	// valid in the session's current state.
	ErrInvalidTransition = errors.New("operation not valid in current session state")

	// ErrMappingAmbiguity rejects an approval whose mappings are too
	// uncertain to migrate without an explicit override.
	ErrMappingAmbiguity = errors.New("too many low-confidence mappings; review or override required")

	// errAborted propagates an abort from the batch-boundary gate.
	errAborted = errors.New("migration aborted")
)

// Session is one end-to-end migration run. All mutation goes through the
// engine; observers read snapshots.
type Session struct {
	ID string

	mu            sync.RWMutex
	status        Status
	currentEntity string
	entities      []*EntityProgress
	errs          []ImportError
	warnings      []workbook.AnalysisError
	startTime     time.Time
	endTime       time.Time

	wb       *workbook.Workbook
	profiles []workbook.SheetProfile
	proposed []mapper.TableMapping
	approved []mapper.TableMapping

	paused   bool
	resumeCh chan struct{}
	abortCh  chan struct{}
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:               s.ID,
		Status:           s.status,
		CurrentEntity:    s.currentEntity,
		Entities:         make([]EntityProgress, len(s.entities)),
		Errors:           append([]ImportError(nil), s.errs...),
		AnalysisWarnings: append([]workbook.AnalysisError(nil), s.warnings...),
		StartTime:        s.startTime,
		EndTime:          s.endTime,
	}
	for i, ep := range s.entities {
		snap.Entities[i] = *ep
	}
	if snap.Errors == nil {
		snap.Errors = []ImportError{}
	}
	return snap
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// transition moves the session to a new state, enforcing the forward-only
// machine: analyzing -> migrating -> completed|error (abort can jump to
// error from analyzing too).
func (s *Session) transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := false
	switch to {
	case StatusMigrating:
		valid = s.status == StatusAnalyzing
	case StatusCompleted:
		valid = s.status == StatusMigrating
	case StatusError:
		valid = s.status == StatusAnalyzing || s.status == StatusMigrating
	}
	if !valid {
		return ErrInvalidTransition
	}

	s.status = to
	if to.Terminal() {
		s.endTime = time.Now()
	}
	return nil
}

func (s *Session) setCurrentEntity(name string) {
	s.mu.Lock()
	s.currentEntity = name
	s.mu.Unlock()
}

func (s *Session) addErrors(errs ...ImportError) {
	if len(errs) == 0 {
		return
	}
	s.mu.Lock()
	s.errs = append(s.errs, errs...)
	s.mu.Unlock()
}

// entityProgress returns the tracked progress for an entity by name.
func (s *Session) entityProgress(name string) *EntityProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ep := range s.entities {
		if ep.Name == name {
			return ep
		}
	}
	return nil
}

// updateEntity mutates an entity's counters under the session lock.
func (s *Session) updateEntity(ep *EntityProgress, fn func(*EntityProgress)) {
	s.mu.Lock()
	fn(ep)
	s.mu.Unlock()
}

// pause requests a soft pause; the in-flight batch finishes first.
func (s *Session) pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusMigrating {
		return ErrInvalidTransition
	}
	if !s.paused {
		s.paused = true
		s.resumeCh = make(chan struct{})
	}
	return nil
}

func (s *Session) resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusMigrating {
		return ErrInvalidTransition
	}
	if s.paused {
		s.paused = false
		close(s.resumeCh)
	}
	return nil
}

// abort signals the run loop to stop at the next batch boundary. Already
// committed batches are not rolled back.
func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.abortCh:
		// Already aborted.
	default:
		close(s.abortCh)
	}
}

func (s *Session) abortRequested() bool {
	select {
	case <-s.abortCh:
		return true
	default:
		return false
	}
}

// gate blocks at a batch boundary while the session is paused, and reports
// abort or context cancellation. Cancellation latency is therefore bounded
// by one batch's duration.
func (s *Session) gate(ctx context.Context) error {
	for {
		if s.abortRequested() {
			return errAborted
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.RLock()
		paused := s.paused
		resume := s.resumeCh
		s.mu.RUnlock()

		if !paused {
			return nil
		}

		select {
		case <-resume:
		case <-s.abortCh:
			return errAborted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
