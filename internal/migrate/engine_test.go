package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarsh-dev/crm-migrate/internal/mapper"
	"github.com/dmarsh-dev/crm-migrate/internal/progress"
	"github.com/dmarsh-dev/crm-migrate/internal/workbook"
)

// fakeStore is an in-memory TargetStore. Inserted rows register their
// natural keys for duplicate checks and parent resolution, mirroring how
// the real store sees earlier batches.
type fakeStore struct {
	mu       sync.Mutex
	existing map[string]map[string]struct{}
	parents  map[string]map[string]string
	batches  map[string][]int
	failRows map[int]string // source row index -> failure message
	insertErr error

	started chan string   // receives the table name as each batch insert begins
	gate    chan struct{} // when set, batch inserts wait on it
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		existing: make(map[string]map[string]struct{}),
		parents:  make(map[string]map[string]string),
		batches:  make(map[string][]int),
		failRows: make(map[int]string),
	}
}

func (f *fakeStore) ExistingKeys(_ context.Context, table string, keys []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := f.existing[table][k]; ok {
			out[k] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveParents(_ context.Context, table string, keys []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]string)
	for _, k := range keys {
		if id, ok := f.parents[table][k]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func (f *fakeStore) InsertBatch(_ context.Context, table string, rows []Row) (BatchOutcome, error) {
	if f.started != nil {
		f.started <- table
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.insertErr != nil {
		return BatchOutcome{}, f.insertErr
	}

	var out BatchOutcome
	for _, r := range rows {
		if msg, ok := f.failRows[r.Index]; ok {
			out.Failed = append(out.Failed, RowError{Index: r.Index, Message: msg})
			continue
		}
		if f.existing[table] == nil {
			f.existing[table] = make(map[string]struct{})
		}
		f.existing[table][r.Key] = struct{}{}
		if f.parents[table] == nil {
			f.parents[table] = make(map[string]string)
		}
		f.parents[table][r.Key] = "id-" + r.Key
		out.Inserted++
	}
	f.batches[table] = append(f.batches[table], len(rows))
	return out, nil
}

func (f *fakeStore) batchSizes(table string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batches[table]...)
}

type fakeHistory struct {
	mu   sync.Mutex
	runs []Snapshot
}

func (h *fakeHistory) RecordRun(_ context.Context, snap Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs = append(h.runs, snap)
	return nil
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}

func orgWorkbook(n int) *workbook.Workbook {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("Org %03d", i), fmt.Sprintf("org%03d@example.com", i)}
	}
	return &workbook.Workbook{
		Name: "orgs.csv",
		Sheets: []workbook.Sheet{
			{Name: "Organizations", Header: []string{"Name", "Email"}, Rows: rows},
		},
	}
}

func startAndApprove(t *testing.T, e *Engine, wb *workbook.Workbook) {
	t.Helper()
	_, proposed, err := e.Start(context.Background(), wb)
	require.NoError(t, err)
	require.NoError(t, e.Approve(context.Background(), proposed, false))
}

func waitStatus(t *testing.T, e *Engine, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, _ := e.Status()
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := e.Status()
	t.Fatalf("status = %s, want %s", snap.Status, want)
	return snap
}

func entity(t *testing.T, snap Snapshot, name string) EntityProgress {
	t.Helper()
	for _, ep := range snap.Entities {
		if ep.Name == name {
			return ep
		}
	}
	t.Fatalf("entity %s not tracked", name)
	return EntityProgress{}
}

func TestMigrate_Batching(t *testing.T) {
	fs := newFakeStore()
	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})

	startAndApprove(t, e, orgWorkbook(120))
	snap := waitStatus(t, e, StatusCompleted)

	assert.Equal(t, []int{50, 50, 20}, fs.batchSizes("organizations"))

	ep := entity(t, snap, "organizations")
	assert.Equal(t, 120, ep.Total)
	assert.Equal(t, 120, ep.Processed)
	assert.Equal(t, 0, ep.Errors)
	assert.Equal(t, EntityCompleted, ep.Status)
	assert.False(t, snap.EndTime.IsZero())
}

func TestMigrate_DuplicateSuppression(t *testing.T) {
	wb := orgWorkbook(10)
	sheet := &wb.Sheets[0]
	// Same organization in a different case: collapses to one key.
	sheet.Rows = append(sheet.Rows, []string{"ORG 003", "dup@example.com"})

	fs := newFakeStore()
	// One organization already lives in the target table.
	fs.existing["organizations"] = map[string]struct{}{"org 005": {}}

	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})
	startAndApprove(t, e, wb)
	snap := waitStatus(t, e, StatusCompleted)

	ep := entity(t, snap, "organizations")
	assert.Equal(t, 11, ep.Total)
	assert.Equal(t, 9, ep.Processed)
	assert.Equal(t, 2, ep.Duplicates)
	assert.Equal(t, 0, ep.Errors)
}

func TestMigrate_RowValidationIsolation(t *testing.T) {
	wb := orgWorkbook(5)
	wb.Sheets[0].Rows[1][1] = "not-an-email" // row 3
	wb.Sheets[0].Rows[3][0] = ""             // row 5, missing required name

	fs := newFakeStore()
	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})
	startAndApprove(t, e, wb)
	snap := waitStatus(t, e, StatusCompleted)

	ep := entity(t, snap, "organizations")
	assert.Equal(t, 3, ep.Processed)
	assert.Equal(t, 2, ep.Errors)

	require.Len(t, snap.Errors, 2)
	rows := []int{snap.Errors[0].Row, snap.Errors[1].Row}
	assert.ElementsMatch(t, []int{3, 5}, rows)
	for _, ie := range snap.Errors {
		assert.Equal(t, "organizations", ie.Entity)
		assert.NotEmpty(t, ie.Message)
	}
}

func TestMigrate_InsertFailureIsolation(t *testing.T) {
	fs := newFakeStore()
	fs.failRows[4] = "unique constraint violation" // row index 4 = third data row

	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})
	startAndApprove(t, e, orgWorkbook(6))
	snap := waitStatus(t, e, StatusCompleted)

	ep := entity(t, snap, "organizations")
	assert.Equal(t, 5, ep.Processed)
	assert.Equal(t, 1, ep.Errors)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, 4, snap.Errors[0].Row)
	assert.Contains(t, snap.Errors[0].Message, "unique constraint")
}

func TestMigrate_ParentResolution(t *testing.T) {
	wb := &workbook.Workbook{
		Name: "crm.xlsx",
		Sheets: []workbook.Sheet{
			{
				Name:   "Organizations",
				Header: []string{"Name", "Email"},
				Rows: [][]string{
					{"Org 000", "a@example.com"},
					{"Org 001", "b@example.com"},
				},
			},
			{
				Name:   "Contacts",
				Header: []string{"Organization", "First Name", "Email"},
				Rows: [][]string{
					{"Org 000", "Alice", "alice@example.com"},
					{"Org 001", "Bob", "bob@example.com"},
					{"Nonexistent Co", "Carol", "carol@example.com"},
				},
			},
		},
	}

	fs := newFakeStore()
	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})
	startAndApprove(t, e, wb)
	snap := waitStatus(t, e, StatusCompleted)

	orgs := entity(t, snap, "organizations")
	assert.Equal(t, 2, orgs.Processed)

	contacts := entity(t, snap, "contacts")
	assert.Equal(t, 2, contacts.Processed)
	assert.Equal(t, 1, contacts.Errors)

	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "contacts", snap.Errors[0].Entity)
	assert.Equal(t, "organization", snap.Errors[0].Field)
	assert.Equal(t, 4, snap.Errors[0].Row)
}

func TestMigrate_SystemicFailureFailsRun(t *testing.T) {
	fs := newFakeStore()
	fs.insertErr = errors.New("connection lost")

	history := &fakeHistory{}
	e := NewEngine(fs, history, nil, Config{BatchSize: 50})
	startAndApprove(t, e, orgWorkbook(10))
	snap := waitStatus(t, e, StatusError)

	ep := entity(t, snap, "organizations")
	assert.Equal(t, EntityError, ep.Status)
	assert.Equal(t, 0, ep.Processed)
	assert.Equal(t, 1, history.count())
}

func TestApprove_GateRejectsLowConfidence(t *testing.T) {
	fs := newFakeStore()
	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})

	_, _, err := e.Start(context.Background(), orgWorkbook(5))
	require.NoError(t, err)

	lowConfidence := []mapper.TableMapping{{
		SourceSheet: "Organizations",
		TargetTable: "organizations",
		FieldMappings: []mapper.FieldMapping{
			{SourceField: "Name", TargetField: "name", Confidence: 2.5},
			{SourceField: "Email", TargetField: "email", Confidence: 2.5},
		},
	}}

	err = e.Approve(context.Background(), lowConfidence, false)
	require.ErrorIs(t, err, ErrMappingAmbiguity)

	// The same set passes with an explicit override.
	require.NoError(t, e.Approve(context.Background(), lowConfidence, true))
	snap := waitStatus(t, e, StatusCompleted)
	assert.Equal(t, 5, entity(t, snap, "organizations").Processed)
}

func TestApprove_RejectsInvalidMappingSets(t *testing.T) {
	fs := newFakeStore()
	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})
	_, _, err := e.Start(context.Background(), orgWorkbook(3))
	require.NoError(t, err)

	tests := []struct {
		name     string
		mappings []mapper.TableMapping
	}{
		{
			"unknown target table",
			[]mapper.TableMapping{{SourceSheet: "Organizations", TargetTable: "widgets"}},
		},
		{
			"unknown target field",
			[]mapper.TableMapping{{
				SourceSheet: "Organizations", TargetTable: "organizations",
				FieldMappings: []mapper.FieldMapping{{SourceField: "Name", TargetField: "nickname", Confidence: 10}},
			}},
		},
		{
			"duplicate target field",
			[]mapper.TableMapping{{
				SourceSheet: "Organizations", TargetTable: "organizations",
				FieldMappings: []mapper.FieldMapping{
					{SourceField: "Name", TargetField: "name", Confidence: 10},
					{SourceField: "Email", TargetField: "name", Confidence: 10},
				},
			}},
		},
		{
			"two sheets claiming one table",
			[]mapper.TableMapping{
				{SourceSheet: "Organizations", TargetTable: "organizations",
					FieldMappings: []mapper.FieldMapping{{SourceField: "Name", TargetField: "name", Confidence: 10}}},
				{SourceSheet: "Other", TargetTable: "organizations",
					FieldMappings: []mapper.FieldMapping{{SourceField: "Name", TargetField: "name", Confidence: 10}}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Approve(context.Background(), tt.mappings, true)
			assert.Error(t, err)
		})
	}

	// Failed approvals leave the session reviewable.
	snap, err := e.Status()
	require.NoError(t, err)
	assert.Equal(t, StatusAnalyzing, snap.Status)
}

func TestStart_RejectsActiveSession(t *testing.T) {
	fs := newFakeStore()
	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})

	_, _, err := e.Start(context.Background(), orgWorkbook(3))
	require.NoError(t, err)

	_, _, err = e.Start(context.Background(), orgWorkbook(3))
	assert.ErrorIs(t, err, ErrSessionActive)
}

func TestStart_NoAnalyzableSheets(t *testing.T) {
	fs := newFakeStore()
	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})

	wb := &workbook.Workbook{Sheets: []workbook.Sheet{{Name: "Empty"}}}
	snap, _, err := e.Start(context.Background(), wb)
	require.Error(t, err)
	assert.Equal(t, StatusError, snap.Status)
	assert.NotEmpty(t, snap.AnalysisWarnings)
}

func TestPauseResume(t *testing.T) {
	fs := newFakeStore()
	fs.started = make(chan string, 10)
	fs.gate = make(chan struct{})

	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})
	startAndApprove(t, e, orgWorkbook(120))

	<-fs.started // first batch insert has begun
	require.NoError(t, e.Pause())
	fs.gate <- struct{}{} // let the in-flight batch finish

	// The committed batch lands, then the run parks at the boundary.
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, _ := e.Status()
		if entity(t, snap, "organizations").Processed == 50 {
			break
		}
		require.True(t, time.Now().Before(deadline), "first batch never landed")
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-fs.started:
		t.Fatal("batch started while paused")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, e.Resume())
	close(fs.gate)

	snap := waitStatus(t, e, StatusCompleted)
	assert.Equal(t, 120, entity(t, snap, "organizations").Processed)
	assert.Equal(t, []int{50, 50, 20}, fs.batchSizes("organizations"))
}

func TestAbort_KeepsCommittedBatches(t *testing.T) {
	fs := newFakeStore()
	fs.started = make(chan string, 10)
	fs.gate = make(chan struct{})

	history := &fakeHistory{}
	e := NewEngine(fs, history, nil, Config{BatchSize: 50})
	startAndApprove(t, e, orgWorkbook(120))

	<-fs.started
	require.NoError(t, e.Abort())
	close(fs.gate) // in-flight batch finishes, then the abort lands

	snap := waitStatus(t, e, StatusError)
	assert.Equal(t, 50, entity(t, snap, "organizations").Processed)
	assert.Equal(t, []int{50}, fs.batchSizes("organizations"))
	assert.Equal(t, 1, history.count())
}

func TestAbort_DuringAnalysis(t *testing.T) {
	fs := newFakeStore()
	history := &fakeHistory{}
	e := NewEngine(fs, history, nil, Config{BatchSize: 50})

	_, _, err := e.Start(context.Background(), orgWorkbook(3))
	require.NoError(t, err)

	require.NoError(t, e.Abort())
	snap, _ := e.Status()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, 1, history.count())
}

func TestReset(t *testing.T) {
	fs := newFakeStore()
	e := NewEngine(fs, nil, nil, Config{BatchSize: 50})

	// No session yet.
	assert.ErrorIs(t, e.Reset(), ErrNoSession)

	_, _, err := e.Start(context.Background(), orgWorkbook(3))
	require.NoError(t, err)

	// Analyzing is not terminal.
	assert.ErrorIs(t, e.Reset(), ErrInvalidTransition)

	require.NoError(t, e.Abort())
	require.NoError(t, e.Reset())

	_, err = e.Status()
	assert.ErrorIs(t, err, ErrNoSession)

	// A fresh session can start after reset.
	_, _, err = e.Start(context.Background(), orgWorkbook(3))
	require.NoError(t, err)
}

func TestStatus_NoSession(t *testing.T) {
	e := NewEngine(newFakeStore(), nil, nil, Config{})

	snap, err := e.Status()
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.NotNil(t, snap.Entities)
	assert.NotNil(t, snap.Errors)
}

func TestMigrate_EventSequence(t *testing.T) {
	bus := progress.NewBroadcaster()
	events, cancel := bus.Subscribe()
	defer cancel()

	fs := newFakeStore()
	e := NewEngine(fs, nil, bus, Config{BatchSize: 50})
	startAndApprove(t, e, orgWorkbook(120))
	waitStatus(t, e, StatusCompleted)

	var types []progress.EventType
	timeout := time.After(2 * time.Second)
collect:
	for {
		select {
		case evt := <-events:
			types = append(types, evt.Type)
			if evt.Type == progress.EventMigrationComplete {
				break collect
			}
		case <-timeout:
			t.Fatalf("never saw migration:complete, got %v", types)
		}
	}

	require.NotEmpty(t, types)
	assert.Equal(t, progress.EventConnected, types[0])

	index := func(want progress.EventType) int {
		for i, typ := range types {
			if typ == want {
				return i
			}
		}
		return -1
	}

	start := index(progress.EventEntityStart)
	prog := index(progress.EventEntityProgress)
	complete := index(progress.EventEntityComplete)
	final := index(progress.EventMigrationComplete)

	require.NotEqual(t, -1, start)
	require.NotEqual(t, -1, prog)
	require.NotEqual(t, -1, complete)
	require.NotEqual(t, -1, final)
	assert.Less(t, start, prog)
	assert.Less(t, prog, complete)
	assert.Less(t, complete, final)
}
