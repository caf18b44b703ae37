package patrol

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guardtrack/guardtrack-go/internal/datastore"
	"github.com/guardtrack/guardtrack-go/internal/errors"
	"github.com/guardtrack/guardtrack-go/internal/geo"
	"github.com/guardtrack/guardtrack-go/internal/logging"
)

// ErrAlreadyActive is returned by Start when the guard already has a run in
// the started state. Callers must end or resume, never silently start a
// second run.
var ErrAlreadyActive = errors.NewStd("guard already has an active patrol run")

// ErrRunIDTaken is returned by Start when a client-supplied run id already
// names a run belonging to a different guard or template.
var ErrRunIDTaken = errors.NewStd("run id already in use")

// Manager owns patrol run lifecycle and scan recording. Scans for the same
// run are serialized by a per-run lock so duplicate network retries cannot
// both be accepted against the same expected-next-checkpoint slot.
type Manager struct {
	ds        datastore.Interface
	tolerance float64
	logger    *slog.Logger

	startMu sync.Mutex // serializes Start's check-then-create per process

	mu       sync.Mutex
	runLocks map[string]*runLock
}

// runLock is a per-run mutex with a count of holders and waiters. The map
// entry is removed only when the count drops to zero, so every concurrent
// caller for a run id is guaranteed to contend on the same mutex.
type runLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a patrol manager using the given store and geofence
// tolerance in meters.
func NewManager(ds datastore.Interface, toleranceMeters float64) *Manager {
	return &Manager{
		ds:        ds,
		tolerance: toleranceMeters,
		logger:    logging.ForService("patrol"),
		runLocks:  make(map[string]*runLock),
	}
}

// acquireRunLock registers the caller on the run's lock entry and locks it.
// Pair every call with releaseRunLock.
func (m *Manager) acquireRunLock(runID string) *runLock {
	m.mu.Lock()
	lock, ok := m.runLocks[runID]
	if !ok {
		lock = &runLock{}
		m.runLocks[runID] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseRunLock unlocks the entry and drops it from the map once the last
// holder or waiter is gone, so the map size is bounded by in-flight calls.
func (m *Manager) releaseRunLock(runID string, lock *runLock) {
	lock.mu.Unlock()

	m.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(m.runLocks, runID)
	}
	m.mu.Unlock()
}

// Start begins a new patrol run for the guard. Fails with ErrAlreadyActive
// when the guard has an existing started run.
//
// runID may be empty, in which case the server assigns one. A device working
// offline supplies its own id so queued scans can address the run before the
// start action has been delivered; resubmitting a start with the same id,
// guard and template returns the existing run instead of failing.
func (m *Manager) Start(guardID, templateID, runID string) (*datastore.PatrolRun, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if runID != "" {
		existing, err := m.ds.GetRun(runID)
		switch {
		case err == nil && existing.GuardID == guardID && existing.TemplateID == templateID:
			m.logger.Debug("patrol start replayed", "run_id", runID, "guard_id", guardID)
			return &existing, nil
		case err == nil:
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunIDTaken)
		case !errors.Is(err, datastore.ErrNotFound):
			return nil, err
		}
	}

	active, err := m.ds.GetActiveRunForGuard(guardID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("guard %s run %s: %w", guardID, active.ID, ErrAlreadyActive)
	}

	tmpl, err := m.ds.GetTemplate(templateID)
	if err != nil {
		return nil, err
	}

	if runID == "" {
		runID = uuid.NewString()
	}
	run := &datastore.PatrolRun{
		ID:         runID,
		GuardID:    guardID,
		TemplateID: tmpl.ID,
		State:      datastore.RunStarted,
		StartedAt:  time.Now(),
	}
	if err := m.ds.SaveRun(run); err != nil {
		return nil, err
	}

	m.logger.Info("patrol run started",
		"run_id", run.ID,
		"guard_id", guardID,
		"template_id", templateID,
		"mode", tmpl.Mode)
	return run, nil
}

// RecordScan validates one checkpoint scan and, on acceptance, appends a
// CheckpointVisit and advances the run's completion percentage. A scan whose
// idempotency key was already recorded returns the original accept outcome
// without creating a second visit.
//
// manualOverride lets a supervisor-approved scan bypass the geofence and
// ordering checks; run state and route membership still apply, and the visit
// is recorded with the manual_override status.
func (m *Manager) RecordScan(runID, checkpointID string, coord *geo.Point, idempotencyKey string, manualOverride bool) (Result, *datastore.PatrolRun, error) {
	lock := m.acquireRunLock(runID)
	defer m.releaseRunLock(runID, lock)

	if idempotencyKey != "" {
		existing, err := m.ds.GetVisitByIdempotencyKey(idempotencyKey)
		if err != nil {
			return Result{}, nil, err
		}
		if existing != nil {
			run, err := m.ds.GetRun(runID)
			if err != nil {
				return Result{}, nil, err
			}
			m.logger.Debug("scan replayed by idempotency key",
				"run_id", runID, "checkpoint_id", checkpointID, "key", idempotencyKey)
			return accept(), &run, nil
		}
	}

	run, err := m.ds.GetRun(runID)
	if err != nil {
		return Result{}, nil, err
	}
	tmpl, err := m.ds.GetTemplate(run.TemplateID)
	if err != nil {
		return Result{}, nil, err
	}
	visits, err := m.ds.GetVisits(runID)
	if err != nil {
		return Result{}, nil, err
	}

	status := datastore.VisitValid
	result := Validate(&run, &tmpl, visits, checkpointID, coord, m.tolerance)
	if !result.Accepted {
		if manualOverride && (result.Reason == RejectTooFar || result.Reason == RejectOutOfOrder) {
			status = datastore.VisitManualOverride
		} else {
			return result, &run, nil
		}
	}

	// The visit table has a unique index on the key, so visits without a
	// client-generated key get a server-generated one.
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	visit := &datastore.CheckpointVisit{
		RunID:          runID,
		CheckpointID:   checkpointID,
		IdempotencyKey: idempotencyKey,
		Status:         status,
		ScannedAt:      time.Now(),
	}
	if coord != nil && coord.Valid() {
		visit.Lat = &coord.Lat
		visit.Lng = &coord.Lng
	}

	run.CompletionPercent = CompletionPercent(&tmpl, append(visits, *visit))
	if run.CompletionPercent >= 100 {
		// All checkpoints visited; the run completes without an explicit end
		// call and further scans are rejected with RunNotActive.
		now := time.Now()
		run.State = datastore.RunCompleted
		run.EndedAt = &now
	}

	if err := m.ds.SaveVisitWithRun(visit, &run); err != nil {
		return Result{}, nil, err
	}

	m.logger.Info("checkpoint scan accepted",
		"run_id", runID,
		"checkpoint_id", checkpointID,
		"status", status,
		"completion_percent", run.CompletionPercent)
	return accept(), &run, nil
}

// End closes a patrol run: completed when every checkpoint was visited at
// call time, incomplete otherwise. Ending an already-terminal run returns
// its final state unchanged.
func (m *Manager) End(runID string) (string, error) {
	lock := m.acquireRunLock(runID)
	defer m.releaseRunLock(runID, lock)

	run, err := m.ds.GetRun(runID)
	if err != nil {
		return "", err
	}
	if !run.Active() {
		return run.State, nil
	}

	state := datastore.RunIncomplete
	if run.CompletionPercent >= 100 {
		state = datastore.RunCompleted
	}

	now := time.Now()
	run.State = state
	run.EndedAt = &now
	if err := m.ds.UpdateRun(&run); err != nil {
		return "", err
	}

	m.logger.Info("patrol run ended",
		"run_id", runID,
		"state", state,
		"completion_percent", run.CompletionPercent)
	return state, nil
}

// Get returns a run together with its visit history.
func (m *Manager) Get(runID string) (datastore.PatrolRun, []datastore.CheckpointVisit, error) {
	run, err := m.ds.GetRun(runID)
	if err != nil {
		return datastore.PatrolRun{}, nil, err
	}
	visits, err := m.ds.GetVisits(runID)
	if err != nil {
		return datastore.PatrolRun{}, nil, err
	}
	return run, visits, nil
}
