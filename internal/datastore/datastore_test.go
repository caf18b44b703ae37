package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardtrack/guardtrack-go/internal/conf"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	settings := &conf.Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = t.TempDir() + "/test.db"

	store := &SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTemplate(t *testing.T, store *SQLiteStore) PatrolTemplate {
	t.Helper()

	lat1, lng1 := 30.0316, 31.4056
	lat2, lng2 := 30.0320, 31.4060
	require.NoError(t, store.DB.Create(&Site{ID: "site-1", Name: "HQ Compound"}).Error)
	require.NoError(t, store.DB.Create(&Checkpoint{ID: "cp-main-gate", SiteID: "site-1", Name: "Main Gate", Lat: &lat1, Lng: &lng1}).Error)
	require.NoError(t, store.DB.Create(&Checkpoint{ID: "cp-loading-dock", SiteID: "site-1", Name: "Loading Dock", Lat: &lat2, Lng: &lng2}).Error)
	require.NoError(t, store.DB.Create(&Checkpoint{ID: "cp-vip-parking", SiteID: "site-1", Name: "VIP Parking"}).Error)

	tmpl := PatrolTemplate{ID: "tpl-1", SiteID: "site-1", Name: "Night Round", Mode: ModeOrdered, EstimatedMinutes: 30}
	require.NoError(t, store.DB.Create(&tmpl).Error)
	for i, cp := range []string{"cp-main-gate", "cp-loading-dock", "cp-vip-parking"} {
		require.NoError(t, store.DB.Create(&TemplateCheckpoint{TemplateID: "tpl-1", CheckpointID: cp, Position: i}).Error)
	}

	loaded, err := store.GetTemplate("tpl-1")
	require.NoError(t, err)
	return loaded
}

func TestGetTemplate_OrderedCheckpoints(t *testing.T) {
	store := newTestStore(t)
	tmpl := seedTemplate(t, store)

	require.Len(t, tmpl.Checkpoints, 3)
	assert.Equal(t, "cp-main-gate", tmpl.Checkpoints[0].CheckpointID)
	assert.Equal(t, "cp-loading-dock", tmpl.Checkpoints[1].CheckpointID)
	assert.Equal(t, "cp-vip-parking", tmpl.Checkpoints[2].CheckpointID)
	assert.True(t, tmpl.Checkpoints[0].Checkpoint.HasCoordinate())
	assert.False(t, tmpl.Checkpoints[2].Checkpoint.HasCoordinate())
}

func TestGetTemplate_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTemplate("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetActiveRunForGuard(t *testing.T) {
	store := newTestStore(t)
	seedTemplate(t, store)

	none, err := store.GetActiveRunForGuard("guard-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	run := &PatrolRun{ID: "run-1", GuardID: "guard-1", TemplateID: "tpl-1", State: RunStarted, StartedAt: time.Now()}
	require.NoError(t, store.SaveRun(run))

	active, err := store.GetActiveRunForGuard("guard-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "run-1", active.ID)

	// Terminal runs no longer count as active.
	now := time.Now()
	run.State = RunIncomplete
	run.EndedAt = &now
	require.NoError(t, store.UpdateRun(run))

	active, err = store.GetActiveRunForGuard("guard-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSaveVisitWithRun_Transactional(t *testing.T) {
	store := newTestStore(t)
	seedTemplate(t, store)

	run := &PatrolRun{ID: "run-1", GuardID: "guard-1", TemplateID: "tpl-1", State: RunStarted, StartedAt: time.Now()}
	require.NoError(t, store.SaveRun(run))

	visit := &CheckpointVisit{
		RunID:          "run-1",
		CheckpointID:   "cp-main-gate",
		IdempotencyKey: "key-1",
		Status:         VisitValid,
		ScannedAt:      time.Now(),
	}
	run.CompletionPercent = 100.0 / 3
	require.NoError(t, store.SaveVisitWithRun(visit, run))

	visits, err := store.GetVisits("run-1")
	require.NoError(t, err)
	require.Len(t, visits, 1)

	stored, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.InDelta(t, 100.0/3, stored.CompletionPercent, 0.001)

	// A duplicate idempotency key violates the unique index and rolls back
	// both the visit and the run update.
	dup := &CheckpointVisit{RunID: "run-1", CheckpointID: "cp-loading-dock", IdempotencyKey: "key-1", Status: VisitValid, ScannedAt: time.Now()}
	run.CompletionPercent = 200.0 / 3
	require.Error(t, store.SaveVisitWithRun(dup, run))

	visits, err = store.GetVisits("run-1")
	require.NoError(t, err)
	assert.Len(t, visits, 1)
}

func TestGetVisitByIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	seedTemplate(t, store)

	missing, err := store.GetVisitByIdempotencyKey("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := store.GetVisitByIdempotencyKey("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	visit := &CheckpointVisit{RunID: "run-1", CheckpointID: "cp-main-gate", IdempotencyKey: "key-9", Status: VisitValid, ScannedAt: time.Now()}
	require.NoError(t, store.DB.Create(visit).Error)

	found, err := store.GetVisitByIdempotencyKey("key-9")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, visit.ID, found.ID)
}

func TestPanicAlertLifecycle(t *testing.T) {
	store := newTestStore(t)

	lat, lng := 30.0316, 31.4056
	alert := &PanicAlert{ID: "alert-1", GuardID: "guard-1", Lat: &lat, Lng: &lng, CreatedAt: time.Now()}
	require.NoError(t, store.SavePanicAlert(alert))

	active, err := store.GetActivePanicAlerts()
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, store.ResolvePanicAlert("alert-1", "supervisor-7"))

	resolved, err := store.GetPanicAlert("alert-1")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "supervisor-7", resolved.ResolvedBy)
	require.NotNil(t, resolved.ResolvedAt)

	active, err = store.GetActivePanicAlerts()
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, store.ResolvePanicAlert("missing", "x"), ErrNotFound)
}
