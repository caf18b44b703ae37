package patrol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardtrack/guardtrack-go/internal/datastore"
	"github.com/guardtrack/guardtrack-go/internal/geo"
)

const testTolerance = 50.0

func orderedTemplate() datastore.PatrolTemplate {
	gateLat, gateLng := 30.0316, 31.4056
	dockLat, dockLng := 30.0330, 31.4070
	return datastore.PatrolTemplate{
		ID:   "tpl-1",
		Mode: datastore.ModeOrdered,
		Checkpoints: []datastore.TemplateCheckpoint{
			{TemplateID: "tpl-1", CheckpointID: "cp-main-gate", Position: 0,
				Checkpoint: datastore.Checkpoint{ID: "cp-main-gate", Lat: &gateLat, Lng: &gateLng}},
			{TemplateID: "tpl-1", CheckpointID: "cp-loading-dock", Position: 1,
				Checkpoint: datastore.Checkpoint{ID: "cp-loading-dock", Lat: &dockLat, Lng: &dockLng}},
			{TemplateID: "tpl-1", CheckpointID: "cp-vip-parking", Position: 2,
				Checkpoint: datastore.Checkpoint{ID: "cp-vip-parking"}},
		},
	}
}

func startedRun() datastore.PatrolRun {
	return datastore.PatrolRun{ID: "run-1", GuardID: "guard-1", TemplateID: "tpl-1",
		State: datastore.RunStarted, StartedAt: time.Now()}
}

func TestValidate_AcceptAtCheckpoint(t *testing.T) {
	run := startedRun()
	tmpl := orderedTemplate()

	res := Validate(&run, &tmpl, nil, "cp-main-gate", &geo.Point{Lat: 30.0316, Lng: 31.4056}, testTolerance)
	assert.True(t, res.Accepted)
}

func TestValidate_RunNotActive(t *testing.T) {
	run := startedRun()
	run.State = datastore.RunCompleted
	tmpl := orderedTemplate()

	res := Validate(&run, &tmpl, nil, "cp-main-gate", nil, testTolerance)
	require.False(t, res.Accepted)
	assert.Equal(t, RejectRunNotActive, res.Reason)
}

func TestValidate_NotInRoute(t *testing.T) {
	run := startedRun()
	tmpl := orderedTemplate()

	res := Validate(&run, &tmpl, nil, "cp-elsewhere", nil, testTolerance)
	require.False(t, res.Accepted)
	assert.Equal(t, RejectNotInRoute, res.Reason)
}

func TestValidate_GeofenceBoundary(t *testing.T) {
	run := startedRun()
	tmpl := orderedTemplate()

	// A scan roughly 190 m north of the main gate.
	scan := &geo.Point{Lat: 30.0316 + 190.0/111194.93, Lng: 31.4056}
	distance, err := geo.DistanceMeters(30.0316, 31.4056, scan.Lat, scan.Lng)
	require.NoError(t, err)

	// Tolerance exactly equal to the computed distance accepts.
	res := Validate(&run, &tmpl, nil, "cp-main-gate", scan, distance)
	assert.True(t, res.Accepted, "distance equal to tolerance must be accepted")

	// One meter under rejects with the computed distance in the detail.
	res = Validate(&run, &tmpl, nil, "cp-main-gate", scan, distance-1)
	require.False(t, res.Accepted)
	assert.Equal(t, RejectTooFar, res.Reason)
	assert.InDelta(t, distance, res.DistanceMeters, 0.01)
}

func TestValidate_GeofenceSkippedWithoutCoordinates(t *testing.T) {
	run := startedRun()
	tmpl := orderedTemplate()

	// Scan with no coordinate against a geolocated checkpoint: skipped.
	res := Validate(&run, &tmpl, nil, "cp-main-gate", nil, testTolerance)
	assert.True(t, res.Accepted)

	// Scan against an NFC-only checkpoint (no stored coordinate): skipped,
	// ordering still applies.
	visits := []datastore.CheckpointVisit{
		{RunID: "run-1", CheckpointID: "cp-main-gate"},
		{RunID: "run-1", CheckpointID: "cp-loading-dock"},
	}
	res = Validate(&run, &tmpl, visits, "cp-vip-parking", &geo.Point{Lat: 0, Lng: 0}, testTolerance)
	assert.True(t, res.Accepted)
}

func TestValidate_OutOfOrder(t *testing.T) {
	run := startedRun()
	tmpl := orderedTemplate()

	// No prior visits: scanning position 2 before position 0.
	res := Validate(&run, &tmpl, nil, "cp-vip-parking", nil, testTolerance)
	require.False(t, res.Accepted)
	assert.Equal(t, RejectOutOfOrder, res.Reason)
	assert.Equal(t, 0, res.ExpectedIndex)
	assert.Equal(t, 2, res.GotIndex)

	// After visiting the main gate, the loading dock is expected next.
	visits := []datastore.CheckpointVisit{{RunID: "run-1", CheckpointID: "cp-main-gate"}}
	res = Validate(&run, &tmpl, visits, "cp-vip-parking", nil, testTolerance)
	require.False(t, res.Accepted)
	assert.Equal(t, RejectOutOfOrder, res.Reason)
	assert.Equal(t, 1, res.ExpectedIndex)
	assert.Equal(t, 2, res.GotIndex)
}

func TestValidate_UnorderedModesSkipOrdering(t *testing.T) {
	run := startedRun()

	for _, mode := range []string{datastore.ModeRandom, datastore.ModeFreeroam} {
		tmpl := orderedTemplate()
		tmpl.Mode = mode

		res := Validate(&run, &tmpl, nil, "cp-vip-parking", nil, testTolerance)
		assert.True(t, res.Accepted, "mode %s must not enforce ordering", mode)
	}
}

func TestCompletionPercent(t *testing.T) {
	tmpl := orderedTemplate()

	assert.Zero(t, CompletionPercent(&tmpl, nil))

	one := []datastore.CheckpointVisit{{CheckpointID: "cp-main-gate"}}
	assert.InDelta(t, 100.0/3, CompletionPercent(&tmpl, one), 0.001)

	// Repeat scans of the same checkpoint do not inflate completion.
	repeat := []datastore.CheckpointVisit{
		{CheckpointID: "cp-main-gate"},
		{CheckpointID: "cp-main-gate"},
	}
	assert.InDelta(t, 100.0/3, CompletionPercent(&tmpl, repeat), 0.001)

	all := []datastore.CheckpointVisit{
		{CheckpointID: "cp-main-gate"},
		{CheckpointID: "cp-loading-dock"},
		{CheckpointID: "cp-vip-parking"},
	}
	assert.InDelta(t, 100, CompletionPercent(&tmpl, all), 0.001)
}
