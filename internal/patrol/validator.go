package patrol

import (
	"github.com/guardtrack/guardtrack-go/internal/datastore"
	"github.com/guardtrack/guardtrack-go/internal/geo"
)

// Validate checks one checkpoint scan against the run and its template.
// Checks run in a fixed order: run state, route membership, geofence,
// ordering. The function is pure; a rejection has no side effects, so the
// caller can retry with corrected input without double-counting.
//
// The geofence check is skipped when either the checkpoint or the scan has no
// usable coordinate; NFC-only checkpoints are proximity-agnostic by design.
// A distance exactly equal to toleranceMeters is accepted.
func Validate(run *datastore.PatrolRun, tmpl *datastore.PatrolTemplate, visits []datastore.CheckpointVisit, checkpointID string, coord *geo.Point, toleranceMeters float64) Result {
	if run == nil || !run.Active() {
		return rejectRunNotActive()
	}

	gotIndex := templateIndex(tmpl, checkpointID)
	if gotIndex < 0 {
		return rejectNotInRoute()
	}

	cp := tmpl.Checkpoints[gotIndex].Checkpoint
	if cp.HasCoordinate() && coord != nil && coord.Valid() {
		distance, err := geo.DistanceMeters(*cp.Lat, *cp.Lng, coord.Lat, coord.Lng)
		if err == nil && distance > toleranceMeters {
			return rejectTooFar(distance)
		}
	}

	if tmpl.Mode == datastore.ModeOrdered {
		expected := expectedIndex(tmpl, visits)
		if gotIndex != expected {
			return rejectOutOfOrder(expected, gotIndex)
		}
	}

	return accept()
}

// templateIndex returns the position of the checkpoint in the template's
// order, or -1 when the checkpoint is not part of the route.
func templateIndex(tmpl *datastore.PatrolTemplate, checkpointID string) int {
	for i := range tmpl.Checkpoints {
		if tmpl.Checkpoints[i].CheckpointID == checkpointID {
			return i
		}
	}
	return -1
}

// expectedIndex returns the template position the next ordered scan must hit:
// the position following the most recent accepted visit, or 0 when the run
// has no visits yet.
func expectedIndex(tmpl *datastore.PatrolTemplate, visits []datastore.CheckpointVisit) int {
	if len(visits) == 0 {
		return 0
	}
	last := visits[len(visits)-1]
	lastIndex := templateIndex(tmpl, last.CheckpointID)
	return lastIndex + 1
}

// CompletionPercent computes visited/expected for a run, counting each
// checkpoint once regardless of repeat scans.
func CompletionPercent(tmpl *datastore.PatrolTemplate, visits []datastore.CheckpointVisit) float64 {
	total := len(tmpl.Checkpoints)
	if total == 0 {
		return 0
	}

	seen := make(map[string]struct{}, len(visits))
	for i := range visits {
		seen[visits[i].CheckpointID] = struct{}{}
	}
	return float64(len(seen)) / float64(total) * 100
}
