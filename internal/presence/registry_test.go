package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardtrack/guardtrack-go/internal/geo"
)

func TestHeartbeat_UpsertAndStatus(t *testing.T) {
	r := NewRegistry(5 * time.Minute)

	applied := r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 30.03, Lng: 31.40}, "run-1", time.Now())
	require.True(t, applied)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusActive, snap[0].Status)

	// Without an active run the guard is idle.
	r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 30.03, Lng: 31.40}, "", time.Now())
	assert.Equal(t, StatusIdle, r.Snapshot()[0].Status)
}

func TestHeartbeat_OutOfOrderDropped(t *testing.T) {
	r := NewRegistry(5 * time.Minute)

	now := time.Now()
	require.True(t, r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 30.0, Lng: 31.0}, "", now))

	// A delayed heartbeat with an older position must not regress the record.
	applied := r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 29.0, Lng: 30.0}, "", now.Add(-time.Minute))
	assert.False(t, applied)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 30.0, snap[0].Coordinate.Lat)
	assert.Equal(t, now, snap[0].UpdatedAt)
}

func TestHeartbeat_InvalidCoordinateDropped(t *testing.T) {
	r := NewRegistry(5 * time.Minute)

	assert.False(t, r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 99, Lng: 0}, "", time.Now()))
	assert.Empty(t, r.Snapshot())
}

func TestNearest_RankingAndExclusion(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	now := time.Now()

	origin := geo.Point{Lat: 30.0316, Lng: 31.4056}
	// ~110 m per 0.001 degree of latitude.
	r.Heartbeat("guard-far", "site-1", geo.Point{Lat: 30.0416, Lng: 31.4056}, "", now)
	r.Heartbeat("guard-near", "site-1", geo.Point{Lat: 30.0317, Lng: 31.4056}, "", now)
	r.Heartbeat("guard-mid", "site-1", geo.Point{Lat: 30.0330, Lng: 31.4056}, "", now)
	r.Heartbeat("guard-self", "site-1", origin, "", now)

	nearest := r.Nearest(origin, 2, "guard-self")
	require.Len(t, nearest, 2)
	assert.Equal(t, "guard-near", nearest[0].GuardID)
	assert.Equal(t, "guard-mid", nearest[1].GuardID)
	assert.LessOrEqual(t, nearest[0].DistanceMeters, nearest[1].DistanceMeters)
}

func TestNearest_TieBrokenByGuardID(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	now := time.Now()

	same := geo.Point{Lat: 30.0320, Lng: 31.4056}
	r.Heartbeat("guard-b", "site-1", same, "", now)
	r.Heartbeat("guard-a", "site-1", same, "", now)

	nearest := r.Nearest(geo.Point{Lat: 30.0316, Lng: 31.4056}, 2, "")
	require.Len(t, nearest, 2)
	assert.Equal(t, "guard-a", nearest[0].GuardID)
	assert.Equal(t, "guard-b", nearest[1].GuardID)
}

func TestNearest_ExcludesStaleRecords(t *testing.T) {
	r := NewRegistry(time.Minute)
	now := time.Now()

	r.Heartbeat("guard-fresh", "site-1", geo.Point{Lat: 30.04, Lng: 31.40}, "", now)
	r.Heartbeat("guard-stale", "site-1", geo.Point{Lat: 30.0317, Lng: 31.4056}, "", now.Add(-2*time.Minute))

	// The stale guard is closer but must not be ranked.
	nearest := r.Nearest(geo.Point{Lat: 30.0316, Lng: 31.4056}, 5, "")
	require.Len(t, nearest, 1)
	assert.Equal(t, "guard-fresh", nearest[0].GuardID)
}

func TestSnapshot_EvictsStale(t *testing.T) {
	r := NewRegistry(time.Minute)

	r.Heartbeat("guard-stale", "site-1", geo.Point{Lat: 30.0, Lng: 31.0}, "", time.Now().Add(-2*time.Minute))
	assert.Empty(t, r.Snapshot())
	assert.Zero(t, r.Len())
}

func TestSnapshotSite_Filter(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	now := time.Now()

	r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 30.0, Lng: 31.0}, "", now)
	r.Heartbeat("guard-2", "site-2", geo.Point{Lat: 30.1, Lng: 31.1}, "", now)

	site1 := r.SnapshotSite("site-1")
	require.Len(t, site1, 1)
	assert.Equal(t, "guard-1", site1[0].GuardID)

	assert.Len(t, r.SnapshotSite(""), 2)
}

func TestSOSStickyAcrossHeartbeats(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	now := time.Now()

	r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 30.0, Lng: 31.0}, "run-1", now)
	r.MarkSOS("guard-1")

	r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 30.001, Lng: 31.0}, "run-1", now.Add(time.Second))
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusSOS, snap[0].Status)
	assert.Equal(t, 30.001, snap[0].Coordinate.Lat)

	r.ClearSOS("guard-1")
	assert.Equal(t, StatusActive, r.Snapshot()[0].Status)
}

func TestConsumeUpdates_DirtySetSemantics(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	now := time.Now()

	// Nothing dirty yet.
	assert.Nil(t, r.ConsumeUpdates())

	r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 30.0, Lng: 31.0}, "", now)
	r.Heartbeat("guard-2", "site-2", geo.Point{Lat: 30.1, Lng: 31.1}, "", now)

	updates := r.ConsumeUpdates()
	require.Len(t, updates, 2)
	require.Len(t, updates["site-1"], 1)
	require.Len(t, updates["site-2"], 1)

	// Consumed updates are not reported twice.
	assert.Nil(t, r.ConsumeUpdates())

	// A fresh heartbeat marks the record dirty again.
	r.Heartbeat("guard-1", "site-1", geo.Point{Lat: 30.2, Lng: 31.0}, "", now.Add(time.Second))
	updates = r.ConsumeUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, 30.2, updates["site-1"][0].Coordinate.Lat)
}
