// Package presence maintains the live, in-memory registry of guard positions
// and status. It is the only shared mutable state in the subsystem touched by
// multiple concurrent callers: every heartbeat handler writes it, the
// broadcast tick and the panic dispatcher read it. All access goes through
// one mutex; reads and writes are short and never block on I/O.
package presence

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/guardtrack/guardtrack-go/internal/geo"
	"github.com/guardtrack/guardtrack-go/internal/logging"
)

// Guard presence statuses.
const (
	StatusActive = "active"
	StatusIdle   = "idle"
	StatusSOS    = "sos"
)

// Record is the last known position and status of one online guard. Records
// are ephemeral; they live only inside the registry and are evicted after the
// staleness window.
type Record struct {
	GuardID     string    `json:"guard_id"`
	SiteID      string    `json:"site_id"`
	Coordinate  geo.Point `json:"coordinate"`
	ActiveRunID string    `json:"active_run_id,omitempty"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Neighbor is a presence record annotated with its distance from a query
// origin.
type Neighbor struct {
	Record
	DistanceMeters float64 `json:"distance_meters"`
}

// Registry is a concurrency-safe store of presence records with
// eviction-on-read semantics.
type Registry struct {
	mu        sync.RWMutex
	records   map[string]Record
	dirty     map[string]struct{}
	staleness time.Duration
	logger    *slog.Logger
}

// NewRegistry creates a registry evicting records older than the given
// staleness window.
func NewRegistry(staleness time.Duration) *Registry {
	return &Registry{
		records:   make(map[string]Record),
		dirty:     make(map[string]struct{}),
		staleness: staleness,
		logger:    logging.ForService("presence"),
	}
}

// Heartbeat upserts a guard's presence record. Heartbeats whose timestamp is
// older than the stored record are dropped, protecting against reordered
// network delivery; the drop is silent to the caller by contract, the return
// value exists for metrics. An SOS status set by the dispatcher is sticky
// until ClearSOS.
func (r *Registry) Heartbeat(guardID, siteID string, coord geo.Point, activeRunID string, timestamp time.Time) bool {
	if !coord.Valid() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[guardID]
	if ok && timestamp.Before(existing.UpdatedAt) {
		return false
	}

	status := StatusIdle
	if activeRunID != "" {
		status = StatusActive
	}
	if ok && existing.Status == StatusSOS {
		status = StatusSOS
	}

	r.records[guardID] = Record{
		GuardID:     guardID,
		SiteID:      siteID,
		Coordinate:  coord,
		ActiveRunID: activeRunID,
		Status:      status,
		UpdatedAt:   timestamp,
	}
	r.dirty[guardID] = struct{}{}
	return true
}

// MarkSOS flags a guard's record with the SOS status. A guard with no
// presence record is left alone; targeted dispatch does not depend on it.
func (r *Registry) MarkSOS(guardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[guardID]
	if !ok {
		return
	}
	rec.Status = StatusSOS
	r.records[guardID] = rec
	r.dirty[guardID] = struct{}{}
}

// ClearSOS resets a guard's SOS flag, typically when their alert is resolved.
func (r *Registry) ClearSOS(guardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[guardID]
	if !ok || rec.Status != StatusSOS {
		return
	}
	if rec.ActiveRunID != "" {
		rec.Status = StatusActive
	} else {
		rec.Status = StatusIdle
	}
	r.records[guardID] = rec
	r.dirty[guardID] = struct{}{}
}

func (r *Registry) stale(rec *Record, now time.Time) bool {
	return now.Sub(rec.UpdatedAt) > r.staleness
}

// Snapshot returns all fresh presence records. Stale records are excluded
// and purged opportunistically.
func (r *Registry) Snapshot() []Record {
	return r.SnapshotSite("")
}

// SnapshotSite returns fresh presence records for one site, or for all sites
// when siteID is empty. Results are ordered by guard id for determinism.
func (r *Registry) SnapshotSite(siteID string) []Record {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.records))
	for id, rec := range r.records {
		if r.stale(&rec, now) {
			delete(r.records, id)
			delete(r.dirty, id)
			continue
		}
		if siteID != "" && rec.SiteID != siteID {
			continue
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GuardID < out[j].GuardID })
	return out
}

// Nearest returns up to limit fresh records ranked by ascending distance
// from the origin, ties broken by guard id for determinism. The guard named
// by exclude is omitted. Records older than the staleness window never
// appear.
func (r *Registry) Nearest(origin geo.Point, limit int, exclude string) []Neighbor {
	if limit <= 0 || !origin.Valid() {
		return nil
	}
	now := time.Now()

	r.mu.RLock()
	neighbors := make([]Neighbor, 0, len(r.records))
	for _, rec := range r.records {
		if rec.GuardID == exclude || r.stale(&rec, now) {
			continue
		}
		distance, err := geo.Distance(origin, rec.Coordinate)
		if err != nil {
			continue
		}
		neighbors = append(neighbors, Neighbor{Record: rec, DistanceMeters: distance})
	}
	r.mu.RUnlock()

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].DistanceMeters != neighbors[j].DistanceMeters {
			return neighbors[i].DistanceMeters < neighbors[j].DistanceMeters
		}
		return neighbors[i].GuardID < neighbors[j].GuardID
	})

	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}
	return neighbors
}

// ConsumeUpdates returns the fresh records updated since the previous call,
// grouped by site, and resets the dirty set. Used by the broadcast tick to
// bound broadcast volume.
func (r *Registry) ConsumeUpdates() map[string][]Record {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.dirty) == 0 {
		return nil
	}

	updates := make(map[string][]Record)
	for id := range r.dirty {
		rec, ok := r.records[id]
		if !ok {
			continue
		}
		if r.stale(&rec, now) {
			delete(r.records, id)
			continue
		}
		updates[rec.SiteID] = append(updates[rec.SiteID], rec)
	}
	r.dirty = make(map[string]struct{})

	for site := range updates {
		recs := updates[site]
		sort.Slice(recs, func(i, j int) bool { return recs[i].GuardID < recs[j].GuardID })
	}
	return updates
}

// Len returns the number of records currently held, including not-yet-purged
// stale ones. Used for metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
