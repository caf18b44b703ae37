// model.go: database models for the patrol coordination service
package datastore

import (
	"time"
)

// Template enforcement modes.
const (
	ModeOrdered  = "ordered"
	ModeRandom   = "random"
	ModeFreeroam = "freeroam"
)

// Patrol run states.
const (
	RunStarted    = "started"
	RunCompleted  = "completed"
	RunIncomplete = "incomplete"
)

// Checkpoint visit validation statuses.
const (
	VisitValid          = "valid"
	VisitManualOverride = "manual_override"
)

// Site groups guards, checkpoints and templates under one physical location.
type Site struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	CreatedAt time.Time
}

// Guard is a field security guard account, as far as this subsystem needs it.
type Guard struct {
	ID        string `gorm:"primaryKey"`
	SiteID    string `gorm:"index"`
	Name      string
	CreatedAt time.Time
}

// Checkpoint is a physical point a guard must visit during a patrol. The
// coordinate is optional; NFC-only checkpoints are proximity-agnostic.
type Checkpoint struct {
	ID     string `gorm:"primaryKey"`
	SiteID string `gorm:"index"`
	Name   string
	Lat    *float64
	Lng    *float64
}

// HasCoordinate reports whether the checkpoint carries a usable coordinate.
func (c *Checkpoint) HasCoordinate() bool {
	return c.Lat != nil && c.Lng != nil
}

// PatrolTemplate defines one patrol route. The checkpoint list is ordered via
// TemplateCheckpoint join rows. Templates are treated as immutable once a run
// references them; edits only affect future runs.
type PatrolTemplate struct {
	ID               string `gorm:"primaryKey"`
	SiteID           string `gorm:"index"`
	Name             string
	Mode             string // ordered, random or freeroam
	EstimatedMinutes int
	CreatedAt        time.Time

	Checkpoints []TemplateCheckpoint `gorm:"foreignKey:TemplateID"`
}

// TemplateCheckpoint is one position in a template's checkpoint order.
type TemplateCheckpoint struct {
	ID           uint   `gorm:"primaryKey"`
	TemplateID   string `gorm:"index:idx_template_position,priority:1"`
	CheckpointID string `gorm:"index"`
	Position     int    `gorm:"index:idx_template_position,priority:2"`

	Checkpoint Checkpoint `gorm:"foreignKey:CheckpointID"`
}

// PatrolRun is one guard's single execution of a template. At most one run
// per guard may be in the started state at a time; this is enforced by the
// patrol manager, not by the database.
type PatrolRun struct {
	ID                string `gorm:"primaryKey"`
	GuardID           string `gorm:"index"`
	TemplateID        string `gorm:"index"`
	State             string `gorm:"index"`
	CompletionPercent float64
	StartedAt         time.Time
	EndedAt           *time.Time
}

// Active reports whether the run is still in the started state.
func (r *PatrolRun) Active() bool {
	return r.State == RunStarted
}

// CheckpointVisit is an immutable record of one accepted scan. Append-only;
// never mutated after creation.
type CheckpointVisit struct {
	ID             uint   `gorm:"primaryKey"`
	RunID          string `gorm:"index"`
	CheckpointID   string `gorm:"index"`
	IdempotencyKey string `gorm:"uniqueIndex;size:64"`
	Status         string // valid or manual_override
	Lat            *float64
	Lng            *float64
	ScannedAt      time.Time
}

// PanicAlert is a persisted emergency alert. Dispatch fan-out is a side
// effect of triggering, not part of this record's state.
type PanicAlert struct {
	ID         string `gorm:"primaryKey"`
	GuardID    string `gorm:"index"`
	RunID      *string
	Lat        *float64
	Lng        *float64
	Resolved   bool `gorm:"index"`
	ResolvedBy string
	ResolvedAt *time.Time
	CreatedAt  time.Time
}
