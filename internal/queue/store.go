// Package queue implements the device-resident offline action queue. Actions
// taken while the device has no connectivity are appended to a durable local
// log and drained to the server in order once connectivity returns.
package queue

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/guardtrack/guardtrack-go/internal/logging"
)

// Action kinds, used for logging and metrics labels.
const (
	KindPatrolStart = "patrol.start"
	KindScan        = "patrol.scan"
	KindPatrolEnd   = "patrol.end"
	KindHeartbeat   = "heartbeat"
	KindPanic       = "panic"
)

// Action is one queued operation awaiting delivery. Seq is assigned by the
// database on insert and establishes the delivery order.
type Action struct {
	Seq            uint64    `gorm:"primaryKey;autoIncrement"`
	IdempotencyKey string    `gorm:"size:64;uniqueIndex"`
	Kind           string    `gorm:"size:32;index"`
	Endpoint       string    `gorm:"size:128"`
	Payload        string    // JSON request body
	CreatedAt      time.Time `gorm:"index"`
	AttemptCount   int
	LastError      string
}

// Store is the durable backing log of the queue. A single store instance is
// owned by one agent process; the drain worker is its only reader.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the queue database at the given path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("queue database path is empty")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: createGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	if err := db.AutoMigrate(&Action{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying database handle: %w", err)
	}
	return sqlDB.Close()
}

// Enqueue appends an action to the log. Re-enqueueing an action with an
// idempotency key already present is a no-op; the device may retry a local
// write without creating duplicates.
func (s *Store) Enqueue(action *Action) error {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	err := s.db.Create(action).Error
	if err != nil && isUniqueViolation(err) {
		logging.ForService("queue").Debug("duplicate enqueue ignored",
			"idempotency_key", action.IdempotencyKey, "kind", action.Kind)
		return nil
	}
	return err
}

// Pending returns up to limit actions in delivery order. limit <= 0 returns
// all pending actions.
func (s *Store) Pending(limit int) ([]Action, error) {
	var actions []Action
	q := s.db.Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("reading pending actions: %w", err)
	}
	return actions, nil
}

// Remove deletes a delivered or permanently rejected action from the log.
func (s *Store) Remove(seq uint64) error {
	return s.db.Delete(&Action{}, "seq = ?", seq).Error
}

// RecordAttempt increments the attempt counter and stores the last delivery
// error so a stuck action is diagnosable from the device.
func (s *Store) RecordAttempt(seq uint64, deliveryErr error) error {
	msg := ""
	if deliveryErr != nil {
		msg = deliveryErr.Error()
	}
	return s.db.Model(&Action{}).Where("seq = ?", seq).Updates(map[string]any{
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"last_error":    msg,
	}).Error
}

// Len returns the number of actions awaiting delivery.
func (s *Store) Len() (int64, error) {
	var count int64
	err := s.db.Model(&Action{}).Count(&count).Error
	return count, err
}
