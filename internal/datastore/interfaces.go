// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/guardtrack/guardtrack-go/internal/conf"
	"github.com/guardtrack/guardtrack-go/internal/logging"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Interface abstracts the underlying database implementation and defines the
// operations the patrol subsystem needs.
type Interface interface {
	Open() error
	Close() error

	// Templates and checkpoints
	GetTemplate(id string) (PatrolTemplate, error)
	GetCheckpoint(id string) (Checkpoint, error)

	// Patrol runs and visits
	SaveRun(run *PatrolRun) error
	UpdateRun(run *PatrolRun) error
	GetRun(id string) (PatrolRun, error)
	GetActiveRunForGuard(guardID string) (*PatrolRun, error)
	SaveVisitWithRun(visit *CheckpointVisit, run *PatrolRun) error
	GetVisits(runID string) ([]CheckpointVisit, error)
	GetVisitByIdempotencyKey(key string) (*CheckpointVisit, error)

	// Panic alerts
	SavePanicAlert(alert *PanicAlert) error
	GetPanicAlert(id string) (PanicAlert, error)
	GetActivePanicAlerts() ([]PanicAlert, error)
	ResolvePanicAlert(id, resolvedBy string) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Database.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Database.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// performAutoMigration runs gorm auto-migration for all models.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connInfo string) error {
	if err := db.AutoMigrate(
		&Site{},
		&Guard{},
		&Checkpoint{},
		&PatrolTemplate{},
		&TemplateCheckpoint{},
		&PatrolRun{},
		&CheckpointVisit{},
		&PanicAlert{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		logging.Debug("database connection established", "type", dbType, "connection", connInfo)
	}
	return nil
}

// createGormLogger routes gorm log output through slog at warn level so slow
// queries and errors surface in the service logs.
func createGormLogger() logger.Interface {
	return logger.New(
		slogWriter{logger: logging.ForService("datastore")},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}

// GetTemplate retrieves a patrol template with its ordered checkpoint list.
func (ds *DataStore) GetTemplate(id string) (PatrolTemplate, error) {
	var tmpl PatrolTemplate
	err := ds.DB.
		Preload("Checkpoints", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Checkpoints.Checkpoint").
		First(&tmpl, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PatrolTemplate{}, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return PatrolTemplate{}, fmt.Errorf("getting template %s: %w", id, err)
	}
	return tmpl, nil
}

// GetCheckpoint retrieves a single checkpoint by id.
func (ds *DataStore) GetCheckpoint(id string) (Checkpoint, error) {
	var cp Checkpoint
	err := ds.DB.First(&cp, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("getting checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// SaveRun inserts a new patrol run.
func (ds *DataStore) SaveRun(run *PatrolRun) error {
	if err := ds.DB.Create(run).Error; err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	return nil
}

// UpdateRun persists changes to an existing patrol run.
func (ds *DataStore) UpdateRun(run *PatrolRun) error {
	if err := ds.DB.Save(run).Error; err != nil {
		return fmt.Errorf("updating run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a patrol run by id.
func (ds *DataStore) GetRun(id string) (PatrolRun, error) {
	var run PatrolRun
	err := ds.DB.First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PatrolRun{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return PatrolRun{}, fmt.Errorf("getting run %s: %w", id, err)
	}
	return run, nil
}

// GetActiveRunForGuard returns the guard's run in the started state, or nil
// if the guard has none.
func (ds *DataStore) GetActiveRunForGuard(guardID string) (*PatrolRun, error) {
	var run PatrolRun
	err := ds.DB.Where("guard_id = ? AND state = ?", guardID, RunStarted).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active run for guard %s: %w", guardID, err)
	}
	return &run, nil
}

// SaveVisitWithRun stores an accepted checkpoint visit and the updated run
// state as a single transaction, so completion percentage never drifts from
// the visit history.
func (ds *DataStore) SaveVisitWithRun(visit *CheckpointVisit, run *PatrolRun) error {
	tx := ds.DB.Begin()
	if tx.Error != nil {
		return fmt.Errorf("starting transaction: %w", tx.Error)
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(visit).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("saving visit: %w", err)
	}
	if err := tx.Save(run).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("updating run: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetVisits returns a run's visit history in scan order.
func (ds *DataStore) GetVisits(runID string) ([]CheckpointVisit, error) {
	var visits []CheckpointVisit
	if err := ds.DB.Where("run_id = ?", runID).Order("id ASC").Find(&visits).Error; err != nil {
		return nil, fmt.Errorf("getting visits for run %s: %w", runID, err)
	}
	return visits, nil
}

// GetVisitByIdempotencyKey returns the visit previously recorded under the
// given client-generated key, or nil if none exists.
func (ds *DataStore) GetVisitByIdempotencyKey(key string) (*CheckpointVisit, error) {
	if key == "" {
		return nil, nil
	}
	var visit CheckpointVisit
	err := ds.DB.Where("idempotency_key = ?", key).First(&visit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting visit by idempotency key: %w", err)
	}
	return &visit, nil
}

// SavePanicAlert inserts a new panic alert.
func (ds *DataStore) SavePanicAlert(alert *PanicAlert) error {
	if err := ds.DB.Create(alert).Error; err != nil {
		return fmt.Errorf("saving panic alert: %w", err)
	}
	return nil
}

// GetPanicAlert retrieves a panic alert by id.
func (ds *DataStore) GetPanicAlert(id string) (PanicAlert, error) {
	var alert PanicAlert
	err := ds.DB.First(&alert, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PanicAlert{}, fmt.Errorf("panic alert %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return PanicAlert{}, fmt.Errorf("getting panic alert %s: %w", id, err)
	}
	return alert, nil
}

// GetActivePanicAlerts returns all unresolved alerts, newest first.
func (ds *DataStore) GetActivePanicAlerts() ([]PanicAlert, error) {
	var alerts []PanicAlert
	if err := ds.DB.Where("resolved = ?", false).Order("created_at DESC").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("getting active panic alerts: %w", err)
	}
	return alerts, nil
}

// ResolvePanicAlert marks an alert resolved. Resolving an already-resolved
// alert is a no-op.
func (ds *DataStore) ResolvePanicAlert(id, resolvedBy string) error {
	now := time.Now()
	result := ds.DB.Model(&PanicAlert{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_by": resolvedBy,
			"resolved_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("resolving panic alert %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("panic alert %s: %w", id, ErrNotFound)
	}
	return nil
}
