package queue

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm/logger"

	"github.com/guardtrack/guardtrack-go/internal/logging"
)

// createGormLogger routes gorm log output for the queue database through slog
// at warn level.
func createGormLogger() logger.Interface {
	return logger.New(
		slogWriter{logger: logging.ForService("queue")},
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

// isUniqueViolation reports whether err is a unique-constraint failure. The
// sqlite driver does not expose a typed error for this, so the check is on the
// message text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
