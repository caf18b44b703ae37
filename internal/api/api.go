// internal/api/api.go
package api

import (
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/guardtrack/guardtrack-go/internal/conf"
	"github.com/guardtrack/guardtrack-go/internal/datastore"
	"github.com/guardtrack/guardtrack-go/internal/dispatch"
	"github.com/guardtrack/guardtrack-go/internal/logging"
	"github.com/guardtrack/guardtrack-go/internal/observability"
	"github.com/guardtrack/guardtrack-go/internal/patrol"
	"github.com/guardtrack/guardtrack-go/internal/presence"
)

// scanReplayTTL is how long a scan response stays replayable under its
// idempotency key. Devices resubmit queued scans well within a day.
const scanReplayTTL = 24 * time.Hour

// Controller manages the API routes and handlers.
type Controller struct {
	Echo       *echo.Echo
	Group      *echo.Group
	DS         datastore.Interface
	Settings   *conf.Settings
	Manager    *patrol.Manager
	Registry   *presence.Registry
	Dispatcher *dispatch.Dispatcher

	// MQTTConnected, when set, adds broker connectivity to the health report.
	MQTTConnected func() bool

	metrics        *observability.Metrics
	replayCache    *cache.Cache
	apiLogger      *slog.Logger
	apiLoggerClose func() error
}

// New creates the API controller and registers all routes on e. metrics may
// be nil.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	manager *patrol.Manager, registry *presence.Registry,
	dispatcher *dispatch.Dispatcher, metrics *observability.Metrics) *Controller {

	c := &Controller{
		Echo:        e,
		DS:          ds,
		Settings:    settings,
		Manager:     manager,
		Registry:    registry,
		Dispatcher:  dispatcher,
		metrics:     metrics,
		replayCache: cache.New(scanReplayTTL, time.Hour),
		apiLogger:   logging.ForService("api"),
	}

	// Request-level API logs go to their own rotated file when file logging
	// is enabled; the service logger still receives errors.
	if settings != nil && settings.Main.Log.Enabled && settings.Main.Log.Path != "" {
		fileLogger, closer, err := logging.NewFileLogger(settings.Main.Log.Path, "api", slog.LevelInfo)
		if err != nil {
			c.apiLogger.Warn("failed to open API log file, using service logger",
				"path", settings.Main.Log.Path, "error", err)
		} else {
			c.apiLogger = fileLogger
			c.apiLoggerClose = closer
		}
	}

	c.Echo.Use(middleware.Recover())
	c.initRoutes()
	return c
}

// Shutdown releases controller resources, closing the API log file if one
// was opened.
func (c *Controller) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			logging.Error("failed to close API log file", "error", err)
		}
	}
}

func (c *Controller) initRoutes() {
	c.Group = c.Echo.Group("/api/v1")

	c.Group.POST("/patrols/start", c.StartPatrol)
	c.Group.POST("/patrols/:id/scan", c.RecordScan)
	c.Group.POST("/patrols/:id/end", c.EndPatrol)
	c.Group.GET("/patrols/:id", c.GetPatrol)

	c.Group.POST("/heartbeat", c.Heartbeat)
	c.Group.GET("/presence", c.GetPresence)

	c.Group.POST("/panic", c.TriggerPanic)
	c.Group.POST("/panic/:id/resolve", c.ResolvePanic)
	c.Group.GET("/panic/active", c.GetActivePanics)

	c.Echo.GET("/healthz", c.Healthz)
	c.Group.GET("/healthz", c.Healthz)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// Healthz reports liveness. It deliberately does not block on the database;
// a degraded store must not take heartbeat ingestion down with it.
func (c *Controller) Healthz(ctx echo.Context) error {
	body := map[string]any{"status": "ok"}
	if c.MQTTConnected != nil {
		body["mqtt_connected"] = c.MQTTConnected()
	}
	return ctx.JSON(http.StatusOK, body)
}

// ErrorResponse is the uniform error body returned by all handlers.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short identifier for tracking one error
// across client reports and server logs.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError constructs and returns an appropriate error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	c.apiLogger.Error("API error",
		"correlation_id", errorResp.CorrelationID,
		"message", message,
		"error", errorResp.Error,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP())

	return ctx.JSON(code, errorResp)
}
