// internal/api/patrols.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/guardtrack/guardtrack-go/internal/datastore"
	"github.com/guardtrack/guardtrack-go/internal/errors"
	"github.com/guardtrack/guardtrack-go/internal/geo"
	"github.com/guardtrack/guardtrack-go/internal/patrol"
)

// StartPatrolRequest is the body of POST /patrols/start. RunID is optional;
// a device that queued the start offline supplies the id it already used to
// address its queued scans, and a resubmitted start with the same id is
// answered with the existing run.
type StartPatrolRequest struct {
	GuardID    string `json:"guard_id"`
	TemplateID string `json:"template_id"`
	RunID      string `json:"run_id,omitempty"`
}

// ScanRequest is the body of POST /patrols/:id/scan. Lat and Lng are optional
// so tag types without positioning still validate against route membership
// and ordering.
//
// The idempotency key identifies one scan ATTEMPT, not a checkpoint: a
// replayed key returns the original outcome verbatim, rejections included.
// A device correcting its position must send the retry under a fresh key.
type ScanRequest struct {
	CheckpointID   string   `json:"checkpoint_id"`
	Lat            *float64 `json:"lat,omitempty"`
	Lng            *float64 `json:"lng,omitempty"`
	ManualOverride bool     `json:"manual_override,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
}

// ScanResponse reports the validation outcome to the device.
type ScanResponse struct {
	patrol.Result
	Run *datastore.PatrolRun `json:"run,omitempty"`
}

// EndPatrolResponse is the body returned by POST /patrols/:id/end.
type EndPatrolResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

// PatrolDetail is the body returned by GET /patrols/:id.
type PatrolDetail struct {
	Run    datastore.PatrolRun         `json:"run"`
	Visits []datastore.CheckpointVisit `json:"visits"`
}

// cachedScan is what the replay cache stores per idempotency key.
type cachedScan struct {
	status int
	body   ScanResponse
}

// StartPatrol handles POST /api/v1/patrols/start.
func (c *Controller) StartPatrol(ctx echo.Context) error {
	var req StartPatrolRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.GuardID == "" || req.TemplateID == "" {
		return c.HandleError(ctx, nil, "guard_id and template_id are required", http.StatusBadRequest)
	}

	run, err := c.Manager.Start(req.GuardID, req.TemplateID, req.RunID)
	switch {
	case errors.Is(err, patrol.ErrAlreadyActive):
		return c.HandleError(ctx, err, "Guard already has an active patrol", http.StatusConflict)
	case errors.Is(err, patrol.ErrRunIDTaken):
		return c.HandleError(ctx, err, "Run id already in use", http.StatusConflict)
	case errors.Is(err, datastore.ErrNotFound):
		return c.HandleError(ctx, err, "Patrol template not found", http.StatusNotFound)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to start patrol", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusCreated, run)
}

// RecordScan handles POST /api/v1/patrols/:id/scan. Accepted scans return
// 200; validation rejections return 422 with the reason. A replayed
// idempotency key returns the original response without re-validating.
func (c *Controller) RecordScan(ctx echo.Context) error {
	runID := ctx.Param("id")

	var req ScanRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.CheckpointID == "" {
		return c.HandleError(ctx, nil, "checkpoint_id is required", http.StatusBadRequest)
	}

	key := ctx.Request().Header.Get("X-Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}
	if key != "" {
		if hit, ok := c.replayCache.Get(key); ok {
			prev := hit.(cachedScan)
			return ctx.JSON(prev.status, prev.body)
		}
	}

	var coord *geo.Point
	if req.Lat != nil && req.Lng != nil {
		coord = &geo.Point{Lat: *req.Lat, Lng: *req.Lng}
	}

	result, run, err := c.Manager.RecordScan(runID, req.CheckpointID, coord, key, req.ManualOverride)
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		return c.HandleError(ctx, err, "Patrol run not found", http.StatusNotFound)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to record scan", http.StatusInternalServerError)
	}

	// Rejections are cached under the key too; a key is one attempt, and a
	// duplicate delivery of a rejected attempt must not re-validate against
	// newer run state.
	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusUnprocessableEntity
		if c.metrics != nil {
			c.metrics.ScansRejected.WithLabelValues(string(result.Reason)).Inc()
		}
	} else if c.metrics != nil {
		c.metrics.ScansAccepted.Inc()
	}

	resp := ScanResponse{Result: result, Run: run}
	if key != "" {
		c.replayCache.SetDefault(key, cachedScan{status: status, body: resp})
	}
	return ctx.JSON(status, resp)
}

// EndPatrol handles POST /api/v1/patrols/:id/end.
func (c *Controller) EndPatrol(ctx echo.Context) error {
	runID := ctx.Param("id")

	state, err := c.Manager.End(runID)
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		return c.HandleError(ctx, err, "Patrol run not found", http.StatusNotFound)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to end patrol", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, EndPatrolResponse{RunID: runID, State: state})
}

// GetPatrol handles GET /api/v1/patrols/:id.
func (c *Controller) GetPatrol(ctx echo.Context) error {
	runID := ctx.Param("id")

	run, visits, err := c.Manager.Get(runID)
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		return c.HandleError(ctx, err, "Patrol run not found", http.StatusNotFound)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to load patrol", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, PatrolDetail{Run: run, Visits: visits})
}
