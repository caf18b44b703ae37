// internal/api/panic.go
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/guardtrack/guardtrack-go/internal/datastore"
	"github.com/guardtrack/guardtrack-go/internal/errors"
	"github.com/guardtrack/guardtrack-go/internal/geo"
)

// PanicRequest is the body of POST /panic. Location is optional; a device
// without a fix still raises the alert.
type PanicRequest struct {
	GuardID string   `json:"guard_id"`
	RunID   string   `json:"run_id,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// ResolvePanicRequest is the body of POST /panic/:id/resolve.
type ResolvePanicRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// TriggerPanic handles POST /api/v1/panic. The only failure mode surfaced to
// the device is alert persistence; messaging degradation is server-side
// concern and does not fail the call.
func (c *Controller) TriggerPanic(ctx echo.Context) error {
	var req PanicRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.GuardID == "" {
		return c.HandleError(ctx, nil, "guard_id is required", http.StatusBadRequest)
	}

	var coord *geo.Point
	if req.Lat != nil && req.Lng != nil {
		coord = &geo.Point{Lat: *req.Lat, Lng: *req.Lng}
	}

	alert, err := c.Dispatcher.Trigger(ctx.Request().Context(), req.GuardID, coord, req.RunID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to record panic alert", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusCreated, alert)
}

// ResolvePanic handles POST /api/v1/panic/:id/resolve.
func (c *Controller) ResolvePanic(ctx echo.Context) error {
	var req ResolvePanicRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.ResolvedBy == "" {
		return c.HandleError(ctx, nil, "resolved_by is required", http.StatusBadRequest)
	}

	err := c.Dispatcher.Resolve(ctx.Param("id"), req.ResolvedBy)
	switch {
	case errors.Is(err, datastore.ErrNotFound):
		return c.HandleError(ctx, err, "Panic alert not found", http.StatusNotFound)
	case err != nil:
		return c.HandleError(ctx, err, "Failed to resolve panic alert", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, map[string]string{"status": "resolved"})
}

// GetActivePanics handles GET /api/v1/panic/active.
func (c *Controller) GetActivePanics(ctx echo.Context) error {
	alerts, err := c.DS.GetActivePanicAlerts()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load active alerts", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}
