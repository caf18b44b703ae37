// internal/api/presence.go
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/guardtrack/guardtrack-go/internal/geo"
)

// HeartbeatRequest is the body of POST /heartbeat. Timestamp is the device
// capture time, not the arrival time, so reordered deliveries resolve
// correctly.
type HeartbeatRequest struct {
	GuardID     string    `json:"guard_id"`
	SiteID      string    `json:"site_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	ActiveRunID string    `json:"active_run_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Heartbeat handles POST /api/v1/heartbeat. Stale and invalid heartbeats are
// dropped without an error status; the device fires on a timer and must not
// burn battery on retry loops for positions already superseded.
func (c *Controller) Heartbeat(ctx echo.Context) error {
	var req HeartbeatRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	if req.GuardID == "" {
		return c.HandleError(ctx, nil, "guard_id is required", http.StatusBadRequest)
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	applied := c.Registry.Heartbeat(req.GuardID, req.SiteID,
		geo.Point{Lat: req.Lat, Lng: req.Lng}, req.ActiveRunID, req.Timestamp)
	if c.metrics != nil {
		if applied {
			c.metrics.HeartbeatsApplied.Inc()
		} else {
			c.metrics.HeartbeatsDropped.Inc()
		}
	}

	return ctx.NoContent(http.StatusNoContent)
}

// GetPresence handles GET /api/v1/presence. The optional site query parameter
// narrows the snapshot to one site.
func (c *Controller) GetPresence(ctx echo.Context) error {
	records := c.Registry.SnapshotSite(ctx.QueryParam("site"))
	return ctx.JSON(http.StatusOK, map[string]any{
		"guards": records,
		"count":  len(records),
	})
}
