// Package dispatch routes panic alerts: it persists the alert, always
// notifies the command-center broadcast audience, and targets the nearest
// online guards when a coordinate is available.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guardtrack/guardtrack-go/internal/datastore"
	"github.com/guardtrack/guardtrack-go/internal/errors"
	"github.com/guardtrack/guardtrack-go/internal/geo"
	"github.com/guardtrack/guardtrack-go/internal/logging"
	"github.com/guardtrack/guardtrack-go/internal/observability"
	"github.com/guardtrack/guardtrack-go/internal/presence"
)

// Messenger is the at-least-once messaging surface the dispatcher needs;
// the MQTT client satisfies it.
type Messenger interface {
	PublishQoS1(ctx context.Context, topic, payload string) error
}

// AlertMessage is the broadcast payload sent to the command-center topic.
type AlertMessage struct {
	AlertID   string     `json:"alert_id"`
	GuardID   string     `json:"guard_id"`
	RunID     string     `json:"run_id,omitempty"`
	Location  *geo.Point `json:"location,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// TargetedAlert is the higher-urgency payload sent to each nearby responder.
type TargetedAlert struct {
	AlertMessage
	DistanceMeters float64 `json:"distance_meters"`
	BearingDegrees float64 `json:"bearing_degrees"`
	Instruction    string  `json:"instruction"`
}

// Dispatcher creates panic alerts and fans them out. Registry reads are
// synchronous and in-process, so the same call that persists the alert also
// performs dispatch in bounded time.
type Dispatcher struct {
	ds          datastore.Interface
	registry    *presence.Registry
	messenger   Messenger
	topicPrefix string
	responders  int
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher targeting up to responders nearby
// guards per alert. metrics may be nil.
func NewDispatcher(ds datastore.Interface, registry *presence.Registry, messenger Messenger, topicPrefix string, responders int, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		ds:          ds,
		registry:    registry,
		messenger:   messenger,
		topicPrefix: topicPrefix,
		responders:  responders,
		metrics:     metrics,
		logger:      logging.ForService("dispatch"),
	}
}

// Trigger persists a panic alert and dispatches notifications. Storage
// failure is fatal to the call: a lost panic record is the worst possible
// failure mode of this system, so it propagates instead of failing open.
// Messaging failures after persistence are logged and do not fail the call;
// the alert exists and the device may report success.
func (d *Dispatcher) Trigger(ctx context.Context, guardID string, coord *geo.Point, runID string) (*datastore.PanicAlert, error) {
	start := time.Now()

	alert := &datastore.PanicAlert{
		ID:        uuid.NewString(),
		GuardID:   guardID,
		CreatedAt: start,
	}
	if runID != "" {
		alert.RunID = &runID
	}
	if coord != nil && coord.Valid() {
		alert.Lat = &coord.Lat
		alert.Lng = &coord.Lng
	} else {
		coord = nil
	}

	if err := d.ds.SavePanicAlert(alert); err != nil {
		return nil, errors.New(fmt.Errorf("persisting panic alert: %w", err)).
			Component("dispatch").
			Category(errors.CategoryDatabase).
			Context("guard_id", guardID).
			Build()
	}
	if d.metrics != nil {
		d.metrics.PanicTriggered.Inc()
	}

	d.registry.MarkSOS(guardID)

	msg := AlertMessage{
		AlertID:   alert.ID,
		GuardID:   guardID,
		RunID:     runID,
		Location:  coord,
		Timestamp: start,
	}

	// Step 2: the fixed broadcast audience always hears about the alert,
	// regardless of location availability.
	d.publish(ctx, d.topicPrefix+"/alerts/command", msg)

	// Step 3: targeted dispatch to the nearest online guards.
	notified := 0
	if coord != nil {
		neighbors := d.registry.Nearest(*coord, d.responders, guardID)
		for _, n := range neighbors {
			bearing, err := geo.BearingDegrees(n.Coordinate, *coord)
			if err != nil {
				bearing = 0
			}
			targeted := TargetedAlert{
				AlertMessage:   msg,
				DistanceMeters: n.DistanceMeters,
				BearingDegrees: bearing,
				Instruction:    fmt.Sprintf("Assist %s, %.0fm from your position", guardID, n.DistanceMeters),
			}
			d.publish(ctx, fmt.Sprintf("%s/guard/%s/alerts", d.topicPrefix, n.GuardID), targeted)
			notified++
		}

		if notified == 0 {
			// Degraded, not an error: the command broadcast above is the
			// fallback safety net.
			d.logger.Warn("no guards nearby for targeted dispatch",
				"alert_id", alert.ID,
				"guard_id", guardID)
		}
	} else {
		d.logger.Info("panic alert without coordinate, broadcast only",
			"alert_id", alert.ID,
			"guard_id", guardID)
	}

	if d.metrics != nil {
		d.metrics.PanicResponders.Observe(float64(notified))
		d.metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	}

	d.logger.Info("panic alert dispatched",
		"alert_id", alert.ID,
		"guard_id", guardID,
		"responders_notified", notified,
		"has_location", coord != nil)
	return alert, nil
}

// Resolve marks an alert resolved and clears the triggering guard's SOS
// presence status.
func (d *Dispatcher) Resolve(alertID, resolvedBy string) error {
	alert, err := d.ds.GetPanicAlert(alertID)
	if err != nil {
		return err
	}
	if err := d.ds.ResolvePanicAlert(alertID, resolvedBy); err != nil {
		return err
	}
	d.registry.ClearSOS(alert.GuardID)

	d.logger.Info("panic alert resolved",
		"alert_id", alertID,
		"guard_id", alert.GuardID,
		"resolved_by", resolvedBy)
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("failed to encode alert payload", "topic", topic, "error", err)
		return
	}
	if err := d.messenger.PublishQoS1(ctx, topic, string(data)); err != nil {
		d.logger.Error("alert publish failed", "topic", topic, "error", err)
	}
}
