package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NewAction builds a queueable action with a fresh idempotency key. The
// payload is marshalled once at enqueue time so a later schema change cannot
// alter what the device already committed to sending.
func NewAction(kind, endpoint string, payload any) (*Action, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s action payload: %w", kind, err)
	}
	return &Action{
		IdempotencyKey: uuid.NewString(),
		Kind:           kind,
		Endpoint:       endpoint,
		Payload:        string(body),
	}, nil
}

// NewScanAction queues a checkpoint scan against a run.
func NewScanAction(runID string, payload any) (*Action, error) {
	return NewAction(KindScan, fmt.Sprintf("/api/v1/patrols/%s/scan", runID), payload)
}

// NewHeartbeatAction queues a presence heartbeat. Heartbeats carry their
// capture timestamp in the payload, so a delayed delivery is dropped
// server-side rather than rewinding the guard's position.
func NewHeartbeatAction(payload any) (*Action, error) {
	return NewAction(KindHeartbeat, "/api/v1/heartbeat", payload)
}

// NewPanicAction queues a panic trigger.
func NewPanicAction(payload any) (*Action, error) {
	return NewAction(KindPanic, "/api/v1/panic", payload)
}

// NewPatrolStartAction queues a patrol start request. The payload should
// carry a device-generated run_id so scan actions queued behind it can
// address the run before the start has been delivered.
func NewPatrolStartAction(payload any) (*Action, error) {
	return NewAction(KindPatrolStart, "/api/v1/patrols/start", payload)
}

// NewPatrolEndAction queues a patrol end request.
func NewPatrolEndAction(runID string, payload any) (*Action, error) {
	return NewAction(KindPatrolEnd, fmt.Sprintf("/api/v1/patrols/%s/end", runID), payload)
}
