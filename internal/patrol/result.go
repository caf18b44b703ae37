// Package patrol implements checkpoint scan validation and the patrol run
// state machine. Validation is pure; all persistence goes through the
// Manager, which serializes operations per run.
package patrol

// RejectReason identifies why a checkpoint scan was not accepted. Rejections
// are normal control flow, not errors; they carry enough detail for the
// device UI to guide correction.
type RejectReason string

const (
	RejectRunNotActive RejectReason = "run_not_active"
	RejectNotInRoute   RejectReason = "not_in_route"
	RejectTooFar       RejectReason = "too_far"
	RejectOutOfOrder   RejectReason = "out_of_order"
)

// Result is the outcome of validating one checkpoint scan.
type Result struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"`

	// DistanceMeters is set for TooFar rejections.
	DistanceMeters float64 `json:"distance_meters,omitempty"`

	// ExpectedIndex and GotIndex are set for OutOfOrder rejections and refer
	// to positions in the template's checkpoint order.
	ExpectedIndex int `json:"expected_index,omitempty"`
	GotIndex      int `json:"got_index,omitempty"`
}

func accept() Result {
	return Result{Accepted: true}
}

func rejectRunNotActive() Result {
	return Result{Reason: RejectRunNotActive}
}

func rejectNotInRoute() Result {
	return Result{Reason: RejectNotInRoute}
}

func rejectTooFar(distance float64) Result {
	return Result{Reason: RejectTooFar, DistanceMeters: distance}
}

func rejectOutOfOrder(expected, got int) Result {
	return Result{Reason: RejectOutOfOrder, ExpectedIndex: expected, GotIndex: got}
}
