package hedge

import (
	"time"

	"mmhedge/internal/venue"
)

// Status is the outcome of one coordinator call.
type Status string

const (
	// StatusSubmitted means the hedge venue accepted the order.
	StatusSubmitted Status = "submitted"
	// StatusCoalesced means the fill was queued behind the rate limit window.
	StatusCoalesced Status = "coalesced"
	// StatusDeferred means queued work is waiting for the window to open.
	StatusDeferred Status = "deferred"
	// StatusNetted means queued fills cancelled each other out.
	StatusNetted Status = "netted"
	// StatusBelowDust means the fills were too small to hedge on their own and
	// are left to the net position pass.
	StatusBelowDust Status = "below_dust"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusNoop      Status = "noop"
)

// Result reports what the coordinator did.
type Result struct {
	Status   Status
	Market   string
	Order    venue.HedgeOrder
	Ack      venue.HedgeAck
	FillKeys []string
	Position string
	Latency  time.Duration
	Err      error
}
