package memory

import "context"

// Record event names carried to the sink. The events package maps them onto
// its subject hierarchy.
const (
	EventCreated   = "created"
	EventMerged    = "merged"
	EventPromoted  = "promoted"
	EventValidated = "validated"
	EventResolved  = "resolved"
)

// Sweep names reported through SweepCompleted.
const (
	SweepDecay   = "decay"
	SweepExpired = "expired"
)

// EventSink receives change notifications from the engine. Implementations
// must be safe for concurrent use and must not block on delivery; a failed
// publish is logged and dropped, never surfaced to the caller.
//
// internal/events provides a NATS-backed implementation. A nil sink disables
// publishing.
type EventSink interface {
	// RecordChanged reports a single record mutation.
	RecordChanged(ctx context.Context, event string, rec *Record)

	// SweepCompleted reports a finished sweep cycle and how many records
	// it touched.
	SweepCompleted(ctx context.Context, sweep string, changed int64)
}
