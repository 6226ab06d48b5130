// Package event defines the sink notified of workflow state changes.
// Publication is fire-and-forget, at-most-once: the core calls the sink
// synchronously but never fails the primary operation when publishing
// fails.
package event

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Event types
const (
	TypeStepAdvanced      = "step.advanced"
	TypeStepCompleted     = "step.completed"
	TypeInstanceCancelled = "instance.cancelled"
)

// Event carries one state change. StepID is the step instance whose status
// changed; it is empty for instance-level events.
type Event struct {
	Type           string    `json:"type"`
	InstanceID     string    `json:"instanceId"`
	StepID         string    `json:"stepId,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink receives published events. Implementations must be safe for
// concurrent use and should return quickly; the core treats errors as
// non-fatal side effects.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// NopSink discards all events
type NopSink struct{}

// Publish implements Sink
func (NopSink) Publish(ctx context.Context, evt Event) error {
	return nil
}

// LogSink writes events to a zerolog logger. Useful as a default transport
// and in local development.
type LogSink struct {
	Logger zerolog.Logger
}

// Publish implements Sink
func (s LogSink) Publish(ctx context.Context, evt Event) error {
	s.Logger.Info().
		Str("type", evt.Type).
		Str("instance_id", evt.InstanceID).
		Str("step_id", evt.StepID).
		Str("status", evt.Status).
		Str("previous_status", evt.PreviousStatus).
		Time("timestamp", evt.Timestamp).
		Msg("Workflow event")
	return nil
}
