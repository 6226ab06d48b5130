package stepflow

import (
	"github.com/rs/zerolog"
)

// Log event names
const (
	// Instance-level events
	EventInstanceStarted   = "instance_started"
	EventInstanceCompleted = "instance_completed"
	EventInstanceCancelled = "instance_cancelled"

	// Step-level events
	EventStepTransitioned = "step_transitioned"
	EventStepUnblocked    = "step_unblocked"

	// Side-effect events
	EventPublishError     = "publish_error"
	EventPersistenceError = "persistence_error"
)

// LogInstanceStarted logs instance creation with its seeded step count
func LogInstanceStarted(logger zerolog.Logger, instanceID, definitionID string, steps int) {
	logger.Info().
		Str("event", EventInstanceStarted).
		Str("instance_id", instanceID).
		Str("definition_id", definitionID).
		Int("steps", steps).
		Msg("Workflow instance started")
}

// LogInstanceCompleted logs automatic instance closure
func LogInstanceCompleted(logger zerolog.Logger, instanceID string) {
	logger.Info().
		Str("event", EventInstanceCompleted).
		Str("instance_id", instanceID).
		Msg("Workflow instance completed")
}

// LogInstanceCancelled logs explicit cancellation
func LogInstanceCancelled(logger zerolog.Logger, instanceID string) {
	logger.Warn().
		Str("event", EventInstanceCancelled).
		Str("instance_id", instanceID).
		Msg("Workflow instance cancelled")
}

// LogStepTransitioned logs a successful step status change
func LogStepTransitioned(logger zerolog.Logger, instanceID, stepInstanceID string, from, to StepInstanceStatus) {
	logger.Info().
		Str("event", EventStepTransitioned).
		Str("instance_id", instanceID).
		Str("step_instance_id", stepInstanceID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Step transitioned")
}

// LogStepUnblocked logs a cascade promotion from blocked to ready
func LogStepUnblocked(logger zerolog.Logger, instanceID, stepInstanceID string) {
	logger.Info().
		Str("event", EventStepUnblocked).
		Str("instance_id", instanceID).
		Str("step_instance_id", stepInstanceID).
		Msg("Step unblocked")
}

// LogPublishError logs a failed event publication. Publication failures are
// non-fatal side effects and never fail the primary operation.
func LogPublishError(logger zerolog.Logger, instanceID, eventType string, err error) {
	logger.Error().
		Str("event", EventPublishError).
		Str("instance_id", instanceID).
		Str("event_type", eventType).
		Err(err).
		Msg("Event publication failed")
}

// LogPersistenceError logs errors during persistence operations
func LogPersistenceError(logger zerolog.Logger, instanceID, operation string, err error) {
	logger.Error().
		Str("event", EventPersistenceError).
		Str("instance_id", instanceID).
		Str("operation", operation).
		Err(err).
		Msg("Persistence error")
}

// InstanceLogger creates a logger enriched with instance context
func InstanceLogger(baseLogger zerolog.Logger, instanceID, definitionID string) zerolog.Logger {
	return baseLogger.With().
		Str("instance_id", instanceID).
		Str("definition_id", definitionID).
		Logger()
}
