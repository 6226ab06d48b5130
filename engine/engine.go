// Package engine implements the workflow instance execution core: instance
// lifecycle, the dependency-gated step state machine, cascade unblocking
// and progress aggregation. The engine is stateless between requests; the
// store is the single source of truth.
package engine

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/event"
	"github.com/stepflow-io/stepflow/store"
)

// Engine orchestrates workflow instance execution over a Store
type Engine struct {
	store  store.Store
	sink   event.Sink
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures the engine
type Option func(*Engine)

// WithLogger sets a custom logger for the engine
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSink sets the event sink notified of state changes
func WithSink(sink event.Sink) Option {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithClock sets the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a workflow engine. Without options it logs to stdout at Info
// level and discards events.
func New(st store.Store, opts ...Option) *Engine {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	eng := &Engine{
		store:  st,
		sink:   event.NopSink{},
		logger: defaultLogger,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(eng)
	}

	return eng
}

// publish delivers an event to the sink. Failures are logged and swallowed;
// publication never fails the primary operation.
func (e *Engine) publish(ctx context.Context, evt event.Event) {
	if err := e.sink.Publish(ctx, evt); err != nil {
		stepflow.LogPublishError(e.logger, evt.InstanceID, evt.Type, err)
	}
}

// failTransaction surfaces a failed transaction. Store failures are logged;
// typed rejections are expected caller errors and pass through quietly.
func (e *Engine) failTransaction(instanceID, operation string, err error) error {
	if stepflow.CodeOf(err) == stepflow.ErrCodeInternalError {
		stepflow.LogPersistenceError(e.logger, instanceID, operation, err)
	}
	return err
}

// parseID validates a UUIDv4 identifier before any store access
func parseID(kind, value string) (string, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return "", stepflow.NewBadRequest("malformed %s id %q", kind, value)
	}
	return id.String(), nil
}

// newID mints a fresh identifier
func newID() string {
	return uuid.New().String()
}
