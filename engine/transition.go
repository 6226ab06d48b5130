package engine

import (
	"context"
	"time"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/event"
	"github.com/stepflow-io/stepflow/store"
)

// TransitionResult reports the outcome of a step status change. Changed is
// false when the step was already in the requested status.
type TransitionResult struct {
	StepInstance   *stepflow.StepInstance      `json:"stepInstance"`
	Changed        bool                        `json:"changed"`
	PreviousStatus stepflow.StepInstanceStatus `json:"previousStatus"`
}

// RequestTransition performs an administrative status edit on a step
// instance. It enforces the transition table but deliberately skips
// dependency checks; Advance and Complete are the dependency-gated paths.
// Requesting the current status is an idempotent success.
func (e *Engine) RequestTransition(ctx context.Context, instanceID, stepInstanceID, target string) (*TransitionResult, error) {
	instID, err := parseID("instance", instanceID)
	if err != nil {
		return nil, err
	}
	siID, err := parseID("step instance", stepInstanceID)
	if err != nil {
		return nil, err
	}
	status := stepflow.StepInstanceStatus(target)
	if !status.Valid() {
		return nil, stepflow.NewBadRequest("invalid step status %q", target)
	}

	var result *TransitionResult
	err = e.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		inst, err := tx.GetInstanceForUpdate(ctx, instID)
		if err != nil {
			return err
		}
		si, err := tx.GetStepInstanceForUpdate(ctx, instID, siID)
		if err != nil {
			return err
		}
		if si.Status == status {
			result = &TransitionResult{StepInstance: si, Changed: false, PreviousStatus: si.Status}
			return nil
		}
		if err := stepflow.ValidateTransition(si.Status, status); err != nil {
			return err
		}

		previous := si.Status
		now := e.now()
		if err := e.applyTransition(ctx, tx, si, status, now); err != nil {
			return err
		}
		if status == stepflow.StepStatusCompleted {
			if err := e.cascadeAfterCompletion(ctx, tx, inst, si, now); err != nil {
				return err
			}
		}
		result = &TransitionResult{StepInstance: si, Changed: true, PreviousStatus: previous}
		return nil
	})
	if err != nil {
		return nil, e.failTransaction(instID, "request_transition", err)
	}

	if result.Changed {
		e.afterTransition(ctx, result)
	}
	return result, nil
}

// applyTransition persists a validated status change. completedAt is set
// only when entering completed and cleared when entering in_progress;
// startedAt is stamped the first time the step enters in_progress.
func (e *Engine) applyTransition(ctx context.Context, tx store.Store, si *stepflow.StepInstance, target stepflow.StepInstanceStatus, now time.Time) error {
	si.Status = target
	si.UpdatedAt = now
	switch target {
	case stepflow.StepStatusCompleted:
		si.CompletedAt = &now
	case stepflow.StepStatusInProgress:
		si.CompletedAt = nil
		if si.StartedAt == nil {
			si.StartedAt = &now
		}
	}
	return tx.UpdateStepInstance(ctx, si)
}

// afterTransition emits logs and events once the transaction committed
func (e *Engine) afterTransition(ctx context.Context, result *TransitionResult) {
	si := result.StepInstance
	stepflow.LogStepTransitioned(e.logger, si.InstanceID, si.ID, result.PreviousStatus, si.Status)

	var eventType string
	switch si.Status {
	case stepflow.StepStatusInProgress:
		eventType = event.TypeStepAdvanced
	case stepflow.StepStatusCompleted:
		eventType = event.TypeStepCompleted
	default:
		return
	}
	e.publish(ctx, event.Event{
		Type:           eventType,
		InstanceID:     si.InstanceID,
		StepID:         si.ID,
		Status:         si.Status.String(),
		PreviousStatus: result.PreviousStatus.String(),
		Timestamp:      e.now(),
	})
}
