package engine

import (
	"context"
	"sort"
	"time"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/store"
)

// Advance moves a ready step into in_progress after verifying every
// predecessor is completed. Incomplete predecessors fail with DepNotReady
// listing the blocking step IDs.
func (e *Engine) Advance(ctx context.Context, instanceID, stepInstanceID string) (*TransitionResult, error) {
	return e.resolveAndTransition(ctx, instanceID, stepInstanceID, stepflow.StepStatusInProgress)
}

// Complete moves an in_progress step into completed after verifying every
// predecessor is completed, then atomically promotes unblocked dependents
// and closes the instance when it was the last step.
func (e *Engine) Complete(ctx context.Context, instanceID, stepInstanceID string) (*TransitionResult, error) {
	return e.resolveAndTransition(ctx, instanceID, stepInstanceID, stepflow.StepStatusCompleted)
}

// resolveAndTransition is the dependency-gated transition shared by Advance
// and Complete. The predecessor check, the transition and any cascade run
// in one transaction under row locks.
func (e *Engine) resolveAndTransition(ctx context.Context, instanceID, stepInstanceID string, target stepflow.StepInstanceStatus) (*TransitionResult, error) {
	instID, err := parseID("instance", instanceID)
	if err != nil {
		return nil, err
	}
	siID, err := parseID("step instance", stepInstanceID)
	if err != nil {
		return nil, err
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
		if si.Status == target {
			result = &TransitionResult{StepInstance: si, Changed: false, PreviousStatus: si.Status}
			return nil
		}

		blocking, err := e.blockingPredecessors(ctx, tx, inst, si)
		if err != nil {
			return err
		}
		if len(blocking) > 0 {
			return stepflow.NewDepNotReady(blocking)
		}

		if err := stepflow.ValidateTransition(si.Status, target); err != nil {
			return err
		}

		previous := si.Status
		now := e.now()
		if err := e.applyTransition(ctx, tx, si, target, now); err != nil {
			return err
		}
		if target == stepflow.StepStatusCompleted {
			if err := e.cascadeAfterCompletion(ctx, tx, inst, si, now); err != nil {
				return err
			}
		}
		result = &TransitionResult{StepInstance: si, Changed: true, PreviousStatus: previous}
		return nil
	})
	if err != nil {
		return nil, e.failTransaction(instID, "transition_step", err)
	}

	if result.Changed {
		e.afterTransition(ctx, result)
	}
	return result, nil
}

// blockingPredecessors returns the definition step IDs of predecessors not
// yet completed, sorted for stable payloads. An empty result means the step
// is dependency-clear.
func (e *Engine) blockingPredecessors(ctx context.Context, tx store.Store, inst *stepflow.WorkflowInstance, si *stepflow.StepInstance) ([]string, error) {
	steps, err := tx.ListSteps(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	edges, err := tx.ListDependencies(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	items, err := tx.ListStepInstances(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	graph := stepflow.NewDependencyGraph(steps, edges)
	statusByStep := make(map[string]stepflow.StepInstanceStatus, len(items))
	for _, item := range items {
		statusByStep[item.StepID] = item.Status
	}

	var blocking []string
	for _, predID := range graph.Predecessors(si.StepID) {
		if statusByStep[predID] != stepflow.StepStatusCompleted {
			blocking = append(blocking, predID)
		}
	}
	sort.Strings(blocking)
	return blocking, nil
}

// cascadeAfterCompletion promotes dependents of the just-completed step
// from blocked to ready once their remaining predecessors are all
// completed, then marks the instance completed when every step instance
// is. Runs inside the completion transaction.
func (e *Engine) cascadeAfterCompletion(ctx context.Context, tx store.Store, inst *stepflow.WorkflowInstance, completed *stepflow.StepInstance, now time.Time) error {
	steps, err := tx.ListSteps(ctx, inst.DefinitionID)
	if err != nil {
		return err
	}
	edges, err := tx.ListDependencies(ctx, inst.DefinitionID)
	if err != nil {
		return err
	}
	items, err := tx.ListStepInstances(ctx, inst.ID)
	if err != nil {
		return err
	}

	graph := stepflow.NewDependencyGraph(steps, edges)
	byStep := make(map[string]*stepflow.StepInstance, len(items))
	for _, item := range items {
		byStep[item.StepID] = item
	}

	for _, succID := range graph.Successors(completed.StepID) {
		dependent, exists := byStep[succID]
		if !exists || dependent.Status != stepflow.StepStatusBlocked {
			continue
		}
		satisfied := true
		for _, predID := range graph.Predecessors(succID) {
			pred, exists := byStep[predID]
			if !exists || pred.Status != stepflow.StepStatusCompleted {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		dependent.Status = stepflow.StepStatusReady
		dependent.UpdatedAt = now
		if err := tx.UpdateStepInstance(ctx, dependent); err != nil {
			return err
		}
		stepflow.LogStepUnblocked(e.logger, inst.ID, dependent.ID)
	}

	for _, item := range byStep {
		if item.Status != stepflow.StepStatusCompleted {
			return nil
		}
	}

	inst.Status = stepflow.InstanceStatusCompleted
	inst.CompletedAt = &now
	inst.UpdatedAt = now
	if err := tx.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	stepflow.LogInstanceCompleted(e.logger, inst.ID)
	return nil
}
