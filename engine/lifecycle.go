package engine

import (
	"context"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/event"
	"github.com/stepflow-io/stepflow/store"
)

// InstanceDetail is an instance together with its computed summary
type InstanceDetail struct {
	Instance *stepflow.WorkflowInstance `json:"instance"`
	Summary  *Summary                   `json:"summary"`
}

// ListInstancesQuery filters and pages the instance listing. Zero values
// mean "no filter"; a zero Limit defaults to DefaultPageSize.
type ListInstancesQuery struct {
	DefinitionID string
	Status       string
	Cursor       string
	Limit        int
}

// InstancePage is one page of instances in (updatedAt desc, id desc)
// order. NextCursor is set only when the page is full.
type InstancePage struct {
	Items      []*stepflow.WorkflowInstance `json:"items"`
	NextCursor string                       `json:"nextCursor,omitempty"`
}

// Page size bounds for instance listing
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// StartInstance instantiates a definition: one WorkflowInstance plus one
// StepInstance per step, seeded ready when the step has no inbound edges
// and blocked otherwise. For definitions declaring no edges, implicit
// finish_to_start edges between consecutive sequence values are persisted
// first, so dependency resolution only ever sees explicit edges. The whole
// seed runs in one transaction; partial seeding is never observable.
func (e *Engine) StartInstance(ctx context.Context, definitionID string) (*stepflow.WorkflowInstance, error) {
	id, err := parseID("definition", definitionID)
	if err != nil {
		return nil, err
	}

	var (
		inst      *stepflow.WorkflowInstance
		stepCount int
	)
	err = e.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.GetDefinition(ctx, id); err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, id)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return stepflow.NewBadRequest("definition %s has no steps", id)
		}
		edges, err := tx.ListDependencies(ctx, id)
		if err != nil {
			return err
		}
		if len(edges) == 0 {
			edges, err = e.materializeSequenceEdges(ctx, tx, steps)
			if err != nil {
				return err
			}
		}
		graph := stepflow.NewDependencyGraph(steps, edges)

		now := e.now()
		inst = &stepflow.WorkflowInstance{
			ID:           newID(),
			DefinitionID: id,
			Status:       stepflow.InstanceStatusRunning,
			StartedAt:    &now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateInstance(ctx, inst); err != nil {
			return err
		}

		items := make([]*stepflow.StepInstance, 0, len(steps))
		for _, step := range steps {
			status := stepflow.StepStatusReady
			if graph.InboundCount(step.ID) > 0 {
				status = stepflow.StepStatusBlocked
			}
			items = append(items, &stepflow.StepInstance{
				ID:         newID(),
				InstanceID: inst.ID,
				StepID:     step.ID,
				Status:     status,
				AssignedTo: step.Assignee,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		stepCount = len(items)
		return tx.CreateStepInstances(ctx, items)
	})
	if err != nil {
		instID := ""
		if inst != nil {
			instID = inst.ID
		}
		return nil, e.failTransaction(instID, "start_instance", err)
	}

	stepflow.LogInstanceStarted(e.logger, inst.ID, inst.DefinitionID, stepCount)
	return inst, nil
}

// materializeSequenceEdges persists implicit finish_to_start edges for a
// definition that declares none of its own.
func (e *Engine) materializeSequenceEdges(ctx context.Context, tx store.Store, steps []*stepflow.WorkflowStep) ([]*stepflow.StepDependency, error) {
	synthesized := stepflow.SynthesizeSequenceEdges(steps)
	edges := make([]*stepflow.StepDependency, 0, len(synthesized))
	for _, dep := range synthesized {
		dep.ID = newID()
		dep.CreatedAt = e.now()
		created, err := tx.CreateDependency(ctx, dep)
		if err != nil {
			return nil, err
		}
		edges = append(edges, created)
	}
	return edges, nil
}

// CancelInstance cancels a non-terminal instance. Cancelling a terminal
// instance fails with InvalidTransition; cancellation is never a no-op.
func (e *Engine) CancelInstance(ctx context.Context, instanceID string) (*stepflow.WorkflowInstance, error) {
	id, err := parseID("instance", instanceID)
	if err != nil {
		return nil, err
	}

	var (
		inst     *stepflow.WorkflowInstance
		previous stepflow.InstanceStatus
	)
	err = e.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		inst, err = tx.GetInstanceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inst.Status.IsTerminal() {
			return stepflow.NewInstanceNotCancellable(inst.Status)
		}
		previous = inst.Status
		now := e.now()
		inst.Status = stepflow.InstanceStatusCancelled
		inst.CompletedAt = &now
		inst.UpdatedAt = now
		return tx.UpdateInstance(ctx, inst)
	})
	if err != nil {
		return nil, e.failTransaction(id, "cancel_instance", err)
	}

	stepflow.LogInstanceCancelled(e.logger, inst.ID)
	e.publish(ctx, event.Event{
		Type:           event.TypeInstanceCancelled,
		InstanceID:     inst.ID,
		Status:         inst.Status.String(),
		PreviousStatus: previous.String(),
		Timestamp:      e.now(),
	})
	return inst, nil
}

// GetInstance returns an instance with its computed summary
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*InstanceDetail, error) {
	id, err := parseID("instance", instanceID)
	if err != nil {
		return nil, err
	}
	inst, err := e.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.ListSteps(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListStepInstances(ctx, id)
	if err != nil {
		return nil, err
	}
	return &InstanceDetail{Instance: inst, Summary: summarize(steps, items)}, nil
}

// ListInstances pages instances by definition and status using seek
// pagination. A full page carries the cursor of its last row.
func (e *Engine) ListInstances(ctx context.Context, q ListInstancesQuery) (*InstancePage, error) {
	filter := store.InstanceFilter{Limit: DefaultPageSize}

	if q.DefinitionID != "" {
		id, err := parseID("definition", q.DefinitionID)
		if err != nil {
			return nil, err
		}
		filter.DefinitionID = id
	}
	if q.Status != "" {
		status := stepflow.InstanceStatus(q.Status)
		if !status.Valid() {
			return nil, stepflow.NewBadRequest("invalid instance status %q", q.Status)
		}
		filter.Status = &status
	}
	if q.Limit != 0 {
		if q.Limit < 0 || q.Limit > MaxPageSize {
			return nil, stepflow.NewBadRequest("limit must be between 1 and %d", MaxPageSize)
		}
		filter.Limit = q.Limit
	}
	if q.Cursor != "" {
		cursor, err := stepflow.DecodeListCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		filter.After = cursor
	}

	items, err := e.store.ListInstances(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &InstancePage{Items: items}
	if len(items) == filter.Limit {
		last := items[len(items)-1]
		page.NextCursor = stepflow.ListCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}
