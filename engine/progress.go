package engine

import (
	"context"
	"sort"
	"time"

	"github.com/stepflow-io/stepflow"
)

// StepProgress is the read-model row for one definition step within an
// instance. Steps without a materialized step instance report pending with
// a nil StepInstanceID.
type StepProgress struct {
	DefinitionStepID string                      `json:"definitionStepId"`
	StepInstanceID   *string                     `json:"stepInstanceId"`
	Name             string                      `json:"name"`
	Type             stepflow.StepType           `json:"type"`
	Index            int                         `json:"index"`
	Status           stepflow.StepInstanceStatus `json:"status"`
	BlockedBy        []string                    `json:"blockedBy"`
	IsBlocked        bool                        `json:"isBlocked"`
	IsReady          bool                        `json:"isReady"`
	IsTerminal       bool                        `json:"isTerminal"`
	UpdatedAt        *time.Time                  `json:"updatedAt"`
	CompletedAt      *time.Time                  `json:"completedAt"`
}

// Summary buckets an instance's step statuses: running covers in_progress
// and ready, pending covers pending, blocked and skipped. Cancelled and
// failed steps count toward total only.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Running   int `json:"running"`
	Pending   int `json:"pending"`
}

// Progress is the full read-model for one instance, ordered by definition
// order.
type Progress struct {
	InstanceID string                  `json:"instanceId"`
	Status     stepflow.InstanceStatus `json:"status"`
	Steps      []*StepProgress         `json:"steps"`
	Summary    *Summary                `json:"summary"`
}

// GetProgress computes the per-step readiness view and summary counts for
// an instance. It is a pure read and tolerates steps that have not yet
// materialized a step instance.
func (e *Engine) GetProgress(ctx context.Context, instanceID string) (*Progress, error) {
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
	edges, err := e.store.ListDependencies(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListStepInstances(ctx, id)
	if err != nil {
		return nil, err
	}

	graph := stepflow.NewDependencyGraph(steps, edges)
	byStep := make(map[string]*stepflow.StepInstance, len(items))
	for _, item := range items {
		byStep[item.StepID] = item
	}

	rows := make([]*StepProgress, 0, len(steps))
	for _, step := range steps {
		row := &StepProgress{
			DefinitionStepID: step.ID,
			Name:             step.Name,
			Type:             step.Type,
			Index:            step.Sequence,
			Status:           stepflow.StepStatusPending,
			BlockedBy:        []string{},
		}
		if si, exists := byStep[step.ID]; exists {
			row.StepInstanceID = stepflow.ToPtr(si.ID)
			row.Status = si.Status
			row.UpdatedAt = stepflow.ToPtr(si.UpdatedAt)
			row.CompletedAt = si.CompletedAt
		}
		for _, predID := range graph.Predecessors(step.ID) {
			pred, exists := byStep[predID]
			if !exists || pred.Status != stepflow.StepStatusCompleted {
				row.BlockedBy = append(row.BlockedBy, predID)
			}
		}
		sort.Strings(row.BlockedBy)
		row.IsTerminal = row.Status.IsTerminal()
		row.IsBlocked = len(row.BlockedBy) > 0 && !row.IsTerminal
		row.IsReady = row.Status == stepflow.StepStatusReady
		rows = append(rows, row)
	}

	return &Progress{
		InstanceID: inst.ID,
		Status:     inst.Status,
		Steps:      rows,
		Summary:    summarize(steps, items),
	}, nil
}

// summarize computes instance-level counts over the definition's steps.
// Steps without a step instance count as pending.
func summarize(steps []*stepflow.WorkflowStep, items []*stepflow.StepInstance) *Summary {
	s := &Summary{Total: len(steps)}
	materialized := 0
	for _, item := range items {
		materialized++
		switch item.Status {
		case stepflow.StepStatusCompleted:
			s.Completed++
		case stepflow.StepStatusInProgress, stepflow.StepStatusReady:
			s.Running++
		case stepflow.StepStatusPending, stepflow.StepStatusBlocked, stepflow.StepStatusSkipped:
			s.Pending++
		}
	}
	if missing := len(steps) - materialized; missing > 0 {
		s.Pending += missing
	}
	return s
}
