package engine

import (
	"context"
	"encoding/json"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/store"
)

// CreateDefinitionInput is the authoring payload for a workflow definition
type CreateDefinitionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     int    `json:"version"`
	Status      string `json:"status"`
}

// UpdateDefinitionInput is a partial update; nil fields are left unchanged
type UpdateDefinitionInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Version     *int    `json:"version"`
	Status      *string `json:"status"`
}

// StepInput is the authoring payload for a definition step
type StepInput struct {
	Sequence        int             `json:"sequence"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Assignee        string          `json:"assignee"`
	DurationMinutes *int            `json:"durationMinutes"`
	Properties      json.RawMessage `json:"properties"`
}

// UpdateStepInput is a partial update; nil fields are left unchanged
type UpdateStepInput struct {
	Sequence        *int            `json:"sequence"`
	Name            *string         `json:"name"`
	Type            *string         `json:"type"`
	Assignee        *string         `json:"assignee"`
	DurationMinutes *int            `json:"durationMinutes"`
	Properties      json.RawMessage `json:"properties"`
}

// DependencyInput declares a precedence edge between two steps of the same
// definition
type DependencyInput struct {
	PredecessorID string `json:"predecessorId"`
	SuccessorID   string `json:"successorId"`
	Type          string `json:"dependencyType"`
}

// DefinitionDetail is a definition with its ordered steps and all edges
// touching those steps
type DefinitionDetail struct {
	Definition   *stepflow.WorkflowDefinition `json:"definition"`
	Steps        []*stepflow.WorkflowStep     `json:"steps"`
	Dependencies []*stepflow.StepDependency   `json:"dependencies"`
}

// CreateDefinition creates a workflow definition
func (e *Engine) CreateDefinition(ctx context.Context, in CreateDefinitionInput) (*stepflow.WorkflowDefinition, error) {
	if in.Name == "" {
		return nil, stepflow.NewBadRequest("definition name is required")
	}
	status := stepflow.DefinitionStatusDraft
	if in.Status != "" {
		status = stepflow.DefinitionStatus(in.Status)
		if !status.Valid() {
			return nil, stepflow.NewBadRequest("invalid definition status %q", in.Status)
		}
	}
	version := in.Version
	if version == 0 {
		version = 1
	}
	if version < 0 {
		return nil, stepflow.NewBadRequest("definition version must be positive")
	}

	now := e.now()
	def := &stepflow.WorkflowDefinition{
		ID:          newID(),
		Name:        in.Name,
		Description: in.Description,
		Version:     version,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// GetDefinition returns a definition with its ordered steps and edges
func (e *Engine) GetDefinition(ctx context.Context, definitionID string) (*DefinitionDetail, error) {
	id, err := parseID("definition", definitionID)
	if err != nil {
		return nil, err
	}
	def, err := e.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	deps, err := e.store.ListDependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DefinitionDetail{Definition: def, Steps: steps, Dependencies: deps}, nil
}

// ListDefinitions returns all definitions, optionally filtered by status
func (e *Engine) ListDefinitions(ctx context.Context, status string) ([]*stepflow.WorkflowDefinition, error) {
	var filter store.DefinitionFilter
	if status != "" {
		s := stepflow.DefinitionStatus(status)
		if !s.Valid() {
			return nil, stepflow.NewBadRequest("invalid definition status %q", status)
		}
		filter.Status = &s
	}
	return e.store.ListDefinitions(ctx, filter)
}

// UpdateDefinition applies a partial update to a definition
func (e *Engine) UpdateDefinition(ctx context.Context, definitionID string, in UpdateDefinitionInput) (*stepflow.WorkflowDefinition, error) {
	id, err := parseID("definition", definitionID)
	if err != nil {
		return nil, err
	}
	def, err := e.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		if *in.Name == "" {
			return nil, stepflow.NewBadRequest("definition name is required")
		}
		def.Name = *in.Name
	}
	if in.Description != nil {
		def.Description = *in.Description
	}
	if in.Version != nil {
		if *in.Version <= 0 {
			return nil, stepflow.NewBadRequest("definition version must be positive")
		}
		def.Version = *in.Version
	}
	if in.Status != nil {
		status := stepflow.DefinitionStatus(*in.Status)
		if !status.Valid() {
			return nil, stepflow.NewBadRequest("invalid definition status %q", *in.Status)
		}
		def.Status = status
	}
	def.UpdatedAt = e.now()
	if err := e.store.UpdateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// DeleteDefinition removes a definition, cascading to its steps and edges.
// Definitions referenced by instances cannot be deleted.
func (e *Engine) DeleteDefinition(ctx context.Context, definitionID string) error {
	id, err := parseID("definition", definitionID)
	if err != nil {
		return err
	}
	return e.store.DeleteDefinition(ctx, id)
}

// AddStep appends a step template to a definition
func (e *Engine) AddStep(ctx context.Context, definitionID string, in StepInput) (*stepflow.WorkflowStep, error) {
	id, err := parseID("definition", definitionID)
	if err != nil {
		return nil, err
	}
	if in.Name == "" {
		return nil, stepflow.NewBadRequest("step name is required")
	}
	if in.Sequence <= 0 {
		return nil, stepflow.NewBadRequest("step sequence must be positive")
	}
	stepType := stepflow.StepTypeTask
	if in.Type != "" {
		stepType = stepflow.StepType(in.Type)
		if !stepType.Valid() {
			return nil, stepflow.NewBadRequest("invalid step type %q", in.Type)
		}
	}
	if _, err := e.store.GetDefinition(ctx, id); err != nil {
		return nil, err
	}

	now := e.now()
	step := &stepflow.WorkflowStep{
		ID:              newID(),
		DefinitionID:    id,
		Sequence:        in.Sequence,
		Name:            in.Name,
		Type:            stepType,
		Assignee:        in.Assignee,
		DurationMinutes: in.DurationMinutes,
		Properties:      in.Properties,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.CreateStep(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

// UpdateStep applies a partial update to a step template
func (e *Engine) UpdateStep(ctx context.Context, stepID string, in UpdateStepInput) (*stepflow.WorkflowStep, error) {
	id, err := parseID("step", stepID)
	if err != nil {
		return nil, err
	}
	step, err := e.store.GetStep(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Sequence != nil {
		if *in.Sequence <= 0 {
			return nil, stepflow.NewBadRequest("step sequence must be positive")
		}
		step.Sequence = *in.Sequence
	}
	if in.Name != nil {
		if *in.Name == "" {
			return nil, stepflow.NewBadRequest("step name is required")
		}
		step.Name = *in.Name
	}
	if in.Type != nil {
		stepType := stepflow.StepType(*in.Type)
		if !stepType.Valid() {
			return nil, stepflow.NewBadRequest("invalid step type %q", *in.Type)
		}
		step.Type = stepType
	}
	if in.Assignee != nil {
		step.Assignee = *in.Assignee
	}
	if in.DurationMinutes != nil {
		step.DurationMinutes = in.DurationMinutes
	}
	if in.Properties != nil {
		step.Properties = in.Properties
	}
	step.UpdatedAt = e.now()
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

// DeleteStep removes a step template, cascading to edges touching it.
// Steps referenced by live step instances cannot be deleted.
func (e *Engine) DeleteStep(ctx context.Context, stepID string) error {
	id, err := parseID("step", stepID)
	if err != nil {
		return err
	}
	return e.store.DeleteStep(ctx, id)
}

// AddDependency declares a precedence edge between two steps of the same
// definition. Duplicate pairs are idempotent; edges that would close a
// directed cycle are rejected.
func (e *Engine) AddDependency(ctx context.Context, in DependencyInput) (*stepflow.StepDependency, error) {
	predID, err := parseID("predecessor step", in.PredecessorID)
	if err != nil {
		return nil, err
	}
	succID, err := parseID("successor step", in.SuccessorID)
	if err != nil {
		return nil, err
	}
	depType := stepflow.DependencyFinishToStart
	if in.Type != "" {
		depType = stepflow.DependencyType(in.Type)
		if !depType.Valid() {
			return nil, stepflow.NewBadRequest("invalid dependency type %q", in.Type)
		}
	}

	pred, err := e.store.GetStep(ctx, predID)
	if err != nil {
		return nil, err
	}
	succ, err := e.store.GetStep(ctx, succID)
	if err != nil {
		return nil, err
	}
	if pred.DefinitionID != succ.DefinitionID {
		return nil, stepflow.NewBadRequest("dependency steps belong to different definitions")
	}

	steps, err := e.store.ListSteps(ctx, pred.DefinitionID)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.ListDependencies(ctx, pred.DefinitionID)
	if err != nil {
		return nil, err
	}
	graph := stepflow.NewDependencyGraph(steps, edges)
	if graph.WouldCycle(predID, succID) {
		return nil, stepflow.NewBadRequest("dependency %s -> %s would create a cycle", predID, succID)
	}

	return e.store.CreateDependency(ctx, &stepflow.StepDependency{
		ID:            newID(),
		PredecessorID: predID,
		SuccessorID:   succID,
		Type:          depType,
		CreatedAt:     e.now(),
	})
}

// DeleteDependency removes a precedence edge
func (e *Engine) DeleteDependency(ctx context.Context, dependencyID string) error {
	id, err := parseID("dependency", dependencyID)
	if err != nil {
		return err
	}
	return e.store.DeleteDependency(ctx, id)
}
