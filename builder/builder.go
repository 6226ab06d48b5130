// Package builder provides a fluent API for authoring workflow
// definitions, used by the seed tool and tests.
package builder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/engine"
)

// stepSpec is one pending step registration
type stepSpec struct {
	name            string
	stepType        stepflow.StepType
	assignee        string
	durationMinutes *int
	properties      json.RawMessage
}

// StepOption configures a step registration
type StepOption func(*stepSpec)

// WithType sets the step type (default task)
func WithType(t stepflow.StepType) StepOption {
	return func(s *stepSpec) {
		s.stepType = t
	}
}

// WithAssignee sets the default assignee
func WithAssignee(assignee string) StepOption {
	return func(s *stepSpec) {
		s.assignee = assignee
	}
}

// WithDuration sets the expected duration in minutes
func WithDuration(minutes int) StepOption {
	return func(s *stepSpec) {
		s.durationMinutes = stepflow.ToPtr(minutes)
	}
}

// WithProperties sets free-form step properties
func WithProperties(raw json.RawMessage) StepOption {
	return func(s *stepSpec) {
		s.properties = raw
	}
}

// DefinitionBuilder assembles a definition, its steps and its dependency
// edges, then applies them through the engine's authoring operations.
// Steps are sequenced in registration order.
type DefinitionBuilder struct {
	name        string
	description string
	version     int
	steps       []*stepSpec
	edges       [][2]string // predecessor name -> successor name
	lastNames   []string
}

// NewDefinition creates a new definition builder
func NewDefinition(name string) *DefinitionBuilder {
	return &DefinitionBuilder{name: name, version: 1}
}

// WithDescription sets the definition description
func (b *DefinitionBuilder) WithDescription(description string) *DefinitionBuilder {
	b.description = description
	return b
}

// WithVersion sets the definition version
func (b *DefinitionBuilder) WithVersion(version int) *DefinitionBuilder {
	b.version = version
	return b
}

// Then registers a step chained after the previously added step(s)
func (b *DefinitionBuilder) Then(name string, opts ...StepOption) *DefinitionBuilder {
	previous := b.lastNames
	b.register(name, opts...)
	for _, last := range previous {
		b.edges = append(b.edges, [2]string{last, name})
	}
	b.lastNames = []string{name}
	return b
}

// Parallel registers steps that all follow the previously added step(s)
// and are unordered among themselves
func (b *DefinitionBuilder) Parallel(names ...string) *DefinitionBuilder {
	previous := b.lastNames
	var added []string
	for _, name := range names {
		b.register(name)
		for _, last := range previous {
			b.edges = append(b.edges, [2]string{last, name})
		}
		added = append(added, name)
	}
	b.lastNames = added
	return b
}

// DependsOn declares explicit extra edges from the named predecessors to
// the successor. All steps must already be registered.
func (b *DefinitionBuilder) DependsOn(successor string, predecessors ...string) *DefinitionBuilder {
	for _, pred := range predecessors {
		b.edges = append(b.edges, [2]string{pred, successor})
	}
	return b
}

func (b *DefinitionBuilder) register(name string, opts ...StepOption) {
	spec := &stepSpec{name: name, stepType: stepflow.StepTypeTask}
	for _, opt := range opts {
		opt(spec)
	}
	b.steps = append(b.steps, spec)
}

// Apply creates the definition, steps and edges through the engine and
// returns the stored result.
func (b *DefinitionBuilder) Apply(ctx context.Context, eng *engine.Engine) (*engine.DefinitionDetail, error) {
	def, err := eng.CreateDefinition(ctx, engine.CreateDefinitionInput{
		Name:        b.name,
		Description: b.description,
		Version:     b.version,
		Status:      stepflow.DefinitionStatusActive.String(),
	})
	if err != nil {
		return nil, err
	}

	idByName := make(map[string]string, len(b.steps))
	for i, spec := range b.steps {
		if _, exists := idByName[spec.name]; exists {
			return nil, fmt.Errorf("duplicate step name %q", spec.name)
		}
		step, err := eng.AddStep(ctx, def.ID, engine.StepInput{
			Sequence:        i + 1,
			Name:            spec.name,
			Type:            spec.stepType.String(),
			Assignee:        spec.assignee,
			DurationMinutes: spec.durationMinutes,
			Properties:      spec.properties,
		})
		if err != nil {
			return nil, err
		}
		idByName[spec.name] = step.ID
	}

	for _, edge := range b.edges {
		predID, exists := idByName[edge[0]]
		if !exists {
			return nil, fmt.Errorf("unknown predecessor step %q", edge[0])
		}
		succID, exists := idByName[edge[1]]
		if !exists {
			return nil, fmt.Errorf("unknown successor step %q", edge[1])
		}
		if _, err := eng.AddDependency(ctx, engine.DependencyInput{
			PredecessorID: predID,
			SuccessorID:   succID,
		}); err != nil {
			return nil, err
		}
	}

	return eng.GetDefinition(ctx, def.ID)
}
