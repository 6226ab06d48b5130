// Package store defines the persistence interface for the workflow
// execution core and provides a Postgres implementation (the system of
// record) plus an in-memory implementation used by tests and examples.
package store

import (
	"context"

	"github.com/stepflow-io/stepflow"
)

// Store is the persistence interface for definitions, instances and step
// instances. Implementations return the typed stepflow error taxonomy:
// NotFound for missing rows, BadRequest for constraint conflicts the caller
// can fix, InternalError for everything else.
type Store interface {
	// Workflow definitions
	CreateDefinition(ctx context.Context, def *stepflow.WorkflowDefinition) error
	GetDefinition(ctx context.Context, id string) (*stepflow.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*stepflow.WorkflowDefinition, error)
	UpdateDefinition(ctx context.Context, def *stepflow.WorkflowDefinition) error
	// DeleteDefinition cascades to the definition's steps and their edges.
	// It fails if any instance references the definition.
	DeleteDefinition(ctx context.Context, id string) error

	// Definition steps
	CreateStep(ctx context.Context, step *stepflow.WorkflowStep) error
	GetStep(ctx context.Context, id string) (*stepflow.WorkflowStep, error)
	// ListSteps returns the definition's steps ordered by sequence.
	ListSteps(ctx context.Context, definitionID string) ([]*stepflow.WorkflowStep, error)
	UpdateStep(ctx context.Context, step *stepflow.WorkflowStep) error
	// DeleteStep cascades to edges touching the step. It fails if any step
	// instance references the step template.
	DeleteStep(ctx context.Context, id string) error

	// Dependency edges
	// CreateDependency is idempotent on the (predecessor, successor) pair:
	// inserting a duplicate returns the existing edge unchanged.
	CreateDependency(ctx context.Context, dep *stepflow.StepDependency) (*stepflow.StepDependency, error)
	GetDependency(ctx context.Context, id string) (*stepflow.StepDependency, error)
	// ListDependencies returns all edges between steps of the definition.
	ListDependencies(ctx context.Context, definitionID string) ([]*stepflow.StepDependency, error)
	DeleteDependency(ctx context.Context, id string) error

	// Workflow instances
	CreateInstance(ctx context.Context, inst *stepflow.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (*stepflow.WorkflowInstance, error)
	// GetInstanceForUpdate locks the instance row for the remainder of the
	// surrounding transaction. Outside a transaction it behaves like
	// GetInstance.
	GetInstanceForUpdate(ctx context.Context, id string) (*stepflow.WorkflowInstance, error)
	// ListInstances pages in (updated_at desc, id desc) order. A row sorts
	// into the page when its key is strictly below filter.After.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*stepflow.WorkflowInstance, error)
	UpdateInstance(ctx context.Context, inst *stepflow.WorkflowInstance) error

	// Step instances
	CreateStepInstances(ctx context.Context, items []*stepflow.StepInstance) error
	GetStepInstance(ctx context.Context, instanceID, stepInstanceID string) (*stepflow.StepInstance, error)
	// GetStepInstanceForUpdate locks the step instance row for the remainder
	// of the surrounding transaction, protecting read-validate-write
	// transitions against lost updates.
	GetStepInstanceForUpdate(ctx context.Context, instanceID, stepInstanceID string) (*stepflow.StepInstance, error)
	ListStepInstances(ctx context.Context, instanceID string) ([]*stepflow.StepInstance, error)
	UpdateStepInstance(ctx context.Context, si *stepflow.StepInstance) error

	// Transact runs fn inside a single transaction. Every multi-row write
	// (seed-on-start, complete+cascade, cancel) goes through here so readers
	// never observe a partial mutation. fn receives a transaction-bound
	// Store; a nested Transact on that store joins the open transaction.
	Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// DefinitionFilter defines filtering criteria for workflow definitions
type DefinitionFilter struct {
	Status *stepflow.DefinitionStatus
}

// InstanceFilter defines filtering and paging criteria for workflow
// instances. Limit must already be validated by the caller.
type InstanceFilter struct {
	DefinitionID string
	Status       *stepflow.InstanceStatus
	Limit        int
	After        *stepflow.ListCursor
}
