package stepflow

import (
	"encoding/json"
	"time"
)

// DefinitionStatus represents the authoring state of a workflow definition
type DefinitionStatus string

const (
	DefinitionStatusDraft     DefinitionStatus = "draft"
	DefinitionStatusActive    DefinitionStatus = "active"
	DefinitionStatusPaused    DefinitionStatus = "paused"
	DefinitionStatusCompleted DefinitionStatus = "completed"
	DefinitionStatusArchived  DefinitionStatus = "archived"
)

// String returns the string representation
func (s DefinitionStatus) String() string {
	return string(s)
}

// Valid reports whether the value is a known definition status
func (s DefinitionStatus) Valid() bool {
	switch s {
	case DefinitionStatusDraft, DefinitionStatusActive, DefinitionStatusPaused,
		DefinitionStatusCompleted, DefinitionStatusArchived:
		return true
	}
	return false
}

// StepType classifies a definition-time step template
type StepType string

const (
	StepTypeTask         StepType = "task"
	StepTypeApproval     StepType = "approval"
	StepTypeNotification StepType = "notification"
	StepTypeConditional  StepType = "conditional"
	StepTypeTimer        StepType = "timer"
)

// String returns the string representation
func (t StepType) String() string {
	return string(t)
}

// Valid reports whether the value is a known step type
func (t StepType) Valid() bool {
	switch t {
	case StepTypeTask, StepTypeApproval, StepTypeNotification,
		StepTypeConditional, StepTypeTimer:
		return true
	}
	return false
}

// DependencyType classifies the precedence semantics of a dependency edge.
// All four kinds are stored and reported, but resolution applies
// finish_to_start gating throughout.
type DependencyType string

const (
	DependencyFinishToStart  DependencyType = "finish_to_start"
	DependencyStartToStart   DependencyType = "start_to_start"
	DependencyFinishToFinish DependencyType = "finish_to_finish"
	DependencyStartToFinish  DependencyType = "start_to_finish"
)

// String returns the string representation
func (t DependencyType) String() string {
	return string(t)
}

// Valid reports whether the value is a known dependency type
func (t DependencyType) Valid() bool {
	switch t {
	case DependencyFinishToStart, DependencyStartToStart,
		DependencyFinishToFinish, DependencyStartToFinish:
		return true
	}
	return false
}

// InstanceStatus represents the current state of a workflow instance
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusPaused    InstanceStatus = "paused"
)

// IsTerminal returns true if the status is a final state
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled || s == InstanceStatusFailed
}

// String returns the string representation
func (s InstanceStatus) String() string {
	return string(s)
}

// Valid reports whether the value is a known instance status
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceStatusPending, InstanceStatusRunning, InstanceStatusCompleted,
		InstanceStatusCancelled, InstanceStatusFailed, InstanceStatusPaused:
		return true
	}
	return false
}

// StepInstanceStatus represents the current state of a step instance
type StepInstanceStatus string

const (
	StepStatusPending    StepInstanceStatus = "pending"
	StepStatusReady      StepInstanceStatus = "ready"
	StepStatusBlocked    StepInstanceStatus = "blocked"
	StepStatusInProgress StepInstanceStatus = "in_progress"
	StepStatusCompleted  StepInstanceStatus = "completed"
	StepStatusCancelled  StepInstanceStatus = "cancelled"
	StepStatusFailed     StepInstanceStatus = "failed"
	StepStatusSkipped    StepInstanceStatus = "skipped"
)

// IsTerminal returns true if the status is a final state
func (s StepInstanceStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusCancelled, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// String returns the string representation
func (s StepInstanceStatus) String() string {
	return string(s)
}

// Valid reports whether the value is a known step instance status
func (s StepInstanceStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusReady, StepStatusBlocked, StepStatusInProgress,
		StepStatusCompleted, StepStatusCancelled, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// WorkflowDefinition is a reusable template of steps and dependency edges
type WorkflowDefinition struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Version     int              `json:"version"`
	Status      DefinitionStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// WorkflowStep is a definition-time step template. Sequence is unique within
// a definition and fixes the display order.
type WorkflowStep struct {
	ID              string          `json:"id"`
	DefinitionID    string          `json:"definitionId"`
	Sequence        int             `json:"sequence"`
	Name            string          `json:"name"`
	Type            StepType        `json:"type"`
	Assignee        string          `json:"assignee,omitempty"`
	DurationMinutes *int            `json:"durationMinutes,omitempty"`
	Properties      json.RawMessage `json:"properties,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StepDependency is a directed precedence edge between two steps of the
// same definition
type StepDependency struct {
	ID            string         `json:"id"`
	PredecessorID string         `json:"predecessorId"`
	SuccessorID   string         `json:"successorId"`
	Type          DependencyType `json:"dependencyType"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// WorkflowInstance is one execution run of a workflow definition
type WorkflowInstance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definitionId"`
	Status       InstanceStatus `json:"status"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// StepInstance is the runtime record tracking one step's status within one
// workflow instance. Exactly one exists per (instance, step) pair.
type StepInstance struct {
	ID          string             `json:"id"`
	InstanceID  string             `json:"workflowInstanceId"`
	StepID      string             `json:"stepId"`
	Status      StepInstanceStatus `json:"status"`
	AssignedTo  string             `json:"assignedTo,omitempty"`
	StartedAt   *time.Time         `json:"startedAt,omitempty"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}
