package stepflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_AllowedEdges(t *testing.T) {
	allowed := [][2]StepInstanceStatus{
		{StepStatusPending, StepStatusReady},
		{StepStatusPending, StepStatusInProgress},
		{StepStatusPending, StepStatusBlocked},
		{StepStatusPending, StepStatusCancelled},
		{StepStatusPending, StepStatusSkipped},
		{StepStatusReady, StepStatusInProgress},
		{StepStatusReady, StepStatusBlocked},
		{StepStatusBlocked, StepStatusReady},
		{StepStatusBlocked, StepStatusInProgress},
		{StepStatusInProgress, StepStatusCompleted},
		{StepStatusInProgress, StepStatusFailed},
		{StepStatusInProgress, StepStatusBlocked},
		{StepStatusInProgress, StepStatusCancelled},
		{StepStatusInProgress, StepStatusSkipped},
	}

	for _, edge := range allowed {
		assert.True(t, CanTransition(edge[0], edge[1]),
			"%s -> %s should be allowed", edge[0], edge[1])
	}
}

func TestCanTransition_RejectedEdges(t *testing.T) {
	rejected := [][2]StepInstanceStatus{
		{StepStatusPending, StepStatusCompleted},
		{StepStatusPending, StepStatusFailed},
		{StepStatusReady, StepStatusCompleted},
		{StepStatusReady, StepStatusFailed},
		{StepStatusReady, StepStatusPending},
		{StepStatusBlocked, StepStatusCompleted},
		{StepStatusBlocked, StepStatusFailed},
		{StepStatusInProgress, StepStatusReady},
		{StepStatusInProgress, StepStatusPending},
	}

	for _, edge := range rejected {
		assert.False(t, CanTransition(edge[0], edge[1]),
			"%s -> %s should be rejected", edge[0], edge[1])
	}
}

func TestCanTransition_TerminalStatesHaveNoExits(t *testing.T) {
	terminals := []StepInstanceStatus{
		StepStatusCompleted, StepStatusCancelled, StepStatusFailed, StepStatusSkipped,
	}
	targets := []StepInstanceStatus{
		StepStatusPending, StepStatusReady, StepStatusBlocked, StepStatusInProgress,
		StepStatusCompleted, StepStatusCancelled, StepStatusFailed, StepStatusSkipped,
	}

	for _, from := range terminals {
		assert.Empty(t, AllowedTransitions(from))
		for _, to := range targets {
			assert.False(t, CanTransition(from, to),
				"terminal %s must not transition to %s", from, to)
		}
	}
}

func TestAllowedTransitions_ReturnsCopy(t *testing.T) {
	first := AllowedTransitions(StepStatusPending)
	require.NotEmpty(t, first)
	first[0] = StepStatusFailed

	second := AllowedTransitions(StepStatusPending)
	assert.NotEqual(t, StepStatusFailed, second[0])
}

func TestValidateTransition_Allowed(t *testing.T) {
	assert.NoError(t, ValidateTransition(StepStatusReady, StepStatusInProgress))
}

func TestValidateTransition_Rejected(t *testing.T) {
	err := ValidateTransition(StepStatusCompleted, StepStatusInProgress)
	require.Error(t, err)

	typed := AsError(err)
	require.NotNil(t, typed)
	assert.Equal(t, ErrCodeInvalidTransition, typed.Code)
	assert.Equal(t, "completed", typed.Details["from"])
	assert.Equal(t, "in_progress", typed.Details["to"])
	assert.Empty(t, typed.Details["allowed"])
}

func TestValidateTransition_ErrorCarriesAllowedTargets(t *testing.T) {
	err := ValidateTransition(StepStatusBlocked, StepStatusCompleted)
	require.Error(t, err)

	typed := AsError(err)
	require.NotNil(t, typed)
	allowed, valid := typed.Details["allowed"].([]string)
	require.True(t, valid)
	assert.Contains(t, allowed, "ready")
	assert.Contains(t, allowed, "in_progress")
	assert.NotContains(t, allowed, "completed")
}
