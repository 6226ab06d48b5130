package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow"
)

func TestGetProgress_FreshInstance(t *testing.T) {
	eng, _ := newTestEngine(t)

	f := startFixture(t, eng, []string{"A", "B", "C"}, [][2]string{
		{"A", "B"},
		{"B", "C"},
	})

	progress, err := eng.GetProgress(context.Background(), f.instance.ID)
	require.NoError(t, err)

	assert.Equal(t, f.instance.ID, progress.InstanceID)
	assert.Equal(t, stepflow.InstanceStatusRunning, progress.Status)
	require.Len(t, progress.Steps, 3)

	rows := make(map[string]*StepProgress, 3)
	for _, row := range progress.Steps {
		rows[row.Name] = row
	}

	a := rows["A"]
	assert.True(t, a.IsReady)
	assert.False(t, a.IsBlocked)
	assert.Empty(t, a.BlockedBy)
	require.NotNil(t, a.StepInstanceID)

	b := rows["B"]
	assert.True(t, b.IsBlocked)
	assert.Equal(t, []string{f.stepsByName["A"].ID}, b.BlockedBy)

	c := rows["C"]
	assert.True(t, c.IsBlocked)
	assert.Equal(t, []string{f.stepsByName["B"].ID}, c.BlockedBy)

	assert.Equal(t, &Summary{Total: 3, Running: 1, Pending: 2}, progress.Summary)
}

func TestGetProgress_StepsOrderedBySequence(t *testing.T) {
	eng, _ := newTestEngine(t)

	f := startFixture(t, eng, []string{"A", "B", "C"}, nil)

	progress, err := eng.GetProgress(context.Background(), f.instance.ID)
	require.NoError(t, err)

	for i, name := range []string{"A", "B", "C"} {
		assert.Equal(t, name, progress.Steps[i].Name)
		assert.Equal(t, i+1, progress.Steps[i].Index)
	}
}

func TestGetProgress_AfterPartialRun(t *testing.T) {
	eng, _ := newTestEngine(t)

	f := startFixture(t, eng, []string{"A", "B", "C"}, [][2]string{
		{"A", "B"},
		{"B", "C"},
	})
	f.run(t, eng, "A")

	progress, err := eng.GetProgress(context.Background(), f.instance.ID)
	require.NoError(t, err)

	rows := make(map[string]*StepProgress, 3)
	for _, row := range progress.Steps {
		rows[row.Name] = row
	}

	a := rows["A"]
	assert.Equal(t, stepflow.StepStatusCompleted, a.Status)
	assert.True(t, a.IsTerminal)
	assert.False(t, a.IsBlocked)
	require.NotNil(t, a.CompletedAt)

	b := rows["B"]
	assert.Equal(t, stepflow.StepStatusReady, b.Status)
	assert.True(t, b.IsReady)
	assert.Empty(t, b.BlockedBy)

	assert.Equal(t, &Summary{Total: 3, Completed: 1, Running: 1, Pending: 1}, progress.Summary)
}

func TestGetProgress_TerminalStepNeverBlocked(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	f := startFixture(t, eng, []string{"A", "B"}, [][2]string{{"A", "B"}})

	// B is terminal while its predecessor is incomplete: blockedBy is still
	// reported but isBlocked is not.
	_, err := eng.RequestTransition(ctx, f.instance.ID, f.stepInstances["B"].ID, "skipped")
	require.NoError(t, err)

	progress, err := eng.GetProgress(ctx, f.instance.ID)
	require.NoError(t, err)

	var b *StepProgress
	for _, row := range progress.Steps {
		if row.Name == "B" {
			b = row
		}
	}
	require.NotNil(t, b)
	assert.True(t, b.IsTerminal)
	assert.False(t, b.IsBlocked)
	assert.NotEmpty(t, b.BlockedBy)
}

func TestGetProgress_CancelledAndFailedCountTowardTotalOnly(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	f := startFixture(t, eng, []string{"A", "B", "C"}, nil)

	_, err := eng.RequestTransition(ctx, f.instance.ID, f.stepInstances["A"].ID, "cancelled")
	require.NoError(t, err)
	_, err = eng.RequestTransition(ctx, f.instance.ID, f.stepInstances["B"].ID, "in_progress")
	require.NoError(t, err)
	_, err = eng.RequestTransition(ctx, f.instance.ID, f.stepInstances["B"].ID, "failed")
	require.NoError(t, err)

	progress, err := eng.GetProgress(ctx, f.instance.ID)
	require.NoError(t, err)

	assert.Equal(t, &Summary{Total: 3, Pending: 1}, progress.Summary)
}

func TestGetProgress_StepAddedAfterStart(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	f := startFixture(t, eng, []string{"A", "B"}, [][2]string{{"A", "B"}})

	// Authoring a step after the instance started leaves it without a
	// step instance; the read model must still report it.
	added, err := eng.AddStep(ctx, f.definition.ID, StepInput{
		Sequence: 3,
		Name:     "C",
		Type:     "task",
	})
	require.NoError(t, err)

	progress, err := eng.GetProgress(ctx, f.instance.ID)
	require.NoError(t, err)
	require.Len(t, progress.Steps, 3)

	row := progress.Steps[2]
	assert.Equal(t, added.ID, row.DefinitionStepID)
	assert.Nil(t, row.StepInstanceID)
	assert.Equal(t, stepflow.StepStatusPending, row.Status)
	assert.Empty(t, row.BlockedBy)
	assert.False(t, row.IsBlocked)
	assert.False(t, row.IsReady)
	assert.False(t, row.IsTerminal)
	assert.Nil(t, row.UpdatedAt)
	assert.Nil(t, row.CompletedAt)

	assert.Equal(t, &Summary{Total: 3, Running: 1, Pending: 2}, progress.Summary)

	// Only materialized steps gate closure, so finishing A and B still
	// completes the instance.
	f.run(t, eng, "A")
	f.run(t, eng, "B")

	detail, err := eng.GetInstance(ctx, f.instance.ID)
	require.NoError(t, err)
	assert.Equal(t, stepflow.InstanceStatusCompleted, detail.Instance.Status)
	assert.Equal(t, &Summary{Total: 3, Completed: 2, Pending: 1}, detail.Summary)
}

func TestGetProgress_UnknownInstance(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.GetProgress(context.Background(), "11111111-2222-3333-4444-555555555555")
	assert.True(t, stepflow.IsNotFound(err))
}
