package engine

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/event"
	"github.com/stepflow-io/stepflow/store"
)

func TestStartInstance_SeedsReadyAndBlocked(t *testing.T) {
	eng, _ := newTestEngine(t)

	f := startFixture(t, eng, []string{"A", "B", "C"}, [][2]string{
		{"A", "B"},
		{"A", "C"},
	})

	assert.Equal(t, stepflow.InstanceStatusRunning, f.instance.Status)
	require.NotNil(t, f.instance.StartedAt)
	require.Len(t, f.stepInstances, 3)

	assert.Equal(t, stepflow.StepStatusReady, f.status(t, eng, "A"))
	assert.Equal(t, stepflow.StepStatusBlocked, f.status(t, eng, "B"))
	assert.Equal(t, stepflow.StepStatusBlocked, f.status(t, eng, "C"))
}

func TestStartInstance_SynthesizesSequenceEdges(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// No declared edges: consecutive sequences become finish_to_start edges
	f := startFixture(t, eng, []string{"first", "second", "third"}, nil)

	edges, err := eng.store.ListDependencies(ctx, f.definition.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, stepflow.DependencyFinishToStart, e.Type)
	}

	assert.Equal(t, stepflow.StepStatusReady, f.status(t, eng, "first"))
	assert.Equal(t, stepflow.StepStatusBlocked, f.status(t, eng, "second"))
	assert.Equal(t, stepflow.StepStatusBlocked, f.status(t, eng, "third"))

	// A second start reuses the persisted edges instead of minting new ones
	_, err = eng.StartInstance(ctx, f.definition.ID)
	require.NoError(t, err)
	edges, err = eng.store.ListDependencies(ctx, f.definition.ID)
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestStartInstance_NoSteps(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	def, err := eng.CreateDefinition(ctx, CreateDefinitionInput{Name: "empty", Status: "active"})
	require.NoError(t, err)

	_, err = eng.StartInstance(ctx, def.ID)
	assert.True(t, stepflow.IsBadRequest(err), "starting a stepless definition should fail, got %v", err)
}

func TestStartInstance_UnknownDefinition(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.StartInstance(context.Background(), "11111111-2222-3333-4444-555555555555")
	assert.True(t, stepflow.IsNotFound(err))
}

func TestStartInstance_MalformedID(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.StartInstance(context.Background(), "not-a-uuid")
	assert.True(t, stepflow.IsBadRequest(err))
}

func TestCancelInstance(t *testing.T) {
	eng, sink := newTestEngine(t)
	ctx := context.Background()

	f := startFixture(t, eng, []string{"A"}, nil)

	inst, err := eng.CancelInstance(ctx, f.instance.ID)
	require.NoError(t, err)
	assert.Equal(t, stepflow.InstanceStatusCancelled, inst.Status)
	require.NotNil(t, inst.CompletedAt)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeInstanceCancelled, events[0].Type)
	assert.Equal(t, f.instance.ID, events[0].InstanceID)
	assert.Equal(t, "running", events[0].PreviousStatus)
}

func TestCancelInstance_TerminalNotCancellable(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	f := startFixture(t, eng, []string{"A"}, nil)
	_, err := eng.CancelInstance(ctx, f.instance.ID)
	require.NoError(t, err)

	// Cancelling again is an error, not an idempotent no-op
	_, err = eng.CancelInstance(ctx, f.instance.ID)
	require.Error(t, err)
	assert.True(t, stepflow.IsInvalidTransition(err))

	typed := stepflow.AsError(err)
	assert.Equal(t, "cancelled", typed.Details["from"])
	assert.Empty(t, typed.Details["allowed"])
}

func TestCancelInstance_CompletedNotCancellable(t *testing.T) {
	eng, _ := newTestEngine(t)

	f := startFixture(t, eng, []string{"A"}, nil)
	f.run(t, eng, "A")

	_, err := eng.CancelInstance(context.Background(), f.instance.ID)
	assert.True(t, stepflow.IsInvalidTransition(err))
}

func TestGetInstance_Summary(t *testing.T) {
	eng, _ := newTestEngine(t)

	f := startFixture(t, eng, []string{"A", "B", "C"}, [][2]string{
		{"A", "B"},
		{"A", "C"},
	})
	f.run(t, eng, "A")

	detail, err := eng.GetInstance(context.Background(), f.instance.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, detail.Summary.Total)
	assert.Equal(t, 1, detail.Summary.Completed)
	// B and C were promoted to ready by the cascade
	assert.Equal(t, 2, detail.Summary.Running)
	assert.Equal(t, 0, detail.Summary.Pending)
}

func TestListInstances_Pagination(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	def, _ := seedDefinition(t, eng, []string{"A"}, nil)
	for range 5 {
		_, err := eng.StartInstance(ctx, def.ID)
		require.NoError(t, err)
	}

	seen := make(map[string]bool)
	page, err := eng.ListInstances(ctx, ListInstancesQuery{DefinitionID: def.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	for _, inst := range page.Items {
		seen[inst.ID] = true
	}

	page, err = eng.ListInstances(ctx, ListInstancesQuery{
		DefinitionID: def.ID, Limit: 2, Cursor: page.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	for _, inst := range page.Items {
		assert.False(t, seen[inst.ID], "instance %s repeated across pages", inst.ID)
		seen[inst.ID] = true
	}

	page, err = eng.ListInstances(ctx, ListInstancesQuery{
		DefinitionID: def.ID, Limit: 2, Cursor: page.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor, "short page must not carry a cursor")
	assert.False(t, seen[page.Items[0].ID])
}

func TestListInstances_StatusFilter(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	def, _ := seedDefinition(t, eng, []string{"A"}, nil)
	first, err := eng.StartInstance(ctx, def.ID)
	require.NoError(t, err)
	_, err = eng.StartInstance(ctx, def.ID)
	require.NoError(t, err)
	_, err = eng.CancelInstance(ctx, first.ID)
	require.NoError(t, err)

	page, err := eng.ListInstances(ctx, ListInstancesQuery{Status: "cancelled"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID)
}

func TestListInstances_Validation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		query ListInstancesQuery
	}{
		{"malformed definition id", ListInstancesQuery{DefinitionID: "nope"}},
		{"unknown status", ListInstancesQuery{Status: "sideways"}},
		{"negative limit", ListInstancesQuery{Limit: -1}},
		{"limit above max", ListInstancesQuery{Limit: MaxPageSize + 1}},
		{"malformed cursor", ListInstancesQuery{Cursor: "!!!"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.ListInstances(ctx, tc.query)
			assert.True(t, stepflow.IsBadRequest(err), "got %v", err)
		})
	}
}

// brokenStore fails every transaction to exercise store-failure handling.
type brokenStore struct {
	store.Store
}

func (b *brokenStore) Transact(ctx context.Context, fn func(context.Context, store.Store) error) error {
	return errors.New("connection refused")
}

func TestCancelInstance_StoreFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	eng := New(&brokenStore{Store: store.NewMemoryStore()},
		WithLogger(zerolog.New(&buf)),
	)

	_, err := eng.CancelInstance(context.Background(), "11111111-2222-3333-4444-555555555555")
	assert.Equal(t, stepflow.ErrCodeInternalError, stepflow.CodeOf(err))
	assert.Contains(t, buf.String(), `"event":"persistence_error"`)
	assert.Contains(t, buf.String(), `"operation":"cancel_instance"`)
}

func TestCancelInstance_RejectionNotLoggedAsStoreFailure(t *testing.T) {
	var buf bytes.Buffer
	eng := New(store.NewMemoryStore(), WithLogger(zerolog.New(&buf)))
	ctx := context.Background()

	def, _ := seedDefinition(t, eng, []string{"A"}, nil)
	inst, err := eng.StartInstance(ctx, def.ID)
	require.NoError(t, err)
	_, err = eng.CancelInstance(ctx, inst.ID)
	require.NoError(t, err)

	buf.Reset()
	_, err = eng.CancelInstance(ctx, inst.ID)
	assert.True(t, stepflow.IsInvalidTransition(err))
	assert.NotContains(t, buf.String(), "persistence_error")
}

func TestListInstances_ZeroLimitDefaults(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	def, _ := seedDefinition(t, eng, []string{"A"}, nil)
	_, err := eng.StartInstance(ctx, def.ID)
	require.NoError(t, err)

	page, err := eng.ListInstances(ctx, ListInstancesQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)
}
