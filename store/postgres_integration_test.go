//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stepflow-io/stepflow"
)

// startPostgres boots a disposable Postgres, applies the schema and returns
// a connected pool.
func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("stepflow-test"),
		postgres.WithUsername("stepflow"),
		postgres.WithPassword("stepflow"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	store := NewPostgresStore(pool)

	def := &stepflow.WorkflowDefinition{
		ID:        uuid.New().String(),
		Name:      "integration",
		Version:   1,
		Status:    stepflow.DefinitionStatusActive,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	stepA := &stepflow.WorkflowStep{
		ID: uuid.New().String(), DefinitionID: def.ID,
		Sequence: 1, Name: "A", Type: stepflow.StepTypeTask,
	}
	stepB := &stepflow.WorkflowStep{
		ID: uuid.New().String(), DefinitionID: def.ID,
		Sequence: 2, Name: "B", Type: stepflow.StepTypeTask,
	}

	t.Run("definition round trip", func(t *testing.T) {
		require.NoError(t, store.CreateDefinition(ctx, def))

		got, err := store.GetDefinition(ctx, def.ID)
		require.NoError(t, err)
		assert.Equal(t, def.Name, got.Name)
		assert.Equal(t, def.Status, got.Status)
	})

	t.Run("duplicate name and version rejected", func(t *testing.T) {
		dup := *def
		dup.ID = uuid.New().String()
		err := store.CreateDefinition(ctx, &dup)
		assert.True(t, stepflow.IsBadRequest(err), "got %v", err)
	})

	t.Run("steps ordered by sequence", func(t *testing.T) {
		require.NoError(t, store.CreateStep(ctx, stepB))
		require.NoError(t, store.CreateStep(ctx, stepA))

		steps, err := store.ListSteps(ctx, def.ID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, stepA.ID, steps[0].ID)
		assert.Equal(t, stepB.ID, steps[1].ID)
	})

	t.Run("duplicate sequence rejected", func(t *testing.T) {
		clash := &stepflow.WorkflowStep{
			ID: uuid.New().String(), DefinitionID: def.ID,
			Sequence: 1, Name: "clash", Type: stepflow.StepTypeTask,
		}
		err := store.CreateStep(ctx, clash)
		assert.True(t, stepflow.IsBadRequest(err), "got %v", err)
	})

	t.Run("dependency idempotent on pair", func(t *testing.T) {
		first, err := store.CreateDependency(ctx, &stepflow.StepDependency{
			ID: uuid.New().String(), PredecessorID: stepA.ID, SuccessorID: stepB.ID,
			Type: stepflow.DependencyFinishToStart,
		})
		require.NoError(t, err)

		second, err := store.CreateDependency(ctx, &stepflow.StepDependency{
			ID: uuid.New().String(), PredecessorID: stepA.ID, SuccessorID: stepB.ID,
			Type: stepflow.DependencyFinishToStart,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		deps, err := store.ListDependencies(ctx, def.ID)
		require.NoError(t, err)
		assert.Len(t, deps, 1)
	})

	t.Run("dependency to unknown step rejected", func(t *testing.T) {
		_, err := store.CreateDependency(ctx, &stepflow.StepDependency{
			ID: uuid.New().String(), PredecessorID: stepA.ID,
			SuccessorID: uuid.New().String(),
			Type:        stepflow.DependencyFinishToStart,
		})
		assert.True(t, stepflow.IsBadRequest(err), "got %v", err)
	})

	t.Run("instance and step instances in one transaction", func(t *testing.T) {
		inst := &stepflow.WorkflowInstance{
			ID: uuid.New().String(), DefinitionID: def.ID,
			Status: stepflow.InstanceStatusRunning,
		}
		err := store.Transact(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.CreateInstance(ctx, inst); err != nil {
				return err
			}
			return tx.CreateStepInstances(ctx, []*stepflow.StepInstance{
				{ID: uuid.New().String(), InstanceID: inst.ID, StepID: stepA.ID, Status: stepflow.StepStatusReady},
				{ID: uuid.New().String(), InstanceID: inst.ID, StepID: stepB.ID, Status: stepflow.StepStatusBlocked},
			})
		})
		require.NoError(t, err)

		items, err := store.ListStepInstances(ctx, inst.ID)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		orphanID := uuid.New().String()
		err := store.Transact(ctx, func(ctx context.Context, tx Store) error {
			if err := tx.CreateInstance(ctx, &stepflow.WorkflowInstance{
				ID: orphanID, DefinitionID: def.ID,
				Status: stepflow.InstanceStatusRunning,
			}); err != nil {
				return err
			}
			// Unknown step template violates the FK and aborts the whole tx
			return tx.CreateStepInstances(ctx, []*stepflow.StepInstance{
				{ID: uuid.New().String(), InstanceID: orphanID, StepID: uuid.New().String(), Status: stepflow.StepStatusReady},
			})
		})
		require.Error(t, err)

		_, err = store.GetInstance(ctx, orphanID)
		assert.True(t, stepflow.IsNotFound(err), "got %v", err)
	})

	t.Run("row lock inside transaction", func(t *testing.T) {
		inst := &stepflow.WorkflowInstance{
			ID: uuid.New().String(), DefinitionID: def.ID,
			Status: stepflow.InstanceStatusRunning,
		}
		require.NoError(t, store.CreateInstance(ctx, inst))

		err := store.Transact(ctx, func(ctx context.Context, tx Store) error {
			locked, err := tx.GetInstanceForUpdate(ctx, inst.ID)
			if err != nil {
				return err
			}
			locked.Status = stepflow.InstanceStatusCancelled
			now := time.Now().UTC()
			locked.CompletedAt = &now
			locked.UpdatedAt = now
			return tx.UpdateInstance(ctx, locked)
		})
		require.NoError(t, err)

		got, err := store.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, stepflow.InstanceStatusCancelled, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("delete definition restricted by instances", func(t *testing.T) {
		err := store.DeleteDefinition(ctx, def.ID)
		assert.True(t, stepflow.IsBadRequest(err), "got %v", err)
	})
}

func TestPostgresStore_ListInstancesSeek(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)
	store := NewPostgresStore(pool)

	def := &stepflow.WorkflowDefinition{
		ID: uuid.New().String(), Name: "seek", Version: 1,
		Status: stepflow.DefinitionStatusActive,
	}
	require.NoError(t, store.CreateDefinition(ctx, def))

	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		require.NoError(t, store.CreateInstance(ctx, &stepflow.WorkflowInstance{
			ID:           uuid.New().String(),
			DefinitionID: def.ID,
			Status:       stepflow.InstanceStatusRunning,
			CreatedAt:    base,
			UpdatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	seen := make(map[string]bool)
	var after *stepflow.ListCursor
	pages := 0
	for {
		items, err := store.ListInstances(ctx, InstanceFilter{
			DefinitionID: def.ID, Limit: 2, After: after,
		})
		require.NoError(t, err)
		if len(items) == 0 {
			break
		}
		pages++
		var prev *stepflow.WorkflowInstance
		for _, inst := range items {
			assert.False(t, seen[inst.ID], "instance %s repeated", inst.ID)
			seen[inst.ID] = true
			if prev != nil {
				assert.False(t, inst.UpdatedAt.After(prev.UpdatedAt), "page out of order")
			}
			prev = inst
		}
		last := items[len(items)-1]
		after = &stepflow.ListCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
		if len(items) < 2 {
			break
		}
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}
