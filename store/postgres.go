package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stepflow-io/stepflow"
)

// querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same store methods run pooled or transaction-bound.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL via pgx. It is the system of
// record; all invariants that need atomicity run through Transact.
type PostgresStore struct {
	db   querier
	pool *pgxpool.Pool // nil when transaction-bound
}

// NewPostgresStore creates a new Postgres-backed store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

// Transact runs fn inside a single pgx transaction. When the receiver is
// already transaction-bound, fn joins the open transaction.
func (s *PostgresStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stepflow.NewInternal(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(ctx, &PostgresStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return stepflow.NewInternal(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// storeError maps driver failures onto the core taxonomy. Unique and
// foreign-key violations are caller-correctable, everything else internal.
func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return stepflow.NewBadRequest("%s: duplicate value violates %s", op, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return stepflow.NewBadRequest("%s: referenced row violates %s", op, pgErr.ConstraintName)
		}
	}
	return stepflow.NewInternal(fmt.Errorf("%s: %w", op, err))
}

// Workflow definition operations

const definitionColumns = "id, name, description, version, status, created_at, updated_at"

func scanDefinition(row pgx.Row) (*stepflow.WorkflowDefinition, error) {
	var def stepflow.WorkflowDefinition
	err := row.Scan(&def.ID, &def.Name, &def.Description, &def.Version, &def.Status,
		&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

func (s *PostgresStore) CreateDefinition(ctx context.Context, def *stepflow.WorkflowDefinition) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_definitions (id, name, description, version, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		def.ID, def.Name, def.Description, def.Version, def.Status, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return storeError("create definition", err)
	}
	return nil
}

func (s *PostgresStore) GetDefinition(ctx context.Context, id string) (*stepflow.WorkflowDefinition, error) {
	def, err := scanDefinition(s.db.QueryRow(ctx,
		`SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stepflow.NewNotFound("workflow definition", id)
	}
	if err != nil {
		return nil, storeError("get definition", err)
	}
	return def, nil
}

func (s *PostgresStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*stepflow.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions`
	args := []any{}
	if filter.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY name, version`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("list definitions", err)
	}
	defer rows.Close()

	var defs []*stepflow.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, storeError("list definitions", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list definitions", err)
	}
	return defs, nil
}

func (s *PostgresStore) UpdateDefinition(ctx context.Context, def *stepflow.WorkflowDefinition) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_definitions
		 SET name = $1, description = $2, version = $3, status = $4, updated_at = $5
		 WHERE id = $6`,
		def.Name, def.Description, def.Version, def.Status, def.UpdatedAt, def.ID)
	if err != nil {
		return storeError("update definition", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.NewNotFound("workflow definition", def.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteDefinition(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id)
	if err != nil {
		return storeError("delete definition", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.NewNotFound("workflow definition", id)
	}
	return nil
}

// Definition step operations

const stepColumns = "id, definition_id, sequence, name, type, assignee, duration_minutes, properties, created_at, updated_at"

func scanStep(row pgx.Row) (*stepflow.WorkflowStep, error) {
	var step stepflow.WorkflowStep
	err := row.Scan(&step.ID, &step.DefinitionID, &step.Sequence, &step.Name, &step.Type,
		&step.Assignee, &step.DurationMinutes, &step.Properties, &step.CreatedAt, &step.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func (s *PostgresStore) CreateStep(ctx context.Context, step *stepflow.WorkflowStep) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_steps (id, definition_id, sequence, name, type, assignee, duration_minutes, properties, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		step.ID, step.DefinitionID, step.Sequence, step.Name, step.Type,
		step.Assignee, step.DurationMinutes, step.Properties, step.CreatedAt, step.UpdatedAt)
	if err != nil {
		return storeError("create step", err)
	}
	return nil
}

func (s *PostgresStore) GetStep(ctx context.Context, id string) (*stepflow.WorkflowStep, error) {
	step, err := scanStep(s.db.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stepflow.NewNotFound("workflow step", id)
	}
	if err != nil {
		return nil, storeError("get step", err)
	}
	return step, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, definitionID string) ([]*stepflow.WorkflowStep, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+stepColumns+` FROM workflow_steps WHERE definition_id = $1 ORDER BY sequence`,
		definitionID)
	if err != nil {
		return nil, storeError("list steps", err)
	}
	defer rows.Close()

	var steps []*stepflow.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, storeError("list steps", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list steps", err)
	}
	return steps, nil
}

func (s *PostgresStore) UpdateStep(ctx context.Context, step *stepflow.WorkflowStep) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_steps
		 SET sequence = $1, name = $2, type = $3, assignee = $4, duration_minutes = $5, properties = $6, updated_at = $7
		 WHERE id = $8`,
		step.Sequence, step.Name, step.Type, step.Assignee, step.DurationMinutes,
		step.Properties, step.UpdatedAt, step.ID)
	if err != nil {
		return storeError("update step", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.NewNotFound("workflow step", step.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteStep(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow_steps WHERE id = $1`, id)
	if err != nil {
		return storeError("delete step", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.NewNotFound("workflow step", id)
	}
	return nil
}

// Dependency edge operations

const dependencyColumns = "id, predecessor_id, successor_id, dependency_type, created_at"

func scanDependency(row pgx.Row) (*stepflow.StepDependency, error) {
	var dep stepflow.StepDependency
	err := row.Scan(&dep.ID, &dep.PredecessorID, &dep.SuccessorID, &dep.Type, &dep.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &dep, nil
}

func (s *PostgresStore) CreateDependency(ctx context.Context, dep *stepflow.StepDependency) (*stepflow.StepDependency, error) {
	created, err := scanDependency(s.db.QueryRow(ctx,
		`INSERT INTO step_dependencies (id, predecessor_id, successor_id, dependency_type, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (predecessor_id, successor_id) DO NOTHING
		 RETURNING `+dependencyColumns,
		dep.ID, dep.PredecessorID, dep.SuccessorID, dep.Type, dep.CreatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		// Duplicate pair: return the existing edge unchanged.
		existing, err := scanDependency(s.db.QueryRow(ctx,
			`SELECT `+dependencyColumns+` FROM step_dependencies
			 WHERE predecessor_id = $1 AND successor_id = $2`,
			dep.PredecessorID, dep.SuccessorID))
		if err != nil {
			return nil, storeError("create dependency", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, storeError("create dependency", err)
	}
	return created, nil
}

func (s *PostgresStore) GetDependency(ctx context.Context, id string) (*stepflow.StepDependency, error) {
	dep, err := scanDependency(s.db.QueryRow(ctx,
		`SELECT `+dependencyColumns+` FROM step_dependencies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stepflow.NewNotFound("step dependency", id)
	}
	if err != nil {
		return nil, storeError("get dependency", err)
	}
	return dep, nil
}

func (s *PostgresStore) ListDependencies(ctx context.Context, definitionID string) ([]*stepflow.StepDependency, error) {
	rows, err := s.db.Query(ctx,
		`SELECT d.id, d.predecessor_id, d.successor_id, d.dependency_type, d.created_at
		 FROM step_dependencies d
		 JOIN workflow_steps p ON p.id = d.predecessor_id
		 WHERE p.definition_id = $1
		 ORDER BY d.created_at, d.id`,
		definitionID)
	if err != nil {
		return nil, storeError("list dependencies", err)
	}
	defer rows.Close()

	var deps []*stepflow.StepDependency
	for rows.Next() {
		dep, err := scanDependency(rows)
		if err != nil {
			return nil, storeError("list dependencies", err)
		}
		deps = append(deps, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list dependencies", err)
	}
	return deps, nil
}

func (s *PostgresStore) DeleteDependency(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM step_dependencies WHERE id = $1`, id)
	if err != nil {
		return storeError("delete dependency", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.NewNotFound("step dependency", id)
	}
	return nil
}

// Workflow instance operations

const instanceColumns = "id, definition_id, status, started_at, completed_at, created_at, updated_at"

func scanInstance(row pgx.Row) (*stepflow.WorkflowInstance, error) {
	var inst stepflow.WorkflowInstance
	err := row.Scan(&inst.ID, &inst.DefinitionID, &inst.Status, &inst.StartedAt,
		&inst.CompletedAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *PostgresStore) CreateInstance(ctx context.Context, inst *stepflow.WorkflowInstance) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_instances (id, definition_id, status, started_at, completed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inst.ID, inst.DefinitionID, inst.Status, inst.StartedAt, inst.CompletedAt,
		inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		return storeError("create instance", err)
	}
	return nil
}

func (s *PostgresStore) getInstance(ctx context.Context, id, suffix string) (*stepflow.WorkflowInstance, error) {
	inst, err := scanInstance(s.db.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stepflow.NewNotFound("workflow instance", id)
	}
	if err != nil {
		return nil, storeError("get instance", err)
	}
	return inst, nil
}

func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*stepflow.WorkflowInstance, error) {
	return s.getInstance(ctx, id, "")
}

func (s *PostgresStore) GetInstanceForUpdate(ctx context.Context, id string) (*stepflow.WorkflowInstance, error) {
	if s.pool != nil {
		// Not transaction-bound: a row lock would be released immediately.
		return s.getInstance(ctx, id, "")
	}
	return s.getInstance(ctx, id, " FOR UPDATE")
}

func (s *PostgresStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*stepflow.WorkflowInstance, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.DefinitionID != "" {
		conds = append(conds, "definition_id = "+arg(filter.DefinitionID))
	}
	if filter.Status != nil {
		conds = append(conds, "status = "+arg(*filter.Status))
	}
	if filter.After != nil {
		conds = append(conds, fmt.Sprintf("(updated_at, id) < (%s, %s)",
			arg(filter.After.UpdatedAt), arg(filter.After.ID)))
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("list instances", err)
	}
	defer rows.Close()

	var insts []*stepflow.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, storeError("list instances", err)
		}
		insts = append(insts, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list instances", err)
	}
	return insts, nil
}

func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *stepflow.WorkflowInstance) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_instances
		 SET status = $1, started_at = $2, completed_at = $3, updated_at = $4
		 WHERE id = $5`,
		inst.Status, inst.StartedAt, inst.CompletedAt, inst.UpdatedAt, inst.ID)
	if err != nil {
		return storeError("update instance", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.NewNotFound("workflow instance", inst.ID)
	}
	return nil
}

// Step instance operations

const stepInstanceColumns = "id, instance_id, step_id, status, assigned_to, started_at, completed_at, payload, created_at, updated_at"

func scanStepInstance(row pgx.Row) (*stepflow.StepInstance, error) {
	var si stepflow.StepInstance
	err := row.Scan(&si.ID, &si.InstanceID, &si.StepID, &si.Status, &si.AssignedTo,
		&si.StartedAt, &si.CompletedAt, &si.Payload, &si.CreatedAt, &si.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &si, nil
}

func (s *PostgresStore) CreateStepInstances(ctx context.Context, items []*stepflow.StepInstance) error {
	for _, si := range items {
		_, err := s.db.Exec(ctx,
			`INSERT INTO step_instances (id, instance_id, step_id, status, assigned_to, started_at, completed_at, payload, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			si.ID, si.InstanceID, si.StepID, si.Status, si.AssignedTo,
			si.StartedAt, si.CompletedAt, si.Payload, si.CreatedAt, si.UpdatedAt)
		if err != nil {
			return storeError("create step instances", err)
		}
	}
	return nil
}

func (s *PostgresStore) getStepInstance(ctx context.Context, instanceID, stepInstanceID, suffix string) (*stepflow.StepInstance, error) {
	si, err := scanStepInstance(s.db.QueryRow(ctx,
		`SELECT `+stepInstanceColumns+` FROM step_instances WHERE id = $1 AND instance_id = $2`+suffix,
		stepInstanceID, instanceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, stepflow.NewNotFound("step instance", stepInstanceID)
	}
	if err != nil {
		return nil, storeError("get step instance", err)
	}
	return si, nil
}

func (s *PostgresStore) GetStepInstance(ctx context.Context, instanceID, stepInstanceID string) (*stepflow.StepInstance, error) {
	return s.getStepInstance(ctx, instanceID, stepInstanceID, "")
}

func (s *PostgresStore) GetStepInstanceForUpdate(ctx context.Context, instanceID, stepInstanceID string) (*stepflow.StepInstance, error) {
	if s.pool != nil {
		return s.getStepInstance(ctx, instanceID, stepInstanceID, "")
	}
	return s.getStepInstance(ctx, instanceID, stepInstanceID, " FOR UPDATE")
}

func (s *PostgresStore) ListStepInstances(ctx context.Context, instanceID string) ([]*stepflow.StepInstance, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+stepInstanceColumns+` FROM step_instances WHERE instance_id = $1 ORDER BY created_at, id`,
		instanceID)
	if err != nil {
		return nil, storeError("list step instances", err)
	}
	defer rows.Close()

	var items []*stepflow.StepInstance
	for rows.Next() {
		si, err := scanStepInstance(rows)
		if err != nil {
			return nil, storeError("list step instances", err)
		}
		items = append(items, si)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list step instances", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateStepInstance(ctx context.Context, si *stepflow.StepInstance) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE step_instances
		 SET status = $1, assigned_to = $2, started_at = $3, completed_at = $4, payload = $5, updated_at = $6
		 WHERE id = $7`,
		si.Status, si.AssignedTo, si.StartedAt, si.CompletedAt, si.Payload, si.UpdatedAt, si.ID)
	if err != nil {
		return storeError("update step instance", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.NewNotFound("step instance", si.ID)
	}
	return nil
}
