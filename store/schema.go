package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the Postgres DDL for the workflow execution core.
//
// Referential integrity notes:
//   - steps and their edges cascade away with their definition;
//   - step_instances.step_id restricts, so deleting a step template that
//     live instances reference is rejected rather than silently orphaned;
//   - (instance_id, step_id) is unique: one step instance per pair;
//   - the (updated_at desc, id desc) index backs seek pagination.
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
    id          UUID PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    version     INT NOT NULL DEFAULT 1,
    status      TEXT NOT NULL DEFAULT 'draft',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    UNIQUE (name, version)
);

CREATE TABLE IF NOT EXISTS workflow_steps (
    id               UUID PRIMARY KEY,
    definition_id    UUID NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
    sequence         INT NOT NULL,
    name             TEXT NOT NULL,
    type             TEXT NOT NULL DEFAULT 'task',
    assignee         TEXT NOT NULL DEFAULT '',
    duration_minutes INT,
    properties       JSONB,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    UNIQUE (definition_id, sequence)
);

CREATE TABLE IF NOT EXISTS step_dependencies (
    id              UUID PRIMARY KEY,
    predecessor_id  UUID NOT NULL REFERENCES workflow_steps(id) ON DELETE CASCADE,
    successor_id    UUID NOT NULL REFERENCES workflow_steps(id) ON DELETE CASCADE,
    dependency_type TEXT NOT NULL DEFAULT 'finish_to_start',
    created_at      TIMESTAMPTZ NOT NULL,
    UNIQUE (predecessor_id, successor_id)
);

CREATE TABLE IF NOT EXISTS workflow_instances (
    id            UUID PRIMARY KEY,
    definition_id UUID NOT NULL REFERENCES workflow_definitions(id),
    status        TEXT NOT NULL DEFAULT 'pending',
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workflow_instances_seek
    ON workflow_instances (updated_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS step_instances (
    id           UUID PRIMARY KEY,
    instance_id  UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
    step_id      UUID NOT NULL REFERENCES workflow_steps(id) ON DELETE RESTRICT,
    status       TEXT NOT NULL DEFAULT 'pending',
    assigned_to  TEXT NOT NULL DEFAULT '',
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    payload      JSONB,
    created_at   TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL,
    UNIQUE (instance_id, step_id)
);

CREATE INDEX IF NOT EXISTS idx_step_instances_instance
    ON step_instances (instance_id);
`

// Migrate applies the schema to the given pool
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
