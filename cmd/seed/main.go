// Seed creates a sample workflow definition and starts one instance of
// it, useful for local development against a fresh database.
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/builder"
	"github.com/stepflow-io/stepflow/engine"
	"github.com/stepflow-io/stepflow/internal/config"
	"github.com/stepflow-io/stepflow/store"
)

func main() {
	ctx := context.Background()
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply schema")
	}

	eng := engine.New(store.NewPostgresStore(pool), engine.WithLogger(log.Logger))

	detail, err := builder.NewDefinition("Order Fulfillment").
		WithDescription("Receive, pack and ship a customer order").
		Then("Receive Order",
			builder.WithAssignee("intake"),
			builder.WithProperties(json.RawMessage(`{"channel":"web"}`))).
		Then("Verify Payment",
			builder.WithType(stepflow.StepTypeApproval),
			builder.WithAssignee("finance"),
			builder.WithDuration(30)).
		Parallel("Pick Items", "Print Label").
		Then("Pack Order", builder.WithAssignee("warehouse")).
		Then("Ship Order", builder.WithDuration(60)).
		Then("Notify Customer", builder.WithType(stepflow.StepTypeNotification)).
		Apply(ctx, eng)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create definition")
	}
	log.Info().
		Str("definition_id", detail.Definition.ID).
		Int("steps", len(detail.Steps)).
		Int("dependencies", len(detail.Dependencies)).
		Msg("Definition created")

	inst, err := eng.StartInstance(ctx, detail.Definition.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start instance")
	}
	ilog := stepflow.InstanceLogger(log.Logger, inst.ID, inst.DefinitionID)
	ilog.Info().
		Str("status", inst.Status.String()).
		Msg("Instance started")
}
