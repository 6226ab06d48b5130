package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stepflow-io/stepflow/api"
	"github.com/stepflow-io/stepflow/engine"
	"github.com/stepflow-io/stepflow/event"
	"github.com/stepflow-io/stepflow/internal/config"
	"github.com/stepflow-io/stepflow/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	pool, err := initDatabase(ctx, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer pool.Close()
	log.Info().Str("db", cfg.DB.Name).Msg("Database connected")

	eng := engine.New(
		store.NewPostgresStore(pool),
		engine.WithLogger(log.Logger),
		engine.WithSink(event.LogSink{Logger: log.Logger}),
	)

	app := fiber.New(fiber.Config{AppName: "stepflow"})
	api.New(eng, log.Logger).Register(app)

	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()
	log.Info().Str("addr", cfg.Addr()).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
}

// initDatabase connects the pool and applies the schema
func initDatabase(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
