package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/episode-service/internal/db"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	applied, err := db.NewMigrator(pool, dir).Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	logger.Info().Int("applied", applied).Msg("migrations complete")
}
