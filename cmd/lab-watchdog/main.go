package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/episode-service/internal/config"
	"github.com/clinicore/episode-service/internal/db"
	"github.com/clinicore/episode-service/internal/lab"
	"github.com/clinicore/episode-service/internal/notify"
	redisclient "github.com/clinicore/episode-service/internal/redis"
)

// lab-watchdog periodically flags lab orders whose tentative report date
// has passed without completion and publishes an overdue event for each.
func main() {
	cfg, err := config.Load()
	if err != nil {
		errLogger := zerolog.New(os.Stderr)
		errLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "lab-watchdog").Logger()
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	svc := lab.NewService(lab.NewPgRepository(pgPool), logger)
	dispatcher := notify.NewRedisDispatcher(rdb, cfg.NotifyChannel)

	// Run once at startup
	runOnce(rootCtx, svc, dispatcher, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping watchdog")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, dispatcher, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *lab.Service, dispatcher notify.Dispatcher, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	overdue, err := svc.OverdueOrders(runCtx, start)
	if err != nil {
		logger.Error().Err(err).Msg("overdue scan error")
		return
	}

	for i := range overdue {
		if err := dispatcher.LabOrderOverdue(runCtx, overdue[i].ID); err != nil {
			logger.Warn().Err(err).Str("order_id", overdue[i].ID.String()).Msg("overdue event publish failed")
		}
	}

	logger.Info().Int("overdue", len(overdue)).Dur("took", time.Since(start)).Msg("watchdog run complete")
}
