package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/clinova/allocation-engine/internal/booking"
	"github.com/clinova/allocation-engine/internal/clock"
	"github.com/clinova/allocation-engine/internal/config"
	"github.com/clinova/allocation-engine/internal/db"
	"github.com/clinova/allocation-engine/internal/events"
	"github.com/clinova/allocation-engine/internal/logging"
	"github.com/clinova/allocation-engine/internal/notify"
	redisclient "github.com/clinova/allocation-engine/internal/redis"
	"github.com/clinova/allocation-engine/internal/waitlist"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logging.Init("hold-expiry-worker", cfg.Env)
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("hold-expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	clk := clock.System()
	bookingRepo := booking.NewPgRepository(pgPool)
	waitlistRepo := waitlist.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	bus := events.NewRedisBus(rdb)
	notifier := notify.NewLogNotifier()

	ledger := booking.NewLedger(bookingRepo, locker, bus, clk)
	authority := booking.NewAuthority(bookingRepo, ledger, notifier, clk, cfg.HoldTTL)
	queue := waitlist.NewQueue(waitlistRepo, clk)
	matcher := waitlist.NewMatcher(queue, waitlistRepo, bookingRepo, authority, ledger, notifier, clk)

	// Run once at startup
	runOnce(rootCtx, matcher)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping hold-expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, matcher)
		}
	}
}

func runOnce(ctx context.Context, matcher *waitlist.Matcher) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := matcher.ExpireHolds(runCtx); err != nil {
		log.Error().Err(err).Msg("hold expiry run error")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("hold expiry run complete")
}
