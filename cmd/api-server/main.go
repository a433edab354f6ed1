package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/clinova/allocation-engine/internal/api"
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

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logging.Init("api-server", cfg.Env)
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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

	// In single-process mode per-doctor locks and capacity-freed events stay
	// in memory. Otherwise both go through Redis so replicas coordinate.
	var (
		rdb    *redis.Client
		locker redisclient.Locker
		bus    events.Bus
	)
	if cfg.SingleProcess {
		locker = redisclient.NewLocalDoctorLocker()
		bus = events.NewChannelBus()
		log.Info().Msg("running single-process, redis skipped")
	} else {
		rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		log.Info().Msg("connected to Redis")

		locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
		bus = events.NewRedisBus(rdb)
	}

	clk := clock.System()
	bookingRepo := booking.NewPgRepository(pgPool)
	waitlistRepo := waitlist.NewPgRepository(pgPool)
	notifier := notify.NewLogNotifier()

	ledger := booking.NewLedger(bookingRepo, locker, bus, clk)
	authority := booking.NewAuthority(bookingRepo, ledger, notifier, clk, cfg.HoldTTL)
	queue := waitlist.NewQueue(waitlistRepo, clk)
	matcher := waitlist.NewMatcher(queue, waitlistRepo, bookingRepo, authority, ledger, notifier, clk)

	// Capacity-freed consumer; its booking attempts re-acquire the
	// per-doctor lock on their own.
	go func() {
		if err := matcher.Run(rootCtx, bus); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("waitlist matcher stopped")
		}
	}()

	// Single-process deployments have no separate hold-expiry worker, so the
	// sweep runs in here.
	if cfg.SingleProcess {
		go func() {
			ticker := time.NewTicker(cfg.WorkerInterval)
			defer ticker.Stop()
			for {
				select {
				case <-rootCtx.Done():
					return
				case <-ticker.C:
					if err := matcher.ExpireHolds(rootCtx); err != nil {
						log.Error().Err(err).Msg("hold expiry run error")
					}
				}
			}
		}()
	}

	handler := api.NewRouter(api.RouterConfig{
		Authority:       authority,
		Ledger:          ledger,
		BookingRepo:     bookingRepo,
		Queue:           queue,
		Matcher:         matcher,
		RevisionHorizon: cfg.RevisionHorizonDays,
		PgPool:          pgPool,
		Redis:           rdb,
		Env:             cfg.Env,
		Version:         version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}
