package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
	"github.com/hackgods/doctor-appointment-scheduling/internal/config"
	"github.com/hackgods/doctor-appointment-scheduling/internal/db"
	"github.com/hackgods/doctor-appointment-scheduling/internal/logger"
	redisclient "github.com/hackgods/doctor-appointment-scheduling/internal/redis"
)

const lockKey = "completion-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.StoreDriver != config.StorePostgres {
		fmt.Fprintln(os.Stderr, "completion-worker requires STORE_DRIVER=postgres")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("completion-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.CompletionSchedule),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(cfg.PostgresConns))
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	svc := appointment.NewService(appointment.NewPgRepository(pgPool), appointment.Options{
		Calendar: cfg.Calendar(),
		Logger:   log.Named("scheduling"),
	})
	// the lock outlives a run so a slow sweep is never duplicated
	locker := redisclient.NewKeyLocker(rdb, cfg.LockTTL+time.Minute)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.CompletionSchedule, func() {
		runOnce(rootCtx, svc, locker, log)
	}); err != nil {
		log.Fatal("invalid COMPLETION_SCHEDULE", zap.String("schedule", cfg.CompletionSchedule), zap.Error(err))
	}

	// Run once at startup
	runOnce(rootCtx, svc, locker, log)

	c.Start()
	<-rootCtx.Done()

	log.Info("shutdown signal received, stopping completion worker")
	<-c.Stop().Done()
}

func runOnce(ctx context.Context, svc *appointment.Service, locker *redisclient.KeyLocker, log *zap.Logger) {
	start := time.Now()

	var completed int
	err := locker.WithLock(ctx, lockKey, func(ctx context.Context) error {
		var err error
		completed, err = svc.CompleteElapsed(ctx)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		log.Debug("another replica holds the completion lock")
		return
	case err != nil:
		log.Error("completion run error", zap.Error(err))
		return
	}

	log.Info("completion run complete",
		zap.Int("completed", completed),
		zap.Duration("took", time.Since(start)),
	)
}
