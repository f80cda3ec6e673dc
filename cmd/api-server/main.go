package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-scheduling/internal/api"
	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
	"github.com/hackgods/doctor-appointment-scheduling/internal/config"
	"github.com/hackgods/doctor-appointment-scheduling/internal/db"
	"github.com/hackgods/doctor-appointment-scheduling/internal/logger"
	"github.com/hackgods/doctor-appointment-scheduling/internal/metrics"
	"github.com/hackgods/doctor-appointment-scheduling/internal/notify"
	redisclient "github.com/hackgods/doctor-appointment-scheduling/internal/redis"
	"github.com/hackgods/doctor-appointment-scheduling/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("hours_policy", cfg.WorkingHoursPolicy),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewCollector(reg, "clinic")

	var deps []api.Dependency

	repo, pgPool, err := openStore(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	if pgPool != nil {
		defer pgPool.Close()
		deps = append(deps, api.Dependency{Name: "postgres", Check: pgPool.Ping, Required: true})
	}

	// Redis backs the slot cache and the notification stream; skip it when
	// neither is enabled.
	var rdb *redis.Client
	if cfg.SlotCacheTTL > 0 || cfg.NotifySink == config.NotifySinkStream {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
		deps = append(deps, api.Dependency{Name: "redis", Check: redisclient.Check(rdb)})
	}

	var sink notify.Sink = notify.NewLogSink(log.Named("notify"))
	if cfg.NotifySink == config.NotifySinkStream {
		sink = notify.NewStreamSink(rdb, notify.StreamOptions{Stream: cfg.NotifyStream, Logger: log})
	}
	dispatcher := notify.NewDispatcher(sink, notify.Options{
		Workers: cfg.NotifyWorkers,
		Buffer:  cfg.NotifyBuffer,
		Logger:  log.Named("notify"),
		Metrics: m,
	})

	opts := appointment.Options{
		Calendar: cfg.Calendar(),
		CacheTTL: cfg.SlotCacheTTL,
		Notifier: dispatcher,
		Metrics:  m,
		Logger:   log.Named("scheduling"),
	}
	if rdb != nil && cfg.SlotCacheTTL > 0 {
		opts.Cache = redisclient.NewSlotCache(rdb)
	}
	svc := appointment.NewService(repo, opts)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Dependencies:   deps,
		Logger:         log.Named("http"),
		Metrics:        m,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Env:            cfg.Env,
		Version:        cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("notification queue not drained", zap.Error(err))
	}

	log.Info("api-server stopped")
	return nil
}

// openStore returns the configured repository. The memory store is filled
// with demo doctors and patients so the API is usable without a database.
func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (appointment.Repository, *pgxpool.Pool, error) {
	if cfg.StoreDriver == config.StoreMemory {
		repo := appointment.NewMemoryRepository()
		res, err := seed.Run(ctx, repo, seed.Options{Doctors: 5, Patients: 20, Logger: log.Named("seed")})
		if err != nil {
			return nil, nil, err
		}
		for _, d := range res.Doctors {
			log.Info("demo doctor", zap.Stringer("doctor_id", d.ID), zap.Stringer("user_id", d.UserID), zap.String("name", d.Name))
		}
		for _, p := range res.Patients[:3] {
			log.Info("demo patient", zap.Stringer("patient_id", p.ID), zap.String("name", p.Name))
		}
		return repo, nil, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(cfg.PostgresConns))
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connection error: %w", err)
	}
	log.Info("connected to Postgres")

	if err := db.Migrate(pgCtx, pool, log.Named("migrate")); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	return appointment.NewPgRepository(pool), pool, nil
}
