package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
	"github.com/hackgods/doctor-appointment-scheduling/internal/config"
	"github.com/hackgods/doctor-appointment-scheduling/internal/db"
	"github.com/hackgods/doctor-appointment-scheduling/internal/logger"
	"github.com/hackgods/doctor-appointment-scheduling/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	if cfg.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "POSTGRES_DSN is required")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	opts := seed.Options{
		Doctors:  envInt("SEED_DOCTORS", 100),
		Patients: envInt("SEED_PATIENTS", 9000),
		Seed:     uint64(envInt("SEED_RANDOM", 0)),
		Logger:   log,
	}
	log.Info("seed starting", zap.Int("doctors", opts.Doctors), zap.Int("patients", opts.Patients))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, int32(cfg.PostgresConns))
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, log); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	res, err := seed.Run(ctx, appointment.NewPgRepository(pool), opts)
	if err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}

	for _, d := range res.Doctors[:min(3, len(res.Doctors))] {
		log.Info("sample doctor", zap.String("doctor_id", d.ID.String()), zap.String("user_id", d.UserID.String()))
	}
	for _, p := range res.Patients[:min(3, len(res.Patients))] {
		log.Info("sample patient", zap.String("patient_id", p.ID.String()))
	}
	log.Info("seed complete", zap.Int("doctors", len(res.Doctors)), zap.Int("patients", len(res.Patients)))
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
