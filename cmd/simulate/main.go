package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-scheduling/internal/api"
	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
	"github.com/hackgods/doctor-appointment-scheduling/internal/config"
	"github.com/hackgods/doctor-appointment-scheduling/internal/db"
	"github.com/hackgods/doctor-appointment-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Workers      int
	Rounds       int // how many times each worker walks the slot list
	ReadRatio    float64
	CancelRatio  float64
	PatientLimit int
	DoctorID     uuid.UUID
	Date         string
}

type DataPool struct {
	Doctor   appointment.Doctor
	Patients []uuid.UUID
	Slots    []time.Time

	mu           sync.RWMutex
	appointments map[uuid.UUID]uuid.UUID // appointment id -> patient id
}

func (dp *DataPool) AddAppointment(id, patientID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments[id] = patientID
}

func (dp *DataPool) RemoveAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	delete(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (id, patientID uuid.UUID, ok bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, uuid.Nil, false
	}
	n := rng.Intn(len(dp.appointments))
	for id, patientID := range dp.appointments {
		if n == 0 {
			return id, patientID, true
		}
		n--
	}
	return uuid.Nil, uuid.Nil, false
}

func (dp *DataPool) AppointmentCount() int {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return len(dp.appointments)
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := append([]time.Duration(nil), om.Latencies...)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking   OperationMetrics
	Cancel    OperationMetrics
	ReadByID  OperationMetrics
	ReadSlots OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(baseCfg.LogLevel, baseCfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := loadConfig(baseCfg)
	if err != nil {
		log.Fatal("invalid simulator config", zap.Error(err))
	}
	if baseCfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required to load doctors and patients")
	}
	log.Info("simulator starting",
		zap.Int("workers", cfg.Workers),
		zap.Int("rounds", cfg.Rounds),
		zap.String("date", cfg.Date),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, int32(baseCfg.PostgresConns))
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	repo := appointment.NewPgRepository(pgPool)

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.pool, err = sim.loadDataPool(ctx, pgPool, repo)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("data pool loaded",
		zap.String("doctor_id", sim.pool.Doctor.ID.String()),
		zap.Int("patients", len(sim.pool.Patients)),
		zap.Int("open_slots", len(sim.pool.Slots)),
	)

	started := time.Now()
	sim.Run()
	elapsed := time.Since(started)

	sim.PrintReport(elapsed)

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if err := sim.verifyNoOverlaps(verifyCtx, repo, baseCfg.Calendar()); err != nil {
		log.Fatal("overlap check failed", zap.Error(err))
	}
	log.Info("no overlapping appointments found")
}

func loadConfig(base config.Config) (SimConfig, error) {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Workers:      getInt("SIM_WORKERS", 32),
		Rounds:       getInt("SIM_ROUNDS", 2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.2),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.05),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		Date:         getEnv("SIM_DATE", time.Now().In(base.ClinicLocation).AddDate(0, 0, 1).Format("2006-01-02")),
	}
	if raw := os.Getenv("SIM_DOCTOR_ID"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return cfg, fmt.Errorf("SIM_DOCTOR_ID: %w", err)
		}
		cfg.DoctorID = id
	}
	if cfg.Workers <= 0 {
		return cfg, errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Rounds <= 0 {
		return cfg, errors.New("SIM_ROUNDS must be > 0")
	}
	if cfg.ReadRatio+cfg.CancelRatio >= 1 {
		return cfg, errors.New("SIM_READ_RATIO + SIM_CANCEL_RATIO must be < 1")
	}
	return cfg, nil
}

func (s *Simulator) loadDataPool(ctx context.Context, pgPool *pgxpool.Pool, repo *appointment.PgRepository) (*DataPool, error) {
	doctorID := s.config.DoctorID
	if doctorID == uuid.Nil {
		err := pgPool.QueryRow(ctx, `
			SELECT id FROM doctors WHERE is_available ORDER BY created_at LIMIT 1
		`).Scan(&doctorID)
		if err != nil {
			return nil, fmt.Errorf("pick doctor: %w", err)
		}
	}
	doctor, err := repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	dp := &DataPool{Doctor: *doctor, appointments: make(map[uuid.UUID]uuid.UUID)}

	rows, err := pgPool.Query(ctx, `SELECT id FROM patients LIMIT $1`, s.config.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Patients) == 0 {
		return nil, errors.New("no patients loaded")
	}

	slots, err := s.fetchSlots(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("fetch slots: %w", err)
	}
	for _, slot := range slots {
		if slot.Available {
			dp.Slots = append(dp.Slots, slot.Start)
		}
	}
	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("doctor %s has no open slots on %s", doctorID, s.config.Date)
	}
	return dp, nil
}

func (s *Simulator) fetchSlots(ctx context.Context, doctorID uuid.UUID) ([]api.SlotResponse, error) {
	url := fmt.Sprintf("%s/doctors/%s/slots?date=%s", s.config.APIBaseURL, doctorID, s.config.Date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var body api.SlotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Slots, nil
}

// Run starts every worker on the same slot list in a different order, so most
// booking attempts race another worker for the same start time.
func (s *Simulator) Run() {
	s.log.Info("starting simulation", zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(context.Background(), workerID)
		}(i)
	}
	wg.Wait()

	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for round := 0; round < s.config.Rounds; round++ {
		order := rng.Perm(len(s.pool.Slots))
		for _, idx := range order {
			r := rng.Float64()
			switch {
			case r < s.config.CancelRatio:
				s.doCancel(ctx, rng)
			case r < s.config.CancelRatio+s.config.ReadRatio:
				if rng.Intn(2) == 0 {
					s.doReadByID(ctx, rng)
				} else {
					s.doReadSlots(ctx)
				}
			}
			s.doBooking(ctx, rng, s.pool.Slots[idx])
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, start time.Time) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(api.CreateAppointmentRequest{
		PatientID: patientID.String(),
		DoctorID:  s.pool.Doctor.ID.String(),
		StartTime: start.Format(time.RFC3339),
		Type:      string(appointment.TypeInPerson),
	})

	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.RequesterHeader, patientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(began)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			var appt api.AppointmentResponse
			if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID != uuid.Nil {
				success = true
				s.pool.AddAppointment(appt.ID, patientID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}
	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, patientID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(api.CancelRequest{Reason: "simulated cancellation"})

	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, apptID), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.RequesterHeader, patientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(began)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			success = true
			s.pool.RemoveAppointment(apptID)
		case http.StatusUnprocessableEntity:
			// another worker cancelled it first
			conflict = true
			s.pool.RemoveAppointment(apptID)
		}
	}
	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, patientID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	began := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID), nil)
	req.Header.Set(api.RequesterHeader, patientID.String())

	resp, err := s.client.Do(req)
	latency := time.Since(began)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) doReadSlots(ctx context.Context) {
	began := time.Now()
	_, err := s.fetchSlots(ctx, s.pool.Doctor.ID)
	s.metrics.ReadSlots.Record(time.Since(began), err == nil, false)
}

// verifyNoOverlaps reads the doctor's day straight from the store and fails if
// any two non-cancelled appointments intersect.
func (s *Simulator) verifyNoOverlaps(ctx context.Context, repo *appointment.PgRepository, cal appointment.Calendar) error {
	date, err := cal.ParseDate(s.config.Date)
	if err != nil {
		return err
	}
	from, to := cal.Day(date)

	appts, err := repo.ListDoctorAppointments(ctx, s.pool.Doctor.ID, from, to)
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}
	for i := 1; i < len(appts); i++ {
		prev, cur := appts[i-1], appts[i]
		if appointment.Overlaps(prev.StartTime, prev.EndTime(), cur.StartTime, cur.EndTime()) {
			return fmt.Errorf("appointments %s and %s overlap", prev.ID, cur.ID)
		}
	}

	live := s.pool.AppointmentCount()
	s.log.Info("store state",
		zap.Int("scheduled", len(appts)),
		zap.Int("tracked_by_simulator", live),
	)
	if live > len(appts) {
		return fmt.Errorf("simulator holds %d live bookings but the store has %d", live, len(appts))
	}
	return nil
}

func (s *Simulator) PrintReport(elapsed time.Duration) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Elapsed: %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Workers: %d  Rounds: %d  Open slots: %d\n", s.config.Workers, s.config.Rounds, len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Read slots", &s.metrics.ReadSlots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
