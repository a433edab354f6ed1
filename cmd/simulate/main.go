package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/clinova/allocation-engine/internal/config"
	"github.com/clinova/allocation-engine/internal/db"
	"github.com/clinova/allocation-engine/internal/logging"
)

// simulate fires concurrent booking requests at a single doctor's day and
// then checks the committed appointments for overlap. The point is to probe
// the per-doctor serialization, so collisions are deliberate: many workers,
// few distinct slots.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	SlotLimit   int
	PostgresDSN string
}

type DataPool struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	Patients  []uuid.UUID
	Starts    []time.Time
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Rejected  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

func main() {
	logging.Init("simulate", os.Getenv("APP_ENV"))
	log.Info().Msg("simulator starting")

	cfg := loadSimConfig()
	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("slot_limit", cfg.SlotLimit).
		Msg("simulation config")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	pool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().
		Str("doctor_id", pool.DoctorID.String()).
		Int("patients", len(pool.Patients)).
		Int("starts", len(pool.Starts)).
		Msg("data pool loaded")

	metrics := &OperationMetrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	runCtx, cancelRun := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancelRun()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for runCtx.Err() == nil {
				attemptBooking(runCtx, client, cfg.APIBaseURL, pool, rng, metrics)
			}
		}(int64(i) + time.Now().UnixNano())
	}
	wg.Wait()

	avg, p50, p95 := metrics.Stats()
	log.Info().
		Int64("total", metrics.Total).
		Int64("success", metrics.Success).
		Int64("conflict", metrics.Conflict).
		Int64("rejected", metrics.Rejected).
		Int64("error", metrics.Error).
		Dur("avg", avg).
		Dur("p50", p50).
		Dur("p95", p95).
		Msg("simulation complete")

	if err := verifyNoOverlap(context.Background(), pgPool, pool.DoctorID); err != nil {
		log.Fatal().Err(err).Msg("OVERLAP INVARIANT VIOLATED")
	}
	log.Info().Msg("no-overlap invariant holds")

	if metrics.Success > int64(len(pool.Starts)) {
		log.Fatal().
			Int64("success", metrics.Success).
			Int("slots", len(pool.Starts)).
			Msg("more successful bookings than distinct slots")
	}
}

func attemptBooking(ctx context.Context, client *http.Client, baseURL string, pool *DataPool, rng *rand.Rand, metrics *OperationMetrics) {
	patient := pool.Patients[rng.Intn(len(pool.Patients))]
	start := pool.Starts[rng.Intn(len(pool.Starts))]

	body, _ := json.Marshal(map[string]any{
		"doctor_id":  pool.DoctorID.String(),
		"service_id": pool.ServiceID.String(),
		"patient_id": patient.String(),
		"start":      start.Format(time.RFC3339),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/bookings", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	began := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			metrics.Record(time.Since(began), 0)
		}
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	metrics.Record(time.Since(began), resp.StatusCode)
}

func loadDataPool(ctx context.Context, pgPool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	pool := &DataPool{}

	// A doctor and a compatible service; prefer a granularity-sized service
	// so every grid start is bookable.
	row := pgPool.QueryRow(ctx, `
		SELECT d.id, s.id, d.day_start_min, d.slot_minutes, s.duration_minutes
		FROM doctors d
		JOIN services s
		  ON d.general_purpose OR d.specialty = s.category
		ORDER BY abs(s.duration_minutes - d.slot_minutes)
		LIMIT 1
	`)

	var dayStartMin, slotMinutes, durationMinutes int
	if err := row.Scan(&pool.DoctorID, &pool.ServiceID, &dayStartMin, &slotMinutes, &durationMinutes); err != nil {
		return nil, fmt.Errorf("pick doctor/service: %w", err)
	}

	rows, err := pgPool.Query(ctx, `SELECT id FROM patients LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		pool.Patients = append(pool.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(pool.Patients) == 0 {
		return nil, fmt.Errorf("no patients seeded")
	}

	// Tomorrow's grid starts for the chosen doctor, capped at SlotLimit.
	day := time.Now().UTC().AddDate(0, 0, 1)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i < cfg.SlotLimit; i++ {
		pool.Starts = append(pool.Starts, day.Add(time.Duration(dayStartMin+i*slotMinutes)*time.Minute))
	}

	return pool, nil
}

func verifyNoOverlap(ctx context.Context, pgPool *pgxpool.Pool, doctorID uuid.UUID) error {
	row := pgPool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.doctor_id = b.doctor_id
		 AND a.id < b.id
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.doctor_id = $1
		  AND a.status = 'confirmed'
		  AND b.status = 'confirmed'
	`, doctorID)

	var overlapping int
	if err := row.Scan(&overlapping); err != nil {
		return fmt.Errorf("count overlaps: %w", err)
	}
	if overlapping > 0 {
		return fmt.Errorf("%d overlapping confirmed appointment pairs", overlapping)
	}
	return nil
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load base config")
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 8),
		PostgresDSN: baseCfg.PostgresDSN,
	}
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

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
