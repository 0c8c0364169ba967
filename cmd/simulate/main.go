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
	"github.com/rs/zerolog/log"

	"github.com/myhubcares/clinic-scheduling/internal/db"
	"github.com/myhubcares/clinic-scheduling/internal/logging"
)

// simulate hammers the booking endpoint with deliberately overlapping
// windows and verifies the service admits at most one appointment per
// window. Conflicts (400) and lock contention (409) are the expected
// outcome for the rest.

type simConfig struct {
	APIBaseURL string
	Duration   time.Duration
	Workers    int
	Windows    int // distinct half-hour windows fought over
}

func loadSimConfig() simConfig {
	cfg := simConfig{
		APIBaseURL: getEnv("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:   30 * time.Second,
		Workers:    16,
		Windows:    10,
	}
	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("SIM_WINDOWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Windows = n
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type dataPool struct {
	FacilityID uuid.UUID
	AdminID    uuid.UUID
	Patients   []uuid.UUID
}

func loadDataPool(ctx context.Context, dsn string) (*dataPool, error) {
	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	dp := &dataPool{}

	err = pool.QueryRow(ctx, `SELECT id FROM facilities WHERE active LIMIT 1`).Scan(&dp.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("load facility: %w", err)
	}
	err = pool.QueryRow(ctx, `SELECT id FROM users WHERE role = 'admin' AND active LIMIT 1`).Scan(&dp.AdminID)
	if err != nil {
		return nil, fmt.Errorf("load admin user: %w", err)
	}

	rows, err := pool.Query(ctx, `SELECT id FROM patients WHERE active LIMIT 500`)
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
	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients seeded; run cmd/seed first")
	}
	return dp, rows.Err()
}

type metrics struct {
	Total     int64
	Booked    int64
	Conflict  int64
	Contended int64
	Error     int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *metrics) record(latency time.Duration, status int) {
	atomic.AddInt64(&m.Total, 1)
	switch status {
	case http.StatusCreated:
		atomic.AddInt64(&m.Booked, 1)
	case http.StatusBadRequest:
		atomic.AddInt64(&m.Conflict, 1)
	case http.StatusConflict:
		atomic.AddInt64(&m.Contended, 1)
	default:
		atomic.AddInt64(&m.Error, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *metrics) percentile(p int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	logging.Init("simulate", "dev")

	cfg := loadSimConfig()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dp, err := loadDataPool(ctx, dsn)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}

	log.Info().
		Int("workers", cfg.Workers).
		Int("windows", cfg.Windows).
		Dur("duration", cfg.Duration).
		Stringer("facility_id", dp.FacilityID).
		Msg("starting booking contention simulation")

	// All workers fight over the same small set of windows far enough in
	// the future to never collide with seeded data.
	base := time.Now().AddDate(0, 2, 0).Truncate(time.Hour)
	windows := make([]time.Time, cfg.Windows)
	for i := range windows {
		windows[i] = base.Add(time.Duration(i) * 30 * time.Minute)
	}

	runCtx, stopRun := context.WithTimeout(context.Background(), cfg.Duration)
	defer stopRun()

	var (
		m  metrics
		wg sync.WaitGroup
	)
	client := &http.Client{Timeout: 10 * time.Second}

	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for runCtx.Err() == nil {
				start := windows[rng.Intn(len(windows))]
				patient := dp.Patients[rng.Intn(len(dp.Patients))]
				status, latency := book(runCtx, client, cfg.APIBaseURL, dp, patient, start)
				if status > 0 {
					m.record(latency, status)
				}
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()

	booked := atomic.LoadInt64(&m.Booked)
	log.Info().
		Int64("total", atomic.LoadInt64(&m.Total)).
		Int64("booked", booked).
		Int64("conflict", atomic.LoadInt64(&m.Conflict)).
		Int64("contended", atomic.LoadInt64(&m.Contended)).
		Int64("error", atomic.LoadInt64(&m.Error)).
		Dur("p50", m.percentile(50)).
		Dur("p95", m.percentile(95)).
		Msg("simulation complete")

	if booked > int64(cfg.Windows) {
		log.Error().Int64("booked", booked).Int("windows", cfg.Windows).Msg("DOUBLE BOOKING DETECTED: more bookings than windows")
		os.Exit(1)
	}
	log.Info().Msg("no double booking observed")
}

func book(ctx context.Context, client *http.Client, baseURL string, dp *dataPool, patientID uuid.UUID, start time.Time) (int, time.Duration) {
	body, _ := json.Marshal(map[string]any{
		"patient_id":       patientID.String(),
		"facility_id":      dp.FacilityID.String(),
		"appointment_type": "general",
		"scheduled_start":  start.Format(time.RFC3339),
		"scheduled_end":    start.Add(30 * time.Minute).Format(time.RFC3339),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return 0, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", dp.AdminID.String())
	req.Header.Set("X-User-Role", "admin")

	t0 := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(t0)
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0
		}
		return http.StatusInternalServerError, latency
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, latency
}
