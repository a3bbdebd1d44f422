package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
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

	"github.com/clinicore/episode-service/internal/config"
	"github.com/clinicore/episode-service/internal/db"
)

// The simulator hammers the finalization path: a mix of bookings, confirms
// and finalizations, with follow-ups deliberately aimed at a small set of
// hot (doctor, minute) pairs so slot contention and duplicate finalizations
// actually happen.

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	BookingRatio  float64
	FinalizeRatio float64
	ReadRatio     float64
	PatientLimit  int
	DoctorLimit   int
	HotMinutes    int
	PostgresDSN   string
}

type DataPool struct {
	Patients []uuid.UUID
	Doctors  []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
	finalized    []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) MarkFinalized(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.finalized = append(dp.finalized, id)
}

// RandomFinalized picks an already-finalized appointment so duplicate
// finalizations get exercised too.
func (dp *DataPool) RandomFinalized(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.finalized) == 0 {
		return uuid.Nil, false
	}
	return dp.finalized[rng.Intn(len(dp.finalized))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Warned    int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict, warned bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
		if warned {
			atomic.AddInt64(&om.Warned, 1)
		}
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
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking    OperationMetrics
	Confirm    OperationMetrics
	Finalize   OperationMetrics
	Refinalize OperationMetrics
	ReadByID   OperationMetrics
	ReadDiag   OperationMetrics
}

type Simulator struct {
	config     SimConfig
	pool       *DataPool
	client     *http.Client
	metrics    Metrics
	hotMinutes []time.Time
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f finalize=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.FinalizeRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d patients, %d doctors", len(dataPool.Patients), len(dataPool.Doctors))

	// A few contended follow-up minutes tomorrow morning.
	base := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Hour)
	hot := make([]time.Time, 0, cfg.HotMinutes)
	for i := 0; i < cfg.HotMinutes; i++ {
		hot = append(hot, base.Add(time.Duration(i)*time.Minute))
	}

	sim := &Simulator{
		config:     cfg,
		pool:       dataPool,
		client:     &http.Client{Timeout: 10 * time.Second},
		hotMinutes: hot,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.4),
		FinalizeRatio: getFloat("SIM_FINALIZE_RATIO", 0.3),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		PatientLimit:  getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:   getInt("SIM_DOCTOR_LIMIT", 10),
		HotMinutes:    getInt("SIM_HOT_MINUTES", 5),
		PostgresDSN:   baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.FinalizeRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.FinalizeRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotMinutes <= 0 {
		return fmt.Errorf("SIM_HOT_MINUTES must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM doctors LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.FinalizeRatio:
				// One finalize in ten retries an already-finalized
				// appointment to exercise the duplicate guard.
				if rng.Intn(10) == 0 {
					s.doRefinalize(ctx, rng)
				} else {
					s.doFinalize(ctx, rng)
				}
			default:
				switch rng.Intn(3) {
				case 0:
					s.doConfirm(ctx, rng)
				case 1:
					s.doReadAppointment(ctx, rng)
				default:
					s.doReadDiagnosis(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) post(ctx context.Context, path string, payload any) (*http.Response, time.Duration, error) {
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return nil, 0, err
		}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	return resp, time.Since(start), err
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	resp, latency, err := s.post(ctx, "/appointments", map[string]any{
		"patient_id":   patientID.String(),
		"doctor_id":    doctorID.String(),
		"visit_type":   "first-visit",
		"scheduled_at": time.Now().UTC().Add(time.Hour),
	})

	success := false
	conflict := false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var apptResp struct {
				ID uuid.UUID `json:"id"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(bodyBytes, &apptResp) == nil && apptResp.ID != uuid.Nil {
				s.pool.AddAppointment(apptResp.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict, false)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	resp, latency, err := s.post(ctx, fmt.Sprintf("/appointments/%s/confirm", apptID), nil)

	success := false
	conflict := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Confirm.Record(latency, success, conflict, false)
}

// doFinalize finalizes a random appointment, attaching a follow-up aimed at
// one of the hot minutes. Many of these target the same (doctor, minute), so
// at most two follow-ups per pair should land; the rest come back with a
// follow-up warning on an otherwise successful finalize.
func (s *Simulator) doFinalize(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	followUpAt := s.hotMinutes[rng.Intn(len(s.hotMinutes))]

	resp, latency, err := s.post(ctx, fmt.Sprintf("/appointments/%s/finalize", apptID), map[string]any{
		"doctor_id":      doctorID.String(),
		"diagnosis_text": "simulated diagnosis",
		"follow_up":      map[string]any{"date_time": followUpAt},
	})

	success := false
	conflict := false
	warned := false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var result struct {
				Warnings []json.RawMessage `json:"warnings"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(bodyBytes, &result) == nil {
				warned = len(result.Warnings) > 0
			}
			s.pool.MarkFinalized(apptID)
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Finalize.Record(latency, success, conflict, warned)
}

// doRefinalize hits an appointment that already has a diagnosis. Anything
// other than 409 here is a bug in the duplicate guard.
func (s *Simulator) doRefinalize(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomFinalized(rng)
	if !ok {
		s.doFinalize(ctx, rng)
		return
	}
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	resp, latency, err := s.post(ctx, fmt.Sprintf("/appointments/%s/finalize", apptID), map[string]any{
		"doctor_id":      doctorID.String(),
		"diagnosis_text": "duplicate attempt",
	})

	success := false
	conflict := false
	if err == nil {
		defer resp.Body.Close()
		// For this op a 409 is the expected outcome.
		success = resp.StatusCode == http.StatusConflict
		conflict = resp.StatusCode == http.StatusCreated
	}

	s.metrics.Refinalize.Record(latency, success, conflict, false)
}

func (s *Simulator) doReadAppointment(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID), nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadByID.Record(latency, success, false, false)
}

func (s *Simulator) doReadDiagnosis(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomFinalized(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s/diagnosis", s.config.APIBaseURL, apptID), nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadDiag.Record(latency, success, false, false)
}

func (s *Simulator) PrintReport() {
	line := "================================================================================"
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot minutes: %d\n", s.config.HotMinutes)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Finalize", &s.metrics.Finalize)
	printOperationReport("Re-finalize (expects 409)", &s.metrics.Refinalize)
	printOperationReport("Read appointment", &s.metrics.ReadByID)
	printOperationReport("Read diagnosis", &s.metrics.ReadDiag)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	warned := atomic.LoadInt64(&om.Warned)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if warned > 0 {
		fmt.Printf("  With warnings: %d (%.1f%%)\n", warned, float64(warned)/float64(total)*100)
	}
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
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

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
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
