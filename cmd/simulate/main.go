package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/api"
	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
	"github.com/hackgods/clinic-appointment-scheduling/internal/timerange"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	DoctorLimit  int
	Days         int
	ClinicOpen   int
	ClinicClose  int
	JWTSecret    string
	JWTIssuer    string
	PostgresDSN  string
}

type member struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Patients []member
	Doctors  []member
	Admin    member
	Dates    []string

	mu           sync.RWMutex
	appointments []booked
}

type booked struct {
	ID      uuid.UUID
	Patient member
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type Metrics struct {
	Booking          OperationMetrics
	Cancel           OperationMetrics
	ReadByID         OperationMetrics
	ListByDoctor     OperationMetrics
	ListAvailability OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

var durations = []int{15, 30, 30, 45, 60}

func main() {
	logger := logging.Component(logging.New("dev", "info"), "simulate")

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.DefaultPoolOptions)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("patients", len(dataPool.Patients)).Int("doctors", len(dataPool.Doctors)).Strs("dates", dataPool.Dates).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := sim.Verify(context.Background())
	if err != nil {
		logger.Fatal().Err(err).Msg("verification failed to run")
	}
	if len(overlaps) > 0 {
		for _, o := range overlaps {
			logger.Error().Str("doctor_id", o.PractitionerID.String()).Str("date", o.Date).
				Str("first", o.First.String()).Str("second", o.Second.String()).Msg("overlapping appointments")
		}
		os.Exit(1)
	}
	logger.Info().Msg("no overlapping live appointments")
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+baseCfg.HTTPPort),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.15),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.35),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 20),
		Days:         getInt("SIM_DAYS", 3),
		ClinicOpen:   baseCfg.ClinicOpen,
		ClinicClose:  baseCfg.ClinicClose,
		JWTSecret:    baseCfg.JWTSecret,
		JWTIssuer:    baseCfg.JWTIssuer,
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	switch {
	case cfg.Workers <= 0:
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	case cfg.Days <= 0:
		return cfg, fmt.Errorf("SIM_DAYS must be > 0")
	}
	return cfg, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	mint := func(id uuid.UUID, role auth.Role) (member, error) {
		token, err := auth.IssueToken(cfg.JWTSecret, cfg.JWTIssuer, auth.Principal{ID: id, Role: role}, cfg.Duration+time.Hour)
		if err != nil {
			return member{}, err
		}
		return member{ID: id, Token: token}, nil
	}

	load := func(role auth.Role, limit int) ([]member, error) {
		rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = $1 LIMIT $2`, string(role), limit)
		if err != nil {
			return nil, fmt.Errorf("load %ss: %w", role, err)
		}
		defer rows.Close()

		var out []member
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			m, err := mint(id, role)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no %ss loaded, run cmd/seed first", role)
		}
		return out, rows.Err()
	}

	var err error
	if dataPool.Patients, err = load(auth.RolePatient, cfg.PatientLimit); err != nil {
		return nil, err
	}
	if dataPool.Doctors, err = load(auth.RoleDoctor, cfg.DoctorLimit); err != nil {
		return nil, err
	}
	// verification reads every schedule; the admin needs no users row
	if dataPool.Admin, err = mint(uuid.New(), auth.RoleAdmin); err != nil {
		return nil, err
	}

	tomorrow := time.Now().AddDate(0, 0, 1)
	for i := 0; i < cfg.Days; i++ {
		dataPool.Dates = append(dataPool.Dates, tomorrow.AddDate(0, 0, i).Format("2006-01-02"))
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
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
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByDoctor(ctx, rng)
				case 2:
					s.doAvailability(ctx, rng)
				}
			}
		}
	}
}

// randomStart picks a start on the quarter hour that ends inside clinic hours.
func (s *Simulator) randomStart(rng *rand.Rand, duration int) string {
	latest := s.config.ClinicClose - duration
	slots := (latest-s.config.ClinicOpen)/15 + 1
	if slots <= 0 {
		return timerange.FormatMinutes(s.config.ClinicOpen)
	}
	return timerange.FormatMinutes(s.config.ClinicOpen + 15*rng.Intn(slots))
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	duration := durations[rng.Intn(len(durations))]

	req := api.CreateAppointmentRequest{
		PractitionerID:  doctor.ID.String(),
		Date:            s.pool.Dates[rng.Intn(len(s.pool.Dates))],
		Time:            s.randomStart(rng, duration),
		DurationMinutes: duration,
		Reason:          "simulated visit",
	}

	var created api.AppointmentResponse
	status, latency, err := s.call(ctx, patient.Token, http.MethodPost, "/appointments", req, &created)
	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddAppointment(booked{ID: created.ID, Patient: patient})
	}
	s.metrics.Booking.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	status, latency, err := s.call(ctx, appt.Patient.Token, http.MethodDelete, "/appointments/"+appt.ID.String(),
		api.CancelAppointmentRequest{CancelReason: "simulated cancellation"}, nil)
	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.RandomAppointment(rng)
	if !ok {
		return
	}

	status, latency, err := s.call(ctx, appt.Patient.Token, http.MethodGet, "/appointments/"+appt.ID.String(), nil, nil)
	s.metrics.ReadByID.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListByDoctor(ctx context.Context, rng *rand.Rand) {
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	status, latency, err := s.call(ctx, doctor.Token, http.MethodGet,
		fmt.Sprintf("/appointments?from=%s&to=%s&limit=20", date, date), nil, nil)
	s.metrics.ListByDoctor.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	patient := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	doctor := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	status, latency, err := s.call(ctx, patient.Token, http.MethodGet,
		fmt.Sprintf("/practitioners/%s/availability?date=%s&duration=30", doctor.ID, date), nil, nil)
	s.metrics.ListAvailability.Record(latency, err == nil && status == http.StatusOK, false)
}

// call sends body as JSON and decodes a 2xx response into out when non-nil.
func (s *Simulator) call(ctx context.Context, token, method, path string, body, out any) (int, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, latency, nil
}

// Verify pages every doctor's schedule for the simulated dates through the
// API and reports live appointments that overlap.
func (s *Simulator) Verify(ctx context.Context) ([]Overlap, error) {
	var all []Overlap
	first, last := s.pool.Dates[0], s.pool.Dates[len(s.pool.Dates)-1]

	for _, doctor := range s.pool.Doctors {
		var schedule []api.AppointmentResponse
		for offset := 0; ; offset += 100 {
			var page api.ListAppointmentsResponse
			path := fmt.Sprintf("/appointments?practitioner_id=%s&from=%s&to=%s&limit=100&offset=%d", doctor.ID, first, last, offset)
			status, _, err := s.call(ctx, s.pool.Admin.Token, http.MethodGet, path, nil, &page)
			if err != nil {
				return nil, err
			}
			if status != http.StatusOK {
				return nil, fmt.Errorf("list schedule for %s: status %d", doctor.ID, status)
			}
			schedule = append(schedule, page.Appointments...)
			if len(page.Appointments) < 100 {
				break
			}
		}
		all = append(all, FindOverlaps(schedule)...)
	}
	return all, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Doctor", &s.metrics.ListByDoctor)
	printOperationReport("Availability", &s.metrics.ListAvailability)
}

// Helper functions

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
