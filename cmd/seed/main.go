package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

const batchSize = 500

type seedUser struct {
	ID    uuid.UUID
	Name  string
	Email string
	Role  auth.Role
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("prod", "info").Fatal().Err(err).Msg("config load error")
	}
	logger := logging.Component(logging.New(cfg.Env, cfg.LogLevel), "seed")
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.DefaultPoolOptions)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	faker := gofakeit.New(0)

	counts := map[auth.Role]int{
		auth.RoleAdmin:   getInt("SEED_ADMINS", 2),
		auth.RoleDoctor:  getInt("SEED_DOCTORS", 50),
		auth.RolePatient: getInt("SEED_PATIENTS", 5000),
	}

	first := map[auth.Role]seedUser{}
	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RolePatient} {
		users := fakeUsers(faker, role, counts[role])
		if err := insertUsers(ctx, pool, users, logger); err != nil {
			logger.Fatal().Err(err).Str("role", string(role)).Msg("seed users")
		}
		if len(users) > 0 {
			first[role] = users[0]
		}
	}

	// one ready-to-use token per role for manual testing
	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleDoctor, auth.RolePatient} {
		u, ok := first[role]
		if !ok {
			continue
		}
		token, err := auth.IssueToken(cfg.JWTSecret, cfg.JWTIssuer, auth.Principal{ID: u.ID, Role: role}, cfg.TokenTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("issue token")
		}
		fmt.Printf("%-8s %s %s\n  %s\n", role, u.ID, u.Name, token)
	}

	logger.Info().Msg("seed complete")
}

func fakeUsers(faker *gofakeit.Faker, role auth.Role, count int) []seedUser {
	users := make([]seedUser, 0, count)
	for i := 0; i < count; i++ {
		first, last := faker.FirstName(), faker.LastName()
		name := first + " " + last
		if role == auth.RoleDoctor {
			name = "Dr. " + name
		}
		users = append(users, seedUser{
			ID:   uuid.New(),
			Name: name,
			// the index suffix keeps emails unique across a large seed
			Email: fmt.Sprintf("%s.%s.%d@%s", first, last, i, faker.DomainName()),
			Role:  role,
		})
	}
	return users
}

func insertUsers(ctx context.Context, pool *pgxpool.Pool, users []seedUser, logger zerolog.Logger) error {
	for offset := 0; offset < len(users); offset += batchSize {
		end := min(offset+batchSize, len(users))

		batch := &pgx.Batch{}
		for _, u := range users[offset:end] {
			batch.Queue(`
				INSERT INTO users (id, name, email, role, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, u.ID, u.Name, u.Email, string(u.Role))
		}
		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		logger.Info().Str("role", string(users[0].Role)).Int("done", end).Int("total", len(users)).Msg("users seeded")
	}
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
