package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

// Usage: migrate [up|down|version|force <version>]
func main() {
	_ = godotenv.Load()
	logger := logging.Component(logging.New(os.Getenv("APP_ENV"), "info"), "migrate")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	m, err := db.NewMigrator(dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer func() { _ = m.Close() }()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal().Msg("force requires a version")
		}
		version, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logger.Fatal().Err(convErr).Msg("invalid version")
		}
		err = m.Force(version)
	case "version":
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Fatal().Err(err).Msg("read schema version")
	}
	logger.Info().Str("command", cmd).Uint("version", version).Bool("dirty", dirty).Msg("migrations complete")
}
