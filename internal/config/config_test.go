package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://clinic@localhost/clinic")
	t.Setenv("JWT_SECRET", "s3cret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Equal(t, 2*time.Second, cfg.LockWait)
	assert.Equal(t, 8*60, cfg.ClinicOpen)
	assert.Equal(t, 18*60, cfg.ClinicClose)
	assert.False(t, cfg.RescheduleConflictCheck)
	assert.Equal(t, "redis", cfg.LiveFanout)
	assert.Equal(t, "stub", cfg.EmailProvider)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, time.UTC.String(), cfg.ClinicLocation.String())
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 10, cfg.PostgresMaxConn)
	assert.Equal(t, "9091", cfg.WorkerMetrics)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_URL", "redis://app:pw@cache:6380")
	t.Setenv("LOCK_WAIT", "500ms")
	t.Setenv("NOSHOW_GRACE", "30")
	t.Setenv("CLINIC_OPEN", "7:30 AM")
	t.Setenv("CLINIC_CLOSE", "19:00")
	t.Setenv("RESCHEDULE_CONFLICT_CHECK", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("POSTGRES_MAX_CONNS", "25")
	t.Setenv("WORKER_METRICS_PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "app", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
	assert.Equal(t, 500*time.Millisecond, cfg.LockWait)
	assert.Equal(t, 30*time.Second, cfg.NoShowGrace)
	assert.Equal(t, 450, cfg.ClinicOpen)
	assert.Equal(t, 1140, cfg.ClinicClose)
	assert.True(t, cfg.RescheduleConflictCheck)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 25, cfg.PostgresMaxConn)
	assert.Equal(t, "9200", cfg.WorkerMetrics)
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":   {"JWT_SECRET": ""},
		"bad timezone":     {"CLINIC_TIMEZONE": "Mars/Olympus"},
		"inverted hours":   {"CLINIC_OPEN": "18:00", "CLINIC_CLOSE": "08:00"},
		"bad open":         {"CLINIC_OPEN": "25:00"},
		"bad fanout":       {"LIVE_FANOUT": "carrier-pigeon"},
		"sendgrid no key":  {"EMAIL_PROVIDER": "sendgrid"},
		"unknown provider": {"EMAIL_PROVIDER": "fax"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
