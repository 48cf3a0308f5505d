package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/token-engine/allocation"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"PORT", "STORE", "NOTIFIER", "NOTIFY_TIMEOUT", "DEFAULT_CAPACITY", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, []string{"log"}, cfg.Notifiers())
	assert.Equal(t, allocation.DefaultNotifyTimeout, cfg.NotifyTimeout)
	assert.Equal(t, 0, cfg.Capacity)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "+91", cfg.TwilioCountryPrefix)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE", "Postgres")
	t.Setenv("DEFAULT_CAPACITY", "30")
	t.Setenv("REQUIRE_SLOT", "true")
	t.Setenv("NOTIFIER", "twilio, amqp")
	t.Setenv("LOCK_TIMEOUT", "250ms")
	t.Setenv("NOTIFY_TIMEOUT", "not-a-duration")
	t.Setenv("CORS_ORIGINS", "https://clinic.example, http://localhost:3000")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, 30, cfg.Capacity)
	assert.True(t, cfg.RequireSlot)
	assert.Equal(t, []string{"twilio", "amqp"}, cfg.Notifiers())
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, allocation.DefaultNotifyTimeout, cfg.NotifyTimeout)
	assert.Equal(t, []string{"https://clinic.example", "http://localhost:3000"}, cfg.CORSOrigins)
}

func TestConfig_Policy(t *testing.T) {
	cfg := Config{
		Capacity:    30,
		WindowMode:  "FIXED",
		WindowOpen:  "17:00",
		WindowClose: "20:30",
		Timezone:    "Asia/Kolkata",
		Uniqueness:  "global",
	}
	p, err := cfg.Policy(allocation.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, 30, p.Capacity)
	assert.Equal(t, allocation.WindowFixed, p.Window.Mode)
	assert.Equal(t, allocation.NewTimeOfDay(20, 30), p.Window.Close)
	assert.Equal(t, "Asia/Kolkata", p.Window.Location.String())
	assert.Equal(t, allocation.UniqueGlobal, p.Uniqueness)

	// Unset knobs keep the base.
	p, err = Config{}.Policy(allocation.DefaultPolicy())
	require.NoError(t, err)
	assert.Equal(t, allocation.DefaultCapacity, p.Capacity)
	assert.Equal(t, allocation.NewTimeOfDay(17, 0), p.Window.Cutoff)
}

func TestConfig_PolicyErrors(t *testing.T) {
	_, err := Config{Cutoff: "5pm"}.Policy(allocation.DefaultPolicy())
	assert.Error(t, err)
	_, err = Config{Timezone: "Mars/Olympus"}.Policy(allocation.DefaultPolicy())
	assert.Error(t, err)
	_, err = Config{WindowMode: "sometimes"}.Policy(allocation.DefaultPolicy())
	assert.Error(t, err)
}
