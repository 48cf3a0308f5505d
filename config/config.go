// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/token-engine/allocation"
)

// Config holds application configuration
type Config struct {
	Port       string
	LogLevel   string
	Store      string // memory, sqlite or postgres
	SQLitePath string

	DatabaseURL string
	RedisAddr   string

	PolicyFile      string
	Capacity        int
	WindowMode      string
	Cutoff          string
	WindowOpen      string
	WindowClose     string
	Timezone        string
	Uniqueness      string
	RequireSlot     bool
	DefaultProvider string

	Notifier            string // log, twilio, fast2sms, amqp; comma separated for fan-out
	NotifySignature     string
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioCountryPrefix string
	Fast2SMSAPIKey      string
	Fast2SMSURL         string
	AMQPURL             string
	AMQPExchange        string
	NotifyTimeout       time.Duration
	LockTimeout         time.Duration

	CORSOrigins []string
}

// Load reads .env (if present) and then the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:       getEnv("PORT", "8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Store:      strings.ToLower(getEnv("STORE", "sqlite")),
		SQLitePath: getEnv("SQLITE_PATH", "tokens.db"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),

		PolicyFile:      getEnv("POLICY_FILE", ""),
		Capacity:        getEnvAsInt("DEFAULT_CAPACITY", 0),
		WindowMode:      getEnv("WINDOW_MODE", ""),
		Cutoff:          getEnv("CUTOFF", ""),
		WindowOpen:      getEnv("WINDOW_OPEN", ""),
		WindowClose:     getEnv("WINDOW_CLOSE", ""),
		Timezone:        getEnv("TIMEZONE", ""),
		Uniqueness:      getEnv("IDENTITY_UNIQUENESS", ""),
		RequireSlot:     getEnvAsBool("REQUIRE_SLOT", false),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", ""),

		Notifier:            strings.ToLower(getEnv("NOTIFIER", "log")),
		NotifySignature:     getEnv("NOTIFY_SIGNATURE", ""),
		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioCountryPrefix: getEnv("TWILIO_COUNTRY_PREFIX", "+91"),
		Fast2SMSAPIKey:      getEnv("FAST2SMS_API_KEY", ""),
		Fast2SMSURL:         getEnv("FAST2SMS_URL", ""),
		AMQPURL:             getEnv("AMQP_URL", ""),
		AMQPExchange:        getEnv("AMQP_EXCHANGE", "clinic.events"),
		NotifyTimeout:       getEnvAsDuration("NOTIFY_TIMEOUT", allocation.DefaultNotifyTimeout),
		LockTimeout:         getEnvAsDuration("LOCK_TIMEOUT", allocation.DefaultLockTimeout),

		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"*"}),
	}
}

// Policy overlays the policy knobs that are set in c onto base.
func (c Config) Policy(base allocation.Policy) (allocation.Policy, error) {
	p := base
	if c.Capacity > 0 {
		p.Capacity = c.Capacity
	}
	if c.WindowMode != "" {
		p.Window.Mode = allocation.WindowMode(strings.ToLower(c.WindowMode))
	}
	for _, f := range []struct {
		raw string
		dst *allocation.TimeOfDay
	}{
		{c.Cutoff, &p.Window.Cutoff},
		{c.WindowOpen, &p.Window.Open},
		{c.WindowClose, &p.Window.Close},
	} {
		if f.raw == "" {
			continue
		}
		tod, err := allocation.ParseTimeOfDay(f.raw)
		if err != nil {
			return allocation.Policy{}, err
		}
		*f.dst = tod
	}
	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return allocation.Policy{}, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
		}
		p.Window.Location = loc
	}
	if c.Uniqueness != "" {
		p.Uniqueness = allocation.UniquenessScope(strings.ToLower(c.Uniqueness))
	}
	if c.RequireSlot {
		p.RequireSlot = true
	}
	if c.DefaultProvider != "" {
		p.DefaultProvider = c.DefaultProvider
	}
	if err := p.Compile(); err != nil {
		return allocation.Policy{}, err
	}
	return p, nil
}

// Notifiers returns the configured notifier names.
func (c Config) Notifiers() []string {
	var out []string
	for _, name := range strings.Split(c.Notifier, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
