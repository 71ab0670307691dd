package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures the runtime configuration of the payments gateway.
type Config struct {
	App        AppConfig
	AMQP       AMQPConfig
	Database   DatabaseConfig
	Processing ProcessingConfig
	Health     HealthConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// AMQPConfig describes how the gateway reaches the broker.
type AMQPConfig struct {
	Addr             string
	ConnectionName   string
	PrefetchCount    int
	HeartbeatSeconds int
}

// Heartbeat returns the configured heartbeat interval.
func (c AMQPConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// DatabaseConfig holds the Postgres connection settings backing payment
// creation.
type DatabaseConfig struct {
	URL      string
	MaxConns int
}

// ProcessingConfig bounds the work done for a single delivery.
type ProcessingConfig struct {
	TimeoutSeconds int
}

// Timeout returns the per-message processing deadline.
func (c ProcessingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HealthConfig controls the health server.
type HealthConfig struct {
	Enabled        bool
	Port           int
	CheckTimeoutMs int
}

// CheckTimeout returns the per-check timeout.
func (c HealthConfig) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutMs) * time.Millisecond
}

// Addr returns the listen address of the health server.
func (c HealthConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load reads the full configuration needed to consume payments. Both the
// broker address and the database URL are required.
func Load() (*Config, error) {
	return load(true)
}

// LoadBroker reads the configuration for commands that only talk to the
// broker (topology declaration, publishing). The database URL is optional.
func LoadBroker() (*Config, error) {
	return load(false)
}

func load(requireDatabase bool) (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "development", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.AMQP.Addr = ldr.getString("AMQP_ADDR", "", true)
	cfg.AMQP.ConnectionName = ldr.getString("AMQP_CONNECTION_NAME", "payments-gateway", false)
	cfg.AMQP.PrefetchCount = ldr.getInt("AMQP_PREFETCH_COUNT", 1, false)
	cfg.AMQP.HeartbeatSeconds = ldr.getInt("AMQP_HEARTBEAT_SECONDS", 10, false)

	cfg.Database.URL = ldr.getString("DATABASE_URL", "", requireDatabase)
	cfg.Database.MaxConns = ldr.getInt("DB_MAX_CONNS", 10, false)

	cfg.Processing.TimeoutSeconds = ldr.getInt("PROCESSING_TIMEOUT_SECONDS", 30, false)

	cfg.Health.Enabled = ldr.getBool("HEALTH_ENABLED", true, false)
	cfg.Health.Port = ldr.getInt("HEALTH_PORT", 8081, false)
	cfg.Health.CheckTimeoutMs = ldr.getInt("HEALTH_CHECK_TIMEOUT_MS", 500, false)

	ldr.atLeast("AMQP_PREFETCH_COUNT", cfg.AMQP.PrefetchCount, 1)
	ldr.atLeast("AMQP_HEARTBEAT_SECONDS", cfg.AMQP.HeartbeatSeconds, 0)
	ldr.atLeast("DB_MAX_CONNS", cfg.Database.MaxConns, 1)
	ldr.atLeast("PROCESSING_TIMEOUT_SECONDS", cfg.Processing.TimeoutSeconds, 1)
	ldr.atLeast("HEALTH_CHECK_TIMEOUT_MS", cfg.Health.CheckTimeoutMs, 1)
	if cfg.Health.Enabled && (cfg.Health.Port < 1 || cfg.Health.Port > 65535) {
		ldr.addError("HEALTH_PORT must be between 1 and 65535")
	}

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

// lookup returns the trimmed value and whether a non-empty value was set.
func (l *envLoader) lookup(key string, required bool) (string, bool) {
	val, ok := os.LookupEnv(key)
	val = strings.TrimSpace(val)
	if !ok || val == "" {
		if required {
			l.addError(fmt.Sprintf("%s is required", key))
		}
		return "", false
	}
	return val, true
}

func (l *envLoader) getString(key, def string, required bool) string {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	return val
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) atLeast(key string, value, min int) {
	if value < min {
		l.addError(fmt.Sprintf("%s must be >= %d", key, min))
	}
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
