package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds all configuration for the service.
type Config struct {
	Port          string
	Env           string
	StorageDriver string
	DatabaseDSN   string
	SQLitePath    string
	RedisURL      string

	AMQPURL         string
	AMQPExchange    string
	PushRoutingKey  string
	AuditRoutingKey string

	JWTSecret string
	JWTTTL    time.Duration

	OTLPEndpoint string
	ServiceName  string
	LogLevel     string
	DebugRoutes  bool
}

// Load reads configuration from the environment, loading .env first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "3003"),
		Env:             getEnv("ENV", "development"),
		StorageDriver:   getEnv("STORAGE_DRIVER", DriverMemory),
		DatabaseDSN:     os.Getenv("DB_DSN"),
		SQLitePath:      getEnv("SQLITE_PATH", "messenger.db"),
		RedisURL:        os.Getenv("REDIS_URL"),
		AMQPURL:         os.Getenv("AMQP_URL"),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "messenger.events"),
		PushRoutingKey:  getEnv("PUSH_ROUTING_KEY", "push.notifications"),
		AuditRoutingKey: getEnv("AUDIT_ROUTING_KEY", "audit.events"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:     getEnv("SERVICE_NAME", "messenger-service"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	ttl, err := time.ParseDuration(getEnv("JWT_TTL", "720h"))
	if err != nil {
		return nil, fmt.Errorf("parse JWT_TTL: %w", err)
	}
	cfg.JWTTTL = ttl

	debug, err := strconv.ParseBool(getEnv("DEBUG_ROUTES", "false"))
	if err != nil {
		return nil, fmt.Errorf("parse DEBUG_ROUTES: %w", err)
	}
	cfg.DebugRoutes = debug

	switch cfg.StorageDriver {
	case DriverPostgres:
		if cfg.DatabaseDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for the postgres driver")
		}
	case DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("JWT_SECRET is required outside development")
		}
		cfg.JWTSecret = "dev-secret"
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
