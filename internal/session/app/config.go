package app

import (
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/service"
)

type Config struct {
	StoreDriver   string // sqlite, redis, or postgres (default: sqlite)
	DatabaseFile  string // SQLite database file (default: ./turnstile.db)
	DatabaseURL   string // Postgres connection URL (required for postgres)
	RedisAddr     string // Redis address (required for redis)
	RedisPrefix   string // Redis key namespace (default: turnstile)
	SecretKeyFile string // Path to the digest secret file (default: ./secret.key)
	GeoEndpoint   string // Optional: geo lookup URL template with {ip} placeholder

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Expiry sweep interval (default: 1h)
	NotifyBufferSize     int           // Notification queue depth (default: 64)

	Settings service.Settings // Rotation policy
}

func LoadConfig() Config {
	settings := service.DefaultSettings()
	settings.RotationInterval = getEnvDurationOrDefault("ROTATION_INTERVAL", settings.RotationInterval)
	settings.UrgentRotationInterval = getEnvDurationOrDefault("URGENT_ROTATION_INTERVAL", settings.UrgentRotationInterval)
	settings.MaxSessionAge = getEnvDurationOrDefault("MAX_SESSION_AGE", settings.MaxSessionAge)
	settings.SafeguardWindow = getEnvDurationOrDefault("ROTATION_SAFEGUARD_WINDOW", settings.SafeguardWindow)
	settings.PreviousTokenGrace = getEnvDurationOrDefault("PREVIOUS_TOKEN_GRACE", settings.PreviousTokenGrace)
	settings.AuditRetention = getEnvDurationOrDefault("AUDIT_RETENTION", settings.AuditRetention)
	settings.VerboseAudit = getEnvBoolOrDefault("VERBOSE_AUDIT", settings.VerboseAudit)

	return Config{
		StoreDriver:   getEnvOrDefault("STORE_DRIVER", "sqlite"),
		DatabaseFile:  getEnvOrDefault("DATABASE_FILE", "turnstile.db"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPrefix:   getEnvOrDefault("REDIS_PREFIX", "turnstile"),
		SecretKeyFile: getEnvOrDefault("SECRET_KEY_FILE", "secret.key"),
		GeoEndpoint:   os.Getenv("GEO_ENDPOINT"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
		NotifyBufferSize:     getEnvIntOrDefault("NOTIFY_BUFFER_SIZE", 64),

		Settings: settings,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}
