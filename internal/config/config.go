package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AdminJWTSecret     string
	AgentJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	// Scheduling engine
	SlotStep           time.Duration
	ScanWindowStart    string
	ScanWindowEnd      string
	MiddayBreakStart   string
	MiddayBreakEnd     string
	DefaultSlotLimit   int
	DefaultTimezone    string
	BookingLockEnabled bool
	BookingLockTTL     time.Duration
	BookingLockWait    time.Duration
	TenantCacheTTL     time.Duration

	// External calendar
	GoogleCredentialsJSON   string
	ExternalCalendarTimeout time.Duration

	// Outbox delivery
	OutboxInProcess      bool
	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	OutboxMaxAttempts    int
	OutboxRetryBaseDelay time.Duration

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		AgentJWTSecret:     getEnv("AGENT_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		SlotStep:           getEnvAsDuration("SLOT_STEP", 30*time.Minute),
		ScanWindowStart:    getEnv("SCAN_WINDOW_START", "08:00"),
		ScanWindowEnd:      getEnv("SCAN_WINDOW_END", "20:00"),
		MiddayBreakStart:   getEnv("MIDDAY_BREAK_START", "13:00"),
		MiddayBreakEnd:     getEnv("MIDDAY_BREAK_END", "14:00"),
		DefaultSlotLimit:   getEnvAsInt("DEFAULT_SLOT_LIMIT", 20),
		DefaultTimezone:    getEnv("DEFAULT_TIMEZONE", "America/Argentina/Buenos_Aires"),
		BookingLockEnabled: getEnvAsBool("BOOKING_LOCK_ENABLED", true),
		BookingLockTTL:     getEnvAsDuration("BOOKING_LOCK_TTL", 10*time.Second),
		BookingLockWait:    getEnvAsDuration("BOOKING_LOCK_WAIT", 3*time.Second),
		TenantCacheTTL:     getEnvAsDuration("TENANT_CACHE_TTL", 5*time.Minute),

		GoogleCredentialsJSON:   getEnv("GOOGLE_CREDENTIALS", ""),
		ExternalCalendarTimeout: getEnvAsDuration("EXTERNAL_CALENDAR_TIMEOUT", 8*time.Second),

		OutboxInProcess:      getEnvAsBool("OUTBOX_IN_PROCESS", true),
		OutboxPollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:      getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxMaxAttempts:    getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 8),
		OutboxRetryBaseDelay: getEnvAsDuration("OUTBOX_RETRY_BASE_DELAY", 30*time.Second),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Scheduling"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
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

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
