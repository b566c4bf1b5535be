package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	AccessTTL     time.Duration
	CORSOrigin    string
	LogLevel      string
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// SMTP Configuration
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	// Redis Configuration
	RedisURL    string
	PresenceTTL time.Duration
	// Collaboration rules
	JoinCodeTTL        time.Duration
	ActivityRetention  int
	HousekeepingSpec   string
	JoinCodePurgeAfter time.Duration
	// Idle coordinator sessions are dropped after SessionIdleTTL
	SessionIdleTTL   time.Duration
	SessionSweepSpec string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:           getenv("API_ADDR", ":8787"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MigrationsDir:  getenv("ORBIT_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:      getenv("ORBIT_JWT_SECRET", "orbit-dev-secret"),
		AccessTTL:      time.Duration(getenvInt("ORBIT_ACCESS_TTL_SECONDS", 3600)) * time.Second,
		CORSOrigin:     getenv("ORBIT_CORS_ORIGIN", "*"),
		LogLevel:       getenv("ORBIT_LOG_LEVEL", "info"),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", "orbit-meili-key"),
		// SMTP - empty by default, invitation mail disabled if not configured
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", "587"),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPFromName: getenv("SMTP_FROM_NAME", "Orbit"),
		// Redis - presence and change fan-out are disabled when empty
		RedisURL:    getenv("REDIS_URL", ""),
		PresenceTTL: time.Duration(getenvInt("ORBIT_PRESENCE_TTL_SECONDS", 60)) * time.Second,

		JoinCodeTTL:        time.Duration(getenvInt("ORBIT_JOIN_CODE_TTL_HOURS", 30*24)) * time.Hour,
		ActivityRetention:  getenvInt("ORBIT_ACTIVITY_RETENTION", 50),
		HousekeepingSpec:   getenv("ORBIT_HOUSEKEEPING_SCHEDULE", "@daily"),
		JoinCodePurgeAfter: time.Duration(getenvInt("ORBIT_JOIN_CODE_PURGE_AFTER_HOURS", 30*24)) * time.Hour,
		SessionIdleTTL:     time.Duration(getenvInt("ORBIT_SESSION_IDLE_MINUTES", 120)) * time.Minute,
		SessionSweepSpec:   getenv("ORBIT_SESSION_SWEEP_SCHEDULE", "@every 15m"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
