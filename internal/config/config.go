package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	applog "stockhold/internal/log"
)

type Config struct {
	Port     string
	DBDSN    string
	LogFile  string
	LogLevel string
	SeedDemo bool

	ReservationTTL time.Duration
	SweepInterval  time.Duration
	SweepBatch     int
	SettleGrace    time.Duration
	PurgeInterval  time.Duration
	Retention      time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Requests per minute per client IP on the API group.
	RateLimit int
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		applog.Info(nil, "config.dotenv.skip", map[string]any{"reason": "no .env file, using environment"})
	}

	cfg := Config{
		Port:     getEnv("PORT", "8080"),
		DBDSN:    getEnv("DB_DSN", "stockhold.db"), // sqlite file in working dir
		LogFile:  getEnv("LOG_FILE", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		SeedDemo: getBool("SEED_DEMO", false),

		ReservationTTL: getDuration("RESERVATION_TTL", 30*time.Minute),
		SweepInterval:  getDuration("SWEEP_INTERVAL", 5*time.Minute),
		SweepBatch:     getInt("SWEEP_BATCH", 200),
		SettleGrace:    getDuration("SETTLE_GRACE", time.Minute),
		PurgeInterval:  getDuration("PURGE_INTERVAL", 24*time.Hour),
		Retention:      getDuration("RETENTION", 30*24*time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		RateLimit: getInt("RATE_LIMIT", 120),
	}

	applog.Info(nil, "config.loaded", map[string]any{
		"port":            cfg.Port,
		"db_dsn":          cfg.DBDSN,
		"log_file":        cfg.LogFile,
		"reservation_ttl": cfg.ReservationTTL.String(),
		"sweep_interval":  cfg.SweepInterval.String(),
		"purge_interval":  cfg.PurgeInterval.String(),
		"retention":       cfg.Retention.String(),
		"redis":           cfg.RedisAddr != "",
	})
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Malformed values fall back to the default rather than aborting startup.
func getInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	b, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
