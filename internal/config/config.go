package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                       string
	AllowedOrigin              string
	DatabaseURL                string
	RunMigrations              bool
	RedisAddr                  string
	RedisPassword              string
	RedisDB                    int
	AuthSecret                 string
	AccessTokenTTLMinutes      int
	QueryCacheTTLSeconds       int
	NotificationRetentionHours int
	CleanupIntervalMinutes     int
	Timezone                   string
	LegacyPixFallback          bool
	LogLevel                   string
	LogDevelopment             bool
}

// Load reads the environment, after merging an optional .env file. Variables
// already present in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                       getEnv("PORT", "8080"),
		AllowedOrigin:              getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:                os.Getenv("DATABASE_URL"),
		RunMigrations:              getBool("RUN_MIGRATIONS", true),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		RedisPassword:              os.Getenv("REDIS_PASSWORD"),
		RedisDB:                    redisDB,
		AuthSecret:                 strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:      getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		QueryCacheTTLSeconds:       getPositiveInt("QUERY_CACHE_TTL_SECONDS", 60),
		NotificationRetentionHours: getPositiveInt("NOTIFICATION_RETENTION_HOURS", 120),
		CleanupIntervalMinutes:     getPositiveInt("CLEANUP_INTERVAL_MINUTES", 60),
		Timezone:                   getEnv("TIMEZONE", "America/Sao_Paulo"),
		LegacyPixFallback:          getBool("LEGACY_PIX_FALLBACK", false),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogDevelopment:             getBool("LOG_DEVELOPMENT", false),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves Timezone, falling back to a fixed UTC-3 zone when the
// tz database is not available in the runtime image.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

func (c Config) NotificationRetention() time.Duration {
	return time.Duration(c.NotificationRetentionHours) * time.Hour
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getBool(key string, fallback bool) bool {
	val, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return val
}
