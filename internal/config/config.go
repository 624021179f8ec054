// Package config loads service settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	Timezone    string

	EmailEnabled           bool
	SettlingDelay          time.Duration
	DefaultServiceDuration int
	SeniorAgeYears         int

	RateLimitPerMinute int
	RateLimitBurst     int

	LogLevel string
	LogJSON  bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first; missing files are fine.
func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return Config{
		Port:                   port,
		DatabaseURL:            os.Getenv("DB_DSN"),
		Timezone:               os.Getenv("TIMEZONE"),
		EmailEnabled:           readBool("EMAIL_ENABLED", false),
		SettlingDelay:          readDurationMillis("NOTIFIER_SETTLING_DELAY_MS", 500),
		DefaultServiceDuration: readInt("DEFAULT_SERVICE_DURATION_MINUTES", 15),
		SeniorAgeYears:         readInt("SENIOR_AGE_YEARS", 60),
		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		LogLevel:               logLevel,
		LogJSON:                readBool("LOG_JSON", true),
	}
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
