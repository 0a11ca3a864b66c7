// Package config loads application configuration from environment
// variables. cmd/ binaries call godotenv first so a local .env file can
// supply them.
package config

import (
	"time"

	"github.com/iliyamo/concert-seat-admission/internal/token"
)

// Store drivers.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds the process wide settings.
type Config struct {
	Env             string // application environment (dev, test, prod)
	Port            string // HTTP port to listen on
	StoreDriver     string // mysql or memory
	DBUser          string
	DBPass          string // may be empty
	DBHost          string
	DBPort          string
	DBName          string
	DBMaxOpenConns  int
	MigrateOnStart  bool
	SeedSeats       int // memory store only: seats created for concert 1
	SeedDetails     int // memory store only: details per seeded seat
	TokenSecret     string // HMAC secret for access tokens
	TokenTTL        time.Duration
	LogLevel        string
	LogFormat       string // json or text
	ShutdownTimeout time.Duration
}

// Load reads the configuration. Database settings are only required for
// the mysql store driver; missing required values exit the process.
func Load() Config {
	c := Config{
		Env:             envStr("APP_ENV", "dev"),
		Port:            must("APP_PORT"),
		StoreDriver:     envStr("STORE_DRIVER", StoreMySQL),
		DBMaxOpenConns:  envInt("DB_MAX_OPEN_CONNS", 25),
		MigrateOnStart:  envBool("DB_MIGRATE", false),
		SeedSeats:       envInt("MEMORY_SEED_SEATS", 0),
		SeedDetails:     envInt("MEMORY_SEED_DETAILS", 1),
		TokenSecret:     must("TOKEN_SECRET"),
		TokenTTL:        envDur("TOKEN_TTL", token.DefaultTTL),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		LogFormat:       envStr("LOG_FORMAT", "json"),
		ShutdownTimeout: envDur("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if c.StoreDriver == StoreMySQL {
		c.DBUser = must("DB_USER")
		c.DBPass = envStr("DB_PASS", "")
		c.DBHost = must("DB_HOST")
		c.DBPort = must("DB_PORT")
		c.DBName = must("DB_NAME")
	}
	return c
}

// LoadWorker reads the settings of the standalone worker, which has no
// HTTP listener.
func LoadWorker() Config {
	return Config{
		Env:             envStr("APP_ENV", "dev"),
		StoreDriver:     StoreMySQL,
		DBUser:          must("DB_USER"),
		DBPass:          envStr("DB_PASS", ""),
		DBHost:          must("DB_HOST"),
		DBPort:          must("DB_PORT"),
		DBName:          must("DB_NAME"),
		DBMaxOpenConns:  envInt("DB_MAX_OPEN_CONNS", 25),
		TokenSecret:     must("TOKEN_SECRET"),
		TokenTTL:        envDur("TOKEN_TTL", token.DefaultTTL),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		LogFormat:       envStr("LOG_FORMAT", "json"),
		ShutdownTimeout: envDur("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
