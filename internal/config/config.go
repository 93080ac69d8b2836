package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

type APIConfig struct {
	Addr            string
	Store           string
	DatabaseURL     string
	SQLitePath      string
	CatalogFile     string
	StartupSeed     bool
	StarterCapital  decimal.Decimal
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LockTTL         time.Duration
	LockWait        time.Duration
	AMQPURL         string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TYCOON_API_ADDR", ":3003")
	}

	cfg := APIConfig{
		Addr:            addr,
		Store:           strings.ToLower(envDefault("TYCOON_STORE", StorePostgres)),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:      envDefault("TYCOON_SQLITE_PATH", "tycoon.db"),
		CatalogFile:     strings.TrimSpace(os.Getenv("TYCOON_CATALOG_FILE")),
		StartupSeed:     envBoolDefault("TYCOON_STARTUP_SEED", true),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envIntDefault("REDIS_DB", 0),
		LockTTL:         envDurationDefault("TYCOON_LOCK_TTL", 10*time.Second),
		LockWait:        envDurationDefault("TYCOON_LOCK_WAIT", 5*time.Second),
		AMQPURL:         strings.TrimSpace(os.Getenv("TYCOON_AMQP_URL")),
		RequestTimeout:  envDurationDefault("TYCOON_REQUEST_TIMEOUT", 60*time.Second),
		ShutdownTimeout: envDurationDefault("TYCOON_SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	capital, err := decimal.NewFromString(envDefault("TYCOON_STARTING_CAPITAL", "1000"))
	if err != nil {
		return cfg, fmt.Errorf("TYCOON_STARTING_CAPITAL: %w", err)
	}
	if capital.IsNegative() {
		return cfg, fmt.Errorf("TYCOON_STARTING_CAPITAL must be >= 0")
	}
	cfg.StarterCapital = capital

	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreSQLite, StoreMemory:
	default:
		return cfg, fmt.Errorf("TYCOON_STORE must be one of postgres, sqlite, memory; got %q", cfg.Store)
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TYCOON_API_BASE_URL", "http://localhost:3003"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
