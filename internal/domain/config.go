package domain

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the complete Paygrid configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Evaluation controls how the rule model treats incomplete records.
	Evaluation EvaluationConfig `json:"evaluation"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// AsyncWorker starts the bus-driven payslip worker.
	AsyncWorker bool `json:"asyncWorker"`
}

// EvaluationConfig holds rule-model settings.
type EvaluationConfig struct {
	// StrictFields propagates MissingFieldError instead of treating
	// a condition on an absent field as false.
	StrictFields bool `json:"strictFields"`

	// FormulaCacheSize bounds the number of compiled CEL formulas kept.
	FormulaCacheSize int `json:"formulaCacheSize"`

	// ConfigurationTTL is how long a configuration document stays cached.
	ConfigurationTTL time.Duration `json:"configurationTtl"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process cache and channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Evaluation: EvaluationConfig{
			StrictFields:     false,
			FormulaCacheSize: 512,
			ConfigurationTTL: 10 * time.Minute,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./paygrid.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "paygrid",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "paygrid",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.AsyncWorker = true
	return cfg
}

// LoadConfig builds the configuration from a .env file (if present) and
// PAYGRID_* environment variables.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if os.Getenv("PAYGRID_TIER") == string(TierPro) {
		cfg = ProConfig()
	}

	cfg.Server.Host = getenv("PAYGRID_HOST", cfg.Server.Host)
	cfg.Server.Port = getenvInt("PAYGRID_PORT", cfg.Server.Port)

	cfg.Repository.SQLitePath = getenv("PAYGRID_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getenv("PAYGRID_POSTGRES_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getenvInt("PAYGRID_POSTGRES_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getenv("PAYGRID_POSTGRES_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getenv("PAYGRID_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getenv("PAYGRID_POSTGRES_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getenv("PAYGRID_POSTGRES_SSLMODE", cfg.Repository.PostgresSSLMode)

	cfg.Cache.RedisAddr = getenv("PAYGRID_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getenv("PAYGRID_REDIS_PASSWORD", cfg.Cache.RedisPassword)

	cfg.EventBus.NATSUrl = getenv("PAYGRID_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getenv("PAYGRID_NATS_TOKEN", cfg.EventBus.NATSToken)

	cfg.Evaluation.StrictFields = getenvBool("PAYGRID_STRICT_FIELDS", cfg.Evaluation.StrictFields)
	cfg.AsyncWorker = getenvBool("PAYGRID_ASYNC_WORKER", cfg.AsyncWorker)

	if getenvBool("PAYGRID_DEBUG", false) {
		cfg.Logging.Level = "debug"
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
