package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	ProviderKind     string        `env:"PROVIDER" envDefault:"mock"`
	ProviderURL      string        `env:"PROVIDER_URL" envDefault:"http://mock-provider:8081"`
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"5s"`
	ProviderCapsFile string        `env:"PROVIDER_CAPABILITIES_FILE"`

	IdempotencyTTL           time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"3600s"`
	IdempotencySweepInterval time.Duration `env:"IDEMPOTENCY_SWEEP_INTERVAL" envDefault:"1m"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"50"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"10"`
	EventWebhookURL    string        `env:"EVENT_WEBHOOK_URL"`

	LedgerIngestSecret string `env:"LEDGER_INGEST_SECRET,required,notEmpty"`
	ReplayBatchSize    int    `env:"REPLAY_BATCH_SIZE" envDefault:"1000"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// VerifierConfig is the subset the offline verifier needs; it does not
// require the API secrets.
type VerifierConfig struct {
	DatabaseURL     string `env:"DATABASE_URL,required,notEmpty"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"warn"`
	AppEnv          string `env:"APP_ENV" envDefault:"production"`
	ReplayBatchSize int    `env:"REPLAY_BATCH_SIZE" envDefault:"1000"`
}

func LoadVerifier() (*VerifierConfig, error) {
	cfg, err := env.ParseAs[VerifierConfig]()
	if err != nil {
		return nil, fmt.Errorf("config.LoadVerifier: %w", err)
	}
	if cfg.ReplayBatchSize <= 0 {
		return nil, fmt.Errorf("config.LoadVerifier: REPLAY_BATCH_SIZE must be positive, got %d", cfg.ReplayBatchSize)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.ProviderKind {
	case "mock", "http":
	default:
		return fmt.Errorf("PROVIDER must be mock or http, got %q", c.ProviderKind)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	if c.OutboxBatchSize <= 0 || c.ReplayBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	return nil
}
