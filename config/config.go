/*
Package config loads server configuration from the environment.

PURPOSE:
  One struct holds every runtime knob. Values come from environment
  variables (a .env file is loaded first when present, so local dev
  doesn't need to export anything); command-line flags in cmd/server may
  override the common ones.

VARIABLES:
  PTO_HTTP_PORT           HTTP port (default 8080)
  PTO_DB_PATH             SQLite database path (default pto.db)
  PTO_LOG_LEVEL           zerolog level: debug|info|warn|error (default info)
  PTO_CORS_ORIGINS        Comma-separated allowed origins
  PTO_ACCRUAL_SCHEDULE    Cron expression for batch accrual (empty disables)
  PTO_CARRYOVER_SCHEDULE  Cron expression for carryover (empty disables)
  PTO_JOB_TIMEOUT         Scheduled-job timeout (default 10m)
*/
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the full server configuration.
type Config struct {
	HTTPPort int    `env:"PTO_HTTP_PORT,default=8080"`
	DBPath   string `env:"PTO_DB_PATH,default=pto.db"`
	LogLevel string `env:"PTO_LOG_LEVEL,default=info"`

	CORSOrigins []string `env:"PTO_CORS_ORIGINS,default=http://localhost:5173;http://localhost:8080"`

	AccrualSchedule   string        `env:"PTO_ACCRUAL_SCHEDULE"`
	CarryoverSchedule string        `env:"PTO_CARRYOVER_SCHEDULE"`
	JobTimeout        time.Duration `env:"PTO_JOB_TIMEOUT,default=10m"`
}

// Load reads configuration from .env (when present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set variables directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}
