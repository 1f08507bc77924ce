package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Server captures process-level configuration. Defaults suit local
// development; production overrides come from the environment.
type Server struct {
	Addr     string `env:"ZX_ADDR" envDefault:":8080"`
	DataPath string `env:"ZX_DATA_PATH" envDefault:"zx.db"`
	LogDebug bool   `env:"ZX_LOG_DEBUG" envDefault:"false"`

	// SagaMarkerTTL bounds how long saga idempotency markers are kept.
	SagaMarkerTTL time.Duration `env:"ZX_SAGA_MARKER_TTL" envDefault:"24h"`
	// ProcessedTTL bounds how long projector processed-event markers are kept.
	ProcessedTTL time.Duration `env:"ZX_PROCESSED_TTL" envDefault:"168h"`
	// SweepInterval controls the expired-key sweep worker cadence.
	SweepInterval time.Duration `env:"ZX_SWEEP_INTERVAL" envDefault:"15m"`
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}
