package relay

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultSessionTTL    = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second
)

// Config is the externally supplied configuration surface. Everything has a
// working default; a bare `oauth-relay` serves on :8080 with a 5 minute TTL.
type Config struct {
	// Env selects the log output: "dev" for the console handler, "prod"
	// for JSON.
	Env string `env:"RELAY_ENV" envDefault:"dev"`

	Addr string `env:"RELAY_ADDR" envDefault:":8080"`

	// SessionTTL bounds the lifetime of every session, fulfilled or not.
	SessionTTL time.Duration `env:"RELAY_SESSION_TTL" envDefault:"5m"`

	SweepInterval time.Duration `env:"RELAY_SWEEP_INTERVAL" envDefault:"30s"`

	// AllowedOrigins feeds the CORS middleware and the websocket origin
	// check. Superseded by the origin policy file when one is configured.
	AllowedOrigins []string `env:"RELAY_ALLOWED_ORIGINS" envDefault:"*"`

	// OriginPolicyPath optionally points at a YAML origin policy file.
	OriginPolicyPath string `env:"RELAY_ORIGIN_POLICY_PATH"`

	LogLevel string `env:"RELAY_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", c.SessionTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.Addr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	return nil
}
