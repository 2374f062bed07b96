package onramp

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config controls issuance behavior. Defaults can be loaded via envdecode.
type Config struct {
	// SessionURL is the issuing endpoint the client POSTs session requests
	// to. ENV: ONRAMP_SESSION_URL
	SessionURL string `env:"ONRAMP_SESSION_URL"`

	// MaxRetries is the total number of issuance attempts per acquisition.
	// ENV: ONRAMP_MAX_RETRIES
	MaxRetries int `env:"ONRAMP_MAX_RETRIES,default=3"`

	// BaseDelay seeds the exponential backoff between attempts.
	// ENV: ONRAMP_RETRY_BASE_DELAY
	BaseDelay time.Duration `env:"ONRAMP_RETRY_BASE_DELAY,default=1s"`

	// RequestTimeout bounds a single issuance request.
	// ENV: ONRAMP_REQUEST_TIMEOUT
	RequestTimeout time.Duration `env:"ONRAMP_REQUEST_TIMEOUT,default=10s"`

	// TTL is the token validity window agreed with the issuer. It must match
	// the TTL the token store was configured with. ENV: ONRAMP_TOKEN_TTL
	TTL time.Duration `env:"ONRAMP_TOKEN_TTL,default=5m"`
}

func (cfg *Config) applyDefaults() error {
	if cfg.SessionURL == "" {
		return errors.New("session URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.SessionURL); err != nil {
		return fmt.Errorf("invalid session URL: %w", err)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	return nil
}

// ConfigFromEnv populates a Config from the environment using envdecode.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode onramp config: %w", err)
	}
	return cfg, nil
}
