// Package config loads the demo binary's configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type Config struct {
	apiBaseURL  string
	sentryDSN   string
	gracePeriod time.Duration
	environment string
}

func (c *Config) APIBaseURL() string {
	return c.apiBaseURL
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) GracePeriod() time.Duration {
	return c.gracePeriod
}

func (c *Config) Environment() string {
	return c.environment
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf("Config{environment: %s, apiBaseURL: %s, gracePeriod: %s}", c.environment, c.apiBaseURL, c.gracePeriod)
}

func ConfigFromEnv() (Config, error) {
	apiBaseURL, ok := os.LookupEnv("RESOURCERER_API_BASE_URL")
	if !ok || apiBaseURL == "" {
		return Config{}, fmt.Errorf("%w: RESOURCERER_API_BASE_URL", ErrMissingRequiredValue)
	}

	environment := os.Getenv("RESOURCERER_ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	gracePeriod := 2 * time.Minute
	if rawGrace := os.Getenv("RESOURCERER_GRACE_PERIOD"); rawGrace != "" {
		parsed, err := time.ParseDuration(rawGrace)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("%w: RESOURCERER_GRACE_PERIOD (%s)", ErrInvalidValue, rawGrace)
		}
		gracePeriod = parsed
	}

	return Config{
		apiBaseURL:  apiBaseURL,
		sentryDSN:   os.Getenv("SENTRY_DSN"),
		gracePeriod: gracePeriod,
		environment: environment,
	}, nil
}
