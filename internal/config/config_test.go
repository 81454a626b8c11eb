package config_test

import (
	"testing"
	"time"

	"github.com/noahgrant/resourcerer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Run("minimal", func(t *testing.T) {
		t.Setenv("RESOURCERER_API_BASE_URL", "https://api.example.com")

		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com", conf.APIBaseURL())
		assert.Equal(t, "development", conf.Environment())
		assert.Equal(t, 2*time.Minute, conf.GracePeriod())
	})

	t.Run("missing base url", func(t *testing.T) {
		t.Setenv("RESOURCERER_API_BASE_URL", "")

		_, err := config.ConfigFromEnv()
		require.ErrorIs(t, err, config.ErrMissingRequiredValue)
	})

	t.Run("grace period override", func(t *testing.T) {
		t.Setenv("RESOURCERER_API_BASE_URL", "https://api.example.com")
		t.Setenv("RESOURCERER_GRACE_PERIOD", "30s")

		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, conf.GracePeriod())
	})

	t.Run("invalid grace period", func(t *testing.T) {
		t.Setenv("RESOURCERER_API_BASE_URL", "https://api.example.com")
		t.Setenv("RESOURCERER_GRACE_PERIOD", "soon")

		_, err := config.ConfigFromEnv()
		require.ErrorIs(t, err, config.ErrInvalidValue)
	})

	t.Run("does not leak secrets", func(t *testing.T) {
		t.Setenv("RESOURCERER_API_BASE_URL", "https://api.example.com")
		t.Setenv("SENTRY_DSN", "https://secret@sentry.example.com/1")

		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)
		assert.NotContains(t, conf.NonSensitiveString(), "secret")
	})
}
