package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", " key ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.GeminiAPIKey)
	assert.Equal(t, "gemini-3", cfg.Model)
	assert.Equal(t, "outputs", cfg.OutputDir)
	assert.Equal(t, "manual_outputs", cfg.ManualOutputDir)
	assert.Equal(t, 5, cfg.MaxWorkers)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 180*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, int64(20<<20), cfg.MaxInlineBytes)
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestLoadClampsValues(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("ECOM_MAX_WORKERS", "0")
	t.Setenv("ECOM_MAX_RETRIES", "-3")
	t.Setenv("ECOM_MODEL", " Imagen-Ultra ")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.MaxWorkers)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "imagen-ultra", cfg.Model)
	assert.True(t, cfg.TelegramEnabled())
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("HTTP_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}
