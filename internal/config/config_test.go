package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/sealchat_test")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "")
	t.Setenv("SEND_LIMIT", "")
	t.Setenv("SEND_WINDOW", "")
	t.Setenv("SWEEP_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, 60, cfg.SendLimit)
	require.Equal(t, time.Minute, cfg.SendWindow)
	require.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoadParsesValues(t *testing.T) {
	setRequired(t)
	t.Setenv("SEND_LIMIT", "120")
	t.Setenv("SEND_WINDOW", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 120, cfg.SendLimit)
	require.Equal(t, 30*time.Second, cfg.SendWindow)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	setRequired(t)

	t.Setenv("SEND_WINDOW", "1min")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SEND_WINDOW")

	t.Setenv("SEND_WINDOW", "")
	t.Setenv("SEND_LIMIT", "sixty")
	_, err = Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SEND_LIMIT")
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "x")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/sealchat_test")
	t.Setenv("JWT_SECRET", "")
	_, err = Load()
	require.Error(t, err)
}
