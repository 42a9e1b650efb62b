package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, "*", cfg.CORSOrigin)
	require.Equal(t, "temps-net", cfg.NetworkName)
	require.Equal(t, time.Hour, cfg.BackupInterval)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TEMPS_ADDR", ":9090")
	t.Setenv("TEMPS_BEARER_TOKEN", "s3cr3t")
	t.Setenv("TEMPS_DATABASE_URL", "postgres://localhost/temps")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, "s3cr3t", cfg.BearerToken)
	require.Equal(t, "postgres://localhost/temps", cfg.DatabaseURL)
}

func TestLoadMissingConfigFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/tempsd.yaml")
	require.Error(t, err)
}
