package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadAppliesFlagOverrides(t *testing.T) {
	cfg, err := Load([]string{"-p", "9090", "-t", "0", "-l", "debug"})
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.HTTP.Port)
	require.Equal(t, 0, cfg.TCP.Port)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("M8GATEWAY_HTTP_PORT", "7000")
	t.Setenv("M8GATEWAY_AUDIO_ENABLED", "false")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.HTTP.Port)
	require.False(t, cfg.Audio.Enabled)
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("M8GATEWAY_HTTP_PORT", "7000")

	cfg, err := Load([]string{"-p", "9999"})
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.HTTP.Port)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadHTTPPort(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = 0
	require.Error(t, cfg.Validate())
}
