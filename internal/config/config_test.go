package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.Greater(t, cfg.Scenario.CPUs, 0)
	require.Greater(t, cfg.Scenario.Duration, int64(0))
	require.Greater(t, cfg.Engine.TickIntervalUS, int64(0))
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "mixed", cfg.Scenario.Name)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/clutchsim.yaml")
	require.Error(t, err)
}

func TestValidateRejectsNonPositiveCPUs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scenario.CPUs = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroTickInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.TickIntervalUS = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEnabledAPIWithoutListenAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Enabled = true
	cfg.API.Listen = ""
	require.Error(t, cfg.Validate())
}
