package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/cyclesched/internal/cycling"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "default", cfg.WorkflowName)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 20, cfg.SnapshotKeep)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/cyclesched.yaml")
	require.NoError(t, err)
	require.Equal(t, "default", cfg.WorkflowName)
}

func TestCyclingFamilyResolvesBothKinds(t *testing.T) {
	cfg := Config{Family: "iso"}
	f, err := cfg.CyclingFamily()
	require.NoError(t, err)
	require.Equal(t, cycling.ISOFamily, f)

	cfg = Config{Family: ""}
	f, err = cfg.CyclingFamily()
	require.NoError(t, err)
	require.Equal(t, cycling.IntegerFamily, f)
}

func TestCyclingFamilyRejectsUnknown(t *testing.T) {
	cfg := Config{Family: "lunar"}
	_, err := cfg.CyclingFamily()
	require.Error(t, err)
}
