package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.Store.DSN = "postgres://localhost/gracecoord"
	ApplyDefaults(&cfg)

	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, "gracecoord", cfg.Store.ChannelPrefix)
	assert.Equal(t, "grace", cfg.Grace.GraceObject)
	assert.Equal(t, "clustermap", cfg.Grace.ClusterMapObject)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	assert.NotZero(t, cfg.ShutdownTimeout)
}

func TestValidateRejectsMissingDSN(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)
	err := Validate(&cfg)
	require.Error(t, err)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	var cfg Config
	cfg.Store.DSN = "postgres://localhost/gracecoord"
	ApplyDefaults(&cfg)
	cfg.Logging.Level = "VERBOSE"
	require.Error(t, Validate(&cfg))
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	var cfg Config
	cfg.NodeID = "node-a"
	cfg.Store.DSN = "postgres://localhost/gracecoord"
	ApplyDefaults(&cfg)
	require.NoError(t, Validate(&cfg))
	require.NoError(t, Save(&cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", loaded.NodeID)
	assert.Equal(t, cfg.Store.DSN, loaded.Store.DSN)
	assert.Equal(t, cfg.Grace.GraceObject, loaded.Grace.GraceObject)
}
