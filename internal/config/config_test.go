package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLEET_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "fleet_telemetry.db", cfg.Database.Path)
	assert.Equal(t, 0.05, cfg.Detector.Contamination)
	assert.Equal(t, 100, cfg.Detector.Trees)
	assert.True(t, cfg.Detector.TrainOnStart)
	assert.Equal(t, 5, cfg.Simulator.FleetSize)
	assert.Equal(t, 2*time.Second, cfg.Simulator.Interval)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "vehicle-faults", cfg.Kafka.FaultTopic)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	yml := `
server:
  port: 9090
detector:
  contamination: 0.1
  trees: 50
simulator:
  fleet_size: 12
  interval: 500ms
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("FLEET_DB_PATH", "/tmp/override.db")
	t.Setenv("FLEET_SIMULATOR_FLEET_SIZE", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 0.1, cfg.Detector.Contamination)
	assert.Equal(t, 50, cfg.Detector.Trees)
	assert.Equal(t, 256, cfg.Detector.SampleSize, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Simulator.FleetSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Simulator.Interval)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)

	params := cfg.DetectorParams()
	assert.Equal(t, 0.1, params.Contamination)
	assert.Equal(t, 50, params.Trees)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValidate(t *testing.T) {
	t.Setenv("FLEET_CONFIG", "")
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"no database", func(c *Config) { c.Database.Path = "" }},
		{"contamination too high", func(c *Config) { c.Detector.Contamination = 0.9 }},
		{"negative fleet", func(c *Config) { c.Simulator.FleetSize = -1 }},
		{"fault probability", func(c *Config) { c.Simulator.FaultProbability = 2 }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
