package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"vehicle-anomaly-monitor/internal/detector"
	"vehicle-anomaly-monitor/internal/logging"
)

// Config captures every setting the fleet monitor reads at startup.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Detector  DetectorConfig  `yaml:"detector"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

// ServerConfig controls the REST listener.
type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"5s"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path" default:"fleet_telemetry.db"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"console"`
	Output string `yaml:"output" default:"stderr"`
}

// DetectorConfig holds model hyperparameters and startup training.
type DetectorConfig struct {
	Contamination      float64 `yaml:"contamination" default:"0.05"`
	Trees              int     `yaml:"trees" default:"100"`
	SampleSize         int     `yaml:"sample_size" default:"256"`
	Seed               int64   `yaml:"seed" default:"42"`
	MinTrainingSamples int     `yaml:"min_training_samples" default:"10"`
	TrainOnStart       bool    `yaml:"train_on_start" default:"true"`
	TrainingSamples    int     `yaml:"training_samples" default:"1000"`
}

// SimulatorConfig controls the fleet generator.
type SimulatorConfig struct {
	FleetSize        int           `yaml:"fleet_size" default:"5"`
	Interval         time.Duration `yaml:"interval" default:"2s"`
	Seed             int64         `yaml:"seed"`
	FaultProbability float64       `yaml:"fault_probability" default:"0.05"`
}

// KafkaConfig controls fan-out of telemetry, faults and anomalies.
type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers" default:"[\"localhost:9092\"]"`
	TelemetryTopic string        `yaml:"telemetry_topic" default:"vehicle-telemetry"`
	FaultTopic     string        `yaml:"fault_topic" default:"vehicle-faults"`
	AnomalyTopic   string        `yaml:"anomaly_topic" default:"vehicle-anomalies"`
	WriteTimeout   time.Duration `yaml:"write_timeout" default:"10s"`
	Async          bool          `yaml:"async"`
}

// Load reads path (or $FLEET_CONFIG) over the defaults and applies
// environment overrides. An empty path yields defaults plus env.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("FLEET_CONFIG")
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Detector.Contamination <= 0 || c.Detector.Contamination > 0.5 {
		return fmt.Errorf("detector.contamination must be in (0, 0.5], got %g", c.Detector.Contamination)
	}
	if c.Simulator.FleetSize < 0 {
		return fmt.Errorf("simulator.fleet_size cannot be negative")
	}
	if c.Simulator.FaultProbability < 0 || c.Simulator.FaultProbability > 1 {
		return fmt.Errorf("simulator.fault_probability must be in [0, 1], got %g", c.Simulator.FaultProbability)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// DetectorParams converts the detector section for detector.New.
func (c *Config) DetectorParams() detector.Config {
	return detector.Config{
		Contamination:      c.Detector.Contamination,
		Trees:              c.Detector.Trees,
		SampleSize:         c.Detector.SampleSize,
		Seed:               c.Detector.Seed,
		MinTrainingSamples: c.Detector.MinTrainingSamples,
	}
}

// LoggingParams converts the logging section for logging.New.
func (c *Config) LoggingParams() logging.Config {
	return logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEET_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FLEET_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("FLEET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLEET_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FLEET_DETECTOR_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.Contamination = f
		}
	}
	if v := os.Getenv("FLEET_DETECTOR_TRAIN_ON_START"); v != "" {
		cfg.Detector.TrainOnStart = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("FLEET_SIMULATOR_FLEET_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulator.FleetSize = n
		}
	}
	if v := os.Getenv("FLEET_SIMULATOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Simulator.Interval = d
		}
	}
	if v := os.Getenv("FLEET_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("FLEET_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
}
