package app

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meridian-av/gnssd/internal/ephemeris"
	"github.com/meridian-av/gnssd/internal/estimator"
	"github.com/meridian-av/gnssd/internal/gnss"
)

const (
	DefaultReceiverTopic = "gnss/receiver"
	DefaultOutputTopic   = "gnss/measurements"

	defaultClientID = "gnssd"
)

// Environment switches layered over the configuration file. Replay runs
// need deterministic inline orbit fetches and must not dirty the
// ephemeris cache; bench rigs without connectivity turn fetching off.
const (
	envReplay    = "GNSSD_REPLAY"
	envNoNetwork = "GNSSD_NO_NETWORK"
)

// Config represents the main application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Broker    BrokerConfig    `yaml:"broker"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Storage   StorageConfig   `yaml:"storage"`

	constellations []gnss.Constellation
	replay         bool
	noNetwork      bool
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// BrokerConfig represents the MQTT connection and topic layout
type BrokerConfig struct {
	URL           string `yaml:"url"`
	ClientID      string `yaml:"clientId"`
	ReceiverTopic string `yaml:"receiverTopic"`
	OutputTopic   string `yaml:"outputTopic"`
}

// EstimatorConfig represents estimator settings
type EstimatorConfig struct {
	Constellations []string `yaml:"constellations"`
	FetchOrbits    bool     `yaml:"fetchOrbits"`
	CacheEphemeris bool     `yaml:"cacheEphemeris"`
	GPSBaseURL     string   `yaml:"gpsBaseUrl"`
	GlonassBaseURL string   `yaml:"glonassBaseUrl"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DatabasePath string `yaml:"databasePath"`
}

func defaultConfig() *Config {
	return &Config{
		Broker: BrokerConfig{
			ClientID:      defaultClientID,
			ReceiverTopic: DefaultReceiverTopic,
			OutputTopic:   DefaultOutputTopic,
		},
		Estimator: EstimatorConfig{
			FetchOrbits:    true,
			CacheEphemeris: true,
		},
	}
}

// LoadConfig reads and validates the YAML configuration at path, applying
// defaults for absent keys and the process environment switches on top.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := defaultConfig()
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	config.replay = os.Getenv(envReplay) != ""
	config.noNetwork = os.Getenv(envNoNetwork) != ""

	if err = config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// validate checks the configuration and resolves the constellation names.
func (c *Config) validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker url is required")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database path is required")
	}

	if c.Settings.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.Settings.LogLevel, err)
		}
	}

	c.constellations = c.constellations[:0]
	for _, name := range c.Estimator.Constellations {
		cst, err := gnss.ParseConstellation(name)
		if err != nil {
			return fmt.Errorf("estimator: %w", err)
		}
		c.constellations = append(c.constellations, cst)
	}
	return nil
}

// LogLevel returns the configured log level, defaulting to info. Unparseable
// values are rejected by LoadConfig.
func (c *Config) LogLevel() slog.Level {
	if c.Settings.LogLevel == "" {
		return slog.LevelInfo
	}
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Settings.LogLevel))
	return level
}

// estimatorConfig translates the file and environment switches into the
// estimator's knobs.
func (c *Config) estimatorConfig() estimator.Config {
	return estimator.Config{
		Constellations: c.constellations,
		Fetch: ephemeris.FetchConfig{
			GPSBaseURL:     c.Estimator.GPSBaseURL,
			GlonassBaseURL: c.Estimator.GlonassBaseURL,
		},
		DisableOrbitFetch: !c.Estimator.FetchOrbits || c.noNetwork,
		BlockingFetch:     c.replay,
		PersistEphemeris:  c.Estimator.CacheEphemeris && !c.replay,
	}
}
