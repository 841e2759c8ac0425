package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Backends selectable with the backend setting.
const (
	BackendGoBLE  = "goble"
	BackendBlueZ  = "bluez"
	BackendTinyGo = "tinygo"
)

var backends = []string{BackendGoBLE, BackendBlueZ, BackendTinyGo}

// Config holds application configuration
type Config struct {
	LogLevel          string         `yaml:"log_level" default:"warn"`
	Backend           string         `yaml:"backend" default:"goble"`
	BlueZ             BlueZConfig    `yaml:"bluez"`
	Delivery          DeliveryConfig `yaml:"delivery"`
	AutoScan          bool           `yaml:"auto_scan" default:"true"`
	ConnectTimeout    time.Duration  `yaml:"connect_timeout"` // zero disables the timeout
	PowerPollInterval time.Duration  `yaml:"power_poll_interval" default:"2s"`
	SubscriberBuffer  int            `yaml:"subscriber_buffer" default:"16"`
}

// BlueZConfig configures the BlueZ backend.
type BlueZConfig struct {
	Adapter string `yaml:"adapter" default:"hci0"`
}

// DeliveryConfig configures periodic media delivery.
type DeliveryConfig struct {
	Interval time.Duration `yaml:"interval" default:"30s"`
	// Media is the WAV file played on each delivery. Empty means silent delivery.
	Media string `yaml:"media"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path over the defaults. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the settings for values the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if !slices.Contains(backends, c.Backend) {
		errs = append(errs, fmt.Errorf("backend: unknown backend %q (want one of %v)", c.Backend, backends))
	}
	if c.Backend == BackendBlueZ && c.BlueZ.Adapter == "" {
		errs = append(errs, errors.New("bluez.adapter: must not be empty"))
	}
	if c.Delivery.Interval <= 0 {
		errs = append(errs, fmt.Errorf("delivery.interval: must be positive, got %s", c.Delivery.Interval))
	}
	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect_timeout: must not be negative, got %s", c.ConnectTimeout))
	}
	if c.PowerPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("power_poll_interval: must be positive, got %s", c.PowerPollInterval))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("subscriber_buffer: must be positive, got %d", c.SubscriberBuffer))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
