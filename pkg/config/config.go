package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/posdev/internal/cache"
	"github.com/srg/posdev/internal/candidates"
	"github.com/srg/posdev/internal/detect"
	"github.com/srg/posdev/internal/device/goble"
	"github.com/srg/posdev/internal/device/serial"
	"github.com/srg/posdev/internal/discovery"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel     logrus.Level `yaml:"log_level"`
	OutputFormat string       `yaml:"output_format" default:"table"`

	AllowSerial        bool          `yaml:"allow_serial" default:"true"`
	AllowWireless      bool          `yaml:"allow_wireless" default:"true"`
	ExhaustivePortScan bool          `yaml:"exhaustive_port_scan" default:"false"`
	MaxPortNumber      int           `yaml:"max_port_number" default:"20"`
	DetectionTimeout   time.Duration `yaml:"detection_timeout" default:"20m"`
	StopAfterFirst     bool          `yaml:"stop_after_first" default:"false"`

	ProbeWindow    time.Duration `yaml:"probe_window" default:"5s"`
	ScanDuration   time.Duration `yaml:"scan_duration" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	BaudRates      []int         `yaml:"baud_rates"`
	SerialGlobs    []string      `yaml:"serial_globs"`
	CachePath      string        `yaml:"cache_path"`
}

// ValidationError reports a configuration value that cannot be used.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	cfg.BaudRates = append([]int(nil), serial.DefaultBaudRates...)
	cfg.SerialGlobs = append([]string(nil), serial.DefaultGlobs...)
	cfg.CachePath = cache.DefaultPath()
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every constrained field and returns all violations joined.
func (c *Config) Validate() error {
	var errs []error
	if err := validateDetectionTimeout(c.DetectionTimeout); err != nil {
		errs = append(errs, err)
	}
	if err := validateMaxPortNumber(c.MaxPortNumber); err != nil {
		errs = append(errs, err)
	}
	if c.ProbeWindow <= 0 {
		errs = append(errs, &ValidationError{Field: "probe_window", Value: c.ProbeWindow, Reason: "must be greater than zero"})
	}
	if c.ScanDuration <= 0 {
		errs = append(errs, &ValidationError{Field: "scan_duration", Value: c.ScanDuration, Reason: "must be greater than zero"})
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, &ValidationError{Field: "connect_timeout", Value: c.ConnectTimeout, Reason: "must be greater than zero"})
	}
	for _, baud := range c.BaudRates {
		if baud <= 0 {
			errs = append(errs, &ValidationError{Field: "baud_rates", Value: baud, Reason: "must be greater than zero"})
		}
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, &ValidationError{Field: "output_format", Value: c.OutputFormat, Reason: "must be table or json"})
	}
	if !c.AllowSerial && !c.AllowWireless {
		errs = append(errs, &ValidationError{Field: "allow_serial", Value: false, Reason: "at least one transport must be allowed"})
	}
	return errors.Join(errs...)
}

func validateDetectionTimeout(d time.Duration) error {
	if d <= 0 {
		return &ValidationError{Field: "detection_timeout", Value: d, Reason: "must be greater than zero"}
	}
	return nil
}

func validateMaxPortNumber(n int) error {
	if n < 0 || n > detect.MaxPortNumberLimit {
		return &ValidationError{Field: "max_port_number", Value: n, Reason: fmt.Sprintf("must be between 0 and %d", detect.MaxPortNumberLimit)}
	}
	return nil
}

// SetDetectionTimeout assigns the run budget, rejecting non-positive values.
func (c *Config) SetDetectionTimeout(d time.Duration) error {
	if err := validateDetectionTimeout(d); err != nil {
		return err
	}
	c.DetectionTimeout = d
	return nil
}

// SetMaxPortNumber assigns the exhaustive scan bound, rejecting values
// outside 0..100.
func (c *Config) SetMaxPortNumber(n int) error {
	if err := validateMaxPortNumber(n); err != nil {
		return err
	}
	c.MaxPortNumber = n
	return nil
}

// DetectOptions maps the configuration onto the detector.
func (c *Config) DetectOptions() detect.Options {
	opts := detect.DefaultOptions()
	opts.AllowSerial = c.AllowSerial
	opts.AllowWireless = c.AllowWireless
	opts.ExhaustivePortScan = c.ExhaustivePortScan
	opts.MaxPortNumber = c.MaxPortNumber
	opts.DetectionTimeout = c.DetectionTimeout
	opts.StopAfterFirst = c.StopAfterFirst
	opts.PortName = serial.PortName
	return opts
}

// SourceOptions maps the configuration onto the candidate source.
func (c *Config) SourceOptions() candidates.Options {
	opts := candidates.DefaultOptions()
	opts.SerialGlobs = c.SerialGlobs
	opts.Serial.ProbeWindow = c.ProbeWindow
	if len(c.BaudRates) > 0 {
		opts.Serial.BaudRates = c.BaudRates
	}
	opts.Wireless = goble.Options{
		ConnectTimeout:   c.ConnectTimeout,
		ProbeWindow:      c.ProbeWindow,
		AllowConnections: true,
	}
	return opts
}

// ScanOptions maps the configuration onto wireless discovery.
func (c *Config) ScanOptions() *discovery.ScanOptions {
	opts := discovery.DefaultScanOptions()
	opts.Duration = c.ScanDuration
	return opts
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
