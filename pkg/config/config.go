package config

import (
	"fmt"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Output formats accepted by Config.OutputFormat.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level  `json:"log_level" default:"4"`
	ScanTimeout    time.Duration `json:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `json:"connect_timeout" default:"30s"`
	SessionTimeout time.Duration `json:"session_timeout"` // 0 waits for the device indefinitely
	OutputFormat   string        `json:"output_format" default:"text"`
	DevicesFile    string        `json:"devices_file" default:"devices.yaml"`
	TargetFile     string        `json:"target_file" default:"target.yaml"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Validate checks values that cannot be repaired by defaults.
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case OutputText, OutputJSON:
	default:
		return fmt.Errorf("output format must be %q or %q, got %q", OutputText, OutputJSON, c.OutputFormat)
	}
	if c.SessionTimeout < 0 {
		return fmt.Errorf("session timeout must not be negative, got %s", c.SessionTimeout)
	}
	return nil
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
