package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlaceholderAddress marks a target file whose address has not been filled in yet.
const PlaceholderAddress = "XX:XX:XX:XX:XX:XX"

// ErrPlaceholderAddress is returned when the target address is still the placeholder.
var ErrPlaceholderAddress = errors.New("target address is not configured")

// Target names the peripheral to drive and its device type.
type Target struct {
	Type    string `yaml:"type"`
	Address string `yaml:"address"`
}

// IsPlaceholder reports whether the address still holds PlaceholderAddress.
func (t *Target) IsPlaceholder() bool {
	return strings.EqualFold(strings.TrimSpace(t.Address), PlaceholderAddress)
}

// Validate checks that both fields are present.
func (t *Target) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type must not be empty")
	}
	if t.Address == "" {
		return fmt.Errorf("target address must not be empty")
	}
	return nil
}

// ParseTarget decodes a target document.
func ParseTarget(data []byte) (*Target, error) {
	var t Target
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}
	t.Type = strings.TrimSpace(t.Type)
	t.Address = strings.TrimSpace(t.Address)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTarget reads and parses a target YAML file.
func LoadTarget(path string) (*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading target: %w", err)
	}
	return ParseTarget(data)
}
