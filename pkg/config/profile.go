package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/srg/medlink/internal/device"
	"gopkg.in/yaml.v3"
)

// Profile sections.
const (
	SectionChars    = "chars"
	SectionCommands = "commands"
	SectionFrames   = "frames"
)

// ErrConfig is matched by every ConfigError.
var ErrConfig = errors.New("configuration error")

// ConfigError reports a missing device profile or a missing key inside one.
//
//nolint:revive // config.ConfigError reads naturally at call sites
type ConfigError struct {
	Profile string
	Section string
	Key     string
	Reason  string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Section == "" && e.Reason == "":
		return fmt.Sprintf("no profile for device type %q", e.Profile)
	case e.Reason != "":
		return fmt.Sprintf("profile %q: %s.%s: %s", e.Profile, e.Section, e.Key, e.Reason)
	default:
		return fmt.Sprintf("profile %q: missing %s.%s", e.Profile, e.Section, e.Key)
	}
}

// Is makes errors.Is(err, ErrConfig) hold for every ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// HexBytes is a byte sequence written in YAML as a hex string ("FC 12 34", "0x06", "01:02").
type HexBytes []byte

// ParseHex decodes a hex string, tolerating spaces, colons, dashes and 0x prefixes.
func ParseHex(s string) (HexBytes, error) {
	cleaned := strings.NewReplacer("0x", "", "0X", "", " ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return nil, fmt.Errorf("empty hex value")
	}
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	return data, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: hex value must be a scalar", value.Line)
	}
	data, err := ParseHex(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*h = data
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (h HexBytes) MarshalYAML() (interface{}, error) {
	return strings.ToUpper(hex.EncodeToString(h)), nil
}

// String renders the bytes as upper-case hex.
func (h HexBytes) String() string {
	return strings.ToUpper(hex.EncodeToString(h))
}

// Profile is the configuration of one device type: characteristic identifiers and command
// payloads by logical name. A Profile is read-only once loaded.
type Profile struct {
	Name     string              `yaml:"-"`
	Chars    map[string]string   `yaml:"chars"`
	Commands map[string]HexBytes `yaml:"commands"`
	Frames   map[string]HexBytes `yaml:"frames,omitempty"`
	Timeout  time.Duration       `yaml:"timeout,omitempty"`
}

// Char returns the characteristic identifier registered under name.
func (p *Profile) Char(name string) (string, error) {
	if p == nil {
		return "", &ConfigError{Section: SectionChars, Key: name, Reason: "no profile"}
	}
	id, ok := p.Chars[name]
	if !ok || strings.TrimSpace(id) == "" {
		return "", &ConfigError{Profile: p.Name, Section: SectionChars, Key: name}
	}
	return id, nil
}

// Command returns a copy of the payload registered under name.
func (p *Profile) Command(name string) ([]byte, error) {
	if p == nil {
		return nil, &ConfigError{Section: SectionCommands, Key: name, Reason: "no profile"}
	}
	cmd, ok := p.Commands[name]
	if !ok || len(cmd) == 0 {
		return nil, &ConfigError{Profile: p.Name, Section: SectionCommands, Key: name}
	}
	return append([]byte(nil), cmd...), nil
}

// Frame returns the frame pattern override registered under name, or fallback.
func (p *Profile) Frame(name string, fallback []byte) []byte {
	if p != nil {
		if f, ok := p.Frames[name]; ok && len(f) > 0 {
			return append([]byte(nil), f...)
		}
	}
	return append([]byte(nil), fallback...)
}

// Validate checks that every characteristic identifier is a well-formed UUID.
func (p *Profile) Validate() error {
	for name, id := range p.Chars {
		if _, err := device.ValidateUUID(id); err != nil {
			return &ConfigError{Profile: p.Name, Section: SectionChars, Key: name, Reason: err.Error()}
		}
	}
	return nil
}

// Profiles maps a device type to its profile.
type Profiles map[string]*Profile

// Get returns the profile for deviceType.
func (ps Profiles) Get(deviceType string) (*Profile, error) {
	p, ok := ps[deviceType]
	if !ok || p == nil {
		return nil, &ConfigError{Profile: deviceType}
	}
	return p, nil
}

// Types returns the configured device types in sorted order.
func (ps Profiles) Types() []string {
	types := make([]string, 0, len(ps))
	for t := range ps {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ParseProfiles decodes a devices document.
func ParseProfiles(data []byte) (Profiles, error) {
	profiles := Profiles{}
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parsing device profiles: %w", err)
	}
	for name, p := range profiles {
		if p == nil {
			p = &Profile{}
			profiles[name] = p
		}
		p.Name = name
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return profiles, nil
}

// LoadProfiles reads and parses a devices YAML file.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device profiles: %w", err)
	}
	return ParseProfiles(data)
}
