package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/herlein/gotal/pkg/tal"
)

// Format selects the file encoding
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the encoding from the file extension, YAML for .yaml and
// .yml and JSON otherwise
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func marshal(v any, f Format) ([]byte, error) {
	if f == FormatYAML {
		return yaml.Marshal(v)
	}
	return json.MarshalIndent(v, "", "  ")
}

func unmarshal(data []byte, v any, f Format) error {
	if f == FormatYAML {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func writeFile(path string, v any) error {
	directory := filepath.Dir(path)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := marshal(v, FormatFor(path))
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func readFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := unmarshal(data, v, FormatFor(path)); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return nil
}

// SaveToFile writes a register snapshot
func SaveToFile(snap *Snapshot, path string) error {
	return writeFile(path, snap)
}

// LoadFromFile reads a register snapshot
func LoadFromFile(path string) (*Snapshot, error) {
	var snap Snapshot
	if err := readFile(path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LoadTALConfig reads a TAL configuration. Fields missing from the file keep
// their defaults. The result is validated.
func LoadTALConfig(path string) (*tal.Config, error) {
	cfg := tal.DefaultConfig()
	if err := readFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTALConfig writes a TAL configuration
func SaveTALConfig(cfg *tal.Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return writeFile(path, cfg)
}

// GetConfigPath returns the default snapshot location for a device name
func GetConfigPath(device string) string {
	name := strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(strings.Trim(device, "/"))
	return filepath.Join("etc", "at86rf215", fmt.Sprintf("%s.yaml", name))
}
