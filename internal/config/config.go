package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the config file name inside a library's data directory.
const FileName = "config.yaml"

// Config holds all xmptags configuration.
type Config struct {
	// Import settings
	Import ImportConfig `yaml:"import"`

	// HTTP adapter
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ImportConfig configures how metadata is located and mapped to tags.
type ImportConfig struct {
	Sources SourcesConfig `yaml:"sources"`

	// Extensions tried when looking for a sidecar, in order
	SidecarExtensions []string `yaml:"sidecar_extensions"`

	// Extensions registered by `scan`
	ImageExtensions []string `yaml:"image_extensions"`

	// Keep keyword hierarchy (Lightroom / digiKam paths) as parent tags
	Hierarchy bool `yaml:"hierarchy"`

	// Create tags that are not yet in the library
	CreateMissing bool `yaml:"create_missing"`

	// Import xmp:Label as a tag under LabelParent
	Labels      bool   `yaml:"labels"`
	LabelParent string `yaml:"label_parent"`

	// Files read concurrently
	Workers int `yaml:"workers"`
}

// SourcesConfig toggles each metadata source.
type SourcesConfig struct {
	Sidecar  bool `yaml:"sidecar"`
	Embedded bool `yaml:"embedded"`
	EXIF     bool `yaml:"exif"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Import: ImportConfig{
			Sources: SourcesConfig{
				Sidecar:  true,
				Embedded: true,
				EXIF:     true,
			},
			SidecarExtensions: []string{".xmp", ".XMP"},
			ImageExtensions:   []string{".jpg", ".jpeg", ".jpe", ".png", ".tif", ".tiff", ".heic", ".webp", ".dng", ".cr2", ".nef", ".arw"},
			Hierarchy:         true,
			CreateMissing:     true,
			Labels:            false,
			LabelParent:       "Label",
			Workers:           4,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// PathFor returns the default config location for a library directory.
func PathFor(libraryDir, dataDir string) string {
	return filepath.Join(libraryDir, dataDir, FileName)
}

// Load reads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks values that would make an import misbehave.
func (c *Config) Validate() error {
	if c.Import.Workers < 1 {
		return fmt.Errorf("import.workers must be at least 1, got %d", c.Import.Workers)
	}
	if len(c.Import.SidecarExtensions) == 0 && c.Import.Sources.Sidecar {
		return fmt.Errorf("import.sidecar_extensions is empty but sidecar import is enabled")
	}
	for _, ext := range c.Import.SidecarExtensions {
		if len(ext) < 2 || ext[0] != '.' {
			return fmt.Errorf("invalid sidecar extension %q", ext)
		}
	}
	if c.Import.Labels && c.Import.LabelParent == "" {
		return fmt.Errorf("import.label_parent is required when labels are imported")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}
