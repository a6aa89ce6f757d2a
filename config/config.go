package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/dirfs/internal/util"
	"gopkg.in/yaml.v3"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	DefaultLogLvl = util.InfoLevel

	DefaultBackend = BackendOS

	DefaultIncludeHidden = false

	// DefaultMaxDepth of 0 reads the whole tree
	DefaultMaxDepth = 0

	DefaultConcurrency = 8

	DefaultStrictValidation = false

	DefaultCountFromOne = false

	DefaultFsName = "dirfs"
	DefaultName   = "dirfs"

	// DefaultAttrTimeout is the attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0
)

// Config contains runtime configuration values for building and serving a
// handle filesystem.
type Config struct {
	MountOptions
	LogLvl  util.LogLevel // Internal log level (Default Info)
	Backend string        // Storage backend name, "os" or "memory" (Default "os")

	// Tree building

	IncludeHidden bool // Keep dot files and directories (Default false)
	MaxDepth      int  // Directory levels read below the root; 0 is unlimited (Default 0)
	Concurrency   int  // Directories read in parallel (Default 8)

	// Handle semantics

	StrictValidation bool // Every operation rejects invalidated handles (Default false)
	CountFromOne     bool // New handles start at a reference count of 1 (Default false)

	// NOTE: Low-level FUSE config:

	AttrTimeout  float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64 // Directory entry cache timeout in seconds (Default 1.0)
}

// ConfigOverride uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
type ConfigOverride struct {
	// LogLvl is a verbosity between 1 (error) and 5 (trace), clamped
	LogLvl           *int     `yaml:"verbose,omitempty" json:"verbose,omitempty"`
	Backend          *string  `yaml:"backend,omitempty" json:"backend,omitempty"`
	IncludeHidden    *bool    `yaml:"include_hidden,omitempty" json:"include_hidden,omitempty"`
	MaxDepth         *int     `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
	Concurrency      *int     `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	StrictValidation *bool    `yaml:"strict_validation,omitempty" json:"strict_validation,omitempty"`
	CountFromOne     *bool    `yaml:"count_from_one,omitempty" json:"count_from_one,omitempty"`
	AttrTimeout      *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout     *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
	Debug            *bool    `yaml:"debug,omitempty" json:"debug,omitempty"`
	AllowOther       *bool    `yaml:"allow_other,omitempty" json:"allow_other,omitempty"`
	FsName           *string  `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name             *string  `yaml:"name,omitempty" json:"name,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:           DefaultLogLvl,
		Backend:          DefaultBackend,
		IncludeHidden:    DefaultIncludeHidden,
		MaxDepth:         DefaultMaxDepth,
		Concurrency:      DefaultConcurrency,
		StrictValidation: DefaultStrictValidation,
		CountFromOne:     DefaultCountFromOne,
		AttrTimeout:      DefaultAttrTimeout,
		EntryTimeout:     DefaultEntryTimeout,
	}
}

// NewConfig creates a default Config and merges override onto it.
// A nil override yields the defaults.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.LogLvl != nil {
		c.LogLvl = util.VerbosityToLevel(*override.LogLvl)
	}
	if override.Backend != nil {
		c.Backend = *override.Backend
	}
	if override.IncludeHidden != nil {
		c.IncludeHidden = *override.IncludeHidden
	}
	if override.MaxDepth != nil {
		c.MaxDepth = *override.MaxDepth
	}
	if override.Concurrency != nil {
		c.Concurrency = *override.Concurrency
	}
	if override.StrictValidation != nil {
		c.StrictValidation = *override.StrictValidation
	}
	if override.CountFromOne != nil {
		c.CountFromOne = *override.CountFromOne
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
	if override.Debug != nil {
		c.Debug = *override.Debug
	}
	if override.AllowOther != nil {
		c.AllowOther = *override.AllowOther
	}
	if override.FsName != nil {
		c.FsName = *override.FsName
	}
	if override.Name != nil {
		c.Name = *override.Name
	}
}

// Validate reports settings that cannot be used
func (c *Config) Validate() error {
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative: %d", c.MaxDepth)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1: %d", c.Concurrency)
	}
	if c.AttrTimeout < 0 || c.EntryTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// LoadConfigOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
// This is a convenience function that combines NewDefaultConfig, LoadConfigOverrideFile, and Merge.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	return NewConfig(override), nil
}
