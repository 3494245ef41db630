// Package config loads runtime settings from YAML.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// validate is shared; building a validator is expensive.
var validate = validator.New()

// Config holds the runtime settings.
type Config struct {
	Workers         int           `yaml:"workers" json:"workers" validate:"min=1,max=4096" jsonschema:"minimum=1,maximum=4096,description=Number of worker slots fibers are multiplexed over"`
	DebugChecks     bool          `yaml:"debug_checks" json:"debug_checks" jsonschema:"description=Poison released heap memory"`
	LogLevel        string        `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	DumpColor       string        `yaml:"dump_color" json:"dump_color" validate:"oneof=auto always never" jsonschema:"enum=auto,enum=always,enum=never,description=Colorize uncaught exception dumps"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0" jsonschema:"description=Nanoseconds to wait for fibers after the root fiber returns"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Workers:         runtime.GOMAXPROCS(0),
		LogLevel:        "info",
		DumpColor:       "auto",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Schema returns the JSON schema of Config.
func Schema() ([]byte, error) {
	reflector := jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(&Config{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return out, nil
}
