// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package hosting

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Transport kinds accepted by Config.Transport.Kind.
const (
	TransportStdio = "stdio"
	TransportTCP   = "tcp"
)

// Language modes the runtime can be restricted to.
const (
	LanguageModeFull        = "FullLanguage"
	LanguageModeConstrained = "ConstrainedLanguage"
	LanguageModeRestricted  = "RestrictedLanguage"
	LanguageModeNone        = "NoLanguage"
)

// TransportConfig selects how the editor connects to the host.
type TransportConfig struct {
	Kind string `yaml:"kind"`
	// Address is the host:port to dial when Kind is "tcp".
	Address string `yaml:"address"`
}

// Config is the host's startup record. The engine consumes it once at
// initialization; nothing re-reads it at runtime.
type Config struct {
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile"`

	Transport TransportConfig `yaml:"transport"`

	// AdditionalModules are preloaded on the pipeline before the first task.
	AdditionalModules []string `yaml:"additionalModules"`

	// LanguageMode restricts what the interpreter accepts.
	LanguageMode string `yaml:"languageMode"`

	// ProfilePaths are scripts sourced on the pipeline at startup.
	ProfilePaths []string `yaml:"profilePaths"`

	// EnableDebugAdapter serves the DAP channel alongside the message channel.
	EnableDebugAdapter bool `yaml:"enableDebugAdapter"`

	// DebugAdapterAddress is the host:port the DAP listener binds to. Port 0
	// picks an ephemeral port.
	DebugAdapterAddress string `yaml:"debugAdapterAddress"`
}

// DefaultConfig returns the configuration used when no file or flags are
// given: stdio transport, full language, info logging.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:            "info",
		Transport:           TransportConfig{Kind: TransportStdio},
		LanguageMode:        LanguageModeFull,
		DebugAdapterAddress: "127.0.0.1:0",
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	raw, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, readErr)
	}
	if unmarshalErr := yaml.Unmarshal(raw, cfg); unmarshalErr != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, unmarshalErr)
	}

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, validateErr)
	}
	return cfg, nil
}

// Validate rejects configurations the host cannot honor.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportStdio:
	case TransportTCP:
		if c.Transport.Address == "" {
			return fmt.Errorf("tcp transport requires an address")
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}

	switch c.LanguageMode {
	case LanguageModeFull, LanguageModeConstrained, LanguageModeRestricted, LanguageModeNone:
	default:
		return fmt.Errorf("unknown language mode %q", c.LanguageMode)
	}

	if c.EnableDebugAdapter && c.DebugAdapterAddress == "" {
		return fmt.Errorf("debug adapter requires an address")
	}

	return nil
}
