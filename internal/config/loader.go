package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// PortEnv overrides server.port when set.
const PortEnv = "PORT"

// Load reads a YAML file and expands ${VAR} references. No defaults are
// applied.
func Load(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg RelayConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads path and fills in defaults. An empty path yields
// the defaults alone.
func LoadWithDefaults(path string) (*RelayConfig, error) {
	cfg := &RelayConfig{}
	if path != "" {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads path, applies defaults and environment overrides,
// and validates the result.
func LoadAndValidate(path string) (*RelayConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnv applies environment overrides using getenv.
func (c *RelayConfig) applyEnv(getenv func(string) string) error {
	if v := getenv(PortEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: not a port number", PortEnv, v)
		}
		c.Server.Port = port
	}
	return nil
}
