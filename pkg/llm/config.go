// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default client configuration values.
const (
	DefaultTimeout      = 120 * time.Second
	DefaultMaxRetries   = 3
	DefaultMaxTokens    = 4096
	DefaultTemperature  = 1.0
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMaxDelay     = 8 * time.Second
	DefaultMultiplier   = 2.0
)

// Config holds everything needed to call one model endpoint. Profiles
// reference configs by name via llm_config_ref.
type Config struct {
	EndpointURL string        `yaml:"endpoint_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	TimeoutMs   int           `yaml:"timeout_ms"`
	MaxRetries  int           `yaml:"max_retries"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Retry       BackoffConfig `yaml:"retry"`
}

// BackoffConfig controls retry pacing for transport errors and timeouts.
type BackoffConfig struct {
	InitialDelayMs int     `yaml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier"`
}

// Timeout returns the per-call timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ResolveAPIKey returns the literal key, or reads it from the configured
// environment variable.
func (c *Config) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

func (c *Config) applyDefaults() {
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = int(DefaultTimeout / time.Millisecond)
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Retry.InitialDelayMs <= 0 {
		c.Retry.InitialDelayMs = int(DefaultInitialDelay / time.Millisecond)
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = int(DefaultMaxDelay / time.Millisecond)
	}
	if c.Retry.Multiplier <= 0 {
		c.Retry.Multiplier = DefaultMultiplier
	}
}

// ConfigRegistry maps llm_config_ref names to configs. Loaded once at boot,
// read-only afterwards.
type ConfigRegistry struct {
	configs map[string]*Config
}

type configsDoc struct {
	Configs map[string]*Config `yaml:"configs"`
}

// LoadConfigs reads a YAML document of named LLM configs.
func LoadConfigs(path string) (*ConfigRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading llm configs %s: %w", path, err)
	}
	var doc configsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing llm configs %s: %w", path, err)
	}
	if len(doc.Configs) == 0 {
		return nil, fmt.Errorf("llm configs %s: no configs defined", path)
	}
	for name, cfg := range doc.Configs {
		if cfg.EndpointURL == "" || cfg.Model == "" {
			return nil, fmt.Errorf("llm config %q: endpoint_url and model are required", name)
		}
		cfg.applyDefaults()
	}
	return &ConfigRegistry{configs: doc.Configs}, nil
}

// NewConfigRegistry wraps an in-memory config table (used by tests and
// embedders).
func NewConfigRegistry(configs map[string]*Config) *ConfigRegistry {
	for _, cfg := range configs {
		cfg.applyDefaults()
	}
	return &ConfigRegistry{configs: configs}
}

// Resolve returns the config registered under ref.
func (r *ConfigRegistry) Resolve(ref string) (*Config, error) {
	cfg, ok := r.configs[ref]
	if !ok {
		return nil, &ConfigNotFoundError{Ref: ref}
	}
	return cfg, nil
}
