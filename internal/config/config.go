// Package config loads the process configuration: listen address, sandbox
// backend tuning, default limits, hard ceilings, and the enabled language
// set. Values come from an optional sandbox.yaml plus SANDBOX_* environment
// variables layered on top.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/parsify-dev/codexec/internal/engine"
	"github.com/parsify-dev/codexec/internal/language"
	"github.com/parsify-dev/codexec/internal/limits"
	"github.com/parsify-dev/codexec/internal/runtime/docker"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Cache   CacheConfig   `mapstructure:"cache"`
}

// ServerConfig holds the HTTP surface configuration.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SandboxConfig holds backend tuning.
type SandboxConfig struct {
	PoolSize      int      `mapstructure:"pool_size"`
	MaxConcurrent int      `mapstructure:"max_concurrent"`
	CPULimit      float64  `mapstructure:"cpu_limit"`
	Languages     []string `mapstructure:"languages"`
}

// LimitsConfig holds the default limit set and the hard ceilings requests
// and operators can never exceed. The allow_* capabilities default to false;
// a request can only narrow what is granted here.
type LimitsConfig struct {
	TimeoutMS     int  `mapstructure:"timeout_ms"`
	MemoryMB      int  `mapstructure:"memory_mb"`
	OutputBytes   int  `mapstructure:"output_bytes"`
	InputBytes    int  `mapstructure:"input_bytes"`
	MaxTimeoutMS  int  `mapstructure:"max_timeout_ms"`
	MaxMemoryMB   int  `mapstructure:"max_memory_mb"`
	MaxOutputByte int  `mapstructure:"max_output_bytes"`
	MaxInputBytes int  `mapstructure:"max_input_bytes"`
	AllowNetwork  bool `mapstructure:"allow_network"`
	AllowFS       bool `mapstructure:"allow_fs"`
	AllowEnv      bool `mapstructure:"allow_env"`
	AllowProcess  bool `mapstructure:"allow_process"`
}

// CacheConfig bounds the compilation cache.
type CacheConfig struct {
	Entries int `mapstructure:"entries"`
	Bytes   int `mapstructure:"bytes"`
}

// New loads and validates the application configuration.
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("sandbox")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("SANDBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("sandbox.pool_size", 2)
	v.SetDefault("sandbox.max_concurrent", 8)
	v.SetDefault("sandbox.cpu_limit", 0.5)
	v.SetDefault("sandbox.languages", []string{
		"javascript", "typescript", "python", "rust", "c", "cpp",
	})
	v.SetDefault("limits.timeout_ms", limits.DefaultTimeoutMS)
	v.SetDefault("limits.memory_mb", limits.DefaultMaxMemoryMB)
	v.SetDefault("limits.output_bytes", limits.DefaultMaxOutputSize)
	v.SetDefault("limits.input_bytes", limits.DefaultMaxInputSize)
	v.SetDefault("limits.max_timeout_ms", 60_000)
	v.SetDefault("limits.max_memory_mb", 1024)
	v.SetDefault("limits.max_output_bytes", 16<<20)
	v.SetDefault("limits.max_input_bytes", 1<<20)
	v.SetDefault("limits.allow_network", false)
	v.SetDefault("limits.allow_fs", false)
	v.SetDefault("limits.allow_env", false)
	v.SetDefault("limits.allow_process", false)
	v.SetDefault("cache.entries", 128)
	v.SetDefault("cache.bytes", 256<<20)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults plus env cover everything.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &config, nil
}

// validate ensures the configuration is coherent before anything starts.
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in (0, 65535], got %d", c.Server.Port)
	}
	if c.Sandbox.PoolSize <= 0 {
		return fmt.Errorf("sandbox.pool_size must be positive, got %d", c.Sandbox.PoolSize)
	}
	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.max_concurrent must be positive, got %d", c.Sandbox.MaxConcurrent)
	}
	if len(c.Sandbox.Languages) == 0 {
		return fmt.Errorf("sandbox.languages must name at least one language")
	}
	if _, err := c.LanguageSpecs(); err != nil {
		return err
	}
	def := c.DefaultLimits()
	if err := def.Validate(); err != nil {
		return err
	}
	ceil := c.Ceilings()
	if def.TimeoutMS > ceil.TimeoutMS || def.MaxMemoryMB > ceil.MaxMemoryMB ||
		def.MaxOutputSize > ceil.MaxOutputSize || def.MaxInputSize > ceil.MaxInputSize {
		return fmt.Errorf("default limits exceed the configured ceilings")
	}
	return nil
}

// LanguageSpecs resolves the configured language ids against the closed set.
func (c *Config) LanguageSpecs() ([]language.Spec, error) {
	specs := make([]language.Spec, 0, len(c.Sandbox.Languages))
	seen := make(map[language.ID]bool)
	for _, name := range c.Sandbox.Languages {
		id, ok := language.Parse(name)
		if !ok {
			return nil, fmt.Errorf("unknown language %q in sandbox.languages", name)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		spec, _ := language.Lookup(id)
		specs = append(specs, spec)
	}
	return specs, nil
}

// DefaultLimits maps the config onto the engine's default limit set.
func (c *Config) DefaultLimits() limits.ExecutionLimits {
	return limits.ExecutionLimits{
		TimeoutMS:     c.Limits.TimeoutMS,
		MaxMemoryMB:   c.Limits.MemoryMB,
		MaxOutputSize: c.Limits.OutputBytes,
		MaxInputSize:  c.Limits.InputBytes,
		AllowNetwork:  c.Limits.AllowNetwork,
		AllowFS:       c.Limits.AllowFS,
		AllowEnv:      c.Limits.AllowEnv,
		AllowProcess:  c.Limits.AllowProcess,
	}
}

// Ceilings maps the config onto the hard limit ceilings.
func (c *Config) Ceilings() limits.Ceilings {
	return limits.Ceilings{
		TimeoutMS:     c.Limits.MaxTimeoutMS,
		MaxMemoryMB:   c.Limits.MaxMemoryMB,
		MaxOutputSize: c.Limits.MaxOutputByte,
		MaxInputSize:  c.Limits.MaxInputBytes,
	}
}

// EngineOptions assembles the facade options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		DefaultLimits: c.DefaultLimits(),
		Ceilings:      c.Ceilings(),
		MaxConcurrent: c.Sandbox.MaxConcurrent,
		CacheEntries:  c.Cache.Entries,
		CacheBytes:    int64(c.Cache.Bytes),
	}
}

// BackendConfig assembles the docker backend configuration.
func (c *Config) BackendConfig() docker.Config {
	cfg := docker.DefaultConfig()
	cfg.PoolSize = c.Sandbox.PoolSize
	cfg.CPULimit = c.Sandbox.CPULimit
	cfg.DefaultMemoryMB = c.Limits.MemoryMB
	return cfg
}
