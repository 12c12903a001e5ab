// Package config provides the ambient configuration document: logging,
// concurrency, checkpoint, discovery, registry, server, and tracing settings
// loaded independently of any individual workflow file.
package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the single entry point for all ambient (non-workflow) settings,
// one unified document rather than a config file per concern.
type Config struct {
	Version     string            `yaml:"version,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`

	Logging     LoggingConfig     `yaml:"logging,omitempty"`
	Concurrency ConcurrencyConfig `yaml:"concurrency,omitempty"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint,omitempty"`
	Discovery   DiscoveryConfig   `yaml:"discovery,omitempty"`
	Registry    RegistryConfig    `yaml:"registry,omitempty"`
	Server      ServerConfig      `yaml:"server,omitempty"`
	Tracing     TracingConfig     `yaml:"tracing,omitempty"`
}

// Validate implements ConfigInterface for Config.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	if err := c.Concurrency.Validate(); err != nil {
		return fmt.Errorf("concurrency config validation failed: %w", err)
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint config validation failed: %w", err)
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery config validation failed: %w", err)
	}
	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config validation failed: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config validation failed: %w", err)
	}
	return nil
}

// SetDefaults implements ConfigInterface for Config.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Concurrency.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Discovery.SetDefaults()
	c.Registry.SetDefaults()
	c.Server.SetDefaults()
	c.Tracing.SetDefaults()
}

// Load reads, env-expands, defaults, and validates the config document at
// path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return LoadFromString(string(raw))
}

// LoadFromString runs the same pipeline as Load against an in-memory
// document, used by tests.
func LoadFromString(doc string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	expanded, ok := ExpandEnvVarsInData(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config: document did not decode to an object")
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("config: building decoder: %w", err)
	}
	if err := decoder.Decode(expanded); err != nil {
		return nil, fmt.Errorf("config: decoding document: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ============================================================================
// LOGGING
// ============================================================================

// LoggingConfig configures the ambient log/slog handler.
type LoggingConfig struct {
	Level    string `yaml:"level,omitempty"`
	Format   string `yaml:"format,omitempty"`
	Output   string `yaml:"output,omitempty"`
	FilePath string `yaml:"file_path,omitempty"`
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	switch c.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output: %s", c.Output)
	}
	if c.Output == "file" && c.FilePath == "" {
		return fmt.Errorf("file_path is required when output is \"file\"")
	}
	return nil
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// ============================================================================
// CONCURRENCY
// ============================================================================

// ConcurrencyConfig bounds parallel/for_each fan-out.
type ConcurrencyConfig struct {
	MaxParallelSteps int `yaml:"max_parallel_steps,omitempty"`
}

func (c *ConcurrencyConfig) Validate() error {
	if c.MaxParallelSteps <= 0 {
		return fmt.Errorf("max_parallel_steps must be positive")
	}
	return nil
}

func (c *ConcurrencyConfig) SetDefaults() {
	if c.MaxParallelSteps == 0 {
		c.MaxParallelSteps = 8
	}
}

// ============================================================================
// CHECKPOINT
// ============================================================================

// CheckpointConfig points the checkpoint store at its root directory.
type CheckpointConfig struct {
	Root string `yaml:"root,omitempty"`
}

func (c *CheckpointConfig) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	return nil
}

func (c *CheckpointConfig) SetDefaults() {
	if c.Root == "" {
		c.Root = ".maverick/checkpoints"
	}
}

// ============================================================================
// DISCOVERY
// ============================================================================

// DiscoveryConfig configures the BUILTIN/USER/PROJECT precedence layers.
type DiscoveryConfig struct {
	BuiltinDir string `yaml:"builtin_dir,omitempty"`
	UserDir    string `yaml:"user_dir,omitempty"`
	ProjectDir string `yaml:"project_dir,omitempty"`
	Watch      bool   `yaml:"watch,omitempty"`
}

func (c *DiscoveryConfig) Validate() error { return nil }

func (c *DiscoveryConfig) SetDefaults() {
	if c.UserDir == "" {
		c.UserDir = "~/.maverick/workflows"
	}
	if c.ProjectDir == "" {
		c.ProjectDir = "./.maverick/workflows"
	}
}

// ============================================================================
// REGISTRY
// ============================================================================

// RegistryConfig selects strict vs. lenient component resolution.
// StrictPtr is a pointer so an omitted key can default to true (the production
// default) while an explicit `strict: false` is still distinguishable from
// "not set" — a plain bool can't tell those apart.
type RegistryConfig struct {
	StrictPtr *bool `yaml:"strict,omitempty"`
}

// Strict reports the effective strict/lenient setting.
func (c *RegistryConfig) Strict() bool {
	return c.StrictPtr == nil || *c.StrictPtr
}

func (c *RegistryConfig) Validate() error { return nil }

func (c *RegistryConfig) SetDefaults() {
	if c.StrictPtr == nil {
		strict := true
		c.StrictPtr = &strict
	}
}

// ============================================================================
// SERVER
// ============================================================================

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// ============================================================================
// TRACING
// ============================================================================

// TracingConfig turns on per-run/per-step OpenTelemetry spans. The only
// exporter wired is stdout, matching a workflow engine running as a single
// CLI/server process with no collector sidecar to ship spans to.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	Pretty  bool `yaml:"pretty,omitempty"`
}

func (c *TracingConfig) Validate() error { return nil }

func (c *TracingConfig) SetDefaults() {}
