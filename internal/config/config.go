package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/extbridge/internal/config/loader"
)

// Config is the complete extbridge configuration.
type Config struct {
	Plugins PluginsConfig `toml:"plugins"`
	Logging LoggingConfig `toml:"logging"`
}

// PluginsConfig configures the extension runtime.
type PluginsConfig struct {
	// Enabled false disables discovery; no script engine is created.
	Enabled bool `toml:"enabled"`

	// Paths are extra module search roots, searched after the defaults.
	Paths []string `toml:"paths"`

	// CancelOnError makes a failing handler cancel a cancelable event.
	CancelOnError bool `toml:"cancel_on_error"`

	StartTimeout           Duration `toml:"start_timeout"`
	ShutdownTimeout        Duration `toml:"shutdown_timeout"`
	ProcessShutdownTimeout Duration `toml:"process_shutdown_timeout"`

	MaxProcesses       int `toml:"max_processes"`
	ProcessOutputLimit int `toml:"process_output_limit"`
	CallStackSize      int `toml:"call_stack_size"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`

	// Output is "stderr", "stdout" or a file path.
	Output string `toml:"output"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Plugins: PluginsConfig{
			Enabled:                true,
			StartTimeout:           Duration{5 * time.Second},
			ShutdownTimeout:        Duration{5 * time.Second},
			ProcessShutdownTimeout: Duration{2 * time.Second},
			MaxProcesses:           16,
			ProcessOutputLimit:     1 << 20,
			CallStackSize:          200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load builds the configuration from the defaults, the TOML file at path
// and the EXTBRIDGE_* environment, in increasing priority. An empty or
// missing path is not an error.
func Load(path string) (*Config, error) {
	var file loader.Loader
	if path != "" {
		file = loader.NewTOMLLoader(path)
	}
	return LoadFrom(file, loader.NewEnvLoader(loader.DefaultEnvPrefix))
}

// LoadFrom merges the given sources over the defaults. Later sources win.
// Nil sources are skipped.
func LoadFrom(sources ...loader.Loader) (*Config, error) {
	layers := make([]map[string]any, 0, len(sources))
	for _, src := range sources {
		if src == nil {
			continue
		}
		m, err := src.Load()
		if err != nil {
			return nil, err
		}
		layers = append(layers, m)
	}
	merged := loader.Merge(layers...)

	cfg := Default()
	if err := decode(merged, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode re-encodes the merged map as TOML and decodes it over cfg, so keys
// that are absent keep their defaults and unknown keys are rejected.
func decode(data map[string]any, cfg *Config) error {
	if len(data) == 0 {
		return nil
	}
	raw, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: unknown keys:\n%s", ErrInvalidConfig, strict.String())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	for i, p := range c.Plugins.Paths {
		c.Plugins.Paths[i] = os.ExpandEnv(p)
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		fail("logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		fail("logging.format %q", c.Logging.Format)
	}
	if c.Logging.Output == "" {
		fail("logging.output is empty")
	}

	if err := c.Plugins.Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Validate reports every invalid plugin setting.
func (p PluginsConfig) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if p.StartTimeout.Duration <= 0 {
		fail("plugins.start_timeout must be positive")
	}
	if p.ShutdownTimeout.Duration <= 0 {
		fail("plugins.shutdown_timeout must be positive")
	}
	if p.ProcessShutdownTimeout.Duration < 0 {
		fail("plugins.process_shutdown_timeout must not be negative")
	}
	if p.MaxProcesses < 0 {
		fail("plugins.max_processes must not be negative")
	}
	if p.ProcessOutputLimit <= 0 {
		fail("plugins.process_output_limit must be positive")
	}
	if p.CallStackSize <= 0 {
		fail("plugins.call_stack_size must be positive")
	}
	for _, path := range p.Paths {
		if path == "" {
			fail("plugins.paths contains an empty path")
			break
		}
	}

	return errors.Join(errs...)
}

// WithDefaults replaces zero timeouts and limits that have no meaningful
// zero value with their defaults. Negative values are kept so Validate can
// report them.
func (p PluginsConfig) WithDefaults() PluginsConfig {
	def := Default().Plugins
	if p.StartTimeout.Duration == 0 {
		p.StartTimeout = def.StartTimeout
	}
	if p.ShutdownTimeout.Duration == 0 {
		p.ShutdownTimeout = def.ShutdownTimeout
	}
	if p.ProcessOutputLimit == 0 {
		p.ProcessOutputLimit = def.ProcessOutputLimit
	}
	if p.CallStackSize == 0 {
		p.CallStackSize = def.CallStackSize
	}
	return p
}
