// Package config loads the pemap command configuration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/xyproto/env/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pemap/pkg/pe"
)

const (
	FormatText = "text"
	FormatYAML = "yaml"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is read from an optional TOML file; PEMAP_* environment variables
// take precedence over the file.
type Config struct {
	// Format selects the output: text (DumpInfo) or yaml (Info).
	Format      string `toml:"format" default:"text"`
	LogLevel    string `toml:"log_level" default:"warn"`
	Development bool   `toml:"development"`
	StrictNames bool   `toml:"strict_names"`
	// Zero keeps the library default.
	MaxSymbolName uint64 `toml:"max_symbol_name"`
	MaxModuleName uint64 `toml:"max_module_name"`
	// Peb is the guest address of a 32-bit PEB whose module list is printed
	// before the image. Zero disables the listing.
	Peb uint64 `toml:"peb"`
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("%s: %w: unknown keys %s", path, ErrInvalid, strings.Join(keys, ", "))
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	// env caches the environment on first use
	env.Load()
	c.Format = env.Str("PEMAP_FORMAT", c.Format)
	c.LogLevel = env.Str("PEMAP_LOG_LEVEL", c.LogLevel)
	if env.Has("PEMAP_STRICT_NAMES") {
		c.StrictNames = env.Bool("PEMAP_STRICT_NAMES")
	}
	if env.Has("PEMAP_DEVELOPMENT") {
		c.Development = env.Bool("PEMAP_DEVELOPMENT")
	}
}

func (c *Config) Validate() error {
	switch c.Format {
	case FormatText, FormatYAML:
	default:
		return fmt.Errorf("%w: format %q", ErrInvalid, c.Format)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Logger builds the zap logger described by the configuration. Logs go to
// stderr so they never mix with the dump on stdout.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// ImageOptions translates the configuration into pe.New options.
func (c *Config) ImageOptions(logger *zap.Logger) []pe.Option {
	return []pe.Option{
		pe.WithLogger(logger),
		pe.WithStrictNames(c.StrictNames),
		pe.WithNameLimits(c.MaxSymbolName, c.MaxModuleName),
	}
}
