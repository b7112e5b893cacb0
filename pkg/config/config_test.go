package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pemap.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{Format: FormatText, LogLevel: "warn"}
	if *cfg != want {
		t.Errorf("Load(\"\") = %+v, want %+v", *cfg, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
format = "yaml"
log_level = "debug"
strict_names = true
max_symbol_name = 512
max_module_name = 64
peb = 0x7ffdf000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		Format:        FormatYAML,
		LogLevel:      "debug",
		StrictNames:   true,
		MaxSymbolName: 512,
		MaxModuleName: 64,
		Peb:           0x7ffdf000,
	}
	if *cfg != want {
		t.Errorf("Load() = %+v, want %+v", *cfg, want)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
format = "yaml"
strict_names = true
`)
	t.Setenv("PEMAP_FORMAT", "text")
	t.Setenv("PEMAP_LOG_LEVEL", "error")
	t.Setenv("PEMAP_STRICT_NAMES", "false")
	t.Setenv("PEMAP_DEVELOPMENT", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Format != FormatText || cfg.LogLevel != "error" || cfg.StrictNames || !cfg.Development {
		t.Errorf("Load() = %+v", *cfg)
	}
}

func TestEnvironmentReadOnEveryLoad(t *testing.T) {
	if _, err := Load(""); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Setenv("PEMAP_FORMAT", "yaml")
	t.Setenv("PEMAP_DEVELOPMENT", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Format != FormatYAML || !cfg.Development {
		t.Errorf("Load() after setting PEMAP_* = %+v", *cfg)
	}
}

func TestUnsetEnvironmentKeepsFile(t *testing.T) {
	path := writeConfig(t, `strict_names = true`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.StrictNames {
		t.Error("strict_names from file was reset")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{"bad format", `format = "xml"`, true},
		{"bad level", `log_level = "loud"`, true},
		{"unknown key", `colour = "blue"`, true},
		{"syntax", `format = `, false},
		{"wrong type", `peb = "high"`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("Load succeeded")
			}
			if errors.Is(err, ErrInvalid) != tc.invalid {
				t.Errorf("Load error = %v, ErrInvalid %v", err, tc.invalid)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v", err)
	}
}

func TestLogger(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.LogLevel = "debug"
	logger, err := cfg.Logger()
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug level not enabled")
	}

	cfg.LogLevel = "error"
	logger, err = cfg.Logger()
	if err != nil {
		t.Fatalf("Logger: %v", err)
	}
	if logger.Core().Enabled(zap.WarnLevel) {
		t.Error("warn level enabled at error")
	}

	if got := len(cfg.ImageOptions(logger)); got != 3 {
		t.Errorf("ImageOptions() returned %d options", got)
	}
}
