package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, cfg Config) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load([]string{"-config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 8790 {
		t.Errorf("Port = %d, want 8790", cfg.Port)
	}
	if cfg.OutputBufferLines != 1000 {
		t.Errorf("OutputBufferLines = %d, want 1000", cfg.OutputBufferLines)
	}
	if cfg.Scan.MaxDepth != 4 {
		t.Errorf("Scan.MaxDepth = %d, want 4", cfg.Scan.MaxDepth)
	}
	if cfg.Token == "" {
		t.Error("token was not auto-generated")
	}
}

func TestLoadGeneratedTokenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	first, err := Load([]string{"-config", path})
	if err != nil {
		t.Fatalf("first Load() error = %v", err)
	}

	second, err := Load([]string{"-config", path})
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if second.Token != first.Token {
		t.Errorf("token changed between loads: %q vs %q", first.Token, second.Token)
	}
}

func TestLoadFileValues(t *testing.T) {
	path := writeConfigFile(t, Config{
		Port:              9000,
		Token:             "file-token",
		DatabasePath:      "/data/devdeck.db",
		OutputBufferLines: 250,
		Scan: ScanConfig{
			Roots:    []string{"/home/dev/src"},
			MaxDepth: 6,
			Exclude:  []string{"archive"},
		},
	})

	cfg, err := Load([]string{"-config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9000 || cfg.Token != "file-token" || cfg.DatabasePath != "/data/devdeck.db" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.OutputBufferLines != 250 || cfg.Scan.MaxDepth != 6 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if len(cfg.Scan.Roots) != 1 || cfg.Scan.Roots[0] != "/home/dev/src" {
		t.Errorf("scan roots = %v", cfg.Scan.Roots)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	path := writeConfigFile(t, Config{
		Port:              9000,
		Token:             "file-token",
		OutputBufferLines: 1000,
	})

	cfg, err := Load([]string{
		"-config", path,
		"-port", "9100",
		"-token", "flag-token",
		"-db", "/tmp/override.db",
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want flag override 9100", cfg.Port)
	}
	if cfg.Token != "flag-token" {
		t.Errorf("Token = %q, want flag override", cfg.Token)
	}
	if cfg.DatabasePath != "/tmp/override.db" {
		t.Errorf("DatabasePath = %q, want flag override", cfg.DatabasePath)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := Load([]string{"-config", path, "-port", "70000"}); err == nil {
		t.Error("port 70000 accepted")
	}
}

func TestLoadRejectsInvalidBufferLines(t *testing.T) {
	path := writeConfigFile(t, Config{
		Port:              8790,
		Token:             "t",
		OutputBufferLines: -5,
	})

	if _, err := Load([]string{"-config", path}); err == nil {
		t.Error("negative output_buffer_lines accepted")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [not a number"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load([]string{"-config", path}); err == nil {
		t.Error("malformed config file accepted")
	}
}
