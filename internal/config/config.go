package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port              int        `yaml:"port"`
	Token             string     `yaml:"token"`
	DatabasePath      string     `yaml:"database_path"`
	Shell             string     `yaml:"shell,omitempty"`
	OutputBufferLines int        `yaml:"output_buffer_lines"`
	Scan              ScanConfig `yaml:"scan"`

	ConfigPath string `yaml:"-"`
	PrintToken bool   `yaml:"-"`
}

type ScanConfig struct {
	Roots    []string `yaml:"roots,omitempty"`
	MaxDepth int      `yaml:"max_depth"`
	Exclude  []string `yaml:"exclude,omitempty"`
}

// Load builds the configuration from defaults, the YAML config file,
// and command-line flags, in increasing precedence. A missing token is
// generated and persisted back to the file.
func Load(args []string) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	cfg := &Config{
		Port:              8790,
		DatabasePath:      filepath.Join(homeDir, ".config", "devdeck", "devdeck.db"),
		OutputBufferLines: 1000,
		Scan: ScanConfig{
			MaxDepth: 4,
		},
		ConfigPath: filepath.Join(homeDir, ".config", "devdeck", "config.yaml"),
	}

	fs := flag.NewFlagSet("devdeck", flag.ContinueOnError)
	configPath := fs.String("config", cfg.ConfigPath, "path to config file")
	port := fs.Int("port", 0, "server port (1-65535)")
	token := fs.String("token", "", "authentication token (auto-generated if empty)")
	dbPath := fs.String("db", "", "path to sqlite database")
	printToken := fs.Bool("print-token", false, "print token to stdout (for local debugging)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.ConfigPath = *configPath
	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if *port != 0 {
		cfg.Port = *port
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	cfg.PrintToken = *printToken

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.Port)
	}
	if cfg.OutputBufferLines < 1 {
		return nil, fmt.Errorf("invalid output_buffer_lines %d: must be positive", cfg.OutputBufferLines)
	}

	if cfg.Token == "" {
		generated, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = generated
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("invalid config file %q: %w", c.ConfigPath, err)
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(c.ConfigPath, data, 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
