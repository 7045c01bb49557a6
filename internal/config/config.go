// Package config loads the export tool configuration. Precedence:
// command-line flags over a YAML config file over the environment
// (including a .env file in the working directory).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the parameters of one export run. The API key is taken
// from the environment or the wizard only and is never serialized.
type Config struct {
	APIHost   string `yaml:"api_host"`
	APIKey    string `yaml:"-"`
	Container string `yaml:"container"`
	OutputDir string `yaml:"output_dir"`
	LogLevel  string `yaml:"log_level"`
	DryRun    bool   `yaml:"dry_run"`
	Preview   bool   `yaml:"preview"`
}

// FromEnv builds a config from environment variables, loading a .env
// file first when present.
func FromEnv() *Config {
	// Missing .env is the normal case outside gear containers.
	_ = godotenv.Load()

	return &Config{
		APIHost:   getEnvOrDefault("FW_API_HOST", "https://api.flywheel.io"),
		APIKey:    os.Getenv("FW_API_KEY"),
		Container: os.Getenv("FW_CONTAINER_ID"),
		OutputDir: getEnvOrDefault("FW_OUTPUT_DIR", "output"),
		LogLevel:  getEnvOrDefault("FW_LOG_LEVEL", "info"),
	}
}

// LoadYAML overlays settings from a YAML file onto the config. Empty
// file values leave the existing ones untouched.
func (c *Config) LoadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	if file.APIHost != "" {
		c.APIHost = file.APIHost
	}
	if file.Container != "" {
		c.Container = file.Container
	}
	if file.OutputDir != "" {
		c.OutputDir = file.OutputDir
	}
	if file.LogLevel != "" {
		c.LogLevel = file.LogLevel
	}
	c.DryRun = c.DryRun || file.DryRun
	c.Preview = c.Preview || file.Preview
	return nil
}

// SaveYAML writes the config (without the API key) to a YAML file.
func (c *Config) SaveYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Validate checks that everything a run needs is present.
func (c *Config) Validate() error {
	if c.APIHost == "" {
		return fmt.Errorf("API host is required (FW_API_HOST or --api-host)")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key is required (FW_API_KEY)")
	}
	if c.Container == "" {
		return fmt.Errorf("container ID is required (--container)")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required (--output)")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
