// Package config provides configuration management for the strand CLI.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the strand CLI configuration.
type Config struct {
	// Version of the config file format
	Version string `yaml:"version"`

	// Project configuration
	Project ProjectConfig `yaml:"project"`

	// Store configuration
	Store StoreConfig `yaml:"store"`
}

// ProjectConfig contains project-level settings.
type ProjectConfig struct {
	// Name of the project
	Name string `yaml:"name"`

	// Module is the Go module path
	Module string `yaml:"module"`
}

// StoreConfig contains data store connection settings.
type StoreConfig struct {
	// Driver is the storage driver (postgres, sqlite, memory)
	Driver string `yaml:"driver"`

	// URL is the connection string (postgres driver)
	URL string `yaml:"url,omitempty"`

	// Path is the database file path (sqlite driver)
	Path string `yaml:"path,omitempty"`

	// Schema is the database schema to use (postgres driver)
	Schema string `yaml:"schema"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Project: ProjectConfig{
			Name:   "my-strand-app",
			Module: "github.com/user/my-strand-app",
		},
		Store: StoreConfig{
			Driver: "postgres",
			Schema: "strand",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "strand.yaml"

// Load loads configuration from the specified directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save saves the configuration to the specified directory.
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path.
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Exists checks if a config file exists in the directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up.
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Validate validates the configuration and returns any problems found.
func (c *Config) Validate() []string {
	var errors []string

	if c.Project.Name == "" {
		errors = append(errors, "project.name is required")
	}

	switch c.Store.Driver {
	case "":
		errors = append(errors, "store.driver is required")
	case "postgres":
		if c.Store.URL == "" {
			errors = append(errors, "store.url is required for postgres driver")
		}
	case "sqlite":
		if c.Store.Path == "" {
			errors = append(errors, "store.path is required for sqlite driver")
		}
	case "memory":
	default:
		errors = append(errors, "store.driver must be 'postgres', 'sqlite', or 'memory'")
	}

	return errors
}
