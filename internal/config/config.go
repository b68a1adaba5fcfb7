// Package config loads the server configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen"`

	// DatabasePath is the sqlite database file.
	DatabasePath string `yaml:"database_path"`

	// Timezone is the IANA timezone schedules are evaluated in.
	Timezone string `yaml:"timezone"`

	// Latitude and Longitude locate the observer for sunrise/sunset.
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`

	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
}

// HomeAssistantConfig configures the optional Home Assistant connection.
type HomeAssistantConfig struct {
	// URL is the Home Assistant base URL. Empty disables the connection
	// (conditions evaluate to inactive, workday tokens stay inert).
	URL string `yaml:"url"`

	// Token is a long-lived access token. SUPERVISOR_TOKEN takes
	// precedence when set.
	Token string `yaml:"token"`

	// WorkdayEntity is the binary_sensor backing workday/not_workday day
	// tokens.
	WorkdayEntity string `yaml:"workday_entity"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Listen:       ":8099",
		DatabasePath: "./data/schedules.db",
		Timezone:     "Local",
		HomeAssistant: HomeAssistantConfig{
			WorkdayEntity: "binary_sensor.workday_sensor",
		},
	}
}

// Load reads the configuration file at path, falling back to defaults when
// the path is empty or the file does not exist, then applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HASCHED_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("HASCHED_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("HASCHED_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("HA_URL"); v != "" {
		c.HomeAssistant.URL = v
	}
	if v := os.Getenv("HA_TOKEN"); v != "" {
		c.HomeAssistant.Token = v
	}
	if v := os.Getenv("HASCHED_WORKDAY_ENTITY"); v != "" {
		c.HomeAssistant.WorkdayEntity = v
	}
	// Supervisor mode: the addon supervisor injects both.
	if os.Getenv("SUPERVISOR_TOKEN") != "" && c.HomeAssistant.URL == "" {
		c.HomeAssistant.URL = "http://supervisor/core"
	}
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", c.Longitude)
	}
	return nil
}

// Location resolves the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// HAEnabled reports whether a Home Assistant connection is configured.
func (c Config) HAEnabled() bool {
	return c.HomeAssistant.URL != ""
}
