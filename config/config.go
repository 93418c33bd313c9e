// Package config provides configuration management for passage.
// It handles loading, saving, and managing application preferences.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/passage/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// ResolvesHostname makes provider endpoints use hostnames instead of
	// pre-resolved pool addresses.
	ResolvesHostname bool `yaml:"resolves_hostname"`
	// MasksPrivateData redacts addresses, hostnames and the username from
	// the tunnel debug log.
	MasksPrivateData bool `yaml:"masks_private_data"`
	// DisconnectsOnSleep disconnects the tunnel when the system suspends.
	DisconnectsOnSleep bool `yaml:"disconnects_on_sleep"`
	// ShowNotifications enables desktop notifications for connection events.
	ShowNotifications bool `yaml:"show_notifications"`
	// AutoReconnect automatically reconnects when connection is lost.
	AutoReconnect bool `yaml:"auto_reconnect"`
	// TrustedPollInterval is how often the current Wi-Fi network is checked.
	TrustedPollInterval time.Duration `yaml:"trusted_poll_interval"`
	// LogLevel is the minimum level written to the log.
	LogLevel string `yaml:"log_level"`
	// Health configures connection health checks.
	Health HealthSettings `yaml:"health"`

	path string
}

// HealthSettings configures the connection health checker.
type HealthSettings struct {
	CheckInterval        time.Duration `yaml:"check_interval"`
	FailureThreshold     int           `yaml:"failure_threshold"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	TestHosts            []string      `yaml:"test_hosts"`
}

// DefaultConfig returns the default configuration.
// These are sensible defaults for most users.
func DefaultConfig() *Config {
	return &Config{
		ResolvesHostname:    true,
		MasksPrivateData:    true,
		DisconnectsOnSleep:  true,
		ShowNotifications:   true,
		AutoReconnect:       true,
		TrustedPollInterval: common.TrustedPollInterval,
		LogLevel:            "info",
		Health: HealthSettings{
			CheckInterval:        30 * time.Second,
			FailureThreshold:     3,
			MaxReconnectAttempts: 5,
			TestHosts: []string{
				"8.8.8.8:53",
				"1.1.1.1:53",
				"208.67.222.222:53",
			},
		},
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration stored at path.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.path = configPath
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: error parsing configuration: %v", common.ErrConfigLoad, err)
	}
	config.path = configPath
	config.validate()

	return config, nil
}

// validate replaces out-of-range values with their defaults.
func (c *Config) validate() {
	defaults := DefaultConfig()

	if c.TrustedPollInterval < time.Second {
		c.TrustedPollInterval = defaults.TrustedPollInterval
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = defaults.LogLevel
	}
	if c.Health.CheckInterval < time.Second {
		c.Health.CheckInterval = defaults.Health.CheckInterval
	}
	if c.Health.FailureThreshold <= 0 {
		c.Health.FailureThreshold = defaults.Health.FailureThreshold
	}
	if c.Health.MaxReconnectAttempts < 0 {
		c.Health.MaxReconnectAttempts = defaults.Health.MaxReconnectAttempts
	}
	if len(c.Health.TestHosts) == 0 {
		c.Health.TestHosts = defaults.Health.TestHosts
	}
}

// Path returns the file the configuration is persisted to.
func (c *Config) Path() string {
	return c.path
}

// Save saves the configuration to the file
func (c *Config) Save() error {
	configPath := c.path
	if configPath == "" {
		var err error
		if configPath, err = getConfigPath(); err != nil {
			return err
		}
		c.path = configPath
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// Set updates a single preference by its YAML key.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "resolves_hostname":
		c.ResolvesHostname, err = parseBool(value)
	case "masks_private_data":
		c.MasksPrivateData, err = parseBool(value)
	case "disconnects_on_sleep":
		c.DisconnectsOnSleep, err = parseBool(value)
	case "show_notifications":
		c.ShowNotifications, err = parseBool(value)
	case "auto_reconnect":
		c.AutoReconnect, err = parseBool(value)
	case "trusted_poll_interval":
		c.TrustedPollInterval, err = time.ParseDuration(value)
	case "log_level":
		c.LogLevel = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	c.validate()
	return nil
}

func parseBool(value string) (bool, error) {
	switch value {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", value)
}

func getConfigPath() (string, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting config directory: %w", err)
	}

	return filepath.Join(configDir, common.ConfigFileName), nil
}
