// Package config handles configuration management using Viper
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Virtual input device configuration
	Devices DevicesConfig `mapstructure:"devices"`

	// Display geometry used before the backend publishes its own
	Display DisplayConfig `mapstructure:"display"`

	// Backend connection behaviour
	Backend BackendConfig `mapstructure:"backend"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DevicesConfig names the virtual devices registered with the host
type DevicesConfig struct {
	UinputPath      string `mapstructure:"uinput_path"`
	KeyboardName    string `mapstructure:"keyboard_name"`
	PointerName     string `mapstructure:"pointer_name"`
	TouchscreenName string `mapstructure:"touchscreen_name"`
}

// DisplayConfig holds the fallback screen geometry
type DisplayConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

// BackendConfig contains connection-side settings
type BackendConfig struct {
	AutoAttach     bool `mapstructure:"auto_attach"`
	ReconnectDelay int  `mapstructure:"reconnect_delay"` // seconds between attach retries
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	LogLevel string `mapstructure:"log_level"` // Override LOG_LEVEL env var
}

var (
	// DefaultConfig provides sensible defaults
	DefaultConfig = Config{
		Devices: DevicesConfig{
			UinputPath:      "/dev/uinput",
			KeyboardName:    "pvinput-keyboard",
			PointerName:     "pvinput-pointer",
			TouchscreenName: "pvinput-touchscreen",
		},
		Display: DisplayConfig{
			Width:  800,
			Height: 600,
		},
		Backend: BackendConfig{
			AutoAttach:     true,
			ReconnectDelay: 5,
		},
		Logging: LoggingConfig{
			LogLevel: "", // Empty means use LOG_LEVEL env var
		},
	}

	// Global config instance
	cfg *Config

	// Override config path if set
	configPathOverride string
)

// SetConfigPath allows overriding the config path
func SetConfigPath(path string) {
	configPathOverride = path
}

// Init initializes the configuration system
func Init() error {
	viper.SetConfigName("pvinput")
	viper.SetConfigType("toml")

	// If a specific path is set, use only that
	if configPathOverride != "" {
		viper.SetConfigFile(configPathOverride)
	} else {
		// Add config paths in order of precedence
		viper.AddConfigPath("/etc/pvinput") // System config directory (primary)

		if home := os.Getenv("HOME"); home != "" && home != "/root" {
			viper.AddConfigPath(filepath.Join(home, ".config", "pvinput"))
		}

		viper.AddConfigPath(".") // Current directory (lowest priority)
	}

	// Set defaults - need to set individual fields for proper merging
	viper.SetDefault("devices.uinput_path", DefaultConfig.Devices.UinputPath)
	viper.SetDefault("devices.keyboard_name", DefaultConfig.Devices.KeyboardName)
	viper.SetDefault("devices.pointer_name", DefaultConfig.Devices.PointerName)
	viper.SetDefault("devices.touchscreen_name", DefaultConfig.Devices.TouchscreenName)

	viper.SetDefault("display.width", DefaultConfig.Display.Width)
	viper.SetDefault("display.height", DefaultConfig.Display.Height)

	viper.SetDefault("backend.auto_attach", DefaultConfig.Backend.AutoAttach)
	viper.SetDefault("backend.reconnect_delay", DefaultConfig.Backend.ReconnectDelay)

	viper.SetDefault("logging.log_level", DefaultConfig.Logging.LogLevel)

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults
	}

	// Unmarshal config
	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	return nil
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		// Return defaults if not initialized
		return &DefaultConfig
	}
	return cfg
}

// Set sets the current configuration (for testing)
func Set(c *Config) {
	cfg = c
}

// Save saves the current configuration to file
func Save() error {
	configPath := GetConfigPath()

	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		if os.IsPermission(err) && strings.Contains(configPath, "/etc/") {
			return fmt.Errorf("failed to create config directory %s: permission denied. Try running with sudo", dir)
		}
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// GetConfigPath returns the path to the config file
func GetConfigPath() string {
	// If override is set, use that
	if configPathOverride != "" {
		return configPathOverride
	}

	// Check if config file is already loaded
	if viper.ConfigFileUsed() != "" {
		return viper.ConfigFileUsed()
	}

	// Device setup needs root, so prefer the system config
	if os.Getuid() == 0 {
		return "/etc/pvinput/pvinput.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/pvinput/pvinput.toml"
	}

	return filepath.Join(home, ".config", "pvinput", "pvinput.toml")
}
