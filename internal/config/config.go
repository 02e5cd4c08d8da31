// Package config loads the receiver and automaton configuration.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// LoginRateLimit bounds how often PTC logins may be attempted from one IP.
type LoginRateLimit struct {
	MaxLogins int `yaml:"max_logins"`
	WindowSec int `yaml:"window_sec"`
}

// Config holds the process runtime configuration.
type Config struct {
	DBPath                          string         `yaml:"db_path"`
	ListenAddr                      string         `yaml:"listen_addr"`
	IgnorePreBoot                   bool           `yaml:"ignore_pre_boot"`
	QueueSize                       int            `yaml:"queue_size"`
	DecodeWorkers                   int            `yaml:"decode_workers"`
	EnableLoginTracking             bool           `yaml:"enable_login_tracking"`
	EnableEarlyMaintenanceDetection bool           `yaml:"enable_early_maintenance_detection"`
	TempPath                        string         `yaml:"temp_path"`
	DeviceSettingsPath              string         `yaml:"device_settings_path"`
	LogLevel                        string         `yaml:"log_level"`
	LogFormat                       string         `yaml:"log_format"`
	CycleIntervalSec                int            `yaml:"cycle_interval_sec"`
	LoginRateLimit                  LoginRateLimit `yaml:"login_rate_limit"`
	TargetPackage                   string         `yaml:"target_package"`
	ADBPath                         string         `yaml:"adb_path"`
	OCRURL                          string         `yaml:"ocr_url"`
	EnableFleet                     bool           `yaml:"enable_fleet"`
}

// DefaultQueueSize is used when queue_size is left at zero.
const DefaultQueueSize = 100000

// Load reads a YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8000"
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.DecodeWorkers == 0 {
		c.DecodeWorkers = runtime.NumCPU()
	}
	if c.TempPath == "" {
		c.TempPath = os.TempDir()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.CycleIntervalSec == 0 {
		c.CycleIntervalSec = 5
	}
	if c.LoginRateLimit.MaxLogins == 0 {
		c.LoginRateLimit.MaxLogins = 1
	}
	if c.LoginRateLimit.WindowSec == 0 {
		c.LoginRateLimit.WindowSec = 900
	}
	if c.TargetPackage == "" {
		c.TargetPackage = "com.nianticlabs.pokemongo"
	}
	if c.ADBPath == "" {
		c.ADBPath = "adb"
	}
	if c.OCRURL == "" {
		c.OCRURL = "http://127.0.0.1:8081"
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.QueueSize < 0 {
		problems = append(problems, "queue_size must not be negative")
	}
	if c.DecodeWorkers < 0 {
		problems = append(problems, "decode_workers must not be negative")
	}
	if c.CycleIntervalSec < 0 {
		problems = append(problems, "cycle_interval_sec must not be negative")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		problems = append(problems, "log_format must be json or console")
	}
	if c.LoginRateLimit.MaxLogins < 0 || c.LoginRateLimit.WindowSec < 0 {
		problems = append(problems, "login_rate_limit values must not be negative")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
