package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "COURSEWATCH_CONFIG"
	portalBaseEnv   = "PORTAL_BASE_URL"
	databaseDSNEnv  = "DATABASE_DSN"
	snapshotPathEnv = "SNAPSHOT_PATH"
	logLevelEnv     = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Portal        PortalConfig       `yaml:"portal"`
	Session       SessionConfig      `yaml:"session"`
	Storage       StorageConfig      `yaml:"storage" validate:"required"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PortalConfig describes the remote learning-management portal.
type PortalConfig struct {
	BaseURL  string         `yaml:"baseUrl" validate:"required,url"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the portal timezone string to a time.Location.
func (p PortalConfig) Location() *time.Location {
	if p.location != nil {
		return p.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// SessionConfig tunes session lifecycle and the retry budget.
type SessionConfig struct {
	KeepAliveMinutes      int `yaml:"keepAliveMinutes" validate:"gte=0"`
	KeepAliveFailureLimit int `yaml:"keepAliveFailureLimit" validate:"gte=0"`
	RetryAttempts         int `yaml:"retryAttempts" validate:"gte=0"`
	RetryDelayMS          int `yaml:"retryDelayMs" validate:"gte=0"`
	CourseCacheMinutes    int `yaml:"courseCacheMinutes" validate:"gte=0"`
}

// StorageConfig selects the snapshot store backend.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"required,oneof=file postgres"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Discord DiscordConfig `yaml:"discord"`
}

// DiscordConfig maps channel ids to webhook URLs.
type DiscordConfig struct {
	Webhooks map[string]string `yaml:"webhooks"`
}

// Load reads the optional .env file, then the YAML configuration (if
// present), and applies environment overrides.
func Load() Config {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if err := validator.New().Struct(cfg); err != nil {
		log.Printf("config: invalid configuration: %v", err)
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(portalBaseEnv); v != "" {
		c.Portal.BaseURL = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Storage.Driver = "postgres"
		c.Storage.DSN = v
	}
	if v := os.Getenv(snapshotPathEnv); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Portal.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Portal.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging = override.Logging
	}

	if override.Portal.BaseURL != "" {
		base.Portal.BaseURL = override.Portal.BaseURL
	}
	if override.Portal.Timezone != "" {
		base.Portal.Timezone = override.Portal.Timezone
	}

	if override.Session.KeepAliveMinutes > 0 {
		base.Session.KeepAliveMinutes = override.Session.KeepAliveMinutes
	}
	if override.Session.KeepAliveFailureLimit > 0 {
		base.Session.KeepAliveFailureLimit = override.Session.KeepAliveFailureLimit
	}
	if override.Session.RetryAttempts > 0 {
		base.Session.RetryAttempts = override.Session.RetryAttempts
	}
	if override.Session.RetryDelayMS > 0 {
		base.Session.RetryDelayMS = override.Session.RetryDelayMS
	}
	if override.Session.CourseCacheMinutes > 0 {
		base.Session.CourseCacheMinutes = override.Session.CourseCacheMinutes
	}

	if override.Storage.Driver != "" {
		base.Storage.Driver = override.Storage.Driver
	}
	if override.Storage.Path != "" {
		base.Storage.Path = override.Storage.Path
	}
	if override.Storage.DSN != "" {
		base.Storage.DSN = override.Storage.DSN
	}

	if len(override.Notifications.Discord.Webhooks) > 0 {
		base.Notifications.Discord.Webhooks = override.Notifications.Discord.Webhooks
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Portal: PortalConfig{
			BaseURL:  "https://portal.example.org",
			Timezone: "America/New_York",
		},
		Session: SessionConfig{
			KeepAliveMinutes:      10,
			KeepAliveFailureLimit: 5,
			RetryAttempts:         3,
			RetryDelayMS:          2000,
			CourseCacheMinutes:    30,
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   "data/snapshots.json",
		},
	}
}
