package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "BASKETLINE"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "basketline.db"
	defaultLogLevel          = "info"
	defaultAutomationBaseURL = "http://localhost:8000"
	defaultScreenshotsDir    = "screenshots"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	AutomationBaseURL  string
	CollectorInterval  time.Duration
	CollectorPlatforms []string
	ScreenshotsDir     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("automation.base_url", defaultAutomationBaseURL)
	configViper.SetDefault("collector.interval_seconds", 0)
	configViper.SetDefault("collector.platforms", "")
	configViper.SetDefault("screenshots.dir", defaultScreenshotsDir)
}

// Load parses runtime configuration from viper. A collector interval of
// zero disables background collection.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		AutomationBaseURL:  configViper.GetString("automation.base_url"),
		CollectorInterval:  time.Duration(configViper.GetInt("collector.interval_seconds")) * time.Second,
		CollectorPlatforms: splitPlatforms(configViper.GetString("collector.platforms")),
		ScreenshotsDir:     configViper.GetString("screenshots.dir"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func splitPlatforms(raw string) []string {
	var platforms []string
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			platforms = append(platforms, trimmed)
		}
	}
	return platforms
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AutomationBaseURL) == "" {
		return fmt.Errorf("automation.base_url is required")
	}
	if c.CollectorInterval < 0 {
		return fmt.Errorf("collector.interval_seconds must not be negative")
	}
	return nil
}
