// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Capture CaptureConfig `mapstructure:"capture"`
	Browser BrowserConfig `mapstructure:"browser"`
	Debug   DebugConfig   `mapstructure:"debug"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig holds the shared secret checked by the access gate. An empty
// secret disables the check.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

// CaptureConfig governs admission and the capture engines.
type CaptureConfig struct {
	Concurrency              int     `mapstructure:"concurrency"`
	QueueDepth               int     `mapstructure:"queue_depth"`
	DefaultTimeoutSeconds    int     `mapstructure:"default_timeout_seconds"`
	NavigationTimeoutSeconds int     `mapstructure:"navigation_timeout_seconds"`
	WaitBeforeScreenshotMs   int     `mapstructure:"wait_before_screenshot_ms"`
	HostQPS                  float64 `mapstructure:"host_qps"`
	HostBurst                int     `mapstructure:"host_burst"`
}

// BrowserConfig points the engines at a specific Chrome binary.
type BrowserConfig struct {
	ExecPath string `mapstructure:"exec_path"`
}

// DebugConfig toggles the latest-capture viewing endpoints.
type DebugConfig struct {
	ShowResults bool `mapstructure:"show_results"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig toggles zap development features. Level overrides the
// mode's default level when set ("debug", "info", "warn", "error").
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// envFiles are loaded, when present, before the environment is read.
var envFiles = []string{".env", ".env.dev"}

// legacyEnv maps config keys to the bare environment names older
// deployments use.
var legacyEnv = map[string]string{
	"server.port":                     "PORT",
	"auth.secret":                     "SECRET",
	"capture.concurrency":             "CONCURRENCY",
	"capture.default_timeout_seconds": "DEFAULT_TIMEOUT_SECONDS",
	"debug.show_results":              "SHOW_RESULTS",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("CAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "CAPTURE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// loadDotEnv reads each existing file into the process environment without
// overriding variables that are already set.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("auth.secret", "")
	v.SetDefault("capture.concurrency", 2)
	v.SetDefault("capture.queue_depth", 64)
	v.SetDefault("capture.default_timeout_seconds", 60)
	v.SetDefault("capture.navigation_timeout_seconds", 60)
	v.SetDefault("capture.wait_before_screenshot_ms", 300)
	v.SetDefault("capture.host_qps", 0)
	v.SetDefault("capture.host_burst", 1)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("debug.show_results", false)
	v.SetDefault("cors.allowed_origins", []string{
		"http://127.0.0.1:5500",
		"http://localhost:5500",
		"http://localhost:5173",
		"http://127.0.0.1:5173",
		"*",
	})
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Capture.Concurrency <= 0 {
		return fmt.Errorf("capture.concurrency must be > 0")
	}
	if c.Capture.QueueDepth < 0 {
		return fmt.Errorf("capture.queue_depth must be >= 0")
	}
	if c.Capture.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("capture.default_timeout_seconds must be > 0")
	}
	if c.Capture.NavigationTimeoutSeconds <= 0 {
		return fmt.Errorf("capture.navigation_timeout_seconds must be > 0")
	}
	if c.Capture.WaitBeforeScreenshotMs < 0 {
		return fmt.Errorf("capture.wait_before_screenshot_ms must be >= 0")
	}
	if c.Capture.HostQPS < 0 {
		return fmt.Errorf("capture.host_qps must be >= 0")
	}
	return nil
}

// RequestTimeout is the upper bound for a single HTTP request, queue wait included.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// NavigationTimeout bounds page navigation in the fallback engine.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Capture.NavigationTimeoutSeconds) * time.Second
}

// WaitBeforeScreenshot is the default settle delay after navigation.
func (c Config) WaitBeforeScreenshot() time.Duration {
	return time.Duration(c.Capture.WaitBeforeScreenshotMs) * time.Millisecond
}
