package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 120
auth:
  secret: s3cret
capture:
  concurrency: 6
  queue_depth: 10
  default_timeout_seconds: 45
  navigation_timeout_seconds: 30
  wait_before_screenshot_ms: 500
  host_qps: 1.5
  host_burst: 2
browser:
  exec_path: /usr/bin/chromium
debug:
  show_results: true
cors:
  allowed_origins: ["https://app.example.com"]
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.Secret != "s3cret" {
		t.Fatalf("expected secret to load, got %q", cfg.Auth.Secret)
	}
	if cfg.Capture.Concurrency != 6 || cfg.Capture.QueueDepth != 10 {
		t.Fatalf("expected capture overrides to apply: %+v", cfg.Capture)
	}
	if cfg.Capture.HostQPS != 1.5 || cfg.Capture.HostBurst != 2 {
		t.Fatalf("expected host budget overrides: %+v", cfg.Capture)
	}
	if !cfg.Debug.ShowResults || cfg.Logging.Development {
		t.Fatalf("expected debug on and development off: %+v %+v", cfg.Debug, cfg.Logging)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORS.AllowedOrigins)
	}
	if got := cfg.RequestTimeout(); got != 120*time.Second {
		t.Fatalf("expected request timeout 120s, got %v", got)
	}
	if got := cfg.NavigationTimeout(); got != 30*time.Second {
		t.Fatalf("expected navigation timeout 30s, got %v", got)
	}
	if got := cfg.WaitBeforeScreenshot(); got != 500*time.Millisecond {
		t.Fatalf("expected wait 500ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Capture.Concurrency != 2 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Capture.DefaultTimeoutSeconds != 60 || cfg.Capture.WaitBeforeScreenshotMs != 300 {
		t.Fatalf("unexpected capture defaults: %+v", cfg.Capture)
	}
}

func TestLoadLegacyEnvNames(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("SECRET", "from-env")
	t.Setenv("CONCURRENCY", "3")
	t.Setenv("DEFAULT_TIMEOUT_SECONDS", "20")
	t.Setenv("SHOW_RESULTS", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Auth.Secret != "from-env" {
		t.Fatalf("legacy env not applied: %+v", cfg)
	}
	if cfg.Capture.Concurrency != 3 || cfg.Capture.DefaultTimeoutSeconds != 20 || !cfg.Debug.ShowResults {
		t.Fatalf("legacy capture env not applied: %+v %+v", cfg.Capture, cfg.Debug)
	}
}

func TestLoadPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("CAPTURE_SERVER_PORT", "6060")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 6060 {
		t.Fatalf("expected prefixed env to win, got %d", cfg.Server.Port)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	if err := os.WriteFile(envPath, []byte("CAPTURE_CAPTURE_QUEUE_DEPTH=7\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CAPTURE_CAPTURE_QUEUE_DEPTH") })

	if err := loadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Capture.QueueDepth != 7 {
		t.Fatalf("expected queue depth from env file, got %d", cfg.Capture.QueueDepth)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080, RequestTimeoutSeconds: 60},
		Capture: CaptureConfig{
			Concurrency:              1,
			DefaultTimeoutSeconds:    10,
			NavigationTimeoutSeconds: 10,
		},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid request timeout",
			cfg: func() Config {
				c := base
				c.Server.RequestTimeoutSeconds = 0
				return c
			}(),
			want: "server.request_timeout_seconds",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Capture.Concurrency = 0
				return c
			}(),
			want: "capture.concurrency",
		},
		{
			name: "invalid default timeout",
			cfg: func() Config {
				c := base
				c.Capture.DefaultTimeoutSeconds = 0
				return c
			}(),
			want: "capture.default_timeout_seconds",
		},
		{
			name: "negative wait",
			cfg: func() Config {
				c := base
				c.Capture.WaitBeforeScreenshotMs = -1
				return c
			}(),
			want: "capture.wait_before_screenshot_ms",
		},
		{
			name: "negative qps",
			cfg: func() Config {
				c := base
				c.Capture.HostQPS = -2
				return c
			}(),
			want: "capture.host_qps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
