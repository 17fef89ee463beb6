package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Name != "tabbridge" {
		t.Errorf("expected server name 'tabbridge', got %q", cfg.Server.Name)
	}
	if cfg.Server.LogFile != "" {
		t.Errorf("expected no log file by default, got %q", cfg.Server.LogFile)
	}

	if cfg.Bridge.Endpoint != "ws://localhost:8765" {
		t.Errorf("expected endpoint ws://localhost:8765, got %q", cfg.Bridge.Endpoint)
	}
	if cfg.Bridge.ReconnectDelay != "1s" {
		t.Errorf("expected reconnect delay '1s', got %q", cfg.Bridge.ReconnectDelay)
	}
	if cfg.Bridge.QueueSize != 16 {
		t.Errorf("expected queue size 16, got %d", cfg.Bridge.QueueSize)
	}

	if cfg.Browser.DefaultAttachTimeout != "10s" {
		t.Errorf("expected attach timeout '10s', got %q", cfg.Browser.DefaultAttachTimeout)
	}
	if cfg.Browser.IsHeadless() {
		t.Error("expected headed Chrome by default")
	}

	if cfg.Recorder.Enabled {
		t.Error("expected recorder disabled by default")
	}
	if cfg.Recorder.Dir != "data/traces" {
		t.Errorf("expected recorder dir 'data/traces', got %q", cfg.Recorder.Dir)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for empty path")
	}
	if err.Error() != "config path is required" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoadValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
server:
  name: "test-bridge"
  version: "2.0.0"
bridge:
  endpoint: "ws://127.0.0.1:9999"
  reconnect_delay: "250ms"
  max_wait: "5s"
browser:
  debugger_url: "ws://localhost:9222"
  target_id: "ABC123"
recorder:
  enabled: true
  dir: "/tmp/traces"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Name != "test-bridge" {
		t.Errorf("expected name 'test-bridge', got %q", cfg.Server.Name)
	}
	if cfg.Bridge.Endpoint != "ws://127.0.0.1:9999" {
		t.Errorf("expected endpoint override, got %q", cfg.Bridge.Endpoint)
	}
	if cfg.Bridge.GetReconnectDelay() != 250*time.Millisecond {
		t.Errorf("expected 250ms reconnect delay, got %v", cfg.Bridge.GetReconnectDelay())
	}
	if cfg.Bridge.GetMaxWait() != 5*time.Second {
		t.Errorf("expected 5s max wait, got %v", cfg.Bridge.GetMaxWait())
	}
	// Unset fields keep their defaults.
	if cfg.Bridge.GetHandshakeTimeout() != 10*time.Second {
		t.Errorf("expected default handshake timeout, got %v", cfg.Bridge.GetHandshakeTimeout())
	}
	if cfg.Browser.TargetID != "ABC123" {
		t.Errorf("expected target id ABC123, got %q", cfg.Browser.TargetID)
	}
	if !cfg.Recorder.Enabled {
		t.Error("expected recorder enabled")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("browser:\n  debugger_url: \"ws://from-file:9222\"\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	t.Setenv(EnvEndpoint, "ws://from-env:1234")
	t.Setenv(EnvDebuggerURL, "ws://from-env:9333")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bridge.Endpoint != "ws://from-env:1234" {
		t.Errorf("expected env endpoint, got %q", cfg.Bridge.Endpoint)
	}
	if cfg.Browser.DebuggerURL != "ws://from-env:9333" {
		t.Errorf("expected env debugger url, got %q", cfg.Browser.DebuggerURL)
	}
}

func TestLoadDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	if err := os.WriteFile(envPath, []byte(EnvEndpoint+"=ws://dotenv:4321\n"), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	// Register cleanup for the variable godotenv will set.
	t.Setenv(EnvEndpoint, "")
	os.Unsetenv(EnvEndpoint)

	if err := LoadDotEnv(filepath.Join(tmpDir, "missing.env"), envPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv(EnvEndpoint); got != "ws://dotenv:4321" {
		t.Errorf("expected value from .env, got %q", got)
	}

	if err := LoadDotEnv(filepath.Join(tmpDir, "none.env")); err != nil {
		t.Errorf("missing files should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid with debugger url",
			mutate:  func(c *Config) { c.Browser.DebuggerURL = "ws://localhost:9222" },
			wantErr: false,
		},
		{
			name:    "valid with launch",
			mutate:  func(c *Config) { c.Browser.Launch = []string{"chrome"} },
			wantErr: false,
		},
		{
			name:    "missing browser source",
			mutate:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "missing server name",
			mutate: func(c *Config) {
				c.Browser.DebuggerURL = "ws://localhost:9222"
				c.Server.Name = ""
			},
			wantErr: true,
		},
		{
			name: "missing endpoint",
			mutate: func(c *Config) {
				c.Browser.DebuggerURL = "ws://localhost:9222"
				c.Bridge.Endpoint = ""
			},
			wantErr: true,
		},
		{
			name: "non websocket endpoint",
			mutate: func(c *Config) {
				c.Browser.DebuggerURL = "ws://localhost:9222"
				c.Bridge.Endpoint = "http://localhost:8765"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	tests := []struct {
		name     string
		got      func() time.Duration
		expected time.Duration
	}{
		{"reconnect default", BridgeConfig{}.GetReconnectDelay, time.Second},
		{"reconnect invalid", BridgeConfig{ReconnectDelay: "soon"}.GetReconnectDelay, time.Second},
		{"reconnect negative", BridgeConfig{ReconnectDelay: "-3s"}.GetReconnectDelay, time.Second},
		{"reconnect custom", BridgeConfig{ReconnectDelay: "2s"}.GetReconnectDelay, 2 * time.Second},
		{"write default", BridgeConfig{}.GetWriteTimeout, 10 * time.Second},
		{"max wait default", BridgeConfig{}.GetMaxWait, time.Minute},
		{"attach default", BrowserConfig{}.AttachTimeout, 10 * time.Second},
		{"attach custom", BrowserConfig{DefaultAttachTimeout: "3s"}.AttachTimeout, 3 * time.Second},
		{"action default", BrowserConfig{}.GetActionTimeout, 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetQueueSize(t *testing.T) {
	if got := (BridgeConfig{}).GetQueueSize(); got != 16 {
		t.Errorf("expected default 16, got %d", got)
	}
	if got := (BridgeConfig{QueueSize: 4}).GetQueueSize(); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
}

func TestIsHeadless(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name     string
		headless *bool
		expected bool
	}{
		{"nil defaults to false", nil, false},
		{"explicit true", &trueVal, true},
		{"explicit false", &falseVal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{Headless: tt.headless}
			if got := cfg.IsHeadless(); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}
