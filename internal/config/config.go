package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the directory name for project-level tabbridge config.
	WorkspaceDirName = ".tabbridge"
	// WorkspaceConfigFile is the config file name inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth limits how many parent directories to walk when discovering a workspace.
	MaxSearchDepth = 10

	// EnvEndpoint overrides bridge.endpoint.
	EnvEndpoint = "TABBRIDGE_ENDPOINT"
	// EnvDebuggerURL overrides browser.debugger_url.
	EnvDebuggerURL = "TABBRIDGE_DEBUGGER_URL"
)

// WorkspaceOptions controls workspace discovery behavior.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely (--no-workspace flag).
	Disable bool
	// ExplicitDir uses this directory as workspace root instead of walking up (--workspace-dir flag).
	ExplicitDir string
}

// Config captures all tunable settings for the tab bridge.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Browser  BrowserConfig  `yaml:"browser"`
	Recorder RecorderConfig `yaml:"recorder"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BridgeConfig configures the control channel to the external controller.
type BridgeConfig struct {
	// Controller WebSocket endpoint (e.g., ws://localhost:8765).
	Endpoint string `yaml:"endpoint"`
	// Fixed delay before a reconnection attempt (e.g., "1s"). No backoff growth.
	ReconnectDelay string `yaml:"reconnect_delay"`
	// Timeout for the WebSocket opening handshake.
	HandshakeTimeout string `yaml:"handshake_timeout"`
	// Deadline for writing a single envelope.
	WriteTimeout string `yaml:"write_timeout"`
	// Upper bound accepted for the wait action's duration.
	MaxWait string `yaml:"max_wait"`
	// Number of inbound frames buffered while a handler is running.
	QueueSize int `yaml:"queue_size"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// Headless controls whether a launched Chrome runs headless (default: false, a visible tab is the point).
	Headless *bool `yaml:"headless"`
	// Timeout when attaching the privileged debugging channel (e.g., "10s").
	DefaultAttachTimeout string `yaml:"default_attach_timeout"`
	// Timeout applied to each host call made while handling an action (e.g., "15s").
	ActionTimeout string `yaml:"action_timeout"`
	// Optional target ID to pin instead of resolving the active tab per action.
	TargetID string `yaml:"target_id"`
}

// RecorderConfig controls the JSONL flight recorder.
type RecorderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "tabbridge",
			Version: "0.1.0",
			LogFile: "",
		},
		Bridge: BridgeConfig{
			Endpoint:         "ws://localhost:8765",
			ReconnectDelay:   "1s",
			HandshakeTimeout: "10s",
			WriteTimeout:     "10s",
			MaxWait:          "60s",
			QueueSize:        16,
		},
		Browser: BrowserConfig{
			DebuggerURL:          "",
			DefaultAttachTimeout: "10s",
			ActionTimeout:        "15s",
		},
		Recorder: RecorderConfig{
			Enabled: false,
			Dir:     "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults and environment overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	cfg = applyEnv(cfg)
	return cfg, cfg.Validate()
}

// DiscoverWorkspace walks up from startDir looking for a .tabbridge/config.yaml file.
// Returns the workspace root directory (parent of .tabbridge/) or empty string if not found.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for i := 0; i < MaxSearchDepth; i++ {
		candidate := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", nil
}

// LoadWithWorkspace implements multi-layer config merge:
//
//	DefaultConfig() <- .tabbridge/config.yaml <- explicit --config <- .env / environment
//
// CLI flags are applied by the caller afterwards. Returns the merged config and
// the workspace directory (empty if none found).
func LoadWithWorkspace(explicitConfig string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()
	wsDir := ""

	// Layer 1: Workspace config (if not disabled)
	if !opts.Disable {
		var err error
		if opts.ExplicitDir != "" {
			// Verify the explicit workspace dir has a config
			candidate := filepath.Join(opts.ExplicitDir, WorkspaceDirName, WorkspaceConfigFile)
			if _, statErr := os.Stat(candidate); statErr == nil {
				wsDir = opts.ExplicitDir
			}
		} else {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return cfg, "", fmt.Errorf("getting working directory: %w", cwdErr)
			}
			wsDir, err = DiscoverWorkspace(cwd)
			if err != nil {
				return cfg, "", fmt.Errorf("discovering workspace: %w", err)
			}
		}

		if wsDir != "" {
			wsConfigPath := filepath.Join(wsDir, WorkspaceDirName, WorkspaceConfigFile)
			raw, err := os.ReadFile(wsConfigPath)
			if err != nil {
				return cfg, "", fmt.Errorf("reading workspace config %s: %w", wsConfigPath, err)
			}
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, "", fmt.Errorf("parsing workspace config %s: %w", wsConfigPath, err)
			}
			cfg = resolveWorkspacePaths(cfg, wsDir)
		}
	}

	// Layer 2: Explicit config file (--config flag)
	if explicitConfig != "" {
		raw, err := os.ReadFile(explicitConfig)
		if err != nil {
			return cfg, wsDir, fmt.Errorf("reading explicit config %s: %w", explicitConfig, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsDir, fmt.Errorf("parsing explicit config %s: %w", explicitConfig, err)
		}
	}

	// Layer 3: .env / environment (TABBRIDGE_ENDPOINT, TABBRIDGE_DEBUGGER_URL)
	cfg = applyEnv(cfg)
	return cfg, wsDir, cfg.Validate()
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func applyEnv(cfg Config) Config {
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.Bridge.Endpoint = v
	}
	if v := os.Getenv(EnvDebuggerURL); v != "" {
		cfg.Browser.DebuggerURL = v
	}
	return cfg
}

// InitWorkspace creates a .tabbridge/ directory with template files at root.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)

	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace directory already exists: %s", wsDir)
	}

	dirs := []string{
		wsDir,
		filepath.Join(wsDir, "data"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	templateConfig := `# tabbridge project-level configuration
# Values here override defaults but are overridden by --config, .env and CLI flags.

# bridge:
#   endpoint: "ws://localhost:8765"
#   reconnect_delay: "1s"
#   max_wait: "60s"

# browser:
#   debugger_url: "ws://localhost:9222/devtools/browser/<id>"
#   launch: ["google-chrome", "--remote-debugging-port=9222"]
#   headless: false

# recorder:
#   enabled: true
#   dir: "data/traces"
`
	configPath := filepath.Join(wsDir, WorkspaceConfigFile)
	if err := os.WriteFile(configPath, []byte(templateConfig), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	gitignoreContent := "# Runtime data (traces, logs) - do not version control\ndata/\n"
	gitignorePath := filepath.Join(wsDir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	return nil
}

// resolveWorkspacePaths resolves relative paths in the config against the workspace directory.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(wsDir, WorkspaceDirName, p)
	}

	cfg.Server.LogFile = resolve(cfg.Server.LogFile)
	cfg.Recorder.Dir = resolve(cfg.Recorder.Dir)
	return cfg
}

// ErrInvalid wraps every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Validate ensures required fields exist so the bridge can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("%w: server.name is required", ErrInvalid)
	}
	if c.Bridge.Endpoint == "" {
		return fmt.Errorf("%w: bridge.endpoint is required", ErrInvalid)
	}
	u, err := url.Parse(c.Bridge.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: bridge.endpoint: %v", ErrInvalid, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: bridge.endpoint must use ws:// or wss://, got %q", ErrInvalid, c.Bridge.Endpoint)
	}
	if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
		return fmt.Errorf("%w: browser.debugger_url or browser.launch must be provided", ErrInvalid)
	}
	return nil
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// GetReconnectDelay returns the fixed reconnect delay with a sane default.
func (b BridgeConfig) GetReconnectDelay() time.Duration {
	return parseDurationOr(b.ReconnectDelay, time.Second)
}

// GetHandshakeTimeout returns the dial handshake timeout with a sane default.
func (b BridgeConfig) GetHandshakeTimeout() time.Duration {
	return parseDurationOr(b.HandshakeTimeout, 10*time.Second)
}

// GetWriteTimeout returns the per-envelope write deadline with a sane default.
func (b BridgeConfig) GetWriteTimeout() time.Duration {
	return parseDurationOr(b.WriteTimeout, 10*time.Second)
}

// GetMaxWait returns the cap applied to the wait action.
func (b BridgeConfig) GetMaxWait() time.Duration {
	return parseDurationOr(b.MaxWait, 60*time.Second)
}

// GetQueueSize returns the inbound frame buffer size with a sane default.
func (b BridgeConfig) GetQueueSize() int {
	if b.QueueSize <= 0 {
		return 16
	}
	return b.QueueSize
}

// AttachTimeout returns the parsed debugger attach timeout with a sane default.
func (b BrowserConfig) AttachTimeout() time.Duration {
	return parseDurationOr(b.DefaultAttachTimeout, 10*time.Second)
}

// GetActionTimeout returns the per-host-call timeout with a sane default.
func (b BrowserConfig) GetActionTimeout() time.Duration {
	return parseDurationOr(b.ActionTimeout, 15*time.Second)
}

// IsHeadless returns whether a launched Chrome runs headless (default: false).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return false
	}
	return *b.Headless
}
