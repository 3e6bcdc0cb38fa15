package browser

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the user-facing browser configuration.
type Config struct {
	// CDPUrl points at an already-running browser's debugging endpoint
	// (http://host:port or ws://...). When empty a local browser is
	// launched.
	CDPUrl string `json:"cdpUrl,omitempty" yaml:"cdpUrl,omitempty"`

	// CDPPort is the remote-debugging port used when launching.
	CDPPort int `json:"cdpPort,omitempty" yaml:"cdpPort,omitempty"`

	// ExecutablePath overrides auto-detection of the browser binary.
	ExecutablePath string `json:"executablePath,omitempty" yaml:"executablePath,omitempty"`

	// Headless runs the browser without UI.
	Headless bool `json:"headless,omitempty" yaml:"headless,omitempty"`

	// NoSandbox disables the browser sandbox (needed in some containers).
	NoSandbox bool `json:"noSandbox,omitempty" yaml:"noSandbox,omitempty"`

	// UserDataDir is the browser profile directory; a temp dir when empty.
	UserDataDir string `json:"userDataDir,omitempty" yaml:"userDataDir,omitempty"`

	// NavigationTimeoutMs bounds waits for page load events.
	NavigationTimeoutMs int `json:"navigationTimeoutMs,omitempty" yaml:"navigationTimeoutMs,omitempty"`

	// CommandTimeoutMs bounds individual protocol commands.
	CommandTimeoutMs int `json:"commandTimeoutMs,omitempty" yaml:"commandTimeoutMs,omitempty"`
}

// ResolvedConfig is the fully resolved configuration with defaults
// applied and durations parsed.
type ResolvedConfig struct {
	CDPUrl            string
	CDPPort           int
	ExecutablePath    string
	Headless          bool
	NoSandbox         bool
	UserDataDir       string
	NavigationTimeout time.Duration
	CommandTimeout    time.Duration

	// LaunchManaged is true when no CDPUrl was given and a local
	// browser should be launched.
	LaunchManaged bool
}

// DefaultConfig returns the default browser configuration.
func DefaultConfig() Config {
	return Config{
		CDPPort:  DefaultCDPPort,
		Headless: true,
	}
}

// LoadConfig reads a YAML config file. A missing path returns defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolveConfig resolves a config with defaults applied.
func ResolveConfig(cfg Config) *ResolvedConfig {
	resolved := &ResolvedConfig{
		CDPUrl:            cfg.CDPUrl,
		CDPPort:           cfg.CDPPort,
		ExecutablePath:    cfg.ExecutablePath,
		Headless:          cfg.Headless,
		NoSandbox:         cfg.NoSandbox,
		UserDataDir:       cfg.UserDataDir,
		NavigationTimeout: time.Duration(cfg.NavigationTimeoutMs) * time.Millisecond,
		CommandTimeout:    time.Duration(cfg.CommandTimeoutMs) * time.Millisecond,
		LaunchManaged:     cfg.CDPUrl == "",
	}
	if resolved.CDPPort == 0 {
		resolved.CDPPort = DefaultCDPPort
	}
	if resolved.NavigationTimeout <= 0 {
		resolved.NavigationTimeout = DefaultNavigationTimeout
	}
	if resolved.CommandTimeout <= 0 {
		resolved.CommandTimeout = DefaultCommandTimeout
	}
	if resolved.CDPUrl == "" {
		resolved.CDPUrl = fmt.Sprintf("http://127.0.0.1:%d", resolved.CDPPort)
	}
	return resolved
}
