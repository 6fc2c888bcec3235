package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for deskpilot.
type Config struct {
	General GeneralConfig `json:"general"`
	Router  RouterConfig  `json:"router"`
	Gateway GatewayConfig `json:"gateway"`
	Cache   CacheConfig   `json:"cache"`
	Audit   AuditConfig   `json:"audit"`
	Metrics MetricsConfig `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// RouterConfig is the execution-routing surface.
type RouterConfig struct {
	ExecutionMode         string `json:"executionMode"` // "local" | "remote"
	RemoteDesktopClientID string `json:"remoteDesktopClientId,omitempty"`
	ActionTimeoutSeconds  int    `json:"remoteActionTimeoutSeconds"`
	FrameMaxAgeMs         int    `json:"remoteFrameMaxAgeMs"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"` // websocket endpoint path
}

type CacheConfig struct {
	Path string `json:"path"` // element cache JSON file
}

type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.deskpilot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deskpilot"
	}
	return filepath.Join(home, ".deskpilot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Cache.Path = ExpandPath(cfg.Cache.Path)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Router.ExecutionMode {
	case "local", "remote":
		// valid
	default:
		errs = append(errs, "router.executionMode must be one of: local, remote")
	}
	if cfg.Router.ActionTimeoutSeconds < 1 {
		errs = append(errs, "router.remoteActionTimeoutSeconds must be >= 1")
	}
	if cfg.Router.FrameMaxAgeMs < 0 {
		errs = append(errs, "router.remoteFrameMaxAgeMs must be >= 0")
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 0 and 65535")
	}
	if cfg.Gateway.Path != "" && !strings.HasPrefix(cfg.Gateway.Path, "/") {
		errs = append(errs, "gateway.path must start with /")
	}

	if cfg.Cache.Path == "" {
		errs = append(errs, "cache.path must not be empty")
	}
	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
