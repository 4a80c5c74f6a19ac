package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML file on top of Defaults() and validates the result.
// An empty path yields the validated defaults.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()
	if configPath == "" {
		return cfg, nil
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds a config file in the standard locations.
// Priority order: $DUCTILE_CI_CONFIG, ~/.config/ductile-ci/config.yaml,
// /etc/ductile-ci/config.yaml, ./config.yaml. An empty result means
// "run on defaults".
func DiscoverConfigPath() string {
	if p := os.Getenv("DUCTILE_CI_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	candidates := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "ductile-ci", "config.yaml"))
	}
	candidates = append(candidates, "/etc/ductile-ci/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Addr is the TCP listen address for the dispatcher.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.Port))
}

// PIDFilePath returns the single-instance lock file location.
func (c *Config) PIDFilePath() string {
	if c.Service.PIDFile != "" {
		return c.Service.PIDFile
	}
	return filepath.Join(filepath.Dir(c.State.Path), "ductile-ci.lock")
}

// interpolateEnv replaces ${VAR} with environment values. Unset variables
// are left in place.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Validate performs basic validation on the configuration.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if f := strings.ToLower(cfg.Service.LogFormat); f != "json" && f != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if strings.TrimSpace(cfg.Listen.Host) == "" {
		return fmt.Errorf("listen.host is required")
	}
	if cfg.Listen.Port < 0 || cfg.Listen.Port > 65535 {
		return fmt.Errorf("listen.port must be within 0-65535 (got %d)", cfg.Listen.Port)
	}
	if cfg.Listen.ReadTimeout <= 0 {
		return fmt.Errorf("listen.read_timeout must be positive")
	}

	if cfg.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if cfg.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("heartbeat.timeout must be positive")
	}
	if cfg.Dispatch.Backoff <= 0 {
		return fmt.Errorf("dispatch.backoff must be positive")
	}
	if cfg.Dispatch.ProbeTimeout <= 0 {
		return fmt.Errorf("dispatch.probe_timeout must be positive")
	}
	if cfg.Redistribute.Interval <= 0 {
		return fmt.Errorf("redistribute.interval must be positive")
	}

	if cfg.Results.Dir == "" {
		return fmt.Errorf("results.dir is required")
	}
	if cfg.Results.MaxPayloadBytes <= 0 {
		return fmt.Errorf("results.max_payload_bytes must be positive")
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if cfg.API.RateLimitPerMinute < 0 {
			return fmt.Errorf("api.rate_limit_per_minute must not be negative")
		}
	}
	return nil
}
