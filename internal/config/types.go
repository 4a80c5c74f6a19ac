package config

import "time"

// Config represents the complete ductile-ci dispatcher configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Listen       ListenConfig       `yaml:"listen"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Redistribute RedistributeConfig `yaml:"redistribute"`
	Results      ResultsConfig      `yaml:"results"`
	State        StateConfig        `yaml:"state"`
	API          APIConfig          `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// PIDFile defaults to <state dir>/ductile-ci.lock when empty.
	PIDFile string `yaml:"pid_file,omitempty"`
}

// ListenConfig is the TCP endpoint runners and observers connect to.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ReadTimeout bounds every read on an inbound connection.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// HeartbeatConfig controls runner liveness probing.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DispatchConfig controls how commits are offered to runners.
type DispatchConfig struct {
	// Backoff is the pause after a full pass over the registry found no
	// runner willing to take the commit.
	Backoff      time.Duration `yaml:"backoff"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// RedistributeConfig controls the pending-queue drain loop.
type RedistributeConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ResultsConfig defines where result payloads land.
type ResultsConfig struct {
	Dir             string `yaml:"dir"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes"`
}

// StateConfig defines the results index database.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the optional HTTP status API.
type APIConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Listen             string `yaml:"listen"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	// Token, when set, is required as a bearer token on every route except
	// /healthz. Usually supplied as ${DUCTILE_CI_API_TOKEN}.
	Token string `yaml:"token,omitempty"`
}

// Defaults returns a Config that runs a local dispatcher on localhost:8888.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "ductile-ci",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Listen: ListenConfig{
			Host:        "localhost",
			Port:        8888,
			ReadTimeout: 10 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 1 * time.Second,
			Timeout:  1 * time.Second,
		},
		Dispatch: DispatchConfig{
			Backoff:      2 * time.Second,
			ProbeTimeout: 3 * time.Second,
		},
		Redistribute: RedistributeConfig{
			Interval: 5 * time.Second,
		},
		Results: ResultsConfig{
			Dir:             "./test_results",
			MaxPayloadBytes: 16 << 20,
		},
		State: StateConfig{
			Path: "./data/results.db",
		},
		API: APIConfig{
			Enabled:            false,
			Listen:             "127.0.0.1:8080",
			RateLimitPerMinute: 600,
		},
	}
}
