// Package config provides hierarchical configuration loading for the agent.
// Precedence: defaults < YAML file < .env file < process environment.
// The merged result is checked against an embedded CUE schema.
package config

import "time"

// Config holds all runtime configuration of the agent.
type Config struct {
	Shop      Shop      `yaml:"shop" json:"shop"`
	Cloud     Cloud     `yaml:"cloud" json:"cloud"`
	Bridge    Bridge    `yaml:"bridge" json:"bridge"`
	Agent     Agent     `yaml:"agent" json:"agent"`
	Store     Store     `yaml:"store" json:"store"`
	Simulator Simulator `yaml:"simulator" json:"simulator"`
	Status    Status    `yaml:"status" json:"status"`
	Logging   Logging   `yaml:"logging" json:"logging"`
}

// Shop identifies the physical store this agent serves.
type Shop struct {
	ID     string `yaml:"id" json:"id"`
	APIKey string `yaml:"api_key" json:"api_key"`
}

// Cloud holds the cloud billing API connection settings.
type Cloud struct {
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`           // Per attempt (default: 10s)
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"` // First attempt included (default: 3)
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"` // Doubles per retry (default: 2s)
}

// Bridge holds the shared directory used to talk to the billing terminal.
type Bridge struct {
	ExportDir string `yaml:"export_dir" json:"export_dir"`
}

// Agent holds reconciliation loop settings.
type Agent struct {
	PollInterval        time.Duration `yaml:"poll_interval" json:"poll_interval"`
	RetryAlertThreshold int           `yaml:"retry_alert_threshold" json:"retry_alert_threshold"`
}

// Store holds the task store location.
type Store struct {
	Path string `yaml:"path" json:"path"`
}

// Simulator holds the terminal simulator settings. Development only.
type Simulator struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Interval        time.Duration `yaml:"interval" json:"interval"`
	BillProbability float64       `yaml:"bill_probability" json:"bill_probability"`
}

// Status holds the local status endpoint settings.
type Status struct {
	Addr string `yaml:"addr" json:"addr"` // Empty disables the endpoint
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level" json:"level"`
	Service string `yaml:"service" json:"service"`
	File    string `yaml:"file" json:"file"` // Optional copy of every log line
}

// Defaults returns a Config with sensible defaults for a single shop
// agent talking to a local development cloud.
func Defaults() Config {
	return Config{
		Shop: Shop{
			ID: "unknown_shop",
		},
		Cloud: Cloud{
			BaseURL:     "http://localhost:4000/api",
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
		},
		Bridge: Bridge{
			ExportDir: "./exports",
		},
		Agent: Agent{
			PollInterval:        30 * time.Second,
			RetryAlertThreshold: 10,
		},
		Store: Store{
			Path: "agent.db",
		},
		Simulator: Simulator{
			Enabled:         false,
			Interval:        10 * time.Second,
			BillProbability: 0.5,
		},
		Status: Status{
			Addr: "127.0.0.1:8089",
		},
		Logging: Logging{
			Level:   "info",
			Service: "shopsync-agent",
		},
	}
}
