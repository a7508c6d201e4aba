// Package config holds the host configuration: json5 file, environment
// overlays, and defaults.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the root configuration for a RockBot host.
type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Memory    MemoryConfig    `json:"memory"`
	Loop      LoopConfig      `json:"loop"`
	Subagents SubagentsConfig `json:"subagents,omitempty"`
	A2A       A2AConfig       `json:"a2a,omitempty"`
	Discovery DiscoveryConfig `json:"discovery,omitempty"`
	Dream     DreamConfig     `json:"dream,omitempty"`
	Bus       BusConfig       `json:"bus,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// AgentConfig names the agent and points at its on-disk state.
type AgentConfig struct {
	// Name is the logical bus identity.
	Name string `json:"name"`
	// DataDir is the root for profile documents and all stores.
	DataDir string `json:"data_dir"`
	// Timezone for scheduled tasks and prompt timestamps, IANA name.
	Timezone string `json:"timezone,omitempty"`
	// Rules are standing instructions injected into every context.
	Rules []string `json:"rules,omitempty"`
}

// ProviderConfig configures the LLM endpoint. The API key is env-only and
// never persisted.
type ProviderConfig struct {
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	APIKey      string  `json:"-"` // from env ROCKBOT_API_KEY only
	MaxRetries  int     `json:"max_retries,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type MemoryConfig struct {
	MaxTurnsPerSession int      `json:"max_turns_per_session"`
	SessionIdleTimeout Duration `json:"session_idle_timeout"`
	WorkingTTL         Duration `json:"working_ttl"`
	WorkingMaxEntries  int      `json:"working_max_entries"`
}

type LoopConfig struct {
	MaxSteps         int     `json:"max_steps"`
	ChunkThreshold   int     `json:"chunk_threshold"`
	RecallTopK       int     `json:"recall_top_k"`
	RecallScoreFloor float64 `json:"recall_score_floor"`
}

type SubagentsConfig struct {
	MaxConcurrent  int `json:"max_concurrent"`
	TimeoutMinutes int `json:"timeout_minutes"`
}

type A2AConfig struct {
	TimeoutMinutes int `json:"timeout_minutes"`
	// WellKnown seeds the discovery directory with persistent peers.
	WellKnown []WellKnownAgent `json:"well_known,omitempty"`
}

type WellKnownAgent struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

type DiscoveryConfig struct {
	// Announce publishes our own capability card at startup.
	Announce    bool     `json:"announce"`
	Description string   `json:"description,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

type DreamConfig struct {
	Enabled              bool `json:"enabled"`
	IntervalMinutes      int  `json:"interval_minutes,omitempty"`
	IdleThresholdMinutes int  `json:"idle_threshold_minutes,omitempty"`
}

type BusConfig struct {
	Prefetch     int `json:"prefetch"`
	RateLimitRPM int `json:"rate_limit_rpm"`
	MaxRetries   int `json:"max_retries"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Duration marshals as a Go duration string ("2h", "90s").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d).String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		parsed, err := time.ParseDuration(s[1 : len(s)-1])
		if err != nil {
			return fmt.Errorf("invalid duration %s: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	// Bare numbers are nanoseconds, matching time.Duration's zero idiom.
	var ns time.Duration
	if _, err := fmt.Sscanf(s, "%d", &ns); err != nil {
		return fmt.Errorf("invalid duration %s", s)
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ProfileBase returns the directory holding the profile documents.
func (c *Config) ProfileBase() string {
	return c.Agent.DataDir
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Agent.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Agent.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rejects configurations the host cannot start with.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return fmt.Errorf("config: agent.name is required")
	}
	if c.Agent.DataDir == "" {
		return fmt.Errorf("config: agent.data_dir is required")
	}
	if c.Agent.Timezone != "" {
		if _, err := time.LoadLocation(c.Agent.Timezone); err != nil {
			return fmt.Errorf("config: invalid timezone %q: %w", c.Agent.Timezone, err)
		}
	}
	if c.Telemetry.Enabled {
		switch c.Telemetry.Protocol {
		case "", "http", "grpc":
		default:
			return fmt.Errorf("config: telemetry.protocol must be http or grpc, got %q", c.Telemetry.Protocol)
		}
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
