package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:    "rockbot",
			DataDir: "~/.rockbot/agent",
		},
		Provider: ProviderConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			MaxRetries:  3,
			Temperature: 0.7,
		},
		Memory: MemoryConfig{
			MaxTurnsPerSession: 30,
			SessionIdleTimeout: Duration(2 * 60 * 60 * 1e9),
			WorkingTTL:         Duration(60 * 60 * 1e9),
			WorkingMaxEntries:  500,
		},
		Loop: LoopConfig{
			MaxSteps:         20,
			ChunkThreshold:   10000,
			RecallTopK:       5,
			RecallScoreFloor: 0.5,
		},
		Subagents: SubagentsConfig{
			MaxConcurrent:  4,
			TimeoutMinutes: 10,
		},
		A2A: A2AConfig{
			TimeoutMinutes: 5,
		},
		Dream: DreamConfig{
			Enabled:              true,
			IntervalMinutes:      60,
			IdleThresholdMinutes: 30,
		},
		Bus: BusConfig{
			Prefetch:     8,
			RateLimitRPM: 20,
			MaxRetries:   3,
		},
	}
}

// Load reads config from a json5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.Agent.DataDir = ExpandHome(cfg.Agent.DataDir)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.Agent.DataDir = ExpandHome(cfg.Agent.DataDir)
	return cfg, cfg.Validate()
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("ROCKBOT_NAME", &c.Agent.Name)
	envStr("ROCKBOT_DATA_DIR", &c.Agent.DataDir)
	envStr("ROCKBOT_TIMEZONE", &c.Agent.Timezone)

	envStr("ROCKBOT_API_KEY", &c.Provider.APIKey)
	envStr("ROCKBOT_BASE_URL", &c.Provider.BaseURL)
	envStr("ROCKBOT_MODEL", &c.Provider.Model)
	envInt("ROCKBOT_MAX_RETRIES", &c.Provider.MaxRetries)

	envInt("ROCKBOT_MAX_STEPS", &c.Loop.MaxSteps)
	envInt("ROCKBOT_SUBAGENT_MAX", &c.Subagents.MaxConcurrent)
	envInt("ROCKBOT_PREFETCH", &c.Bus.Prefetch)
	envInt("ROCKBOT_RATE_LIMIT_RPM", &c.Bus.RateLimitRPM)

	envBool("ROCKBOT_DREAM_ENABLED", &c.Dream.Enabled)

	envBool("ROCKBOT_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("ROCKBOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ROCKBOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("ROCKBOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("ROCKBOT_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}
