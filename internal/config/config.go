// Package config loads and validates foundry.yml, the daemon's single
// configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FoundryConfig represents the top-level foundry.yml configuration.
type FoundryConfig struct {
	Version    string            `yaml:"version"`
	Instance   string            `yaml:"instance,omitempty"` // Namespace for Redis keys and channels (default: "default")
	Server     *ServerConfig     `yaml:"server,omitempty"`
	Checkpoint *CheckpointConfig `yaml:"checkpoint,omitempty"`
	Pipeline   *PipelineConfig   `yaml:"pipeline,omitempty"`
	LLM        *LLMConfig        `yaml:"llm,omitempty"`
}

// ServerConfig specifies the HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"` // Default: ":8400"
}

// CheckpointConfig selects and tunes the checkpoint backend.
type CheckpointConfig struct {
	Backend string `yaml:"backend,omitempty"` // "redis" (default) or "memory"
	// RedisURL is required for the redis backend. The FOUNDRY_REDIS_URL
	// environment variable overrides it.
	RedisURL string `yaml:"redis_url,omitempty"`
	// AllowVolatile must be set to run the memory backend, which loses
	// every session on restart.
	AllowVolatile bool `yaml:"allow_volatile,omitempty"`
}

// PipelineConfig tunes the orchestration loop.
type PipelineConfig struct {
	MaxIterations *int `yaml:"max_iterations,omitempty"` // Router cycles before a forced halt (default: 10)

	// Loop detection: off below min_iterations; halts when one decision
	// repeats repeat_threshold times within the last window decisions.
	LoopMinIterations   *int `yaml:"loop_min_iterations,omitempty"`   // Default: 5
	LoopRepeatThreshold *int `yaml:"loop_repeat_threshold,omitempty"` // Default: 3
	LoopWindow          *int `yaml:"loop_window,omitempty"`           // Default: 10
}

// LLMConfig specifies the model behind stages and the routing advisor.
type LLMConfig struct {
	Model       string   `yaml:"model,omitempty"` // Default: "gpt-4o-mini"
	Temperature *float32 `yaml:"temperature,omitempty"`
	// AdvisorEnabled turns on the model-backed routing advisor. The
	// deterministic rule table always runs regardless.
	AdvisorEnabled bool `yaml:"advisor_enabled,omitempty"`
}

// Validate performs strict validation and fills in defaults.
func (c *FoundryConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8400"
	}

	if c.Checkpoint == nil {
		c.Checkpoint = &CheckpointConfig{}
	}
	switch c.Checkpoint.Backend {
	case "":
		c.Checkpoint.Backend = "redis"
	case "redis":
	case "memory":
		if !c.Checkpoint.AllowVolatile {
			return fmt.Errorf("checkpoint backend 'memory' loses all sessions on restart; set checkpoint.allow_volatile to accept that")
		}
	default:
		return fmt.Errorf("unknown checkpoint backend: %s (expected: redis or memory)", c.Checkpoint.Backend)
	}

	if c.Pipeline == nil {
		c.Pipeline = &PipelineConfig{}
	}
	if err := c.Pipeline.validate(); err != nil {
		return err
	}

	if c.LLM == nil {
		c.LLM = &LLMConfig{}
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == nil {
		temp := float32(0.7)
		c.LLM.Temperature = &temp
	}
	if *c.LLM.Temperature < 0 || *c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be in [0, 2], got %g", *c.LLM.Temperature)
	}

	return nil
}

func (p *PipelineConfig) validate() error {
	if p.MaxIterations == nil {
		v := 10
		p.MaxIterations = &v
	}
	if *p.MaxIterations < 1 {
		return fmt.Errorf("pipeline max_iterations must be >= 1, got %d", *p.MaxIterations)
	}

	if p.LoopMinIterations == nil {
		v := 5
		p.LoopMinIterations = &v
	}
	if p.LoopRepeatThreshold == nil {
		v := 3
		p.LoopRepeatThreshold = &v
	}
	if p.LoopWindow == nil {
		v := 10
		p.LoopWindow = &v
	}

	if *p.LoopMinIterations < 1 {
		return fmt.Errorf("pipeline loop_min_iterations must be >= 1, got %d", *p.LoopMinIterations)
	}
	if *p.LoopRepeatThreshold < 2 {
		return fmt.Errorf("pipeline loop_repeat_threshold must be >= 2, got %d", *p.LoopRepeatThreshold)
	}
	if *p.LoopWindow < *p.LoopRepeatThreshold {
		return fmt.Errorf("pipeline loop_window (%d) must be >= loop_repeat_threshold (%d)",
			*p.LoopWindow, *p.LoopRepeatThreshold)
	}
	return nil
}

// RedisURL resolves the checkpoint Redis URL, preferring the
// FOUNDRY_REDIS_URL environment variable.
func (c *FoundryConfig) RedisURL() (string, error) {
	if url := os.Getenv("FOUNDRY_REDIS_URL"); url != "" {
		return url, nil
	}
	if c.Checkpoint.RedisURL != "" {
		return c.Checkpoint.RedisURL, nil
	}
	if c.Checkpoint.Backend == "redis" {
		return "", fmt.Errorf("redis backend selected but no redis URL configured (set checkpoint.redis_url or FOUNDRY_REDIS_URL)")
	}
	return "", nil
}

// Load reads, parses and validates a foundry.yml file.
func Load(path string) (*FoundryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config FoundryConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no foundry.yml exists.
func Default() *FoundryConfig {
	c := &FoundryConfig{Version: "1.0"}
	// Validate only fails on explicit bad values; defaults always pass.
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return c
}
