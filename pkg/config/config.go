package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvAPIKey      = "PLANPILOT_API_KEY"
	EnvFunctionURL = "PLANPILOT_FUNCTION_URL"
)

type Config struct {
	App        AppConfig                 `json:"app" yaml:"app"`
	Gateways   map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers  map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory     MemoryConfig              `json:"memory" yaml:"memory"`
	Execution  ExecutionConfig           `json:"execution" yaml:"execution"`
	Actions    ActionsConfig             `json:"actions" yaml:"actions"`
	Governance GovernanceConfig          `json:"governance" yaml:"governance"`
}

type AppConfig struct {
	Name       string `json:"name" yaml:"name"`
	Workspace  string `json:"workspace" yaml:"workspace"`
	PromptsDir string `json:"prompts_dir" yaml:"prompts_dir"`
	LLMLog     string `json:"llm_log" yaml:"llm_log"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	// Channel restricts a Discord bot to one channel id.
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

type ExecutionConfig struct {
	DefaultMode      string `json:"default_mode" yaml:"default_mode"`
	AutoDelaySeconds int    `json:"auto_delay_seconds" yaml:"auto_delay_seconds"`
	ProjectID        string `json:"project_id" yaml:"project_id"`
}

// ActionsConfig selects how step prompts are executed: "http" posts them to
// FunctionURL, "llm" runs them through the tool-using worker.
type ActionsConfig struct {
	Backend        string            `json:"backend" yaml:"backend"`
	FunctionURL    string            `json:"function_url" yaml:"function_url"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	SanitizeHTML   bool              `json:"sanitize_html" yaml:"sanitize_html"`
}

// GovernanceRules restrict step prompts and worker tool calls.
type GovernanceRules struct {
	DenyPatterns   []string `json:"deny_patterns" yaml:"deny_patterns"`
	DenyTools      []string `json:"deny_tools" yaml:"deny_tools"`
	MaxPromptChars int      `json:"max_prompt_chars" yaml:"max_prompt_chars"`
}

// GovernanceConfig holds global rules plus extra rules per project id.
type GovernanceConfig struct {
	GovernanceRules `yaml:",inline"`
	Projects        map[string]GovernanceRules `json:"projects,omitempty" yaml:"projects,omitempty"`
}

// LoadConfig reads a JSON or YAML file, chosen by extension, then applies
// environment overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	if key := os.Getenv(EnvAPIKey); key != "" {
		name, p := c.GetDefaultProvider()
		if name == "" {
			name = "openai"
			p = ProviderConfig{Enabled: true}
		}
		p.APIKey = key
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		c.Providers[name] = p
	}
	if url := os.Getenv(EnvFunctionURL); url != "" {
		c.Actions.FunctionURL = url
	}
}

func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "planpilot"
	}
	if c.App.PromptsDir == "" {
		c.App.PromptsDir = "./prompts"
	}
	if c.App.LLMLog == "" {
		c.App.LLMLog = filepath.Join("logs", "llm.jsonl")
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "planpilot.db"
	}
	if c.Execution.DefaultMode == "" {
		c.Execution.DefaultMode = "manual"
	}
	if c.Execution.AutoDelaySeconds <= 0 {
		c.Execution.AutoDelaySeconds = 3
	}
	if c.Actions.TimeoutSeconds <= 0 {
		c.Actions.TimeoutSeconds = 60
	}
	if c.Actions.Backend == "" {
		if c.Actions.FunctionURL != "" {
			c.Actions.Backend = "http"
		} else {
			c.Actions.Backend = "llm"
		}
	}
}

func (c *Config) AutoDelay() time.Duration {
	return time.Duration(c.Execution.AutoDelaySeconds) * time.Second
}

func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.Actions.TimeoutSeconds) * time.Second
}

// GetDefaultProvider returns the first enabled provider by name.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}
