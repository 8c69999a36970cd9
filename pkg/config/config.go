// Package config holds the user configuration of deskagent.
// It is stored in ~/.config/deskagent/config.yaml and keeps the model
// endpoint, the tool server command and agent loop settings between runs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"github.com/wincontrol/deskagent/pkg/paths"
)

// CurrentVersion is the current version of the config format
const CurrentVersion = "v1"

const (
	DefaultModel            = "qwen-vl-max"
	DefaultBaseURL          = "https://api.openai.com/v1"
	DefaultTimeout          = 120 * time.Second
	DefaultSettleDelay      = time.Second
	DefaultRegionParserTool = "screen_region_parser"
	DefaultScreenshotURI    = "screen://screenshot"
	DefaultSystemPrompt     = "system_prompt"
)

type Config struct {
	Version    string           `yaml:"version,omitempty"`
	Model      ModelConfig      `yaml:"model"`
	ToolServer ToolServerConfig `yaml:"tool_server"`
	Agent      AgentConfig      `yaml:"agent"`
}

// ModelConfig points at an OpenAI-compatible chat completion endpoint.
type ModelConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`
	// APIKey is optional; DESKAGENT_API_KEY or OPENAI_API_KEY are used when empty.
	APIKey      string   `yaml:"api_key,omitempty"`
	MaxRetries  int      `yaml:"max_retries,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// ToolServerConfig describes how to reach the MCP tool server, either as a
// subprocess (Command) or as a remote endpoint (URL).
type ToolServerConfig struct {
	Command    string            `yaml:"command,omitempty"`
	Args       StringOrList      `yaml:"args,omitempty"`
	Env        []string          `yaml:"env,omitempty"`
	WorkingDir string            `yaml:"working_dir,omitempty"`
	URL        string            `yaml:"url,omitempty"`
	Transport  string            `yaml:"transport,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Tools      []string          `yaml:"tools,omitempty"`
}

type AgentConfig struct {
	SettleDelay      Duration `yaml:"settle_delay,omitempty"`
	RegionParserTool string   `yaml:"region_parser_tool,omitempty"`
	ScreenshotURI    string   `yaml:"screenshot_uri,omitempty"`
	SystemPrompt     string   `yaml:"system_prompt,omitempty"`
	MaxIterations    int      `yaml:"max_iterations,omitempty"`
}

// Path returns the path to the config file
func Path() string {
	return filepath.Join(paths.GetConfigDir(), "config.yaml")
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// Save writes the config atomically to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	c.Version = CurrentVersion

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return atomic.WriteFile(path, bytes.NewReader(data))
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Model.Model == "" {
		c.Model.Model = DefaultModel
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = DefaultBaseURL
	}
	if c.Model.Timeout == 0 {
		c.Model.Timeout = Duration(DefaultTimeout)
	}
	if c.ToolServer.URL != "" && c.ToolServer.Transport == "" {
		c.ToolServer.Transport = "streamable"
	}
	if c.Agent.SettleDelay == 0 {
		c.Agent.SettleDelay = Duration(DefaultSettleDelay)
	}
	if c.Agent.RegionParserTool == "" {
		c.Agent.RegionParserTool = DefaultRegionParserTool
	}
	if c.Agent.ScreenshotURI == "" {
		c.Agent.ScreenshotURI = DefaultScreenshotURI
	}
	if c.Agent.SystemPrompt == "" {
		c.Agent.SystemPrompt = DefaultSystemPrompt
	}
}

// Validate reports configuration that cannot be used to start a session.
func (c *Config) Validate() error {
	var errs []error

	switch {
	case c.ToolServer.Command == "" && c.ToolServer.URL == "":
		errs = append(errs, errors.New("tool_server: either command or url must be set"))
	case c.ToolServer.Command != "" && c.ToolServer.URL != "":
		errs = append(errs, errors.New("tool_server: command and url are mutually exclusive"))
	}
	switch c.ToolServer.Transport {
	case "", "streamable", "streamable-http", "sse":
	default:
		errs = append(errs, fmt.Errorf("tool_server: unsupported transport %q", c.ToolServer.Transport))
	}
	if c.Model.MaxRetries < 0 {
		errs = append(errs, errors.New("model: max_retries must not be negative"))
	}
	if c.Agent.MaxIterations < 0 {
		errs = append(errs, errors.New("agent: max_iterations must not be negative"))
	}
	if c.Agent.SettleDelay < 0 {
		errs = append(errs, errors.New("agent: settle_delay must not be negative"))
	}

	return errors.Join(errs...)
}
