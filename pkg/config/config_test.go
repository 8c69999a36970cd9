package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultModel, cfg.Model.Model)
	assert.Equal(t, DefaultBaseURL, cfg.Model.BaseURL)
	assert.Equal(t, time.Second, cfg.Agent.SettleDelay.Std())
	assert.Equal(t, "screen_region_parser", cfg.Agent.RegionParserTool)
	assert.Equal(t, "screen://screenshot", cfg.Agent.ScreenshotURI)
	assert.Equal(t, "system_prompt", cfg.Agent.SystemPrompt)
	assert.Zero(t, cfg.Agent.MaxIterations)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  base_url: https://dashscope.example.com/v1
  model: qwen-vl-plus
  timeout: 30s
tool_server:
  command: python
  args: server.py
  tools: [move_mouse, screen_region_parser]
agent:
  settle_delay: 1500ms
  max_iterations: 40
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://dashscope.example.com/v1", cfg.Model.BaseURL)
	assert.Equal(t, "qwen-vl-plus", cfg.Model.Model)
	assert.Equal(t, 30*time.Second, cfg.Model.Timeout.Std())
	assert.Equal(t, "python", cfg.ToolServer.Command)
	assert.Equal(t, StringOrList{"server.py"}, cfg.ToolServer.Args)
	assert.Equal(t, []string{"move_mouse", "screen_region_parser"}, cfg.ToolServer.Tools)
	assert.Equal(t, 1500*time.Millisecond, cfg.Agent.SettleDelay.Std())
	assert.Equal(t, 40, cfg.Agent.MaxIterations)
	require.NoError(t, cfg.Validate())
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unterminated"), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "failed to parse config file")
}

func TestSaveThenLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Set("model.api_key", "sk-secret"))
	require.NoError(t, cfg.Set("tool_server.command", "uv"))
	require.NoError(t, cfg.Set("tool_server.args", "run, server.py"))
	require.NoError(t, cfg.Set("agent.settle_delay", "2s"))
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, loaded.Version)
	assert.Equal(t, "sk-secret", loaded.Model.APIKey)
	assert.Equal(t, "uv", loaded.ToolServer.Command)
	assert.Equal(t, StringOrList{"run", "server.py"}, loaded.ToolServer.Args)
	assert.Equal(t, 2*time.Second, loaded.Agent.SettleDelay.Std())
}

func TestSetErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	require.ErrorContains(t, cfg.Set("model.unknown", "x"), "unknown config key")
	require.Error(t, cfg.Set("agent.max_iterations", "many"))
	require.Error(t, cfg.Set("agent.settle_delay", "soon"))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no tool server", func(*Config) {}, "either command or url"},
		{"both command and url", func(c *Config) {
			c.ToolServer.Command = "python"
			c.ToolServer.URL = "http://localhost:8000/mcp"
		}, "mutually exclusive"},
		{"bad transport", func(c *Config) {
			c.ToolServer.URL = "http://localhost:8000/mcp"
			c.ToolServer.Transport = "websocket"
		}, "unsupported transport"},
		{"negative iterations", func(c *Config) {
			c.ToolServer.Command = "python"
			c.Agent.MaxIterations = -1
		}, "max_iterations"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{}
			tt.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestRedacted(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Model:      ModelConfig{APIKey: "sk-secret"},
		ToolServer: ToolServerConfig{Headers: map[string]string{"Authorization": "Bearer x"}},
	}

	redacted := cfg.Redacted()
	assert.Equal(t, "********", redacted.Model.APIKey)
	assert.Equal(t, "********", redacted.ToolServer.Headers["Authorization"])
	assert.Equal(t, "sk-secret", cfg.Model.APIKey)
	assert.Equal(t, "Bearer x", cfg.ToolServer.Headers["Authorization"])
}
