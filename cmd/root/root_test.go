package root

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wincontrol/deskagent/pkg/config"
	"github.com/wincontrol/deskagent/pkg/environment"
)

func TestDefaultToRun(t *testing.T) {
	t.Parallel()

	rootCmd := NewRootCmd()

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "no args defaults to run",
			args: []string{},
			want: []string{"run"},
		},
		{
			name: "nil args defaults to run",
			args: nil,
			want: []string{"run"},
		},
		{
			name: "known subcommand kept as-is",
			args: []string{"version"},
			want: []string{"version"},
		},
		{
			name: "run subcommand kept as-is",
			args: []string{"run", "open the calculator"},
			want: []string{"run", "open the calculator"},
		},
		{
			name: "config subcommand kept as-is",
			args: []string{"config", "set", "model.model", "qwen-vl-plus"},
			want: []string{"config", "set", "model.model", "qwen-vl-plus"},
		},
		{
			name: "help subcommand kept as-is",
			args: []string{"help"},
			want: []string{"help"},
		},
		{
			name: "--help flag kept as-is",
			args: []string{"--help"},
			want: []string{"--help"},
		},
		{
			name: "-h flag kept as-is",
			args: []string{"-h"},
			want: []string{"-h"},
		},
		{
			name: "only flags defaults to run",
			args: []string{"--debug"},
			want: []string{"run", "--debug"},
		},
		{
			name: "message without subcommand defaults to run",
			args: []string{"--debug", "open the calculator"},
			want: []string{"run", "--debug", "open the calculator"},
		},
		{
			name: "double dash defaults to run",
			args: []string{"--", "tools"},
			want: []string{"run", "--", "tools"},
		},
		{
			name: "__complete kept as-is for shell completion",
			args: []string{"__complete", "run", ""},
			want: []string{"__complete", "run", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := defaultToRun(rootCmd, tt.args)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProcessErr(t *testing.T) {
	t.Parallel()

	t.Run("missing environment variables", func(t *testing.T) {
		t.Parallel()

		var stderr bytes.Buffer
		err := &environment.RequiredEnvError{Missing: []string{"DESKAGENT_API_KEY", "OPENAI_API_KEY"}}

		got := processErr(t.Context(), err, &stderr, NewRootCmd())

		assert.Equal(t, err, got)
		assert.Contains(t, stderr.String(), " - DESKAGENT_API_KEY\n - OPENAI_API_KEY\n")
	})

	t.Run("runtime errors are not printed again", func(t *testing.T) {
		t.Parallel()

		var stderr bytes.Buffer
		err := RuntimeError{Err: errors.New("tool server exited")}

		got := processErr(t.Context(), err, &stderr, NewRootCmd())

		assert.Equal(t, err, got)
		assert.Empty(t, stderr.String())
	})

	t.Run("usage errors", func(t *testing.T) {
		t.Parallel()

		var stderr bytes.Buffer
		err := errors.New("invalid configuration")

		got := processErr(t.Context(), err, &stderr, NewRootCmd())

		assert.Equal(t, err, got)
		assert.Equal(t, "invalid configuration\n\n", stderr.String())
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		var stderr bytes.Buffer
		got := processErr(ctx, errors.New("interrupted"), &stderr, NewRootCmd())

		assert.ErrorIs(t, got, context.Canceled)
		assert.Empty(t, stderr.String())
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	err := Execute(t.Context(), strings.NewReader(""), &stdout, &stderr, args...)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "deskagent version dev")
}

func TestConfigSetAndShow(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "config", "path", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	_, err = execute(t, "config", "set", "tool_server.command", "desktop-mcp", "--config", path)
	require.NoError(t, err)
	_, err = execute(t, "config", "set", "model.api_key", "sk-secret", "--config", path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "desktop-mcp", cfg.ToolServer.Command)
	assert.Equal(t, "sk-secret", cfg.Model.APIKey)

	out, err = execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "command: desktop-mcp")
	assert.NotContains(t, out, "sk-secret")

	_, err = execute(t, "config", "set", "model.unknown", "x", "--config", path)
	require.ErrorContains(t, err, `unknown config key "model.unknown"`)
}

func TestRunRequiresToolServer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "--config", path)
	require.ErrorContains(t, err, "tool_server: either command or url must be set")
}
