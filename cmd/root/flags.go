package root

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wincontrol/deskagent/pkg/config"
	"github.com/wincontrol/deskagent/pkg/environment"
	"github.com/wincontrol/deskagent/pkg/runtime"
	"github.com/wincontrol/deskagent/pkg/telemetry"
	"github.com/wincontrol/deskagent/pkg/tools/mcp"
)

// sessionFlags are the flags shared by the commands that connect to the tool server.
type sessionFlags struct {
	configPath    string
	envFiles      []string
	model         string
	baseURL       string
	command       string
	args          []string
	url           string
	transport     string
	settleDelay   time.Duration
	maxIterations int
}

func (f *sessionFlags) addToolServerFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", config.Path(), "Path to the config file")
	cmd.Flags().StringArrayVar(&f.envFiles, "env-from-file", nil, "Read environment variables from a KEY=VALUE file (repeatable)")
	cmd.Flags().StringVar(&f.command, "tool-server-command", "", "Command starting the MCP tool server over stdio")
	cmd.Flags().StringArrayVar(&f.args, "tool-server-arg", nil, "Argument passed to the tool server command (repeatable)")
	cmd.Flags().StringVar(&f.url, "tool-server-url", "", "URL of a remote MCP tool server")
	cmd.Flags().StringVar(&f.transport, "tool-server-transport", "", "Transport of the remote tool server: streamable or sse")
}

func (f *sessionFlags) addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.model, "model", "", "Model name sent to the chat completion endpoint")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Base URL of the OpenAI-compatible endpoint")
	cmd.Flags().DurationVar(&f.settleDelay, "settle-delay", 0, "Time to wait after a tool call before taking a new screenshot")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "Maximum number of model requests per turn (0 means unlimited)")
}

// loadConfig reads the config file and applies the flags the user set.
func (f *sessionFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		return cmd.Flags().Changed(name)
	}
	if changed("model") {
		cfg.Model.Model = f.model
	}
	if changed("base-url") {
		cfg.Model.BaseURL = f.baseURL
	}
	if changed("tool-server-command") {
		cfg.ToolServer.Command = f.command
		cfg.ToolServer.URL = ""
	}
	if changed("tool-server-arg") {
		cfg.ToolServer.Args = f.args
	}
	if changed("tool-server-url") {
		cfg.ToolServer.URL = f.url
		cfg.ToolServer.Command = ""
	}
	if changed("tool-server-transport") {
		cfg.ToolServer.Transport = f.transport
	}
	if changed("settle-delay") {
		cfg.Agent.SettleDelay = config.Duration(f.settleDelay)
	}
	if changed("max-iterations") {
		cfg.Agent.MaxIterations = f.maxIterations
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", f.configPath, err)
	}
	return cfg, nil
}

// environment resolves variables from the --env-from-file files first, then from the process.
func (f *sessionFlags) environment() (environment.Provider, error) {
	var providers []environment.Provider
	for _, path := range f.envFiles {
		env, err := environment.ReadEnvFile(path)
		if err != nil {
			return nil, err
		}
		providers = append(providers, env)
	}
	providers = append(providers, environment.NewOsEnvProvider())

	return environment.NewMultiProvider(providers...), nil
}

func newToolset(cfg config.ToolServerConfig) *mcp.Toolset {
	opts := []mcp.Opt{mcp.WithToolFilter(cfg.Tools)}
	if cfg.URL != "" {
		return mcp.NewRemoteToolset(cfg.URL, cfg.Transport, cfg.Headers, opts...)
	}
	return mcp.NewToolsetCommand(cfg.Command, cfg.Args, cfg.Env, cfg.WorkingDir, opts...)
}

func runtimeOptions(cfg *config.Config) []runtime.Opt {
	return []runtime.Opt{
		runtime.WithTracer(telemetry.Tracer()),
		runtime.WithSettleDelay(cfg.Agent.SettleDelay.Std()),
		runtime.WithRegionParserTool(cfg.Agent.RegionParserTool),
		runtime.WithScreenshotURI(cfg.Agent.ScreenshotURI),
		runtime.WithSystemPromptName(cfg.Agent.SystemPrompt),
		runtime.WithMaxIterations(cfg.Agent.MaxIterations),
	}
}
