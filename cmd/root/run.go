package root

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/wincontrol/deskagent/pkg/app"
	"github.com/wincontrol/deskagent/pkg/model/provider"
)

func newRunCmd() *cobra.Command {
	var flags sessionFlags

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Start a desktop control session",
		Long:  `Connect to the tool server and the model, then read requests from the terminal`,
		Example: `  deskagent run
  deskagent run "open the calculator"
  deskagent run --tool-server-command desktop-mcp --tool-server-arg --display=:0
  echo "take a note" | deskagent run`,
		Args: cobra.MaximumNArgs(1),
		RunE: flags.runRunCommand,
	}

	flags.addToolServerFlags(cmd)
	flags.addModelFlags(cmd)

	return cmd
}

func (f *sessionFlags) runRunCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return err
	}
	env, err := f.environment()
	if err != nil {
		return err
	}
	prov, err := provider.New(ctx, &cfg.Model, env)
	if err != nil {
		return err
	}

	out := newPrinter(cmd.OutOrStdout(), isTerminalOutput(cmd.OutOrStdout()))
	a := app.New(newToolset(cfg.ToolServer), prov, app.WithRuntimeOptions(runtimeOptions(cfg)...))

	out.infof("Connecting to the tool server...")
	if err := a.Connect(ctx); err != nil {
		out.errorf("%v", err)
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return RuntimeError{Err: err}
	}
	out.infof("Ready with %d tools, model %s. Type /help for commands, Ctrl+C to exit.", len(a.Tools()), prov.ID())

	var initial string
	if len(args) > 0 {
		initial = args[0]
	}
	if err := newConsole(a, out).run(ctx, cmd.InOrStdin(), initial); err != nil {
		out.errorf("%v", err)
		return RuntimeError{Err: err}
	}
	return nil
}
