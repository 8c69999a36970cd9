package root

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wincontrol/deskagent/pkg/tools/mcp"
)

func newToolsCmd() *cobra.Command {
	var flags sessionFlags

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools and prompts of the tool server",
		Long:  "Start the configured MCP tool server and list what it advertises",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig(cmd)
			if err != nil {
				return err
			}
			return listTools(cmd.Context(), cmd.OutOrStdout(), newToolset(cfg.ToolServer))
		},
	}

	flags.addToolServerFlags(cmd)

	return cmd
}

func listTools(ctx context.Context, out io.Writer, ts *mcp.Toolset) error {
	if err := ts.Start(ctx); err != nil {
		return RuntimeError{Err: err}
	}
	defer func() {
		if err := ts.Stop(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Failed to stop tool server", "error", err)
		}
	}()

	toolList, err := ts.Tools(ctx)
	if err != nil {
		return RuntimeError{Err: err}
	}
	prompts, err := ts.ListPrompts(ctx)
	if err != nil {
		return RuntimeError{Err: err}
	}

	if instructions := ts.Instructions(); instructions != "" {
		fmt.Fprintf(out, "%s\n\n", instructions)
	}

	fmt.Fprintln(out, "Tools:")
	for _, t := range toolList {
		fmt.Fprintf(out, "  %s%s\n", t.Name, describe(t.Description))
	}

	fmt.Fprintln(out, "\nPrompts:")
	for _, p := range prompts {
		fmt.Fprintf(out, "  %s%s\n", p.Name, describe(p.Description))
	}
	return nil
}

func describe(description string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(description), "\n")
	if first == "" {
		return ""
	}
	return " - " + first
}
