package root

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/wincontrol/deskagent/pkg/config"
)

func newConfigCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage user configuration",
		Long:  "View and manage the deskagent configuration stored in ~/.config/deskagent/config.yaml",
		Example: `  # Show the current configuration
  deskagent config show

  # Point deskagent at a tool server
  deskagent config set tool_server.command desktop-mcp

  # Show the path to the config file
  deskagent config path`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShowCommand(cmd, path)
		},
	}

	cmd.PersistentFlags().StringVar(&path, "config", config.Path(), "Path to the config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current configuration",
		Long:  "Display the current configuration, with defaults applied and secrets masked, in YAML format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShowCommand(cmd, path)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.Keys(), "\n  "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSetCommand(cmd, path, args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the path to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	return cmd
}

func runConfigShowCommand(cmd *cobra.Command, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := yaml.MarshalWithOptions(cfg.Redacted(), yaml.IndentSequence(true), yaml.UseSingleQuote(false))
	if err != nil {
		return fmt.Errorf("failed to format config: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigSetCommand(cmd *cobra.Command, path, key, value string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", key, path)
	return nil
}
