package root

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wincontrol/deskagent/pkg/environment"
	"github.com/wincontrol/deskagent/pkg/logging"
	"github.com/wincontrol/deskagent/pkg/paths"
	"github.com/wincontrol/deskagent/pkg/telemetry"
)

const AppName = "deskagent"

type rootFlags struct {
	enableOtel  bool
	debugMode   bool
	logFilePath string
	logFile     io.Closer
	shutdown    func(context.Context) error
}

func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   AppName,
		Short: "deskagent - desktop control agent",
		Long:  "deskagent lets a vision language model operate the desktop through an MCP tool server",
		Example: `  deskagent run
  deskagent run --tool-server-command desktop-mcp
  deskagent tools`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Initialize logging before anything else so logs don't mix with the conversation
			if err := flags.setupLogging(); err != nil {
				logging.Fallback(cmd.ErrOrStderr(), flags.debugMode)
				slog.Warn("Failed to open log file, logging to stderr", "error", err)
			}

			if flags.enableOtel {
				shutdown, err := telemetry.Setup(cmd.Context())
				if err != nil {
					slog.Warn("Failed to initialize OpenTelemetry SDK", "error", err)
				} else {
					flags.shutdown = shutdown
					slog.Debug("OpenTelemetry SDK initialized successfully")
				}
			}

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.shutdown != nil {
				if err := flags.shutdown(context.WithoutCancel(cmd.Context())); err != nil {
					slog.Error("Failed to shut down OpenTelemetry SDK", "error", err)
				}
			}
			if flags.logFile != nil {
				if err := flags.logFile.Close(); err != nil {
					slog.Error("Failed to close log file", "error", err)
				}
			}
			return nil
		},
		// If no subcommand is specified, show help
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.enableOtel, "otel", "o", false, "Enable OpenTelemetry tracing")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Path to debug log file (default: ~/.deskagent/deskagent.debug.log; only used with --debug)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	rootCmd := NewRootCmd()
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	setContextRecursive(ctx, rootCmd)

	// When no subcommand is given, default to "run".
	rootCmd.SetArgs(defaultToRun(rootCmd, args))

	if err := rootCmd.Execute(); err != nil {
		return processErr(ctx, err, stderr, rootCmd)
	}
	return nil
}

func setContextRecursive(ctx context.Context, cmd *cobra.Command) {
	cmd.SetContext(ctx)
	for _, child := range cmd.Commands() {
		setContextRecursive(ctx, child)
	}
}

// defaultToRun prepends "run" to the argument list when no subcommand is
// specified so that bare "deskagent" (or "deskagent --debug", etc.) starts a
// session. Help flags (--help / -h) are left alone.
func defaultToRun(rootCmd *cobra.Command, args []string) []string {
	for _, arg := range args {
		switch {
		case arg == "--":
			return append([]string{"run"}, args...)
		case arg == "--help" || arg == "-h":
			return args
		case strings.HasPrefix(arg, "-"):
			continue
		case isSubcommand(rootCmd, arg):
			return args
		default:
			return append([]string{"run"}, args...)
		}
	}

	return append([]string{"run"}, args...)
}

// isSubcommand reports whether name matches a registered subcommand or alias.
func isSubcommand(cmd *cobra.Command, name string) bool {
	switch name {
	case "help", "completion", "__complete", "__completeNoDesc":
		return true
	}
	for _, sub := range cmd.Commands() {
		if sub.Name() == name || sub.HasAlias(name) {
			return true
		}
	}
	return false
}

func processErr(ctx context.Context, err error, stderr io.Writer, rootCmd *cobra.Command) error {
	var envErr *environment.RequiredEnvError
	var runtimeErr RuntimeError

	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &envErr):
		fmt.Fprintln(stderr, "The following environment variables must be set:")
		for _, v := range envErr.Missing {
			fmt.Fprintf(stderr, " - %s\n", v)
		}
		fmt.Fprintln(stderr, "\nEither:\n - Set one of those environment variables before running deskagent\n - Run deskagent with --env-from-file\n - Store the key with: deskagent config set model.api_key <key>")
	case errors.As(err, &runtimeErr):
		// Runtime errors have already been printed by the command itself
	default:
		// Command line usage errors - show the error and usage
		fmt.Fprintln(stderr, err)
		fmt.Fprintln(stderr)
		if strings.HasPrefix(err.Error(), "unknown command ") || strings.HasPrefix(err.Error(), "accepts ") {
			_ = rootCmd.Usage()
		}
	}

	return err
}

// setupLogging configures slog logging behavior.
// When --debug is enabled, logs are written to a rotating file <dataDir>/deskagent.debug.log,
// or to the file specified by --log-file.
func (f *rootFlags) setupLogging() error {
	path := cmp.Or(strings.TrimSpace(f.logFilePath), filepath.Join(paths.GetDataDir(), "deskagent.debug.log"))

	logFile, err := logging.Setup(path, f.debugMode)
	if err != nil {
		return err
	}
	f.logFile = logFile
	return nil
}

// RuntimeError wraps runtime errors to distinguish them from usage errors
type RuntimeError struct {
	Err error
}

func (e RuntimeError) Error() string {
	return e.Err.Error()
}

func (e RuntimeError) Unwrap() error {
	return e.Err
}
