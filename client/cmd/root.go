package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienstroheker/relaycat/internal/config"
	"github.com/julienstroheker/relaycat/internal/logging"
	"github.com/spf13/cobra"
)

const (
	// ExitConnect is the exit status when the peer could not be reached
	ExitConnect = 4

	// ExitUsage is the exit status for invalid arguments or configuration
	ExitUsage = 64
)

// ExitError carries the exit status of a command. Err is printed when set;
// relay failures are already logged and leave it nil.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// app holds the state shared by the command tree
type app struct {
	cfg         *config.Config
	logger      *logging.Logger
	verboseFlag bool
	jsonFlag    bool
	flags       relayFlags
}

// NewRootCommand builds the relaycat command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "relaycat",
		Short: "Relay standard input and output over a network connection",
		Long: `relaycat - copies standard input to a peer and the peer's bytes to standard output.
Each direction is half-closed when it ends; the relay succeeds once both have.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	// Disable default completion and help commands
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().BoolVarP(&a.verboseFlag, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonFlag, "json", false, "Output logs in JSON format")

	rootCmd.AddCommand(newConnectCommand(a), newListenCommand(a))
	return rootCmd
}

// setup loads the configuration, applies flag overrides and builds the logger
func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.cfg = config.Load()
	if err := a.flags.apply(cmd, a.cfg); err != nil {
		return usageError(err)
	}

	level := logging.ParseLevel(a.cfg.LogLevel)
	if a.verboseFlag {
		level = logging.DebugLevel
	}
	format := logging.FormatConsole
	if a.jsonFlag {
		format = logging.FormatJSON
	}

	a.logger = logging.NewWithOutput(level, cmd.ErrOrStderr())
	a.logger.SetFormat(format)
	a.logger.Debug("Logger initialized",
		logging.String("level", level.String()),
		logging.String("format", format.String()))

	if err := a.cfg.Validate(); err != nil {
		return usageError(err)
	}
	return nil
}

// Execute runs the command tree with os.Args and returns the exit status.
// SIGINT and SIGTERM cancel the relay.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, NewRootCommand(), os.Args[1:])
}

func run(ctx context.Context, rootCmd *cobra.Command, args []string) int {
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", exitErr.Err)
		}
		return exitErr.Code
	}

	// Flag, argument and unknown command errors from cobra
	fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	return ExitUsage
}
