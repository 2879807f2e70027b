package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/systmms/kvexport/internal/config"
	dserrors "github.com/systmms/kvexport/internal/errors"
	"github.com/systmms/kvexport/internal/logging"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version string
}

// Execute runs the CLI with args and returns the process exit code.
func Execute(ctx context.Context, info BuildInfo, args []string, stdout, stderr io.Writer) int {
	cfg := &config.Config{}
	defer cfg.Close()

	root := NewRootCommand(cfg, info)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return dserrors.ExitOK
	}

	// Flag errors happen before PersistentPreRun builds the configured logger.
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewWithWriter(stderr, false, true)
	}

	code := dserrors.ExitCode(err)
	logger.Error("Error: %v", err)
	if code == dserrors.ExitUsage {
		_, _ = fmt.Fprintln(stderr, "Run 'kvexport --help' for usage.")
	}
	return code
}

// NewRootCommand creates the kvexport command tree. The root command
// itself performs the export.
func NewRootCommand(cfg *config.Config, info BuildInfo) *cobra.Command {
	var (
		configFile string
		noColor    bool
		debug      bool
		conn       connectionFlags
	)

	rootCmd := NewExportCommand(cfg, &conn)
	rootCmd.Version = info.Version
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		cfg.Path = configFile
		cfg.Logger = logging.NewWithWriter(cmd.ErrOrStderr(), debug, noColor)
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return dserrors.Usage(err)
	})

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (optional)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	conn.register(rootCmd)

	rootCmd.AddCommand(
		NewDoctorCommand(cfg, &conn),
		NewCompletionCommand(),
	)

	return rootCmd
}
