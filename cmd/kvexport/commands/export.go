package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/kvexport/internal/config"
	dserrors "github.com/systmms/kvexport/internal/errors"
	"github.com/systmms/kvexport/internal/export"
	"github.com/systmms/kvexport/internal/metrics"
	"github.com/systmms/kvexport/internal/preflight"
	"github.com/systmms/kvexport/internal/vault"
)

// NewExportCommand creates the export command, used as the root of the CLI.
func NewExportCommand(cfg *config.Config, conn *connectionFlags) *cobra.Command {
	var (
		output      string
		concurrency int
		maxDepth    int
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "kvexport [flags] <mount>",
		Short: "Export every secret in a KV version 1 mount as NDJSON",
		Long: `kvexport walks a KV version 1 mount of a Vault-compatible secret store
and writes one JSON object per secret to stdout:

  {"path":"b/c","secret":{"k":"v2"}}

The store is reached with VAULT_ADDR and VAULT_TOKEN. KV version 2 mounts
are detected and refused. Unreadable secrets and unlistable namespaces are
skipped with a warning on stderr.

Exit codes: 0 ok, 1 failure, 2 usage, 3 missing prerequisite,
4 incompatible mount, 130 interrupted.

A mount named like a subcommand (doctor, completion, help) must follow
"--", e.g. kvexport -- doctor.

Examples:
  # Export the "secret" mount
  VAULT_ADDR=https://vault:8200 VAULT_TOKEN=... kvexport secret > secrets.ndjson

  # Write to a file only the current user can read
  kvexport secret --output secrets.ndjson

  # Walk sibling namespaces in parallel (output order is not preserved)
  kvexport secret --concurrency 8`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return dserrors.Usage(dserrors.UserError{
					Message:    fmt.Sprintf("Expected exactly one mount name, got %d arguments", len(args)),
					Suggestion: "kvexport <mount>, e.g. kvexport secret",
				})
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			mount, err := mountArg(args[0])
			if err != nil {
				return err
			}

			err = loadConfig(cmd, cfg, conn, func(s *config.Settings) {
				flags := cmd.Flags()
				if flags.Changed("output") {
					s.Output = output
				}
				if flags.Changed("concurrency") {
					s.Concurrency = concurrency
				}
				if flags.Changed("max-depth") {
					s.MaxDepth = maxDepth
				}
				if flags.Changed("metrics-file") {
					s.MetricsFile = metricsFile
				}
			})
			if err != nil {
				return err
			}

			return runExport(cmd.Context(), cmd.OutOrStdout(), cfg, mount)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write records to this file (mode 0600) instead of stdout")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", config.DefaultConcurrency, "Maximum in-flight requests; above 1 output order is not preserved")
	cmd.Flags().IntVar(&maxDepth, "max-depth", config.DefaultMaxDepth, "Deepest namespace level to descend into")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file when done")

	return cmd
}

func runExport(ctx context.Context, stdout io.Writer, cfg *config.Config, mount string) error {
	s := cfg.Settings
	logger := cfg.Logger
	clientCfg := clientConfig(s)

	output, err := prepareOutput(stdout, s.Output)
	if err != nil {
		return err
	}
	started := false
	defer func() {
		if !started {
			output.abandon()
		}
	}()

	if _, err := preflight.Run(preflight.Checks(clientCfg)); err != nil {
		return err
	}

	m := metrics.New()
	client, err := vault.NewClient(clientCfg, cfg.Token, logger, m)
	if err != nil {
		return err
	}

	info := vault.NewProber(client, logger).Probe(ctx, mount)
	if info.Classification == vault.Incompatible {
		return dserrors.IncompatibleMount(mount, info.Type, info.Version)
	}

	out, err := output.start()
	if err != nil {
		return err
	}
	started = true

	traverser := export.NewTraverser(
		vault.NewLister(client, mount, logger, m),
		vault.NewReader(client, mount, logger, m),
		export.NewEmitter(out),
		export.Options{Concurrency: s.Concurrency, MaxDepth: s.MaxDepth},
		logger,
		m,
	)
	stats, runErr := traverser.Run(ctx)
	closeErr := output.Close()

	logger.Info("Exported %d secrets from '%s' in %s", stats.Exported, mount, stats.Duration.Round(time.Millisecond))
	if stats.Skipped > 0 {
		logger.Warn("%d secrets could not be read and were skipped", stats.Skipped)
	}
	if stats.DepthExceeded > 0 {
		logger.Warn("%d namespaces were deeper than --max-depth %d and were not exported", stats.DepthExceeded, s.MaxDepth)
	}

	if s.MetricsFile != "" {
		if err := m.WriteTextfile(s.MetricsFile); err != nil {
			logger.Warn("Failed to write metrics to %s: %v", s.MetricsFile, err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("export of '%s' stopped after %d secrets: %w", mount, stats.Exported, runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output: %w", closeErr)
	}
	return nil
}
