package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/kvexport/internal/config"
	dserrors "github.com/systmms/kvexport/internal/errors"
	"github.com/systmms/kvexport/internal/preflight"
	"github.com/systmms/kvexport/internal/vault"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand(cfg *config.Config, conn *connectionFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor [mount]",
		Short: "Check prerequisites and access to a mount",
		Long: `Run the preflight checks and, when a mount is given, probe its engine
type and try to list its root.

Unlike an export, doctor tells a namespace that is empty apart from one
the token may not list.

Examples:
  kvexport doctor
  kvexport doctor secret`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return dserrors.Usage(fmt.Errorf("doctor accepts at most one mount, got %d", len(args)))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg, conn, nil); err != nil {
				return err
			}
			clientCfg := clientConfig(cfg.Settings)
			out := cmd.OutOrStdout()

			results, preErr := preflight.Run(preflight.Checks(clientCfg))
			rows := make([]checkRow, 0, len(results)+2)
			for _, r := range results {
				rows = append(rows, checkRow{Check: r.Name, OK: r.OK(), Message: resultMessage(r)})
			}

			var mountErr error
			if preErr == nil && len(args) == 1 {
				mount, err := mountArg(args[0])
				if err != nil {
					return err
				}
				var mountRows []checkRow
				mountRows, mountErr = checkMount(cmd.Context(), cfg, clientCfg, mount)
				rows = append(rows, mountRows...)
			}

			displayChecks(out, rows)

			passed := 0
			for _, r := range rows {
				if r.OK {
					passed++
				}
			}
			_, _ = fmt.Fprintf(out, "\nSummary: %d/%d checks passed\n", passed, len(rows))

			if preErr != nil {
				return preErr
			}
			if mountErr != nil {
				return mountErr
			}
			cfg.Logger.Info("Ready to export")
			return nil
		},
	}

	return cmd
}

// checkRow is one line of the doctor report.
type checkRow struct {
	Check   string
	OK      bool
	Message string
}

func resultMessage(r preflight.Result) string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Description
}

// checkMount probes mount and lists its root with the raw client, so a
// denied listing is reported as such rather than as an empty mount.
func checkMount(ctx context.Context, cfg *config.Config, clientCfg vault.ClientConfig, mount string) ([]checkRow, error) {
	client, err := vault.NewClient(clientCfg, cfg.Token, cfg.Logger, nil)
	if err != nil {
		return nil, err
	}

	info := vault.NewProber(client, cfg.Logger).Probe(ctx, mount)
	engine := checkRow{Check: "mount", OK: info.Classification == vault.Compatible}
	switch {
	case !info.Probed:
		engine.Message = fmt.Sprintf("%s: metadata unavailable, assuming KV version 1", mount)
	case info.Version == "":
		engine.Message = fmt.Sprintf("%s: type %s", mount, info.Type)
	default:
		engine.Message = fmt.Sprintf("%s: type %s, version %s", mount, info.Type, info.Version)
	}
	if !engine.OK {
		return []checkRow{engine}, dserrors.IncompatibleMount(mount, info.Type, info.Version)
	}

	list := checkRow{Check: "list"}
	body, err := client.Get(ctx, mount, true)
	switch {
	case vault.IsNotFound(err):
		list.OK = true
		list.Message = fmt.Sprintf("%s/: empty", mount)
		err = nil
	case vault.IsPermissionDenied(err):
		list.Message = fmt.Sprintf("%s/: permission denied; an export would see no secrets", mount)
		err = dserrors.UserError{
			Message:    fmt.Sprintf("Token may not list '%s/'", mount),
			Suggestion: fmt.Sprintf("Grant the \"list\" capability on %s/* to the token's policy", mount),
			Err:        err,
		}
	case err != nil:
		list.Message = err.Error()
	default:
		var resp struct {
			Data struct {
				Keys []interface{} `json:"keys"`
			} `json:"data"`
		}
		if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
			list.Message = fmt.Sprintf("%s/: unparsable listing: %v", mount, jsonErr)
			err = jsonErr
			break
		}
		list.OK = true
		list.Message = fmt.Sprintf("%s/: %d entries at the root", mount, len(resp.Data.Keys))
	}

	return []checkRow{engine, list}, err
}

// displayChecks shows the report in a formatted table.
func displayChecks(out io.Writer, rows []checkRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")
	for _, r := range rows {
		status := "✓ ok"
		if !r.OK {
			status = "✗ failed"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Check, status, r.Message)
	}

	_ = w.Flush()
}
