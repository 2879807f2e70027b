package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/kvexport/internal/config"
	dserrors "github.com/systmms/kvexport/internal/errors"
	"github.com/systmms/kvexport/internal/vault"
)

// connectionFlags are the store connection settings shared by every command.
type connectionFlags struct {
	namespace     string
	timeout       time.Duration
	tlsSkipVerify bool
	caCert        string
}

func (f *connectionFlags) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&f.namespace, "namespace", "", "Vault Enterprise namespace (overrides VAULT_NAMESPACE)")
	flags.DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "Per-request timeout (overrides VAULT_CLIENT_TIMEOUT)")
	flags.BoolVar(&f.tlsSkipVerify, "tls-skip-verify", false, "Skip TLS certificate verification (overrides VAULT_SKIP_VERIFY)")
	flags.StringVar(&f.caCert, "ca-cert", "", "PEM CA bundle to verify the server (overrides VAULT_CACERT)")
}

// apply copies the flags the user set explicitly over s.
func (f *connectionFlags) apply(cmd *cobra.Command, s *config.Settings) {
	flags := cmd.Flags()
	if flags.Changed("namespace") {
		s.Namespace = f.namespace
	}
	if flags.Changed("timeout") {
		s.Timeout = f.timeout
	}
	if flags.Changed("tls-skip-verify") {
		s.TLSSkipVerify = f.tlsSkipVerify
	}
	if flags.Changed("ca-cert") {
		s.CACert = f.caCert
	}
}

// loadConfig loads configuration, applies connection flags and validates
// the result. tune runs between the two for command-specific flags.
func loadConfig(cmd *cobra.Command, cfg *config.Config, conn *connectionFlags, tune func(*config.Settings)) error {
	if err := cfg.Load(); err != nil {
		return err
	}
	conn.apply(cmd, &cfg.Settings)
	if tune != nil {
		tune(&cfg.Settings)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := vault.APIRoot(cfg.Settings.Address); err != nil {
		return dserrors.Usage(dserrors.ConfigError{
			Field:      "VAULT_ADDR",
			Value:      cfg.Settings.Address,
			Message:    err.Error(),
			Suggestion: "Use the server root, e.g. https://vault.example.com:8200",
		})
	}
	return nil
}

func clientConfig(s config.Settings) vault.ClientConfig {
	return vault.ClientConfig{
		Address:       s.Address,
		Namespace:     s.Namespace,
		Timeout:       s.Timeout,
		TLSSkipVerify: s.TLSSkipVerify,
		CACert:        s.CACert,
	}
}

// mountArg normalizes the mount argument.
func mountArg(arg string) (string, error) {
	mount := strings.Trim(arg, "/")
	if mount == "" {
		return "", dserrors.Usage(dserrors.UserError{
			Message:    "Mount name is empty",
			Suggestion: "Pass the mount path without slashes, e.g. kvexport secret",
		})
	}
	return mount, nil
}

// outputFile is the export destination, opened before any request is sent
// so an unwritable path is reported as a usage error. An existing file is
// only truncated once the export actually starts.
type outputFile struct {
	w       io.Writer
	file    *os.File
	created bool
}

// prepareOutput returns w, or opens path readable only by the owner.
func prepareOutput(w io.Writer, path string) (*outputFile, error) {
	if path == "" || path == "-" {
		return &outputFile{w: w}, nil
	}

	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, dserrors.Usage(dserrors.UserError{
			Message:    "Failed to open output file",
			Details:    err.Error(),
			Suggestion: "Check that the directory exists and is writable",
			Err:        err,
		})
	}
	return &outputFile{w: f, file: f, created: os.IsNotExist(statErr)}, nil
}

// start discards any previous content and returns the writer for records.
func (o *outputFile) start() (io.Writer, error) {
	if o.file == nil {
		return o.w, nil
	}
	if err := o.file.Truncate(0); err != nil {
		return nil, fmt.Errorf("failed to truncate %s: %w", o.file.Name(), err)
	}
	return o.file, nil
}

// abandon closes the file without exporting, removing it if this run created it.
func (o *outputFile) abandon() {
	if o.file == nil {
		return
	}
	_ = o.file.Close()
	if o.created {
		_ = os.Remove(o.file.Name())
	}
}

func (o *outputFile) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}
