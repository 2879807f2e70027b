package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	dserrors "github.com/systmms/kvexport/internal/errors"
	"github.com/systmms/kvexport/internal/logging"
	"github.com/systmms/kvexport/internal/secure"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 1
	DefaultMaxDepth    = 64

	// MaxConcurrency matches the upper bound in the config file schema.
	MaxConcurrency = 256
)

// Config holds the runtime configuration
type Config struct {
	Path     string
	Logger   *logging.Logger
	Settings Settings

	// Token is the store access token. It is only ever read from the
	// environment and is kept encrypted in memory.
	Token *secure.SecureBuffer
}

// Settings are the tunables that may come from kvexport.yaml, the
// environment or flags, in increasing order of precedence.
type Settings struct {
	Address       string        `yaml:"address"`
	Namespace     string        `yaml:"namespace"`
	Timeout       time.Duration `yaml:"timeout"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	CACert        string        `yaml:"ca_cert"`
	Concurrency   int           `yaml:"concurrency"`
	MaxDepth      int           `yaml:"max_depth"`
	Output        string        `yaml:"output"`
	MetricsFile   string        `yaml:"metrics_file"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Timeout:     DefaultTimeout,
		Concurrency: DefaultConcurrency,
		MaxDepth:    DefaultMaxDepth,
	}
}

// Load builds Settings from defaults, the optional config file and the
// environment, and moves VAULT_TOKEN into a secure buffer.
func (c *Config) Load() error {
	c.Settings = DefaultSettings()

	if c.Path != "" {
		if err := c.loadFile(); err != nil {
			return err
		}
	}

	if err := c.applyEnv(); err != nil {
		return err
	}

	token := os.Getenv("VAULT_TOKEN")
	if token == "" {
		return dserrors.Usage(dserrors.ConfigError{
			Field:      "VAULT_TOKEN",
			Message:    "access token is required",
			Suggestion: "Export VAULT_TOKEN with a token that can list and read the mount",
		})
	}
	buf, err := secure.NewSecureString(token)
	if err != nil {
		return fmt.Errorf("failed to protect token: %w", err)
	}
	c.Token = buf
	if c.Logger != nil {
		c.Logger.Debug("Using token from VAULT_TOKEN: %s", logging.Secret(token))
	}

	return nil
}

// Validate checks the merged settings. Call after flags have been applied.
func (c *Config) Validate() error {
	s := c.Settings
	if s.Address == "" {
		return dserrors.Usage(dserrors.ConfigError{
			Field:      "VAULT_ADDR",
			Message:    "store address is required",
			Suggestion: "Export VAULT_ADDR, e.g. VAULT_ADDR=https://vault.example.com:8200",
		})
	}
	if s.Concurrency < 1 {
		return dserrors.Usage(dserrors.ConfigError{
			Field:      "concurrency",
			Value:      s.Concurrency,
			Message:    "must be at least 1",
			Suggestion: "Use --concurrency 1 for a sequential, order-preserving export",
		})
	}
	if s.Concurrency > MaxConcurrency {
		return dserrors.Usage(dserrors.ConfigError{
			Field:      "concurrency",
			Value:      s.Concurrency,
			Message:    fmt.Sprintf("must be at most %d", MaxConcurrency),
			Suggestion: "A few dozen in-flight requests is usually enough to saturate the store",
		})
	}
	if s.MaxDepth < 1 {
		return dserrors.Usage(dserrors.ConfigError{
			Field:   "max_depth",
			Value:   s.MaxDepth,
			Message: "must be at least 1",
		})
	}
	if s.Timeout <= 0 {
		return dserrors.Usage(dserrors.ConfigError{
			Field:   "timeout",
			Value:   s.Timeout,
			Message: "must be positive",
		})
	}
	return nil
}

// Close wipes the token.
func (c *Config) Close() {
	if c.Token != nil {
		c.Token.Destroy()
	}
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.Usage(dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Omit --config to rely on environment variables only",
			})
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return dserrors.Usage(dserrors.SimplifyError(err))
	}
	if err := validateAgainstSchema(raw); err != nil {
		return dserrors.Usage(dserrors.ConfigError{
			Field:      "path",
			Value:      c.Path,
			Message:    err.Error(),
			Suggestion: "The token cannot be set in the file; use VAULT_TOKEN",
		})
	}

	if err := yaml.Unmarshal(data, &c.Settings); err != nil {
		return dserrors.Usage(dserrors.SimplifyError(err))
	}

	if c.Logger != nil {
		c.Logger.Debug("Loaded configuration from %s", c.Path)
	}
	return nil
}

func validateAgainstSchema(raw map[string]interface{}) error {
	if raw == nil {
		return nil
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal data for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(fileSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return fmt.Errorf("schema validation failed:\n  - %s", strings.Join(errorMessages, "\n  - "))
	}

	return nil
}

// applyEnv overrides settings with the Vault CLI's standard variables.
func (c *Config) applyEnv() error {
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		c.Settings.Address = addr
	}
	if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
		c.Settings.Namespace = namespace
	}
	if caCert := os.Getenv("VAULT_CACERT"); caCert != "" {
		c.Settings.CACert = caCert
	}
	if tlsSkip := os.Getenv("VAULT_SKIP_VERIFY"); tlsSkip == "1" || strings.ToLower(tlsSkip) == "true" {
		c.Settings.TLSSkipVerify = true
	}
	if timeout := os.Getenv("VAULT_CLIENT_TIMEOUT"); timeout != "" {
		d, err := parseTimeout(timeout)
		if err != nil {
			return dserrors.Usage(dserrors.ConfigError{
				Field:      "VAULT_CLIENT_TIMEOUT",
				Value:      timeout,
				Message:    err.Error(),
				Suggestion: "Use seconds (60) or a duration (1m30s)",
			})
		}
		c.Settings.Timeout = d
	}
	return nil
}

// parseTimeout accepts plain seconds like the Vault CLI, or a Go duration.
func parseTimeout(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", v)
	}
	return d, nil
}
