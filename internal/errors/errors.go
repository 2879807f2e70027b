package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Process exit codes. Each fatal error class maps to a distinct code so
// wrapper scripts can tell a bad invocation from an unsupported mount.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitUsage             = 2
	ExitPrerequisite      = 3
	ExitIncompatibleMount = 4
	ExitInterrupted       = 130
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ExitError carries the process exit code for a fatal error.
type ExitError struct {
	Code int
	Err  error
}

func (e ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e ExitError) Unwrap() error {
	return e.Err
}

// Usage wraps err as a usage error (bad or missing arguments or configuration).
func Usage(err error) error {
	return ExitError{Code: ExitUsage, Err: err}
}

// PrerequisiteMissing reports a required runtime capability that is unavailable.
func PrerequisiteMissing(capability string, err error) error {
	return ExitError{
		Code: ExitPrerequisite,
		Err: UserError{
			Message:    fmt.Sprintf("Required capability unavailable: %s", capability),
			Details:    errDetails(err),
			Suggestion: "Run 'kvexport doctor' to see which preflight check failed",
			Err:        err,
		},
	}
}

// IncompatibleMount reports a mount whose engine speaks a protocol this tool does not support.
func IncompatibleMount(mount, engineType, version string) error {
	return ExitError{
		Code: ExitIncompatibleMount,
		Err: UserError{
			Message: fmt.Sprintf("Mount '%s' is a %s version %s secrets engine", mount, engineType, version),
			Details: "KV version 2 mounts use the versioned data/ and metadata/ API paths, which this exporter does not speak",
			Suggestion: fmt.Sprintf("Export KV v2 mounts with a v2-aware tool, e.g. 'vault kv get -mount=%s <path>'", mount),
		},
	}
}

// ExitCode maps an error returned from a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var exitErr ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}

	return ExitFailure
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
