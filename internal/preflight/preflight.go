// Package preflight verifies the runtime capabilities an export needs
// before any request is sent to the store.
package preflight

import (
	"bytes"
	"encoding/json"
	"fmt"

	dserrors "github.com/systmms/kvexport/internal/errors"
	"github.com/systmms/kvexport/internal/vault"
)

// Check is one named prerequisite.
type Check struct {
	Name        string
	Description string
	Run         func() error
}

// Result is the outcome of one Check.
type Result struct {
	Name        string
	Description string
	Err         error
}

// OK reports whether the check passed.
func (r Result) OK() bool {
	return r.Err == nil
}

// Checks returns the prerequisites for exporting from the store described by cfg.
func Checks(cfg vault.ClientConfig) []Check {
	return []Check{
		{
			Name:        "http",
			Description: "HTTP client for the secret store",
			Run: func() error {
				_, err := vault.NewHTTPClient(cfg)
				return err
			},
		},
		{
			Name:        "json",
			Description: "JSON codec for store responses and export records",
			Run:         jsonRoundTrip,
		},
	}
}

// Run executes every check and returns all results. The error is a
// PrerequisiteMissing for the first failed check, or nil.
func Run(checks []Check) ([]Result, error) {
	results := make([]Result, 0, len(checks))
	var firstErr error
	for _, c := range checks {
		err := c.Run()
		results = append(results, Result{Name: c.Name, Description: c.Description, Err: err})
		if err != nil && firstErr == nil {
			firstErr = dserrors.PrerequisiteMissing(c.Description, err)
		}
	}
	return results, firstErr
}

// jsonRoundTrip decodes a store-shaped response and re-encodes the record
// the exporter would write for it.
func jsonRoundTrip() error {
	const sample = `{"data":{"k":"v","nested":{"n":1,"list":[true,null]}}}`

	var response struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(sample), &response); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(vault.Record{Path: "preflight/check", Secret: response.Data}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	const want = `{"path":"preflight/check","secret":{"k":"v","nested":{"n":1,"list":[true,null]}}}` + "\n"
	if buf.String() != want {
		return fmt.Errorf("round trip mismatch: got %q", buf.String())
	}
	return nil
}
