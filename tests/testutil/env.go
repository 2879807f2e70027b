package testutil

import (
	"os"
	"testing"
)

// VaultEnvVars are the environment variables kvexport reads.
var VaultEnvVars = []string{
	"VAULT_ADDR",
	"VAULT_TOKEN",
	"VAULT_NAMESPACE",
	"VAULT_CACERT",
	"VAULT_SKIP_VERIFY",
	"VAULT_CLIENT_TIMEOUT",
}

// SetupTestEnv sets environment variables for the duration of a test.
//
// The original environment is restored automatically when the test completes.
//
// Example usage:
//
//	SetupTestEnv(t, map[string]string{
//	    "VAULT_ADDR":  "http://localhost:8200",
//	    "VAULT_TOKEN": "hvs.test",
//	})
func SetupTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()

	for key, value := range vars {
		t.Setenv(key, value)
	}
}

// ClearVaultEnv unsets every variable in VaultEnvVars for the duration of
// a test, so the developer's own shell settings cannot leak in.
func ClearVaultEnv(t *testing.T) {
	t.Helper()

	for _, key := range VaultEnvVars {
		// Setenv registers the restore; Unsetenv then removes the value.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("Failed to unset environment variable %s: %v", key, err)
		}
	}
}

// SetupVaultEnv clears the store environment and points it at addr with token.
func SetupVaultEnv(t *testing.T, addr, token string) {
	t.Helper()

	ClearVaultEnv(t)
	SetupTestEnv(t, map[string]string{
		"VAULT_ADDR":  addr,
		"VAULT_TOKEN": token,
	})
}
