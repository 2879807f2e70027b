package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/kvexport/internal/errors"
	"github.com/systmms/kvexport/tests/fakes"
	"github.com/systmms/kvexport/tests/testutil"
)

const testToken = "hvs.cmd-test-token"

// execute runs the CLI in-process against the current environment.
func execute(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := Execute(ctx, BuildInfo{Version: "test-version"}, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// newStore starts a fake KV v1 store holding the two-secret example tree
// and points the environment at it.
func newStore(t *testing.T) *fakes.FakeKVServer {
	t.Helper()

	store := fakes.NewFakeKVServer(t, testToken)
	store.SetKV1Mount("secret")
	store.AddSecret("secret", "a", `{"k":"v1"}`)
	store.AddSecret("secret", "b/c", `{"k":"v2"}`)
	testutil.SetupVaultEnv(t, store.URL, testToken)
	return store
}

func TestExport_WritesNDJSON(t *testing.T) {
	newStore(t)

	code, stdout, stderr := execute(t, context.Background(), "--no-color", "secret")

	require.Equal(t, dserrors.ExitOK, code, stderr)
	assert.Equal(t,
		"{\"path\":\"a\",\"secret\":{\"k\":\"v1\"}}\n{\"path\":\"b/c\",\"secret\":{\"k\":\"v2\"}}\n",
		stdout)
	assert.Contains(t, stderr, "Exported 2 secrets from 'secret'")
}

func TestExport_MountWithSlashes(t *testing.T) {
	newStore(t)

	code, stdout, _ := execute(t, context.Background(), "--no-color", "/secret/")

	require.Equal(t, dserrors.ExitOK, code)
	assert.Equal(t, 2, strings.Count(stdout, "\n"))
}

func TestExport_EmptyMountSucceeds(t *testing.T) {
	store := fakes.NewFakeKVServer(t, testToken)
	store.SetKV1Mount("empty")
	testutil.SetupVaultEnv(t, store.URL, testToken)

	code, stdout, stderr := execute(t, context.Background(), "--no-color", "empty")

	assert.Equal(t, dserrors.ExitOK, code, stderr)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Exported 0 secrets")
}

func TestExport_RefusesKVVersion2(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "flat", body: `{"type":"kv","options":{"version":"2"}}`},
		{name: "data envelope", body: `{"data":{"type":"kv","options":{"version":"2"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			store.SetMount("secret", tt.body)

			code, stdout, stderr := execute(t, context.Background(), "--no-color", "secret")

			assert.Equal(t, dserrors.ExitIncompatibleMount, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "version 2")
			assert.Zero(t, store.CountRequests("LIST"), "no listing before the mount is accepted")
			assert.Equal(t, 1, store.CountRequests("GET"), "only the probe was sent")
		})
	}
}

func TestExport_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "no mount", args: []string{}},
		{name: "two mounts", args: []string{"a", "b"}},
		{name: "empty mount", args: []string{"/"}},
		{name: "unknown flag", args: []string{"--bogus", "secret"}},
		{name: "missing token", args: []string{"secret"}, env: map[string]string{"VAULT_TOKEN": ""}},
		{name: "missing address", args: []string{"secret"}, env: map[string]string{"VAULT_ADDR": ""}},
		{name: "address without scheme", args: []string{"secret"}, env: map[string]string{"VAULT_ADDR": "vault.example.com:8200"}},
		{name: "zero concurrency", args: []string{"--concurrency", "0", "secret"}},
		{name: "concurrency above bound", args: []string{"--concurrency", "1000", "secret"}},
		{name: "unwritable output", args: []string{"--output", "/nonexistent-dir/out.ndjson", "secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			testutil.SetupTestEnv(t, tt.env)

			code, stdout, stderr := execute(t, context.Background(), tt.args...)

			assert.Equal(t, dserrors.ExitUsage, code, stderr)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, "Error: ")
			assert.Contains(t, stderr, "kvexport --help")
			assert.Empty(t, store.Requests(), "usage errors are detected before any request")
		})
	}
}

func TestExport_MissingCABundleIsPrerequisiteError(t *testing.T) {
	store := newStore(t)

	code, _, stderr := execute(t, context.Background(),
		"--ca-cert", filepath.Join(t.TempDir(), "missing.pem"), "secret")

	assert.Equal(t, dserrors.ExitPrerequisite, code)
	assert.Contains(t, stderr, "kvexport doctor")
	assert.Empty(t, store.Requests())
}

func TestExport_SkipsUnreadableSecret(t *testing.T) {
	store := newStore(t)
	store.AddSecret("secret", "d", `{"k":"v3"}`)
	store.FailRead("secret/a", 403)

	code, stdout, stderr := execute(t, context.Background(), "--no-color", "secret")

	require.Equal(t, dserrors.ExitOK, code)
	assert.Equal(t,
		"{\"path\":\"b/c\",\"secret\":{\"k\":\"v2\"}}\n{\"path\":\"d\",\"secret\":{\"k\":\"v3\"}}\n",
		stdout)
	assert.Contains(t, stderr, "Skipping secret 'a'")
	assert.Contains(t, stderr, "1 secrets could not be read")
}

func TestExport_SkipsUnlistableNamespace(t *testing.T) {
	store := newStore(t)
	store.FailList("secret/b/", 403)

	code, stdout, _ := execute(t, context.Background(), "--no-color", "secret")

	require.Equal(t, dserrors.ExitOK, code)
	assert.Equal(t, "{\"path\":\"a\",\"secret\":{\"k\":\"v1\"}}\n", stdout)
}

func TestExport_OutputFile(t *testing.T) {
	newStore(t)
	path := filepath.Join(t.TempDir(), "secrets.ndjson")

	code, stdout, stderr := execute(t, context.Background(), "--no-color", "--output", path, "secret")

	require.Equal(t, dserrors.ExitOK, code, stderr)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestExport_MetricsFile(t *testing.T) {
	newStore(t)
	path := filepath.Join(t.TempDir(), "kvexport.prom")

	code, _, stderr := execute(t, context.Background(), "--no-color", "--metrics-file", path, "secret")

	require.Equal(t, dserrors.ExitOK, code, stderr)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kvexport_secrets_exported_total 2")
	assert.Contains(t, string(data), "kvexport_request_duration_seconds")
}

func TestExport_ConcurrentExportsSameRecords(t *testing.T) {
	store := newStore(t)
	for _, p := range []string{"x/1", "x/2", "x/y/3", "z/4", "z/w/v/5"} {
		store.AddSecret("secret", p, `{"n":true}`)
	}

	_, sequential, _ := execute(t, context.Background(), "--no-color", "secret")
	code, concurrent, stderr := execute(t, context.Background(), "--no-color", "--concurrency", "4", "secret")

	require.Equal(t, dserrors.ExitOK, code, stderr)
	assert.Equal(t, sortedLines(sequential), sortedLines(concurrent))
	assert.Len(t, sortedLines(concurrent), 7)
}

func TestExport_MaxDepth(t *testing.T) {
	newStore(t)

	code, stdout, stderr := execute(t, context.Background(), "--no-color", "--max-depth", "1", "secret")

	require.Equal(t, dserrors.ExitOK, code)
	assert.Equal(t, 2, strings.Count(stdout, "\n"), "b/ is depth 1 and still exported")
	assert.NotContains(t, stderr, "Not descending")
}

func TestExport_Interrupted(t *testing.T) {
	newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, stdout, _ := execute(t, ctx, "--no-color", "secret")

	assert.Equal(t, dserrors.ExitInterrupted, code)
	assert.Empty(t, stdout)
}

func TestExport_NeverPrintsToken(t *testing.T) {
	store := newStore(t)
	store.FailRead("secret/a", 500)

	code, stdout, stderr := execute(t, context.Background(), "--debug", "--no-color", "secret")

	require.Equal(t, dserrors.ExitOK, code)
	assert.Contains(t, stderr, "[DEBUG]")
	assert.NotContains(t, stdout, testToken)
	assert.NotContains(t, stderr, testToken)
}

func TestExport_Version(t *testing.T) {
	code, stdout, _ := execute(t, context.Background(), "--version")

	assert.Equal(t, dserrors.ExitOK, code)
	assert.Contains(t, stdout, "test-version")
}

func sortedLines(s string) []string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	sort.Strings(lines)
	return lines
}

func TestExport_ListedKeyWithoutSecret(t *testing.T) {
	store := newStore(t)
	store.SetList("secret/", "a", "ghost", "b/")

	code, stdout, stderr := execute(t, context.Background(), "--no-color", "secret")

	require.Equal(t, dserrors.ExitOK, code)
	assert.Equal(t, 2, strings.Count(stdout, "\n"))
	assert.Contains(t, stderr, "Skipping secret 'ghost'")
}

func TestExport_MountNamedLikeSubcommand(t *testing.T) {
	store := newStore(t)
	store.SetKV1Mount("doctor")
	store.AddSecret("doctor", "x", `{"k":"v"}`)

	code, stdout, stderr := execute(t, context.Background(), "--no-color", "--", "doctor")

	require.Equal(t, dserrors.ExitOK, code, stderr)
	assert.Equal(t, "{\"path\":\"x\",\"secret\":{\"k\":\"v\"}}\n", stdout)
}

func TestExport_OutputPathCheckedBeforeRequests(t *testing.T) {
	store := newStore(t)
	path := filepath.Join(t.TempDir(), "missing", "secrets.ndjson")

	code, stdout, stderr := execute(t, context.Background(), "--no-color", "--output", path, "secret")

	assert.Equal(t, dserrors.ExitUsage, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Failed to open output file")
	assert.Empty(t, store.Requests())
}

func TestExport_IncompatibleMountKeepsOutputFile(t *testing.T) {
	store := newStore(t)
	store.SetMount("secret", `{"type":"kv","options":{"version":"2"}}`)
	dir := t.TempDir()

	existing := filepath.Join(dir, "previous.ndjson")
	require.NoError(t, os.WriteFile(existing, []byte("previous export\n"), 0600))
	code, _, _ := execute(t, context.Background(), "--no-color", "--output", existing, "secret")
	require.Equal(t, dserrors.ExitIncompatibleMount, code)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "previous export\n", string(data))

	fresh := filepath.Join(dir, "fresh.ndjson")
	code, _, _ = execute(t, context.Background(), "--no-color", "--output", fresh, "secret")
	require.Equal(t, dserrors.ExitIncompatibleMount, code)
	assert.NoFileExists(t, fresh)
}

func TestExport_OutputFileReplacesPreviousExport(t *testing.T) {
	newStore(t)
	path := filepath.Join(t.TempDir(), "secrets.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("stale line\n", 50)), 0600))

	code, _, stderr := execute(t, context.Background(), "--no-color", "--output", path, "secret")
	require.Equal(t, dserrors.ExitOK, code, stderr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"{\"path\":\"a\",\"secret\":{\"k\":\"v1\"}}\n{\"path\":\"b/c\",\"secret\":{\"k\":\"v2\"}}\n",
		string(data))
}

func TestExecute_ErrorsGoThroughLogger(t *testing.T) {
	newStore(t)

	t.Run("configured logger", func(t *testing.T) {
		testutil.SetupTestEnv(t, map[string]string{"VAULT_TOKEN": ""})

		code, _, stderr := execute(t, context.Background(), "--no-color", "secret")

		assert.Equal(t, dserrors.ExitUsage, code)
		assert.True(t, strings.HasPrefix(stderr, "✗ Error: "), stderr)
	})

	t.Run("flag error before logger setup", func(t *testing.T) {
		code, _, stderr := execute(t, context.Background(), "--bogus", "secret")

		assert.Equal(t, dserrors.ExitUsage, code)
		assert.True(t, strings.HasPrefix(stderr, "✗ Error: "), stderr)
	})
}
