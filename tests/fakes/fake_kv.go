package fakes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// FakeKVServer is an in-process HTTP double of a KV version 1 secret
// store. It serves the three endpoints the exporter uses: mount metadata,
// list and read, and records every request it receives.
type FakeKVServer struct {
	*httptest.Server

	// Token is the only X-Vault-Token value accepted.
	Token string

	mu sync.Mutex
	// mounts maps a mount name to its sys/mounts metadata body.
	mounts map[string]string
	// lists maps a prefix path ("secret/", "secret/b/") to its keys, in order.
	lists map[string][]string
	// secrets maps a full read path ("secret/b/c") to its data JSON.
	secrets map[string]string
	// failures maps "LIST secret/b/" or "GET secret/a" to a forced status code.
	failures map[string]int
	requests []string
}

// NewFakeKVServer starts a fake store that is shut down with the test.
func NewFakeKVServer(t *testing.T, token string) *FakeKVServer {
	t.Helper()

	f := &FakeKVServer{
		Token:    token,
		mounts:   make(map[string]string),
		lists:    make(map[string][]string),
		secrets:  make(map[string]string),
		failures: make(map[string]int),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

// SetMount sets the raw sys/mounts/<mount>/ response body.
func (f *FakeKVServer) SetMount(mount, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounts[mount] = body
}

// SetKV1Mount registers mount as a flat-shaped KV version 1 mount.
func (f *FakeKVServer) SetKV1Mount(mount string) {
	f.SetMount(mount, `{"type":"kv","options":null,"description":"legacy kv"}`)
}

// AddSecret stores data at mount/path and adds the path's namespaces to
// the parent listings in insertion order.
func (f *FakeKVServer) AddSecret(mount, path, data string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	segments := strings.Split(path, "/")
	prefix := mount + "/"
	for i, seg := range segments {
		entry := seg
		if i < len(segments)-1 {
			entry += "/"
		}
		if !contains(f.lists[prefix], entry) {
			f.lists[prefix] = append(f.lists[prefix], entry)
		}
		prefix += entry
	}
	f.secrets[mount+"/"+path] = data
}

// SetList overrides the keys returned for a prefix ("secret/" for the root).
func (f *FakeKVServer) SetList(prefix string, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[prefix] = keys
}

// FailList forces a list of prefix to return status.
func (f *FakeKVServer) FailList(prefix string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures["LIST "+prefix] = status
}

// FailRead forces a read of path to return status.
func (f *FakeKVServer) FailRead(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures["GET "+path] = status
}

// Requests returns the requests seen so far as "LIST path" / "GET path".
func (f *FakeKVServer) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// CountRequests returns how many requests started with kind ("LIST" or "GET").
func (f *FakeKVServer) CountRequests(kind string) int {
	n := 0
	for _, r := range f.Requests() {
		if strings.HasPrefix(r, kind+" ") {
			n++
		}
	}
	return n
}

func (f *FakeKVServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrors(w, http.StatusMethodNotAllowed, "unsupported operation")
		return
	}
	if r.Header.Get("X-Vault-Token") != f.Token {
		writeErrors(w, http.StatusForbidden, "permission denied")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	list := r.URL.Query().Get("list") == "true"

	kind := "GET"
	if list {
		kind = "LIST"
		if !strings.HasSuffix(path, "/") {
			path += "/"
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, kind+" "+path)
	status, failed := f.failures[kind+" "+path]
	f.mu.Unlock()

	if failed {
		writeErrors(w, status, http.StatusText(status))
		return
	}

	switch {
	case strings.HasPrefix(path, "sys/mounts/"):
		f.serveMount(w, strings.TrimSuffix(strings.TrimPrefix(path, "sys/mounts/"), "/"))
	case list:
		f.serveList(w, path)
	default:
		f.serveRead(w, path)
	}
}

func (f *FakeKVServer) serveMount(w http.ResponseWriter, mount string) {
	f.mu.Lock()
	body, ok := f.mounts[mount]
	f.mu.Unlock()

	if !ok {
		writeErrors(w, http.StatusBadRequest, fmt.Sprintf("No secret engine mount at %s/", mount))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *FakeKVServer) serveList(w http.ResponseWriter, prefix string) {
	f.mu.Lock()
	keys, ok := f.lists[prefix]
	f.mu.Unlock()

	if !ok {
		writeErrors(w, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"request_id": "00000000-0000-0000-0000-000000000000",
		"data":       map[string]interface{}{"keys": keys},
	})
}

func (f *FakeKVServer) serveRead(w http.ResponseWriter, path string) {
	f.mu.Lock()
	data, ok := f.secrets[path]
	f.mu.Unlock()

	if !ok {
		writeErrors(w, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{
		"request_id":     "00000000-0000-0000-0000-000000000000",
		"lease_duration": 2764800,
		"renewable":      false,
		"data":           json.RawMessage(data),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrors(w http.ResponseWriter, status int, msgs ...string) {
	if msgs == nil {
		msgs = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"errors": msgs})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
