// Package fakes provides test doubles for the secret store.
//
// FakeKVServer is an httptest-backed KV version 1 store that lets package
// tests exercise the real HTTP client end to end without a Vault server.
// Fakes are manually implemented (not generated) to provide precise control
// over test behavior.
//
// Usage:
//
//	srv := fakes.NewFakeKVServer(t, "test-token")
//	srv.SetKV1Mount("secret")
//	srv.AddSecret("secret", "a", `{"k":"v1"}`)
//	srv.AddSecret("secret", "b/c", `{"k":"v2"}`)
//	srv.FailRead("secret/a", http.StatusForbidden)
//	// point the client at srv.URL ...
package fakes
