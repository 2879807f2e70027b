// Package secure provides memory-safe handling of the store access token.
//
// This package wraps the memguard library so the token is:
//
//   - Encrypted at rest in memory (XSalsa20Poly1305)
//   - Protected from swapping via mlock
//   - Securely wiped when no longer needed
//
// # Usage
//
//	buf, err := secure.NewSecureString(os.Getenv("VAULT_TOKEN"))
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//
//	err = buf.Use(func(token []byte) error {
//	    req.Header.Set("X-Vault-Token", string(token))
//	    return nil
//	})
//
// It does NOT protect against attackers with root access to the running
// process or hardware-level attacks.
package secure
