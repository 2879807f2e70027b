package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrEmpty is returned when a SecureBuffer is created from no data.
var ErrEmpty = errors.New("secure buffer requires non-empty data")

// ErrDestroyed is returned when a destroyed SecureBuffer is used.
var ErrDestroyed = errors.New("secure buffer has been destroyed")

// SecureBuffer keeps a sensitive value (the store access token) encrypted
// in memory. The plaintext only exists inside a locked buffer for the
// duration of a single Use call.
type SecureBuffer struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	// destroyed allows idempotent Destroy() calls and prevents use after destroy
	destroyed bool
}

// NewSecureBuffer creates a protected buffer from secret bytes.
// memguard wipes data after copying it into the enclave.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	return &SecureBuffer{
		enclave: memguard.NewEnclave(data),
	}, nil
}

// NewSecureString is NewSecureBuffer for string values such as tokens read from the environment.
func NewSecureString(s string) (*SecureBuffer, error) {
	return NewSecureBuffer([]byte(s))
}

// Open decrypts and returns the protected data in a locked buffer.
// The caller MUST call Destroy() on the returned LockedBuffer when done.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}

	return s.enclave.Open()
}

// Use opens the buffer, passes the plaintext to fn and wipes it afterwards.
// fn must not retain the slice.
func (s *SecureBuffer) Use(fn func(plaintext []byte) error) error {
	locked, err := s.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Destroy marks this SecureBuffer as destroyed and prevents further use.
// Calling it multiple times is safe. For complete cleanup of all memguard
// data at exit, call memguard.Purge() from main.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}

	s.enclave = nil
	s.destroyed = true
}
