package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "coachsync"
)

// key returns the keyring key for a store location.
func key(location string) string {
	return fmt.Sprintf("coachsync::%s", location)
}

// KeyringBackend keeps the whole credential document in the system keychain
// under a single entry.
type KeyringBackend struct {
	location string
}

// NewKeyringBackend creates a keyring backend. location names the entry and
// is usually the path the file backend would have used.
func NewKeyringBackend(location string) *KeyringBackend {
	return &KeyringBackend{location: location}
}

// KeyringAvailable probes the system keyring with a throwaway entry.
func KeyringAvailable() bool {
	if os.Getenv("COACHSYNC_NO_KEYRING") != "" {
		return false
	}
	testKey := "coachsync::test"
	if err := keyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey) // Best-effort cleanup
	return true
}

// Location returns the keyring entry name.
func (b *KeyringBackend) Location() string {
	return "keyring:" + key(b.location)
}

// Read returns the stored document, or nil if the entry does not exist.
func (b *KeyringBackend) Read() ([]byte, error) {
	data, err := keyring.Get(serviceName, key(b.location))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(data), nil
}

// Write replaces the stored document.
func (b *KeyringBackend) Write(data []byte) error {
	return keyring.Set(serviceName, key(b.location), string(data))
}

// Lock is a no-op; the keychain serializes its own writes.
func (b *KeyringBackend) Lock() (func(), error) {
	return func() {}, nil
}

// MigrateFileToKeyring copies a plaintext credential file into the keyring
// entry and removes the file. It does nothing if the file does not exist or
// the keyring entry is already populated.
func MigrateFileToKeyring(path string) error {
	file := NewFileBackend(path)
	data, err := file.Read()
	if err != nil || len(data) == 0 {
		return nil //nolint:nilerr // No file to migrate is not an error
	}

	ring := NewKeyringBackend(path)
	existing, err := ring.Read()
	if err != nil {
		return fmt.Errorf("failed to read keyring: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	if err := ring.Write(data); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", path, err)
	}

	// Remove the plaintext file after successful migration
	_ = os.Remove(path) // Best-effort cleanup
	return nil
}
