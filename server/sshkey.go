package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// KeyStore holds at most one SSH private key on disk, used for cloning and
// pushing over SSH. The key file is created with mode 0600 and always ends
// in a newline, since OpenSSH rejects keys without one.
type KeyStore struct {
	path string
}

// NewKeyStore creates a KeyStore persisting to path.
func NewKeyStore(path string) *KeyStore {
	return &KeyStore{path: path}
}

// Path returns the key file location.
func (k *KeyStore) Path() string {
	return k.path
}

// Present reports whether a key is stored.
func (k *KeyStore) Present() bool {
	info, err := os.Stat(k.path)
	return err == nil && info.Mode().IsRegular()
}

// Save stores the private key, replacing any previous one.
func (k *KeyStore) Save(privateKey string) error {
	privateKey = strings.TrimSpace(privateKey)
	if privateKey == "" {
		return errors.New("private key must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(k.path, []byte(privateKey+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	// WriteFile does not change the mode of an existing file.
	if err := os.Chmod(k.path, 0o600); err != nil {
		return fmt.Errorf("chmod key: %w", err)
	}
	return nil
}

// Delete removes the stored key. Deleting an absent key is not an error.
func (k *KeyStore) Delete() error {
	err := os.Remove(k.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove key: %w", err)
	}
	return nil
}

// GitSSHPrefix returns an environment prefix that routes git's SSH traffic
// through the stored key, or the empty string when no key is stored. The
// key path is embedded absolutely: git runs from the workspace or the
// run's working tree, where a relative path would not resolve.
func (k *KeyStore) GitSSHPrefix() string {
	if !k.Present() {
		return ""
	}
	keyPath := k.path
	if abs, err := filepath.Abs(keyPath); err == nil {
		keyPath = abs
	}
	return fmt.Sprintf("GIT_SSH_COMMAND='ssh -i %s -o StrictHostKeyChecking=no' ", shellQuote(keyPath))
}

// shellQuote single-quotes s for safe interpolation into a shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
