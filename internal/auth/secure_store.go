package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileSecureStore keeps each secret in its own 0600 file under dir.
type FileSecureStore struct {
	dir string
}

func NewFileSecureStore(dir string) *FileSecureStore {
	return &FileSecureStore{dir: dir}
}

func (s *FileSecureStore) Get(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid secure store key %q", key)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}

	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}

func (s *FileSecureStore) Set(key, value string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid secure store key %q", key)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create secure store dir: %w", err)
	}

	return os.WriteFile(filepath.Join(s.dir, key), []byte(value), 0o600)
}
