package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/alanyoungcy/orderdesk/internal/crypto"
	"github.com/alanyoungcy/orderdesk/internal/domain"
)

// FileTokenStore persists the token in a single file. When a passphrase is
// configured the file contents are sealed with crypto.Seal.
type FileTokenStore struct {
	path       string
	passphrase string
}

// NewFileTokenStore returns a store writing to path. An empty passphrase
// stores the token in plain text with 0600 permissions.
func NewFileTokenStore(path, passphrase string) *FileTokenStore {
	return &FileTokenStore{path: path, passphrase: passphrase}
}

func (f *FileTokenStore) Load(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("session: read %s: %w", f.path, err)
	}

	if crypto.IsSealed(data) {
		if f.passphrase == "" {
			return "", fmt.Errorf("session: %s is sealed but no passphrase is configured", f.path)
		}
		data, err = crypto.Open(data, f.passphrase)
		if err != nil {
			return "", fmt.Errorf("session: unseal %s: %w", f.path, err)
		}
	}

	token := string(bytes.TrimSpace(data))
	if token == "" {
		return "", domain.ErrNotFound
	}
	return token, nil
}

// Save writes the token through a temp file and rename so a crash never
// leaves a truncated token behind.
func (f *FileTokenStore) Save(_ context.Context, token string) error {
	data := []byte(token)
	if f.passphrase != "" {
		sealed, err := crypto.Seal(data, f.passphrase)
		if err != nil {
			return fmt.Errorf("session: seal token: %w", err)
		}
		data = sealed
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write token: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("session: chmod token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close token: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("session: rename token: %w", err)
	}
	return nil
}

func (f *FileTokenStore) Delete(_ context.Context) error {
	err := os.Remove(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: remove %s: %w", f.path, err)
	}
	return nil
}
