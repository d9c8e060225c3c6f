package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileTokenStore keeps the Salesforce refresh token in a local JSON file for development runs.
type FileTokenStore struct {
	now  func() time.Time
	path string
}

// NewFileTokenStore creates a new FileTokenStore that reads and writes the given path.
func NewFileTokenStore(path string) (*FileTokenStore, error) {
	if path == "" {
		return nil, errors.New("token file path is required")
	}
	return &FileTokenStore{now: time.Now, path: path}, nil
}

// RefreshToken returns the current refresh token from the file.
func (s *FileTokenStore) RefreshToken(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("token file not found: %s (run 'sfbridge auth' to authenticate)", s.path)
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := parseRefreshToken(string(data))
	if token == "" {
		return "", fmt.Errorf("token file has no refresh token: %s", s.path)
	}

	return token, nil
}

// SaveRefreshToken writes the refresh token to the file, keeping other keys already in it.
func (s *FileTokenStore) SaveRefreshToken(_ context.Context, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}

	existing, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading token file: %w", err)
	}

	doc, err := encodeRefreshToken(string(existing), token, s.now())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	if err := os.WriteFile(s.path, []byte(doc+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	return nil
}
