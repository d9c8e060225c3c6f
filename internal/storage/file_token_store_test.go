package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNewFileTokenStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		path    string
		wantErr bool
		errMsg  string
	}{
		"valid path": {
			path: "/path/to/token.json",
		},
		"empty path": {
			path:    "",
			wantErr: true,
			errMsg:  "token file path is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewFileTokenStore(tc.path)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.NotNil(t, store)
			}
		})
	}
}

func TestFileTokenStoreRefreshToken(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content     *string
		wantToken   string
		errContains string
	}{
		"JSON document": {
			content:   ptr(`{"refresh_token":"5Aep861json","updated_at":"2026-05-01T08:00:00Z"}`),
			wantToken: "5Aep861json",
		},
		"bare token with whitespace": {
			content:   ptr("  5Aep861bare  \n"),
			wantToken: "5Aep861bare",
		},
		"missing file": {
			errContains: "run 'sfbridge auth'",
		},
		"empty file": {
			content:     ptr("\n"),
			errContains: "token file has no refresh token",
		},
		"document without token": {
			content:     ptr(`{"updated_at":"2026-05-01T08:00:00Z"}`),
			errContains: "token file has no refresh token",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "token.json")
			if tc.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tc.content), 0o600))
			}

			store, err := NewFileTokenStore(path)
			require.NoError(t, err)

			token, err := store.RefreshToken(context.Background())

			if tc.errContains != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantToken, token)
		})
	}
}

func TestFileTokenStoreSaveRefreshToken(t *testing.T) {
	t.Parallel()

	t.Run("creates the directory and file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "nested", "dir", "token.json")
		store, err := NewFileTokenStore(path)
		require.NoError(t, err)
		store.now = func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) }

		require.NoError(t, store.SaveRefreshToken(context.Background(), "first"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "first", gjson.GetBytes(data, "refresh_token").String())
		require.Equal(t, "2026-05-01T08:00:00Z", gjson.GetBytes(data, "updated_at").String())

		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("round trips and keeps other keys", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "token.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"instance_url":"https://acme.my.salesforce.com","refresh_token":"old"}`), 0o600))

		store, err := NewFileTokenStore(path)
		require.NoError(t, err)

		require.NoError(t, store.SaveRefreshToken(context.Background(), "rotated"))

		token, err := store.RefreshToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "rotated", token)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "https://acme.my.salesforce.com", gjson.GetBytes(data, "instance_url").String())
	})

	t.Run("replaces a legacy bare token", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "token.json")
		require.NoError(t, os.WriteFile(path, []byte("legacy\n"), 0o600))

		store, err := NewFileTokenStore(path)
		require.NoError(t, err)

		require.NoError(t, store.SaveRefreshToken(context.Background(), "rotated"))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.True(t, isDocument(string(data)))
		require.Equal(t, "rotated", gjson.GetBytes(data, "refresh_token").String())
	})

	t.Run("empty token", func(t *testing.T) {
		t.Parallel()

		store, err := NewFileTokenStore(filepath.Join(t.TempDir(), "token.json"))
		require.NoError(t, err)

		err = store.SaveRefreshToken(context.Background(), "")
		require.Error(t, err)
		require.Contains(t, err.Error(), "token cannot be empty")
	})
}

func ptr(s string) *string {
	return &s
}
