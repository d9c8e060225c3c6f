package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// refreshTokenKey is the key holding the refresh token when a secret is stored as a JSON document.
const refreshTokenKey = "refresh_token"

// parseRefreshToken extracts the refresh token from a stored secret. The secret may be the bare
// token or a JSON object with a refresh_token key, which lets the client credentials share a secret.
func parseRefreshToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if isDocument(raw) {
		return gjson.Get(raw, refreshTokenKey).String()
	}
	return raw
}

// isDocument reports whether raw is a JSON object rather than a bare token.
func isDocument(raw string) bool {
	raw = strings.TrimSpace(raw)
	return gjson.Valid(raw) && gjson.Parse(raw).IsObject()
}

// encodeRefreshToken writes token into the stored secret, keeping any other keys of a JSON secret.
func encodeRefreshToken(existing string, token string, now time.Time) (string, error) {
	existing = strings.TrimSpace(existing)
	if !isDocument(existing) {
		existing = `{}`
	}

	doc, err := sjson.Set(existing, refreshTokenKey, token)
	if err != nil {
		return "", fmt.Errorf("encoding refresh token: %w", err)
	}
	doc, err = sjson.Set(doc, "updated_at", now.UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("encoding refresh token: %w", err)
	}
	return doc, nil
}
