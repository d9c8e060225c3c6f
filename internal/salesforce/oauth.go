package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
)

const (
	// defaultTokenDuration is used when the token endpoint doesn't return an expiry time.
	defaultTokenDuration = 60 * time.Minute

	// tokenExpiryBuffer is the time before expiry to trigger a refresh.
	tokenExpiryBuffer = 5 * time.Minute

	// tokenPath is the OAuth token endpoint on the login host.
	tokenPath = "/services/oauth2/token"
)

// TokenStore provides access to OAuth tokens.
type TokenStore interface {
	// RefreshToken returns the current refresh token.
	RefreshToken(ctx context.Context) (string, error)

	// SaveRefreshToken saves a new refresh token.
	SaveRefreshToken(ctx context.Context, token string) error
}

// session is an access token and the instance it is valid for.
type session struct {
	accessToken string
	instanceURL string
}

// tokenResponse is the OAuth token endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	InstanceURL  string `json:"instance_url"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// tokenManager handles OAuth token refresh and caching.
type tokenManager struct {
	// accessToken is the current cached access token.
	accessToken string

	// clientID is the connected app consumer key.
	clientID string

	// clientSecret is the connected app consumer secret.
	clientSecret string

	// expiresAt is when the current access token expires.
	expiresAt time.Time

	// httpClient is the HTTP client for token requests.
	httpClient *http.Client

	// instanceURL is the org instance returned with the access token.
	instanceURL string

	// loginURL is the OAuth host.
	loginURL string

	// mu protects access token state.
	mu sync.RWMutex

	// tokenStore provides access to refresh tokens.
	tokenStore TokenStore
}

// session returns a valid session, refreshing if necessary.
func (tm *tokenManager) session(ctx context.Context) (session, error) {
	if s, ok := tm.cachedSession(); ok {
		return s, nil
	}
	return tm.refreshSession(ctx)
}

// cachedSession returns the cached session if valid, or false if refresh is needed.
func (tm *tokenManager) cachedSession() (session, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	if tm.isTokenValid() {
		return session{accessToken: tm.accessToken, instanceURL: tm.instanceURL}, true
	}
	return session{}, false
}

// invalidate drops accessToken from the cache if it is still the current one.
func (tm *tokenManager) invalidate(accessToken string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.accessToken == accessToken {
		tm.accessToken = ""
		tm.expiresAt = time.Time{}
	}
}

// isTokenValid checks if the current access token is valid and not near expiry.
// Must be called with at least a read lock held.
func (tm *tokenManager) isTokenValid() bool {
	return tm.accessToken != "" && time.Now().Before(tm.expiresAt.Add(-tokenExpiryBuffer))
}

// refreshSession fetches a new access token using the refresh token.
func (tm *tokenManager) refreshSession(ctx context.Context) (session, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Double-check after acquiring write lock.
	if tm.isTokenValid() {
		return session{accessToken: tm.accessToken, instanceURL: tm.instanceURL}, nil
	}

	refreshToken, err := tm.tokenStore.RefreshToken(ctx)
	if err != nil {
		return session{}, fmt.Errorf("getting refresh token: %w", err)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", tm.clientID)
	data.Set("client_secret", tm.clientSecret)

	var tokenResp tokenResponse
	err = requests.
		URL(tm.loginURL).
		Path(tokenPath).
		Client(tm.httpClient).
		BodyForm(data).
		AddValidator(checkResponse).
		ToJSON(&tokenResp).
		Fetch(ctx)
	if err != nil {
		return session{}, fmt.Errorf("refreshing access token: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return session{}, fmt.Errorf("token response did not include an access token")
	}

	// Salesforce only rotates refresh tokens when the connected app is configured to.
	if tokenResp.RefreshToken != "" && tokenResp.RefreshToken != refreshToken {
		if err := tm.tokenStore.SaveRefreshToken(ctx, tokenResp.RefreshToken); err != nil {
			return session{}, fmt.Errorf("saving refresh token: %w", err)
		}
	}

	tm.accessToken = tokenResp.AccessToken
	if tokenResp.InstanceURL != "" {
		tm.instanceURL = tokenResp.InstanceURL
	}
	if tokenResp.ExpiresIn > 0 {
		tm.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	} else {
		tm.expiresAt = time.Now().Add(defaultTokenDuration)
	}

	return session{accessToken: tm.accessToken, instanceURL: tm.instanceURL}, nil
}

// newTokenManager creates a new token manager for handling OAuth authentication.
func newTokenManager(
	clientID string,
	clientSecret string,
	loginURL string,
	tokenStore TokenStore,
	httpClient *http.Client,
) *tokenManager {
	return &tokenManager{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		loginURL:     loginURL,
		tokenStore:   tokenStore,
	}
}
