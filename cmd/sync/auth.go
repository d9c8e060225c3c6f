package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"

	"github.com/peteski22/sfbridge/internal/config"
	"github.com/peteski22/sfbridge/internal/storage"
)

const (
	authPath        = "/services/oauth2/authorize"
	authTimeout     = 5 * time.Minute
	callbackPath    = "/callback"
	callbackPort    = "8080"
	httpTimeout     = 30 * time.Second
	stateByteLength = 32
	tokenPath       = "/services/oauth2/token"
	verifierLength  = 64
)

// tokenExchangeRequest contains the parameters for exchanging an authorization code.
type tokenExchangeRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	CodeVerifier string
	RedirectURI  string
	TokenURL     string
}

// tokenResponse represents the OAuth token response.
//
//nolint:tagliatelle // External API uses snake_case.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	InstanceURL  string `json:"instance_url"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// buildSalesforceAuthURL constructs the Salesforce OAuth authorization URL on loginURL.
// The refresh_token scope is required for a refresh token to be issued.
func buildSalesforceAuthURL(loginURL string, clientID string, redirectURI string, state string, challenge string) string {
	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("code_challenge", challenge)
	params.Set("code_challenge_method", "S256")
	params.Set("redirect_uri", redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", "api refresh_token")
	params.Set("state", state)

	return strings.TrimRight(loginURL, "/") + authPath + "?" + params.Encode()
}

// generateOAuthState generates a cryptographically secure random state for CSRF protection.
func generateOAuthState() (string, error) {
	b := make([]byte, stateByteLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// generateCodeVerifier returns a PKCE verifier and its S256 challenge.
func generateCodeVerifier() (verifier string, challenge string, err error) {
	b := make([]byte, verifierLength)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generating random bytes: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(b)
	return verifier, codeChallenge(verifier), nil
}

// codeChallenge derives the S256 PKCE challenge for verifier.
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// checkTokenResponse turns OAuth error bodies into errors.
func checkTokenResponse(res *http.Response) error {
	if res.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if errCode := gjson.GetBytes(body, "error").String(); errCode != "" {
		return fmt.Errorf("%s: %s", errCode, gjson.GetBytes(body, "error_description").String())
	}
	return fmt.Errorf("unexpected status: %d", res.StatusCode)
}

// exchangeSalesforceCode exchanges a Salesforce authorization code for OAuth tokens.
func exchangeSalesforceCode(ctx context.Context, req tokenExchangeRequest) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", req.ClientID)
	form.Set("client_secret", req.ClientSecret)
	form.Set("code", req.Code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", req.RedirectURI)
	if req.CodeVerifier != "" {
		form.Set("code_verifier", req.CodeVerifier)
	}

	var raw string
	err := requests.
		URL(req.TokenURL).
		Client(&http.Client{Timeout: httpTimeout}).
		BodyForm(form).
		AddValidator(checkTokenResponse).
		ToString(&raw).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}

	if !gjson.Valid(raw) {
		return nil, errors.New("decoding response: invalid JSON")
	}

	tokens := &tokenResponse{
		AccessToken:  gjson.Get(raw, "access_token").String(),
		InstanceURL:  gjson.Get(raw, "instance_url").String(),
		RefreshToken: gjson.Get(raw, "refresh_token").String(),
		TokenType:    gjson.Get(raw, "token_type").String(),
	}
	if tokens.RefreshToken == "" {
		return nil, errors.New("no refresh token issued; enable the refresh_token scope on the connected app")
	}

	return tokens, nil
}

// browserCommand returns the command and arguments to open a URL on the current OS.
func browserCommand(targetURL string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", []string{targetURL}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", targetURL}
	default:
		return "xdg-open", []string{targetURL}
	}
}

// openBrowser opens the default web browser to the specified URL.
func openBrowser(targetURL string) error {
	name, args := browserCommand(targetURL)
	cmd := exec.Command(name, args...)
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout

	return cmd.Start()
}

// runSalesforceAuth performs the Salesforce web server OAuth flow.
// It starts a local server, opens the browser for user consent, and saves the refresh token.
func runSalesforceAuth(ctx context.Context) error {
	fmt.Println("=== Salesforce Authorization ===")
	fmt.Println()

	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tokenFile, err := config.TokenFilePath()
	if err != nil {
		return fmt.Errorf("getting token path: %w", err)
	}

	state, err := generateOAuthState()
	if err != nil {
		return fmt.Errorf("generating OAuth state: %w", err)
	}

	verifier, challenge, err := generateCodeVerifier()
	if err != nil {
		return fmt.Errorf("generating PKCE verifier: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server, err := startOAuthCallbackServer(codeChan, errChan, state)
	if err != nil {
		return fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	redirectURI := fmt.Sprintf("http://localhost:%s%s", callbackPort, callbackPath)
	authURLWithParams := buildSalesforceAuthURL(cfg.Salesforce.LoginURL, cfg.Salesforce.ClientID, redirectURI, state, challenge)

	fmt.Println("Opening browser for Salesforce authorization...")
	fmt.Println()
	fmt.Println("If the browser doesn't open, visit this URL:")
	fmt.Println(authURLWithParams)
	fmt.Println()

	if err := openBrowser(authURLWithParams); err != nil {
		fmt.Printf("Could not open browser: %s\n", err)
	}

	fmt.Println("Waiting for authorization...")

	var code string
	select {
	case code = <-codeChan:
	case err := <-errChan:
		return fmt.Errorf("authorization failed: %w", err)
	case <-time.After(authTimeout):
		return fmt.Errorf("authorization timed out after %s", authTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	fmt.Println()
	fmt.Println("Authorization received, exchanging for tokens...")

	tokens, err := exchangeSalesforceCode(ctx, tokenExchangeRequest{
		ClientID:     cfg.Salesforce.ClientID,
		ClientSecret: cfg.Salesforce.ClientSecret,
		Code:         code,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		TokenURL:     strings.TrimRight(cfg.Salesforce.LoginURL, "/") + tokenPath,
	})
	if err != nil {
		return fmt.Errorf("exchanging code for tokens: %w", err)
	}

	tokenStore, err := storage.NewFileTokenStore(tokenFile)
	if err != nil {
		return fmt.Errorf("creating token store: %w", err)
	}

	if err := tokenStore.SaveRefreshToken(ctx, tokens.RefreshToken); err != nil {
		return fmt.Errorf("saving refresh token: %w", err)
	}

	fmt.Println()
	fmt.Println("Authorization successful!")
	fmt.Printf("Instance: %s\n", tokens.InstanceURL)
	fmt.Printf("Refresh token saved to: %s\n", tokenFile)
	fmt.Println()
	fmt.Println("You can now run:")
	fmt.Println("  sfbridge run -dry-run -file events.json")

	return nil
}

// writeCallbackResponse writes an HTML response for the OAuth callback page.
// It escapes the title and message to prevent XSS attacks.
func writeCallbackResponse(w http.ResponseWriter, title string, message string) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(
		w,
		`<html><body><h1>%s</h1><p>%s</p><p>You can close this window.</p></body></html>`,
		html.EscapeString(title),
		html.EscapeString(message),
	)
}

// startOAuthCallbackServer starts a local HTTP server to receive the Salesforce OAuth callback.
// It sends the authorization code or error through the provided channels.
// The callback must carry expectedState unless expectedState is empty.
func startOAuthCallbackServer(
	codeChan chan<- string,
	errChan chan<- error,
	expectedState string,
) (*http.Server, error) {
	listener, err := net.Listen("tcp", ":"+callbackPort)
	if err != nil {
		return nil, fmt.Errorf("port %s is already in use", callbackPort)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		errDesc := r.URL.Query().Get("error_description")
		errMsg := r.URL.Query().Get("error")
		state := r.URL.Query().Get("state")

		if errMsg != "" {
			errChan <- fmt.Errorf("%s: %s", errMsg, errDesc)
			writeCallbackResponse(w, "Authorization Failed", fmt.Sprintf("%s: %s", errMsg, errDesc))
			return
		}

		if code == "" {
			errChan <- errors.New("no authorization code received")
			writeCallbackResponse(w, "Authorization Failed", "No authorization code received.")
			return
		}

		if expectedState != "" && state != expectedState {
			errChan <- errors.New("state mismatch: possible CSRF attack")
			writeCallbackResponse(w, "Authorization Failed", "State validation failed.")
			return
		}

		codeChan <- code
		writeCallbackResponse(w, "Authorization Successful", "You can return to the terminal.")
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	return server, nil
}
