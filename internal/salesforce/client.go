package salesforce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"

	"github.com/peteski22/sfbridge/internal/bulk"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// Client is a Salesforce REST and Bulk API 2.0 client. It implements bulk.BulkAPI and bulk.RecordClient.
type Client struct {
	// apiVersion is the REST API version, e.g. v62.0.
	apiVersion string

	// baseURL overrides the instance URL from the token endpoint when set.
	baseURL string

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// recordDir, when set, records exchanges to disk.
	recordDir string

	// tokenManager handles OAuth token refresh.
	tokenManager *tokenManager
}

// APIError is a non-2xx response from Salesforce.
type APIError struct {
	// Code is the Salesforce error code, e.g. INVALID_FIELD or invalid_grant.
	Code string

	// Message is the human-readable reason.
	Message string

	// StatusCode is the HTTP status.
	StatusCode int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("salesforce status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("salesforce status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Transient reports whether the request may succeed if retried.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// checkResponse is a requests validator that turns non-2xx responses into an *APIError.
func checkResponse(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: res.StatusCode}

	// REST errors are a list of {errorCode, message}; OAuth errors are {error, error_description}.
	parsed := gjson.ParseBytes(body)
	switch {
	case parsed.IsArray() && parsed.Get("0.errorCode").Exists():
		apiErr.Code = parsed.Get("0.errorCode").String()
		apiErr.Message = parsed.Get("0.message").String()
	case parsed.Get("error").Exists():
		apiErr.Code = parsed.Get("error").String()
		apiErr.Message = parsed.Get("error_description").String()
	default:
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(res.StatusCode)
	}

	return apiErr
}

// classify marks errors that are worth retrying with bulk.ErrTransientNetwork.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Transient() {
			return fmt.Errorf("%w: %w", bulk.ErrTransientNetwork, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", bulk.ErrTransientNetwork, err)
	}
	return err
}

// isStatus reports whether err is an *APIError with the given status code.
func isStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// do runs an authenticated request built by build. An expired session is refreshed once.
// do sends one request to path, which must already be escaped, on the instance URL.
func (c *Client) do(ctx context.Context, path string, build func(*requests.Builder) *requests.Builder) error {
	for attempt := 0; ; attempt++ {
		s, err := c.tokenManager.session(ctx)
		if err != nil {
			return fmt.Errorf("getting access token: %w", classify(err))
		}

		base := c.baseURL
		if base == "" {
			base = s.instanceURL
		}
		if base == "" {
			return errors.New("no instance URL configured or returned by the token endpoint")
		}

		b := requests.
			URL(strings.TrimRight(base, "/") + path).
			Client(c.httpClient).
			Bearer(s.accessToken).
			AddValidator(checkResponse)
		if c.recordDir != "" {
			b = b.Transport(requests.Record(nil, c.recordDir))
		}

		err = build(b).Fetch(ctx)
		if attempt == 0 && isStatus(err, http.StatusUnauthorized) {
			c.tokenManager.invalidate(s.accessToken)
			continue
		}
		return classify(err)
	}
}

// dataPath returns the escaped, versioned REST path for format with each segment path-escaped.
// The result is set as the raw request path, so segments may contain slashes or percent signs.
func (c *Client) dataPath(format string, segments ...string) string {
	args := make([]any, len(segments))
	for i, s := range segments {
		args[i] = url.PathEscape(s)
	}
	return "/services/data/" + c.apiVersion + fmt.Sprintf(format, args...)
}

// Config holds the required configuration for creating a Client.
type Config struct {
	// ClientID is the connected app consumer key.
	ClientID string

	// ClientSecret is the connected app consumer secret.
	ClientSecret string

	// TokenStore provides access to OAuth tokens.
	TokenStore TokenStore
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New("client ID is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("client secret is required"))
	}
	if c.TokenStore == nil {
		errs = append(errs, errors.New("token store is required"))
	}
	return errors.Join(errs...)
}

// NewClient creates a new Salesforce client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}

	tm := newTokenManager(cfg.ClientID, cfg.ClientSecret, o.loginURL, cfg.TokenStore, httpClient)

	return &Client{
		apiVersion:   o.apiVersion,
		baseURL:      o.baseURL,
		httpClient:   httpClient,
		recordDir:    o.recordDir,
		tokenManager: tm,
	}, nil
}
