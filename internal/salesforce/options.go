package salesforce

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// apiVersionPattern matches REST API versions such as v62.0.
var apiVersionPattern = regexp.MustCompile(`^v\d+\.\d$`)

// Option configures optional Client settings.
type Option func(*options) error

// options holds optional configuration for creating a Client.
type options struct {
	// apiVersion is the REST API version used in every data path.
	apiVersion string

	// baseURL overrides the instance URL returned by the token endpoint.
	baseURL string

	// httpClient is a custom HTTP client.
	httpClient *http.Client

	// loginURL is the OAuth host used for token refresh.
	loginURL string

	// recordDir, when set, records every HTTP exchange to disk for replay in tests.
	recordDir string

	// timeout is the HTTP client timeout.
	timeout time.Duration
}

// WithAPIVersion sets the REST API version, e.g. "v62.0" or "62.0".
func WithAPIVersion(version string) Option {
	return func(o *options) error {
		version = strings.TrimSpace(version)
		if !strings.HasPrefix(version, "v") {
			version = "v" + version
		}
		if !apiVersionPattern.MatchString(version) {
			return fmt.Errorf("invalid API version %q", version)
		}
		o.apiVersion = version
		return nil
	}
}

// WithBaseURL sets a fixed instance URL instead of the one returned by the token endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *options) error {
		baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if baseURL == "" {
			return fmt.Errorf("base URL cannot be empty")
		}
		o.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(o *options) error {
		if httpClient == nil {
			return fmt.Errorf("HTTP client cannot be nil")
		}
		o.httpClient = httpClient
		return nil
	}
}

// WithLoginURL sets the OAuth host, e.g. https://test.salesforce.com for sandboxes.
func WithLoginURL(loginURL string) Option {
	return func(o *options) error {
		loginURL = strings.TrimRight(strings.TrimSpace(loginURL), "/")
		if loginURL == "" {
			return fmt.Errorf("login URL cannot be empty")
		}
		o.loginURL = loginURL
		return nil
	}
}

// WithRecordedRequests records every request and response under dir.
func WithRecordedRequests(dir string) Option {
	return func(o *options) error {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return fmt.Errorf("record directory cannot be empty")
		}
		o.recordDir = dir
		return nil
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		o.timeout = timeout
		return nil
	}
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *options {
	return &options{
		apiVersion: "v62.0",
		loginURL:   "https://login.salesforce.com",
		timeout:    30 * time.Second,
	}
}
