package github

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com"

// DefaultRequestsPerSecond bounds the shared API budget across all jobs.
const DefaultRequestsPerSecond = 5.0

// Config configures the GitHub client.
type Config struct {
	// Token is the service-account API token. Required.
	Token string

	// BaseURL overrides the API endpoint, e.g. for GitHub Enterprise.
	BaseURL string

	// RequestsPerSecond caps outbound API calls. The limiter is shared by
	// every job using this client. Zero uses DefaultRequestsPerSecond.
	RequestsPerSecond float64

	// Timeout is the per-request HTTP timeout. Zero uses 30s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Validate checks the configuration for required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("github: api token is required")
	}
	return nil
}

func (c Config) baseURL() string {
	if u := strings.TrimSpace(c.BaseURL); u != "" {
		return strings.TrimSuffix(u, "/")
	}
	return DefaultBaseURL
}

func (c Config) requestsPerSecond() float64 {
	if c.RequestsPerSecond > 0 {
		return c.RequestsPerSecond
	}
	return DefaultRequestsPerSecond
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}
