package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// maxResponseBody caps how much of a collaborator response is read
const maxResponseBody = 1 << 20

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewTokenHTTPClient creates a client that sends token as a bearer credential.
// An empty token yields a plain client.
func NewTokenHTTPClient(timeout time.Duration, token string) *http.Client {
	if token == "" {
		return NewDefaultHTTPClient(timeout)
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, NewDefaultHTTPClient(timeout))
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	client.Timeout = timeout
	return client
}

// StatusError is a non-2xx response from a remote service
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// JSONClient posts JSON documents, paced by a shared limiter
type JSONClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures the JSONClient
type Option func(*JSONClient)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *JSONClient) {
		c.httpClient = httpClient
	}
}

// WithMinInterval spaces requests at least interval apart. Zero disables pacing.
func WithMinInterval(interval time.Duration) Option {
	return func(c *JSONClient) {
		if interval <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
}

// NewJSONClient creates a client with a 30s timeout and no pacing
func NewJSONClient(opts ...Option) *JSONClient {
	c := &JSONClient{
		httpClient: NewDefaultHTTPClient(30 * time.Second),
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostJSON sends body as JSON and decodes a JSON response into result when
// result is non-nil and the response has a body. Non-2xx responses return
// *StatusError.
func (c *JSONClient) PostJSON(ctx context.Context, url string, body interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			StatusCode: resp.StatusCode,
			URL:        url,
			Body:       string(bytes.TrimSpace(respBody)),
		}
	}

	if result == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
