// Package metadata proxies the upstream video metadata API. Responses
// are cached per video id for the process lifetime and outbound calls
// are rate limited so a page of poll requests cannot burn the quota.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the upstream videos endpoint.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3/videos"

// parts requested from the upstream API.
const parts = "snippet,contentDetails"

// ErrNoAPIKey is returned when lookups are attempted without a key
// configured.
var ErrNoAPIKey = errors.New("metadata api key not configured")

// UpstreamError is a non-200 response from the metadata API.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("metadata api returned status %d", e.StatusCode)
}

// Client looks up video metadata upstream, once per id.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string

	mu    sync.Mutex
	cache map[string][]byte
}

// NewClient builds a client for the given API key. An empty key yields a
// client whose lookups fail with ErrNoAPIKey.
func NewClient(apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		cache:      make(map[string][]byte),
	}
}

// SetBaseURL overrides the upstream endpoint, for tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// Lookup returns the raw upstream response body for a video id, from
// cache when the id was seen before.
func (c *Client) Lookup(ctx context.Context, videoID string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	c.mu.Lock()
	cached, ok := c.cache[videoID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("part", parts)
	query.Set("id", videoID)
	query.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata response: %w", err)
	}

	c.mu.Lock()
	c.cache[videoID] = body
	c.mu.Unlock()
	return body, nil
}
