// Package iconlookup resolves app icons through the iTunes Search API.
package iconlookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the iTunes Search API base URL
	DefaultBaseURL = "https://itunes.apple.com"

	// DefaultRateLimit is 10 requests per second; Apple throttles well
	// above that but bursts from app-list refreshes add up
	DefaultRateLimit = 10

	// DefaultTimeout for HTTP requests
	DefaultTimeout = 10 * time.Second

	// DefaultConcurrency bounds parallel lookups
	DefaultConcurrency = 4

	// MaxResponseSize is the maximum API response to read (1MB)
	MaxResponseSize = 1 * 1024 * 1024
)

// Client queries the iTunes Search API for app icons.
type Client struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  int
	limiter    *rateLimiter
	sem        chan struct{}
}

// Option is a functional option for configuring the client
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing)
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithRateLimit sets the rate limit in requests per second
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		c.rateLimit = rps
		c.limiter = newRateLimiter(rps)
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithConcurrency bounds how many lookups run in parallel
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.sem = make(chan struct{}, n)
		}
	}
}

// NewClient creates a new iTunes Search API client
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		rateLimit: DefaultRateLimit,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		sem: make(chan struct{}, DefaultConcurrency),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.limiter == nil {
		c.limiter = newRateLimiter(c.rateLimit)
	}

	return c
}

// lookupResponse is the wire shape shared by /lookup and /search.
type lookupResponse struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		ArtworkURL512 string `json:"artworkUrl512"`
		ArtworkURL100 string `json:"artworkUrl100"`
		ArtworkURL60  string `json:"artworkUrl60"`
	} `json:"results"`
}

// Resolve returns an icon URL for the app, trying an exact bundle ID
// lookup first and a name search second. It never fails; an app without
// a resolvable icon yields an empty string.
func (c *Client) Resolve(ctx context.Context, bundleID, name string) string {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return ""
	}

	if bundleID != "" {
		icon, err := c.LookupBundle(ctx, bundleID)
		if err == nil && icon != "" {
			return icon
		}
		if err != nil {
			log.Debug().Err(err).Str("bundle_id", bundleID).Msg("Bundle icon lookup failed")
		}
	}

	if name != "" {
		icon, err := c.SearchName(ctx, name)
		if err == nil && icon != "" {
			return icon
		}
		if err != nil {
			log.Debug().Err(err).Str("name", name).Msg("Name icon search failed")
		}
	}

	return ""
}

// LookupBundle resolves an icon by exact bundle identifier.
func (c *Client) LookupBundle(ctx context.Context, bundleID string) (string, error) {
	query := url.Values{}
	query.Set("bundleId", bundleID)
	return c.fetchIcon(ctx, "/lookup", query)
}

// SearchName resolves an icon by app name, taking the top software hit.
func (c *Client) SearchName(ctx context.Context, name string) (string, error) {
	query := url.Values{}
	query.Set("term", name)
	query.Set("entity", "software")
	query.Set("limit", "1")
	return c.fetchIcon(ctx, "/search", query)
}

func (c *Client) fetchIcon(ctx context.Context, path string, query url.Values) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed lookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if parsed.ResultCount == 0 || len(parsed.Results) == 0 {
		return "", nil
	}

	r := parsed.Results[0]
	switch {
	case r.ArtworkURL512 != "":
		return r.ArtworkURL512, nil
	case r.ArtworkURL100 != "":
		return r.ArtworkURL100, nil
	default:
		return r.ArtworkURL60, nil
	}
}

// rateLimiter implements a simple token bucket rate limiter
type rateLimiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastRequest time.Time
}

func newRateLimiter(requestsPerSecond int) *rateLimiter {
	return &rateLimiter{
		interval: time.Second / time.Duration(requestsPerSecond),
	}
}

// Wait blocks until a request can be made
func (r *rateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	nextAllowed := r.lastRequest.Add(r.interval)

	if now.Before(nextAllowed) {
		select {
		case <-time.After(nextAllowed.Sub(now)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.lastRequest = time.Now()
	return nil
}
