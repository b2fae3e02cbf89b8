package ebay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// Sandbox URLs
	SandboxAuthURL    = "https://auth.sandbox.ebay.com/oauth2/authorize"
	SandboxTokenURL   = "https://api.sandbox.ebay.com/identity/v1/oauth2/token"
	SandboxAPIBaseURL = "https://api.sandbox.ebay.com"

	// Production URLs
	ProductionAuthURL    = "https://auth.ebay.com/oauth2/authorize"
	ProductionTokenURL   = "https://api.ebay.com/identity/v1/oauth2/token"
	ProductionAPIBaseURL = "https://api.ebay.com"
)

// Response carries the raw outcome of one marketplace request. Status and
// body are exposed untouched so callers can read the error codes embedded in
// the JSON body, not just the HTTP status.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestOption tunes a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	noRetry bool
}

// WithoutRetry disables the transient-status retry loop for one request.
// Used for publish calls, which are not idempotent and must never be
// re-attempted blindly. The refresh-on-401 replay still applies: a 401 means
// the request was rejected before it was processed.
func WithoutRetry() RequestOption {
	return func(o *requestOptions) { o.noRetry = true }
}

// Transport issues authenticated marketplace requests. The concrete Client
// below talks to eBay; tests substitute an in-memory marketplace.
type Transport interface {
	Request(ctx context.Context, method, path string, query url.Values, body any, opts ...RequestOption) (*Response, error)
}

// RetryConfig bounds the transient-failure retry loop.
type RetryConfig struct {
	MaxAttempts   int
	BackoffStep   time.Duration // linear backoff increment for 5xx
	RateLimitWait time.Duration // fallback when no Retry-After header is sent
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   3,
	BackoffStep:   2 * time.Second,
	RateLimitWait: 5 * time.Second,
}

// Config holds eBay API configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Sandbox      bool
	Scopes       []string
	Retry        RetryConfig
}

// Client is the authenticated eBay transport. Safe for concurrent use; the
// token and its refresh are guarded so two publishes racing into a 401 do
// not clobber each other's refresh.
type Client struct {
	config      Config
	httpClient  *http.Client
	oauthConfig *oauth2.Config
	baseURL     string
	logger      *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

// NewClient creates a new eBay API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	var authURL, tokenURL, baseURL string
	if cfg.Sandbox {
		authURL = SandboxAuthURL
		tokenURL = SandboxTokenURL
		baseURL = SandboxAPIBaseURL
	} else {
		authURL = ProductionAuthURL
		tokenURL = ProductionTokenURL
		baseURL = ProductionAPIBaseURL
	}

	// Default scopes for inventory and account management
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{
			"https://api.ebay.com/oauth/api_scope",
			"https://api.ebay.com/oauth/api_scope/sell.inventory",
			"https://api.ebay.com/oauth/api_scope/sell.inventory.readonly",
			"https://api.ebay.com/oauth/api_scope/sell.account",
			"https://api.ebay.com/oauth/api_scope/sell.account.readonly",
		}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}

	return &Client{
		config:      cfg,
		oauthConfig: oauthConfig,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     baseURL,
		logger:      logger,
	}
}

// SetBaseURL overrides the API base URL. Tests point it at a local server.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// SetTokenURL overrides the OAuth token endpoint. Tests point it at a local
// server.
func (c *Client) SetTokenURL(u string) { c.oauthConfig.Endpoint.TokenURL = u }

// GetAuthURL returns the OAuth authorization URL.
func (c *Client) GetAuthURL(state string) string {
	return c.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode exchanges an auth code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) error {
	token, err := c.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code: %w", err)
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// SetToken sets the OAuth token directly.
func (c *Client) SetToken(token *oauth2.Token) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current token.
func (c *Client) Token() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// IsAuthenticated returns true if we have a valid token.
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != nil && c.token.Valid()
}

// IsConfigured returns true if eBay API credentials are set.
func (c *Client) IsConfigured() bool {
	return c.config.ClientID != "" && c.config.ClientSecret != ""
}

// Refresh makes sure the client holds a valid access token. Single-flight:
// concurrent callers serialize on the token lock, and whoever arrives after
// a fresh token is already in place skips the round trip.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Valid() {
		return nil
	}
	return c.refreshLocked(ctx)
}

// refreshAfter401 forces a refresh unless a concurrent caller already
// replaced the token that produced the 401.
func (c *Client) refreshAfter401(ctx context.Context, used *oauth2.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token != used && c.token.Valid() {
		return nil
	}
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) error {
	if c.token == nil {
		return fmt.Errorf("no token to refresh")
	}
	src := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: c.token.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		return fmt.Errorf("failed to refresh token: %w", err)
	}
	if newToken.RefreshToken == "" {
		newToken.RefreshToken = c.token.RefreshToken
	}
	c.token = newToken
	return nil
}

// Request issues one authenticated request against the marketplace and
// returns the raw response. 429 and 5xx are retried within the configured
// budget (unless WithoutRetry); a 401 triggers one single-flight token
// refresh and one replay. Any other status, success or not, is returned
// as-is for the caller to interpret.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, body any, opts ...RequestOption) (*Response, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var (
		resp      *Response
		refreshed bool
	)
	maxAttempts := c.config.Retry.MaxAttempts
	if o.noRetry {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		var err error
		resp, err = c.send(ctx, method, path, query, payload)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			used := c.Token()
			if err := c.refreshAfter401(ctx, used); err != nil {
				return resp, fmt.Errorf("auth refresh after 401 failed: %w", err)
			}
			refreshed = true
			attempt-- // the replay does not consume retry budget
			continue
		case resp.StatusCode == http.StatusTooManyRequests && !o.noRetry:
			if attempt == maxAttempts-1 {
				break
			}
			wait := c.retryAfter(resp)
			c.logger.Warn("rate limited, backing off",
				zap.String("path", path),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt+1))
			if err := sleepCtx(ctx, wait); err != nil {
				return resp, err
			}
		case resp.StatusCode >= 500 && !o.noRetry:
			if attempt == maxAttempts-1 {
				break
			}
			wait := time.Duration(attempt+1) * c.config.Retry.BackoffStep
			c.logger.Warn("server error, retrying",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.Duration("wait", wait),
				zap.Int("attempt", attempt+1))
			if err := sleepCtx(ctx, wait); err != nil {
				return resp, err
			}
		default:
			return resp, nil
		}
	}

	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) {
		return resp, fmt.Errorf("%s %s gave status %d after %d attempts: %w",
			method, path, resp.StatusCode, maxAttempts, ErrRetryExhausted)
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte) (*Response, error) {
	token := c.Token()
	if token == nil {
		return nil, fmt.Errorf("client not authenticated")
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Language", "en-US")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       raw,
	}, nil
}

func (c *Client) retryAfter(resp *Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.config.Retry.RateLimitWait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
