// Package backend is the typed HTTP client for the recruiting backend's
// auth and jobs endpoints. It owns wire formats and status-code mapping;
// session semantics (what to do with a 403, when to log out) live in the
// auth package.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/talentwire/go-auth-client/internal/retry"
)

const maxResponseBytes = 1 << 20

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
	getRetry   retry.Policy
}

// Option modifies the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the request logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithGetRetry sets the retry policy applied to idempotent GETs. Writes
// (login, refresh, code exchange) are never retried here: their retry
// semantics belong to the caller.
func WithGetRetry(policy retry.Policy) Option {
	return func(c *Client) {
		c.getRetry = policy
	}
}

// New creates a backend client for the given base URL.
func New(baseURL string, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("[backend.New] baseURL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        zerolog.Nop(),
		getRetry:   retry.Policy{MaxAttempts: 1},
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// User is the backend's user payload.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Status    string `json:"status,omitempty"`
}

// LoginResponse is the body of POST /auth/login.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// RefreshResponse is the body of POST /auth/refresh.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AuthorizeResponse is the body of GET /auth/oauth/{provider}/authorize.
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// CallbackResponse is the body of POST /auth/oauth/{provider}/callback.
type CallbackResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
	IsNewUser    bool   `json:"is_new_user,omitempty"`
}

type jobsResponse struct {
	Jobs  []json.RawMessage `json:"jobs"`
	Total int               `json:"total"`
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp RefreshResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", body, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me returns the user behind the given access token.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	var user User
	err := c.getRetry.Do(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/auth/me", nil, accessToken, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// OAuthAuthorize asks the backend to start an OAuth flow for provider and
// returns the provider authorization URL plus the CSRF state to hold.
func (c *Client) OAuthAuthorize(ctx context.Context, provider, redirectURI string) (*AuthorizeResponse, error) {
	path := fmt.Sprintf("/auth/oauth/%s/authorize?redirect_uri=%s", url.PathEscape(provider), url.QueryEscape(redirectURI))
	var resp AuthorizeResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OAuthCallback exchanges an authorization code via the backend.
func (c *Client) OAuthCallback(ctx context.Context, provider, code, state, redirectURI string) (*CallbackResponse, error) {
	body := map[string]string{
		"provider":     provider,
		"code":         code,
		"state":        state,
		"redirect_uri": redirectURI,
	}
	path := fmt.Sprintf("/auth/oauth/%s/callback", url.PathEscape(provider))
	var resp CallbackResponse
	if err := c.do(ctx, http.MethodPost, path, body, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HasJobs reports whether the user owns any jobs. Only the first page is
// requested; the caller cares about existence, not contents.
func (c *Client) HasJobs(ctx context.Context, accessToken string) (bool, error) {
	var resp jobsResponse
	err := c.getRetry.Do(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/jobs?limit=1", nil, accessToken, &resp)
	})
	if err != nil {
		return false, err
	}
	return resp.Total > 0 || len(resp.Jobs) > 0, nil
}

// do performs one request/response cycle. Non-2xx responses become
// *APIError with the backend's message/detail field; transport failures
// are returned as-is so callers can classify them as transient.
func (c *Client) do(ctx context.Context, method, path string, body any, accessToken string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Str("method", method).Str("path", path).Str("request_id", requestID).Err(err).Msg("backend request failed")
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.log.Debug().Str("method", method).Str("path", path).Str("request_id", requestID).Int("status", resp.StatusCode).Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

// errorMessage pulls a human-readable message out of an error body. The
// backend is inconsistent about the field name, so both are checked.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Detail
}
