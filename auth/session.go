// Package auth orchestrates the client-side session: credential exchange,
// token refresh, logout and validity checks. It is the only writer of the
// token store; every other component reads through it or the store.
package auth

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/talentwire/go-auth-client/backend"
	"github.com/talentwire/go-auth-client/token"
	"github.com/talentwire/go-auth-client/token/store"
)

// Session manages the authenticated session against the backend.
type Session struct {
	api       *backend.Client
	tokens    store.Repo
	env       string
	jwtSecret []byte
	onLogout  func()
	nowTime   func() time.Time
	log       zerolog.Logger
}

// SessionOption modifies the Session.
type SessionOption func(*Session)

// WithEnv sets the environment name. In "production" IsTokenValid verifies
// the token signature instead of only decoding the expiry.
func WithEnv(env string) SessionOption {
	return func(s *Session) {
		s.env = env
	}
}

// WithJWTSecret sets the HMAC secret used for production-mode signature
// verification.
func WithJWTSecret(secret []byte) SessionOption {
	return func(s *Session) {
		s.jwtSecret = secret
	}
}

// WithLogoutHook registers a callback invoked after tokens are cleared,
// typically to navigate the caller to the login screen.
func WithLogoutHook(hook func()) SessionOption {
	return func(s *Session) {
		s.onLogout = hook
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.nowTime = now
	}
}

// WithLogger sets the session logger.
func WithLogger(log zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

// NewSession creates a Session backed by the given API client and token
// store.
func NewSession(api *backend.Client, tokens store.Repo, options ...SessionOption) (*Session, error) {
	if api == nil {
		return nil, errors.New("[NewSession] api client is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewSession] token store is required")
	}

	s := &Session{
		api:     api,
		tokens:  tokens,
		nowTime: time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login exchanges credentials for a token pair and stores it. The returned
// user payload comes straight from the backend response.
func (s *Session) Login(ctx context.Context, email, password string) (*backend.User, error) {
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		var apiErr *backend.APIError
		if stderrors.As(err, &apiErr) {
			return nil, errors.Wrap(InvalidCredentialsErr, apiErr.Message)
		}
		return nil, Transient(err)
	}

	if err := s.tokens.SetPair(token.Pair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}); err != nil {
		return nil, errors.Wrap(err, "failed to store token pair")
	}
	s.log.Info().Str("user_id", resp.User.ID).Msg("login succeeded")
	return &resp.User, nil
}

// Refresh exchanges the stored refresh token for a new access token.
// A missing refresh token or a definitive backend rejection clears the
// session; transport failures leave it intact so the caller can retry.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	refreshToken, err := s.tokens.RefreshToken()
	if err != nil {
		return "", errors.Wrap(err, "failed to read refresh token")
	}
	if refreshToken == "" {
		s.Logout()
		return "", NoRefreshTokenErr
	}

	resp, err := s.api.Refresh(ctx, refreshToken)
	if err != nil {
		var apiErr *backend.APIError
		if stderrors.As(err, &apiErr) {
			s.log.Warn().Int("status", apiErr.StatusCode).Msg("refresh rejected")
			s.Logout()
			return "", errors.Wrap(RefreshFailedErr, apiErr.Message)
		}
		return "", Transient(err)
	}

	// Only the access token rotates; the refresh token stays put.
	if err := s.tokens.SetAccessToken(resp.AccessToken); err != nil {
		return "", errors.Wrap(err, "failed to store access token")
	}
	return resp.AccessToken, nil
}

// Logout clears the stored tokens and fires the logout hook. There is no
// server-side invalidation call; the backend session dies with the tokens.
func (s *Session) Logout() {
	if err := s.tokens.Clear(); err != nil {
		s.log.Err(err).Msg("failed to clear tokens on logout")
	}
	if s.onLogout != nil {
		s.onLogout()
	}
	s.log.Info().Msg("logged out")
}

// IsTokenValid reports whether the stored access token still looks usable.
// In production the signature is verified with the configured secret;
// elsewhere only the expiry is decoded. Either way this is a UI hint: the
// backend re-validates the token on every request.
func (s *Session) IsTokenValid() bool {
	accessToken, err := s.tokens.AccessToken()
	if err != nil || accessToken == "" {
		return false
	}
	if s.env == "production" && len(s.jwtSecret) > 0 {
		return token.Verify(accessToken, s.jwtSecret) == nil
	}
	return !token.IsExpired(accessToken)
}

// AccessToken returns the stored access token, or "" when absent.
func (s *Session) AccessToken() string {
	accessToken, err := s.tokens.AccessToken()
	if err != nil {
		return ""
	}
	return accessToken
}

// CurrentUser calls the who-am-I endpoint with the stored access token and
// maps the backend's gating statuses onto the session error taxonomy.
func (s *Session) CurrentUser(ctx context.Context) (*backend.User, error) {
	accessToken, err := s.tokens.AccessToken()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read access token")
	}
	if accessToken == "" {
		return nil, SessionExpiredErr
	}

	user, err := s.api.Me(ctx, accessToken)
	if err != nil {
		return nil, classifyMeError(err)
	}
	return user, nil
}

// classifyMeError maps who-am-I failures. A 403 whose body could not be
// read is treated as pending approval: the onboarding-gate screen is the
// least destructive place to land a possibly-gated account.
func classifyMeError(err error) error {
	var apiErr *backend.APIError
	if !stderrors.As(err, &apiErr) {
		return Transient(err)
	}
	switch apiErr.StatusCode {
	case http.StatusForbidden:
		if apiErr.Message == "" || IsPendingApprovalMessage(apiErr.Message) {
			return errors.Wrap(PendingApprovalErr, apiErr.Message)
		}
		return errors.Wrap(SessionExpiredErr, apiErr.Message)
	case http.StatusUnauthorized:
		return errors.Wrap(SessionExpiredErr, apiErr.Message)
	default:
		return err
	}
}
