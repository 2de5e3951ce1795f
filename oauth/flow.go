// Package oauth drives the three-legged OAuth flow from the client side.
// The default mode delegates the heavy lifting to the backend: it issues
// the authorization URL and performs the code exchange, so no provider
// secrets live in this process. Providers configured with their own
// endpoints are exchanged directly instead (see direct.go).
package oauth

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/talentwire/go-auth-client/auth"
	"github.com/talentwire/go-auth-client/backend"
	"github.com/talentwire/go-auth-client/oauth/staterepo"
	"github.com/talentwire/go-auth-client/token"
	"github.com/talentwire/go-auth-client/token/store"
)

// Flow coordinates OAuth attempts. A single Flow holds at most one
// in-progress attempt at a time, mirroring one user agent.
type Flow struct {
	api         *backend.Client
	tokens      store.Repo
	states      staterepo.Repo
	redirectURI string
	direct      map[string]DirectProvider
	log         zerolog.Logger
	nowTime     func() time.Time
}

// FlowOption modifies the Flow.
type FlowOption func(*Flow)

// WithDirectProvider registers a provider whose code exchange happens in
// this process instead of via the backend callback endpoint.
func WithDirectProvider(name string, provider DirectProvider) FlowOption {
	return func(f *Flow) {
		f.direct[name] = provider
	}
}

// WithLogger sets the flow logger.
func WithLogger(log zerolog.Logger) FlowOption {
	return func(f *Flow) {
		f.log = log
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(now func() time.Time) FlowOption {
	return func(f *Flow) {
		f.nowTime = now
	}
}

// NewFlow creates an OAuth flow coordinator. redirectURI is the callback
// URL registered with the backend and the providers.
func NewFlow(api *backend.Client, tokens store.Repo, states staterepo.Repo, redirectURI string, options ...FlowOption) (*Flow, error) {
	if api == nil {
		return nil, errors.New("[NewFlow] api client is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewFlow] token store is required")
	}
	if states == nil {
		return nil, errors.New("[NewFlow] state repo is required")
	}
	if redirectURI == "" {
		return nil, errors.New("[NewFlow] redirectURI is required")
	}

	f := &Flow{
		api:         api,
		tokens:      tokens,
		states:      states,
		redirectURI: redirectURI,
		direct:      make(map[string]DirectProvider),
		log:         zerolog.Nop(),
		nowTime:     time.Now,
	}
	for _, opt := range options {
		opt(f)
	}
	return f, nil
}

// Initiate starts an OAuth attempt for provider and returns the
// authorization URL the caller must navigate to. The CSRF state travels
// with the URL and is held locally until the callback comes in.
func (f *Flow) Initiate(ctx context.Context, provider string) (string, error) {
	if p, ok := f.direct[provider]; ok {
		return f.initiateDirect(provider, p)
	}

	resp, err := f.api.OAuthAuthorize(ctx, provider, f.redirectURI)
	if err != nil {
		return "", errors.Wrap(err, "failed to initiate oauth flow")
	}

	if err := f.states.Save(&staterepo.FlowState{
		State:     resp.State,
		Provider:  provider,
		CreatedAt: f.nowTime(),
	}); err != nil {
		return "", errors.Wrap(err, "failed to store oauth state")
	}

	f.log.Info().Str("provider", provider).Msg("oauth flow initiated")
	return resp.AuthorizationURL, nil
}

// HandleCallback finishes an OAuth attempt. The stored state is consumed
// before anything else happens: whether the exchange succeeds or fails,
// a second callback with the same state fails closed.
func (f *Flow) HandleCallback(ctx context.Context, code, state, provider string) (*backend.CallbackResponse, error) {
	flow, err := f.states.Consume()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read oauth state")
	}
	if flow == nil || flow.State != state {
		f.log.Warn().Str("provider", provider).Msg("oauth state mismatch")
		return nil, auth.StateMismatchErr
	}

	if provider == "" {
		provider = flow.Provider
	}

	if p, ok := f.direct[provider]; ok {
		return f.exchangeDirect(ctx, p, flow, code)
	}

	resp, err := f.api.OAuthCallback(ctx, provider, code, state, f.redirectURI)
	if err != nil {
		return nil, errors.Wrap(err, "oauth code exchange failed")
	}

	if err := f.tokens.SetPair(token.Pair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}); err != nil {
		return nil, errors.Wrap(err, "failed to store token pair")
	}

	f.log.Info().Str("provider", provider).Bool("is_new_user", resp.IsNewUser).Msg("oauth exchange succeeded")
	return resp, nil
}

// InProgress reports whether an OAuth attempt has been initiated and not
// yet completed. Callback pages use it to avoid double-processing.
func (f *Flow) InProgress() bool {
	flow, err := f.states.Current()
	return err == nil && flow != nil
}

// CurrentProvider returns the provider of the in-progress attempt, or "".
func (f *Flow) CurrentProvider() string {
	flow, err := f.states.Current()
	if err != nil || flow == nil {
		return ""
	}
	return flow.Provider
}
