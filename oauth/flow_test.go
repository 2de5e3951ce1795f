package oauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talentwire/go-auth-client/auth"
	"github.com/talentwire/go-auth-client/backend"
	"github.com/talentwire/go-auth-client/oauth"
	"github.com/talentwire/go-auth-client/oauth/staterepo"
	"github.com/talentwire/go-auth-client/token/store"
	"golang.org/x/oauth2"
)

func endpointFor(authURL, tokenURL string) oauth2.Endpoint {
	return oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
}

const testRedirectURI = "https://app.example.com/oauth/callback"

type flowFixture struct {
	flow      *oauth.Flow
	tokens    *store.InMemoryRepo
	states    *staterepo.InMemoryRepo
	exchanges *atomic.Int64
}

func setupFlow(t *testing.T) *flowFixture {
	t.Helper()

	exchanges := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/auth/oauth/google/authorize":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"authorization_url": "https://accounts.google.com/o/oauth2/auth?state=nonce-1",
				"state":             "nonce-1",
			})
		case r.Method == http.MethodPost && r.URL.Path == "/auth/oauth/google/callback":
			exchanges.Add(1)
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, testRedirectURI, body["redirect_uri"])
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "at-oauth",
				"refresh_token": "rt-oauth",
				"user":          map[string]string{"id": "u1", "email": "jo@example.com"},
				"is_new_user":   true,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	api, err := backend.New(srv.URL)
	require.NoError(t, err)
	tokens := store.NewInMemoryRepo()
	states := staterepo.NewInMemoryRepo()
	flow, err := oauth.NewFlow(api, tokens, states, testRedirectURI)
	require.NoError(t, err)

	return &flowFixture{flow: flow, tokens: tokens, states: states, exchanges: exchanges}
}

func TestInitiateStoresStateAndProvider(t *testing.T) {
	f := setupFlow(t)

	authURL, err := f.flow.Initiate(context.Background(), "google")
	require.NoError(t, err)
	require.Contains(t, authURL, "accounts.google.com")

	require.True(t, f.flow.InProgress())
	require.Equal(t, "google", f.flow.CurrentProvider())
}

func TestHandleCallbackStoresTokens(t *testing.T) {
	f := setupFlow(t)
	_, err := f.flow.Initiate(context.Background(), "google")
	require.NoError(t, err)

	resp, err := f.flow.HandleCallback(context.Background(), "code-1", "nonce-1", "")
	require.NoError(t, err)
	require.True(t, resp.IsNewUser)
	require.Equal(t, "u1", resp.User.ID)

	access, _ := f.tokens.AccessToken()
	refresh, _ := f.tokens.RefreshToken()
	require.Equal(t, "at-oauth", access)
	require.Equal(t, "rt-oauth", refresh)

	// Flow is back to idle.
	require.False(t, f.flow.InProgress())
}

func TestHandleCallbackStateMismatchFailsClosed(t *testing.T) {
	f := setupFlow(t)
	_, err := f.flow.Initiate(context.Background(), "google")
	require.NoError(t, err)

	_, err = f.flow.HandleCallback(context.Background(), "code-1", "tampered-state", "google")
	require.ErrorIs(t, err, auth.StateMismatchErr)
	require.Equal(t, int64(0), f.exchanges.Load(), "no exchange on mismatch")

	// The stored state is gone even though the attempt failed.
	require.False(t, f.flow.InProgress())

	// The correct state no longer works either.
	_, err = f.flow.HandleCallback(context.Background(), "code-1", "nonce-1", "google")
	require.ErrorIs(t, err, auth.StateMismatchErr)
}

func TestHandleCallbackIsSingleUse(t *testing.T) {
	f := setupFlow(t)
	_, err := f.flow.Initiate(context.Background(), "google")
	require.NoError(t, err)

	_, err = f.flow.HandleCallback(context.Background(), "code-1", "nonce-1", "")
	require.NoError(t, err)

	// Double-mounted callback page replays the same code and state.
	_, err = f.flow.HandleCallback(context.Background(), "code-1", "nonce-1", "")
	require.ErrorIs(t, err, auth.StateMismatchErr)
	require.Equal(t, int64(1), f.exchanges.Load(), "code must not be exchanged twice")
}

func TestHandleCallbackWithoutInitiate(t *testing.T) {
	f := setupFlow(t)

	_, err := f.flow.HandleCallback(context.Background(), "code-1", "nonce-1", "google")
	require.ErrorIs(t, err, auth.StateMismatchErr)
}

func TestInitiateDirectBuildsLocalAuthURL(t *testing.T) {
	tokens := store.NewInMemoryRepo()
	states := staterepo.NewInMemoryRepo()
	api, err := backend.New("http://localhost:0")
	require.NoError(t, err)

	flow, err := oauth.NewFlow(api, tokens, states, testRedirectURI,
		oauth.WithDirectProvider("acme", oauth.DirectProvider{
			ClientID:  "client-1",
			IssuerURL: "https://id.acme.test",
			Endpoint:  endpointFor("https://id.acme.test/authorize", "https://id.acme.test/token"),
		}),
	)
	require.NoError(t, err)

	authURL, err := flow.Initiate(context.Background(), "acme")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "id.acme.test", parsed.Host)
	query := parsed.Query()
	require.Equal(t, "client-1", query.Get("client_id"))
	require.Equal(t, testRedirectURI, query.Get("redirect_uri"))
	require.NotEmpty(t, query.Get("state"))
	require.NotEmpty(t, query.Get("nonce"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))
	require.NotEmpty(t, query.Get("code_challenge"))

	// The stored flow carries the PKCE verifier for the callback leg.
	stored, err := states.Current()
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, query.Get("state"), stored.State)
	require.NotEmpty(t, stored.Verifier)
	require.NotEmpty(t, stored.Nonce)
}
