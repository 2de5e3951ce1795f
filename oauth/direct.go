package oauth

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/talentwire/go-auth-client/auth"
	"github.com/talentwire/go-auth-client/backend"
	"github.com/talentwire/go-auth-client/oauth/staterepo"
	"github.com/talentwire/go-auth-client/token"
	"golang.org/x/oauth2"
)

// DirectProvider configures a provider exchanged in-process with PKCE,
// bypassing the backend callback endpoint. The ID token is verified
// against the provider's published keys before anything is stored.
type DirectProvider struct {
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	IssuerURL    string
	Scopes       []string
}

func (f *Flow) oauth2Config(p DirectProvider) *oauth2.Config {
	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     p.Endpoint,
		RedirectURL:  f.redirectURI,
		Scopes:       scopes,
	}
}

// initiateDirect builds the authorization URL locally: fresh state, PKCE
// verifier and OIDC nonce, all held in the flow state until the callback.
func (f *Flow) initiateDirect(name string, p DirectProvider) (string, error) {
	state := uuid.New().String()
	nonce := uuid.New().String()
	verifier := oauth2.GenerateVerifier()

	if err := f.states.Save(&staterepo.FlowState{
		State:     state,
		Provider:  name,
		Nonce:     nonce,
		Verifier:  verifier,
		CreatedAt: f.nowTime(),
	}); err != nil {
		return "", errors.Wrap(err, "failed to store oauth state")
	}

	authURL := f.oauth2Config(p).AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	)
	f.log.Info().Str("provider", name).Msg("direct oauth flow initiated")
	return authURL, nil
}

// exchangeDirect swaps the code for tokens at the provider, verifies the
// ID token signature and nonce, and stores the resulting pair.
func (f *Flow) exchangeDirect(ctx context.Context, p DirectProvider, flow *staterepo.FlowState, code string) (*backend.CallbackResponse, error) {
	cfg := f.oauth2Config(p)

	oauth2Token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(flow.Verifier))
	if err != nil {
		return nil, errors.Wrap(err, "direct code exchange failed")
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id token in provider response")
	}

	provider, err := oidc.NewProvider(ctx, p.IssuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "oidc discovery failed")
	}

	idToken, err := provider.Verifier(&oidc.Config{ClientID: p.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(err, "id token verification failed")
	}

	var claims struct {
		Nonce string `json:"nonce"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "failed to extract id token claims")
	}
	if claims.Nonce != flow.Nonce {
		return nil, errors.Wrap(auth.StateMismatchErr, "nonce mismatch")
	}

	if err := f.tokens.SetPair(token.Pair{AccessToken: oauth2Token.AccessToken, RefreshToken: oauth2Token.RefreshToken}); err != nil {
		return nil, errors.Wrap(err, "failed to store token pair")
	}

	f.log.Info().Str("provider", flow.Provider).Msg("direct oauth exchange succeeded")
	return &backend.CallbackResponse{
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: oauth2Token.RefreshToken,
		User: backend.User{
			ID:    claims.Sub,
			Email: claims.Email,
		},
	}, nil
}
