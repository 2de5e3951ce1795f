// Package jobs is the client-side view of the jobs service: the post-auth
// router only ever asks one question of it.
package jobs

import (
	"context"

	"github.com/pkg/errors"
	"github.com/talentwire/go-auth-client/backend"
	"github.com/talentwire/go-auth-client/token/store"
)

// Lister answers whether the current user owns any jobs.
type Lister interface {
	HasAny(ctx context.Context) (bool, error)
}

// BackendLister queries the backend jobs endpoint with the stored access
// token.
type BackendLister struct {
	api    *backend.Client
	tokens store.Repo
}

// NewBackendLister creates a jobs lister over the backend API.
func NewBackendLister(api *backend.Client, tokens store.Repo) (*BackendLister, error) {
	if api == nil {
		return nil, errors.New("[NewBackendLister] api client is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewBackendLister] token store is required")
	}
	return &BackendLister{api: api, tokens: tokens}, nil
}

// HasAny reports whether the user has at least one job.
func (l *BackendLister) HasAny(ctx context.Context) (bool, error) {
	accessToken, err := l.tokens.AccessToken()
	if err != nil {
		return false, errors.Wrap(err, "failed to read access token")
	}
	return l.api.HasJobs(ctx, accessToken)
}
