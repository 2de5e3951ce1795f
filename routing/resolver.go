// Package routing decides where a freshly authenticated user lands.
// Authentication alone is not enough: the account may be gated behind
// administrative approval, and the dashboard is only worth showing to a
// user who has work items. The two checks run in strict order and every
// unclassified failure routes to onboarding rather than a dead end.
package routing

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/talentwire/go-auth-client/auth"
	"github.com/talentwire/go-auth-client/backend"
	"github.com/talentwire/go-auth-client/internal/retry"
	"github.com/talentwire/go-auth-client/jobs"
	"github.com/talentwire/go-auth-client/token/store"
)

// Route is the landing destination after an authentication event.
type Route string

const (
	RoutePendingApproval Route = "pending-approval"
	RouteDashboard       Route = "dashboard"
	RouteGetStarted      Route = "get-started"
	RouteLogin           Route = "login"
)

// Session is the slice of the auth session the resolver needs.
type Session interface {
	CurrentUser(ctx context.Context) (*backend.User, error)
}

// Resolver computes the post-auth redirect.
type Resolver struct {
	session     Session
	tokens      store.Repo
	jobs        jobs.Lister
	firstSettle time.Duration
	retrySettle time.Duration
	jobsTimeout time.Duration
	retryPolicy retry.Policy
	sleep       func(ctx context.Context, d time.Duration)
	log         zerolog.Logger
}

// ResolverOption modifies the Resolver.
type ResolverOption func(*Resolver)

// WithSettleDelays sets the post-issuance settle delays: first is applied
// on the initial attempt, rest on retries. The backend needs a beat after
// issuing tokens before /auth/me agrees they exist.
func WithSettleDelays(first, rest time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.firstSettle = first
		r.retrySettle = rest
	}
}

// WithJobsTimeout bounds the jobs existence check.
func WithJobsTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.jobsTimeout = timeout
	}
}

// WithRetryPolicy sets the auth-error retry policy: MaxAttempts bounds
// re-resolution attempts, Delay spaces them linearly.
func WithRetryPolicy(policy retry.Policy) ResolverOption {
	return func(r *Resolver) {
		r.retryPolicy = policy
	}
}

// WithLogger sets the resolver logger.
func WithLogger(log zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.log = log
	}
}

// NewResolver creates a post-auth route resolver.
func NewResolver(session Session, tokens store.Repo, lister jobs.Lister, options ...ResolverOption) (*Resolver, error) {
	if session == nil {
		return nil, stderrors.New("[NewResolver] session is required")
	}
	if tokens == nil {
		return nil, stderrors.New("[NewResolver] token store is required")
	}
	if lister == nil {
		return nil, stderrors.New("[NewResolver] jobs lister is required")
	}

	r := &Resolver{
		session:     session,
		tokens:      tokens,
		jobs:        lister,
		firstSettle: time.Second,
		retrySettle: 300 * time.Millisecond,
		jobsTimeout: 8 * time.Second,
		retryPolicy: retry.Policy{MaxAttempts: 2, Initial: 500 * time.Millisecond, Cap: 2 * time.Second},
		sleep:       sleepCtx,
		log:         zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// RedirectPath resolves the landing route for the current session.
func (r *Resolver) RedirectPath(ctx context.Context) Route {
	return r.redirectPath(ctx, 0)
}

func (r *Resolver) redirectPath(ctx context.Context, attempt int) Route {
	// Never block on a missing precondition.
	accessToken, err := r.tokens.AccessToken()
	if err != nil || accessToken == "" {
		return RouteGetStarted
	}

	settle := r.firstSettle
	if attempt > 0 {
		settle = r.retrySettle
	}
	r.sleep(ctx, settle)

	if _, err := r.session.CurrentUser(ctx); err != nil {
		return r.routeFromError(ctx, err, attempt)
	}

	// Approval check passed; only now is the jobs service consulted.
	jobsCtx, cancel := context.WithTimeout(ctx, r.jobsTimeout)
	defer cancel()
	hasJobs, err := r.jobs.HasAny(jobsCtx)
	if err != nil {
		return r.routeFromError(ctx, err, attempt)
	}
	if hasJobs {
		return RouteDashboard
	}
	return RouteGetStarted
}

// routeFromError classifies a failed check. Pending approval is a state,
// not an error; session errors earn a bounded retry; everything else
// fails open to onboarding.
func (r *Resolver) routeFromError(ctx context.Context, err error, attempt int) Route {
	var apiErr *backend.APIError
	switch {
	case stderrors.Is(err, auth.PendingApprovalErr):
		return RoutePendingApproval

	case stderrors.Is(err, auth.SessionExpiredErr), stderrors.Is(err, auth.InvalidCredentialsErr):
		if attempt+1 < r.retryPolicy.MaxAttempts {
			delay := r.retryPolicy.Delay(attempt + 1)
			r.log.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("auth error during post-auth routing, retrying")
			r.sleep(ctx, delay)
			return r.redirectPath(ctx, attempt+1)
		}
		return RouteLogin

	case stderrors.As(err, &apiErr):
		// A definitive backend rejection that is neither approval
		// gating nor a stale session.
		return RouteLogin

	default:
		r.log.Debug().Err(err).Msg("unclassified post-auth routing error, defaulting to onboarding")
		return RouteGetStarted
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
