// Package refresh keeps the access token fresh ahead of its expiry, so the
// user never sees a 401 mid-session. A one-shot timer fires shortly before
// the token expires, the refresh runs, and the next timer is armed from
// the newly issued token.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/talentwire/go-auth-client/auth"
	"github.com/talentwire/go-auth-client/internal/retry"
	"github.com/talentwire/go-auth-client/token"
	"github.com/talentwire/go-auth-client/token/store"
)

const (
	// DefaultLead is how long before expiry the refresh fires.
	DefaultLead = 60 * time.Second
	// DefaultFocusWindow is the remaining-lifetime threshold under which a
	// Wake call forces an immediate refresh. Covers machines that slept
	// through their scheduled timer.
	DefaultFocusWindow = 5 * time.Minute
)

// Session is the slice of the auth session the scheduler drives.
type Session interface {
	Refresh(ctx context.Context) (string, error)
	Logout()
}

// Scheduler proactively refreshes the access token. All methods are safe
// for concurrent use; at most one refresh request is in flight at a time.
type Scheduler struct {
	session     Session
	tokens      store.Repo
	lead        time.Duration
	focusWindow time.Duration
	retryPolicy retry.Policy
	nowTime     func() time.Time
	log         zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	timer    *time.Timer
	inFlight bool
	stopped  bool
	attempts int
}

// SchedulerOption modifies the Scheduler.
type SchedulerOption func(*Scheduler)

// WithLead sets how long before expiry the refresh fires.
func WithLead(lead time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.lead = lead
	}
}

// WithFocusWindow sets the Wake force-refresh threshold.
func WithFocusWindow(window time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.focusWindow = window
	}
}

// WithRetryPolicy sets the transient-failure retry policy. MaxAttempts
// bounds consecutive failed refreshes before the fail-safe logout.
func WithRetryPolicy(policy retry.Policy) SchedulerOption {
	return func(s *Scheduler) {
		s.retryPolicy = policy
	}
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.nowTime = now
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(log zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.log = log
	}
}

// NewScheduler creates a stopped scheduler; call Start to arm it.
func NewScheduler(session Session, tokens store.Repo, options ...SchedulerOption) (*Scheduler, error) {
	if session == nil {
		return nil, errors.New("[NewScheduler] session is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewScheduler] token store is required")
	}

	s := &Scheduler{
		session:     session,
		tokens:      tokens,
		lead:        DefaultLead,
		focusWindow: DefaultFocusWindow,
		retryPolicy: retry.Policy{MaxAttempts: 3, Initial: 30 * time.Second, Cap: 120 * time.Second},
		nowTime:     time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Start arms the first timer from the currently stored token. ctx bounds
// the lifetime of all refresh requests the scheduler issues.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = false
	s.scheduleLocked(s.delayUntilRefresh())
}

// Stop cancels the pending timer and any in-flight refresh.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Wake re-checks the token after a period the timers may have slept
// through (the window-focus signal in a UI host, SIGHUP here). A token
// inside the focus window is refreshed immediately.
func (s *Scheduler) Wake() {
	s.mu.Lock()
	if s.stopped || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	accessToken, err := s.tokens.AccessToken()
	if err != nil || accessToken == "" {
		return
	}
	exp, ok := token.ExpirationTime(accessToken)
	if ok && exp.Sub(s.nowTime()) >= s.focusWindow {
		return
	}
	s.log.Debug().Msg("wake: token inside focus window, forcing refresh")
	s.refreshNow(ctx)
}

// NextRefreshIn reports the delay the scheduler would arm right now.
// Zero means refresh immediately.
func (s *Scheduler) NextRefreshIn() time.Duration {
	return s.delayUntilRefresh()
}

// delayUntilRefresh computes time-until-expiry minus the lead. A missing
// or undecodable token counts as already expired.
func (s *Scheduler) delayUntilRefresh() time.Duration {
	accessToken, err := s.tokens.AccessToken()
	if err != nil || accessToken == "" {
		return 0
	}
	exp, ok := token.ExpirationTime(accessToken)
	if !ok {
		return 0
	}
	delay := exp.Sub(s.nowTime()) - s.lead
	if delay < 0 {
		return 0
	}
	return delay
}

// scheduleLocked arms the one-shot timer. Caller holds s.mu. A fresh
// schedule supersedes any pending timer.
func (s *Scheduler) scheduleLocked(delay time.Duration) {
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	ctx := s.ctx
	s.timer = time.AfterFunc(delay, func() {
		s.refreshNow(ctx)
	})
	s.log.Debug().Dur("delay", delay).Msg("refresh scheduled")
}

// refreshNow performs one guarded refresh attempt and re-arms the timer.
// Overlapping callers (timer fire racing a Wake) collapse into one
// request: the in-flight guard turns the loser into a no-op.
func (s *Scheduler) refreshNow(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight || s.stopped {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	_, err := s.session.Refresh(ctx)

	s.mu.Lock()
	s.inFlight = false
	switch {
	case err == nil:
		s.attempts = 0
		s.scheduleLocked(s.delayUntilRefresh())
		s.mu.Unlock()

	case isPermanent(err):
		// The session has already logged itself out; just stand down.
		s.stopped = true
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("refresh failed permanently, scheduler stopped")

	default:
		s.attempts++
		if s.attempts >= s.retryPolicy.MaxAttempts {
			s.stopped = true
			if s.timer != nil {
				s.timer.Stop()
				s.timer = nil
			}
			s.mu.Unlock()
			s.log.Error().Err(err).Int("attempts", s.attempts).Msg("refresh retries exhausted, logging out")
			s.session.Logout()
			return
		}
		delay := s.retryPolicy.Delay(s.attempts)
		s.scheduleLocked(delay)
		s.mu.Unlock()
		s.log.Warn().Err(err).Int("attempt", s.attempts).Dur("retry_in", delay).Msg("refresh failed, retrying")
	}
}

// isPermanent reports whether a refresh failure is a verdict on the
// session rather than a transient fault.
func isPermanent(err error) bool {
	return errors.Is(err, auth.NoRefreshTokenErr) || errors.Is(err, auth.RefreshFailedErr)
}
