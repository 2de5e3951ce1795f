package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/talentwire/go-auth-client/auth"
	"github.com/talentwire/go-auth-client/internal/retry"
	"github.com/talentwire/go-auth-client/refresh"
	"github.com/talentwire/go-auth-client/token"
	"github.com/talentwire/go-auth-client/token/store"
)

func tokenExpiring(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "u1", "exp": exp.Unix()})
	signed, err := tok.SignedString([]byte("scheduler-test"))
	require.NoError(t, err)
	return signed
}

// fakeSession counts refresh calls and tracks how many run concurrently.
type fakeSession struct {
	t            *testing.T
	tokens       *store.InMemoryRepo
	refreshDelay time.Duration
	nextToken    func() string
	refreshErr   error

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	refreshes   atomic.Int64
	logouts     atomic.Int64
}

func (f *fakeSession) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	f.refreshes.Add(1)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	newToken := f.nextToken()
	_ = f.tokens.SetAccessToken(newToken)
	return newToken, nil
}

func (f *fakeSession) Logout() {
	f.logouts.Add(1)
	_ = f.tokens.Clear()
}

func setupScheduler(t *testing.T, session *fakeSession, options ...refresh.SchedulerOption) *refresh.Scheduler {
	t.Helper()
	scheduler, err := refresh.NewScheduler(session, session.tokens, options...)
	require.NoError(t, err)
	t.Cleanup(scheduler.Stop)
	return scheduler
}

func TestNextRefreshInIsLeadBeforeExpiry(t *testing.T) {
	now := time.Now()
	tokens := store.NewInMemoryRepo()
	require.NoError(t, tokens.SetPair(token.Pair{AccessToken: tokenExpiring(t, now.Add(10*time.Minute)), RefreshToken: "rt"}))

	session := &fakeSession{t: t, tokens: tokens}
	scheduler := setupScheduler(t, session, refresh.WithNowTime(func() time.Time { return now }))

	got := scheduler.NextRefreshIn()
	// exp − 60s, allowing for Unix-second truncation in the claim.
	require.InDelta(t, (9 * time.Minute).Seconds(), got.Seconds(), 1.5)
}

func TestNextRefreshInZeroWhenInsideLead(t *testing.T) {
	now := time.Now()
	tokens := store.NewInMemoryRepo()
	require.NoError(t, tokens.SetPair(token.Pair{AccessToken: tokenExpiring(t, now.Add(30*time.Second)), RefreshToken: "rt"}))

	session := &fakeSession{t: t, tokens: tokens}
	scheduler := setupScheduler(t, session, refresh.WithNowTime(func() time.Time { return now }))

	require.Equal(t, time.Duration(0), scheduler.NextRefreshIn())
}

func TestNextRefreshInZeroForMissingOrGarbageToken(t *testing.T) {
	tokens := store.NewInMemoryRepo()
	session := &fakeSession{t: t, tokens: tokens}
	scheduler := setupScheduler(t, session)

	require.Equal(t, time.Duration(0), scheduler.NextRefreshIn())

	require.NoError(t, tokens.SetPair(token.Pair{AccessToken: "garbage", RefreshToken: "rt"}))
	require.Equal(t, time.Duration(0), scheduler.NextRefreshIn())
}

func TestExpiringTokenIsRefreshedImmediatelyAndRescheduled(t *testing.T) {
	tokens := store.NewInMemoryRepo()
	require.NoError(t, tokens.SetPair(token.Pair{AccessToken: tokenExpiring(t, time.Now().Add(10*time.Second)), RefreshToken: "rt"}))

	session := &fakeSession{
		t:         t,
		tokens:    tokens,
		nextToken: func() string { return tokenExpiring(t, time.Now().Add(time.Hour)) },
	}
	scheduler := setupScheduler(t, session)

	scheduler.Start(context.Background())

	require.Eventually(t, func() bool { return session.refreshes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The new one-hour token pushes the next fire well into the future.
	require.Greater(t, scheduler.NextRefreshIn(), 50*time.Minute)
	require.Equal(t, int64(0), session.logouts.Load())
}

func TestConcurrentWakesNeverOverlapRefreshes(t *testing.T) {
	tokens := store.NewInMemoryRepo()
	require.NoError(t, tokens.SetPair(token.Pair{AccessToken: tokenExpiring(t, time.Now().Add(5*time.Second)), RefreshToken: "rt"}))

	session := &fakeSession{
		t:            t,
		tokens:       tokens,
		refreshDelay: 50 * time.Millisecond,
		nextToken:    func() string { return tokenExpiring(t, time.Now().Add(time.Hour)) },
	}
	scheduler := setupScheduler(t, session)

	scheduler.Start(context.Background())

	// Hammer Wake from several goroutines while the timer-fired refresh
	// is still in flight.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Wake()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return session.refreshes.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	session.mu.Lock()
	maxInFlight := session.maxInFlight
	session.mu.Unlock()
	require.LessOrEqual(t, maxInFlight, 1, "two refresh requests must never overlap")
}

func TestWakeOutsideFocusWindowDoesNothing(t *testing.T) {
	tokens := store.NewInMemoryRepo()
	require.NoError(t, tokens.SetPair(token.Pair{AccessToken: tokenExpiring(t, time.Now().Add(time.Hour)), RefreshToken: "rt"}))

	session := &fakeSession{t: t, tokens: tokens, nextToken: func() string { return "unused" }}
	scheduler := setupScheduler(t, session)

	scheduler.Start(context.Background())
	scheduler.Wake()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int64(0), session.refreshes.Load())
}

func TestPermanentFailureStandsDown(t *testing.T) {
	tokens := store.NewInMemoryRepo()
	require.NoError(t, tokens.SetPair(token.Pair{AccessToken: tokenExpiring(t, time.Now().Add(time.Second)), RefreshToken: "rt"}))

	session := &fakeSession{t: t, tokens: tokens, refreshErr: auth.RefreshFailedErr}
	scheduler := setupScheduler(t, session)

	scheduler.Start(context.Background())

	require.Eventually(t, func() bool { return session.refreshes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// No retries after a permanent verdict: the session handled logout.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int64(1), session.refreshes.Load())
	require.Equal(t, int64(0), session.logouts.Load())
}

func TestTransientFailuresExhaustIntoLogout(t *testing.T) {
	tokens := store.NewInMemoryRepo()
	require.NoError(t, tokens.SetPair(token.Pair{AccessToken: tokenExpiring(t, time.Now().Add(time.Second)), RefreshToken: "rt"}))

	session := &fakeSession{t: t, tokens: tokens, refreshErr: errors.New("connection reset")}
	scheduler := setupScheduler(t, session,
		refresh.WithRetryPolicy(retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Cap: 5 * time.Millisecond}))

	scheduler.Start(context.Background())

	require.Eventually(t, func() bool { return session.logouts.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(3), session.refreshes.Load())
}
