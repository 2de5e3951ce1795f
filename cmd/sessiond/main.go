// Command sessiond keeps an authenticated backend session alive: it loads
// or establishes a token pair, schedules proactive refreshes, and reports
// the post-auth landing route. SIGHUP forces a token re-check, standing in
// for the window-focus signal a UI host would deliver.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/talentwire/go-auth-client/auth"
	"github.com/talentwire/go-auth-client/backend"
	"github.com/talentwire/go-auth-client/internal/config"
	"github.com/talentwire/go-auth-client/internal/retry"
	"github.com/talentwire/go-auth-client/jobs"
	"github.com/talentwire/go-auth-client/oauth"
	"github.com/talentwire/go-auth-client/oauth/staterepo"
	"github.com/talentwire/go-auth-client/refresh"
	"github.com/talentwire/go-auth-client/routing"
	"github.com/talentwire/go-auth-client/token/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("sessiond exited")
	}
	log.Info().Msg("sessiond stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg := config.MustLoad()
	setupLogger(cfg.Env)
	displayAppname("sessiond")

	tokens, err := newTokenStore(cfg)
	if err != nil {
		return err
	}

	api, err := backend.New(cfg.API.BaseURL,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		backend.WithLogger(log.With().Str("component", "backend").Logger()),
		backend.WithGetRetry(retry.Policy{
			MaxAttempts: 2,
			Initial:     time.Second,
			Cap:         5 * time.Second,
			Retryable: func(err error) bool {
				var apiErr *backend.APIError
				return !errors.As(err, &apiErr)
			},
		}),
	)
	if err != nil {
		return err
	}

	session, err := auth.NewSession(api, tokens,
		auth.WithEnv(cfg.Env),
		auth.WithJWTSecret([]byte(cfg.Auth.JWTSecret)),
		auth.WithLogger(log.With().Str("component", "session").Logger()),
		auth.WithLogoutHook(func() {
			log.Info().Msg("session cleared, re-authentication required")
		}),
	)
	if err != nil {
		return err
	}

	flow, err := oauth.NewFlow(api, tokens, staterepo.NewInMemoryRepo(), cfg.API.RedirectURI,
		oauth.WithLogger(log.With().Str("component", "oauth").Logger()))
	if err != nil {
		return err
	}
	_ = flow // initiated on demand by the hosting application

	if err := ensureAuthenticated(session); err != nil {
		return err
	}

	scheduler, err := refresh.NewScheduler(session, tokens,
		refresh.WithLead(cfg.Refresh.Lead),
		refresh.WithFocusWindow(cfg.Refresh.FocusWindow),
		refresh.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.Refresh.MaxRetries,
			Initial:     cfg.Refresh.RetryBase,
			Cap:         cfg.Refresh.RetryCap,
		}),
		refresh.WithLogger(log.With().Str("component", "refresh").Logger()),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)
	defer scheduler.Stop()

	reportLandingRoute(ctx, cfg, session, api, tokens)

	waitForStopSignal(scheduler)
	return nil
}

// ensureAuthenticated logs in with env-provided credentials when the
// stored session is unusable.
func ensureAuthenticated(session *auth.Session) error {
	if session.IsTokenValid() {
		log.Info().Msg("existing session is usable")
		return nil
	}

	email := os.Getenv("LOGIN_EMAIL")
	password := os.Getenv("LOGIN_PASSWORD")
	if email == "" || password == "" {
		log.Warn().Msg("no usable session and no LOGIN_EMAIL/LOGIN_PASSWORD set; relying on refresh")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	user, err := session.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	log.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("logged in")
	return nil
}

func reportLandingRoute(ctx context.Context, cfg *config.Config, session *auth.Session, api *backend.Client, tokens store.Repo) {
	lister, err := jobs.NewBackendLister(api, tokens)
	if err != nil {
		log.Err(err).Msg("failed to build jobs lister")
		return
	}
	resolver, err := routing.NewResolver(session, tokens, lister,
		routing.WithSettleDelays(cfg.Routing.FirstSettle, cfg.Routing.RetrySettle),
		routing.WithJobsTimeout(cfg.Routing.JobsTimeout),
		routing.WithRetryPolicy(retry.Policy{MaxAttempts: cfg.Routing.MaxRetries, Initial: 500 * time.Millisecond, Cap: 2 * time.Second}),
		routing.WithLogger(log.With().Str("component", "routing").Logger()),
	)
	if err != nil {
		log.Err(err).Msg("failed to build route resolver")
		return
	}
	log.Info().Str("route", string(resolver.RedirectPath(ctx))).Msg("post-auth landing route")
}

// waitForStopSignal blocks until interrupted. SIGHUP wakes the scheduler
// instead of stopping.
func waitForStopSignal(scheduler *refresh.Scheduler) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig == syscall.SIGHUP {
			log.Info().Msg("SIGHUP received, re-checking token")
			scheduler.Wake()
			continue
		}
		return
	}
}

func newTokenStore(cfg *config.Config) (store.Repo, error) {
	if cfg.Store.Secret == "" {
		log.Warn().Msg("no token store secret configured, tokens held in memory only")
		return store.NewInMemoryRepo(), nil
	}
	path := cfg.Store.Path
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config dir: %w", err)
		}
		path = filepath.Join(configDir, "sessiond", "tokens")
	}
	return store.NewFileRepo(path, []byte(cfg.Store.Secret))
}

func setupLogger(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if env == "local" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
