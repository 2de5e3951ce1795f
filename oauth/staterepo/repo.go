// Package staterepo holds the in-progress OAuth flow marker: the CSRF
// state, the provider, and (for direct exchanges) the PKCE verifier and
// OIDC nonce. The marker is single-use and short-lived.
package staterepo

import "time"

// FlowState is the session-scoped record of one OAuth attempt.
type FlowState struct {
	State     string
	Provider  string
	Nonce     string
	Verifier  string
	CreatedAt time.Time
}

// Repo stores at most one in-progress flow. Consume returns the current
// flow and clears it in one step, so a replayed callback can never see a
// state that was already used.
type Repo interface {
	Save(flow *FlowState) error
	Consume() (*FlowState, error)
	Current() (*FlowState, error)
	Clear() error
}
