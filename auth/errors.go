package auth

import (
	"errors"
	"strings"
)

var (
	InvalidCredentialsErr = errors.New("invalid credentials")
	NoRefreshTokenErr     = errors.New("no refresh token")
	RefreshFailedErr      = errors.New("refresh failed")
	StateMismatchErr      = errors.New("oauth state mismatch")
	PendingApprovalErr    = errors.New("account pending approval")
	SessionExpiredErr     = errors.New("session expired")
)

// transientError marks a retryable failure (network, 5xx). It is never a
// verdict on the session itself, so it must not trigger a logout.
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// approvalPhrases are the backend's known wordings for a gated account.
// The backend has no structured code for this state yet, so routing keys
// off message text. Interim contract agreed with the API owner; replace
// with a code check once one ships.
var approvalPhrases = []string{
	"pending approval",
	"awaiting approval",
	"not yet approved",
	"approval required",
}

// IsPendingApprovalMessage reports whether a backend error message signals
// the pending-approval account state.
func IsPendingApprovalMessage(message string) bool {
	lowered := strings.ToLower(message)
	for _, phrase := range approvalPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
