// Package store persists the session's token pair. All implementations are
// safe for concurrent use: login, refresh, OAuth callback and logout all
// write through the same store.
package store

import "github.com/talentwire/go-auth-client/token"

// Repo is the durable home of the token pair. Absent values are returned
// as empty strings, not errors; an error means the storage itself failed.
type Repo interface {
	// AccessToken returns the stored access token, or "" when absent.
	AccessToken() (string, error)
	// RefreshToken returns the stored refresh token, or "" when absent.
	RefreshToken() (string, error)
	// SetPair overwrites both tokens.
	SetPair(pair token.Pair) error
	// SetAccessToken replaces the access token and leaves the refresh
	// token untouched.
	SetAccessToken(access string) error
	// Clear removes both tokens.
	Clear() error
}
