package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no credential exists for a server name.
	ErrNotFound = errors.New("server not found")

	// ErrCorruptStore is returned when the credential store cannot be parsed.
	ErrCorruptStore = errors.New("credential store is corrupt")

	// ErrDiscovery is returned when authorization server metadata cannot be fetched.
	ErrDiscovery = errors.New("oauth discovery failed")

	// ErrClientIDRequired is returned when no client id was supplied, none is on
	// file and dynamic registration was unavailable or failed.
	ErrClientIDRequired = errors.New("oauth client id required (dynamic registration unavailable)")

	// ErrStateMismatch is returned when the callback state differs from the one sent.
	ErrStateMismatch = errors.New("oauth state mismatch: possible CSRF attack")

	// ErrAuthTimeout is returned when the browser callback does not arrive in time.
	ErrAuthTimeout = errors.New("timed out waiting for browser authentication")

	// ErrAuthorizationDenied is returned when the callback carries an error.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrTokenExchange is returned when the authorization code exchange fails.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrRefresh is returned when a refresh-token grant fails.
	ErrRefresh = errors.New("token refresh failed")
)

// CorruptStoreError reports a credential document that could not be parsed.
type CorruptStoreError struct {
	Path string
	Err  error
}

func (e *CorruptStoreError) Error() string {
	return fmt.Sprintf("credential store %s is corrupt (inspect or delete it): %v", e.Path, e.Err)
}

func (e *CorruptStoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCorruptStore) match.
func (e *CorruptStoreError) Is(target error) bool {
	return target == ErrCorruptStore
}
