// Package oauth provides OAuth 2.0 (PKCE) authentication for MCP servers.
package oauth

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// DefaultExpiresIn is assumed when a token response omits expires_in.
const DefaultExpiresIn = 3600 * time.Second

// Credential represents stored OAuth credentials for a named server.
type Credential struct {
	// ServerName is the user-facing name of the server (the store key).
	ServerName string

	// ServerURL is the SSE endpoint of the MCP server.
	ServerURL string

	// ClientID is the OAuth client identifier (may be empty until registration).
	ClientID string

	// AccessToken is the current bearer token.
	AccessToken string

	// RefreshToken is used to obtain new access tokens (optional).
	RefreshToken string

	// ExpiresAt is when the access token expires (Unix milliseconds).
	// Zero means no expiry was recorded, which is treated as expired.
	ExpiresAt int64

	// Scopes are the granted OAuth scopes.
	Scopes []string
}

// Validate checks required fields and that the credential is usable: an
// access token is never stored without either a live expiry or a refresh token.
func (c *Credential) Validate() error {
	if c.ServerName == "" {
		return errors.New("credential: ServerName is required")
	}
	if c.ServerURL == "" {
		return errors.New("credential: ServerURL is required")
	}
	if c.AccessToken == "" {
		return errors.New("credential: AccessToken is required")
	}
	if c.IsExpired() && c.RefreshToken == "" {
		return errors.New("credential: expired access token without a refresh token")
	}
	return nil
}

// IsExpired returns true if the access token has expired.
func (c Credential) IsExpired() bool {
	return c.ExpiresWithin(0)
}

// ExpiresWithin reports whether the token expires within d from now.
// It is used with a small skew margin so tokens are not sent right at expiry.
func (c Credential) ExpiresWithin(d time.Duration) bool {
	if c.ExpiresAt <= 0 {
		return true
	}
	return time.Now().Add(d).UnixMilli() >= c.ExpiresAt
}

// Authenticated reports whether the credential can be used without an
// interactive login, either directly or after a refresh.
func (c Credential) Authenticated() bool {
	return c.AccessToken != "" && (!c.IsExpired() || c.RefreshToken != "")
}

// TimeUntilExpiry returns the duration until the token expires.
func (c Credential) TimeUntilExpiry() time.Duration {
	return time.Until(time.UnixMilli(c.ExpiresAt))
}

// Status summarizes the token state for display.
func (c Credential) Status() string {
	if c.ExpiresAt <= 0 {
		return "no expiry"
	}
	left := c.TimeUntilExpiry()
	if left <= 0 {
		return "expired"
	}
	hours := int(left.Hours())
	if hours > 24 {
		return fmt.Sprintf("valid (%dd left)", hours/24)
	}
	return fmt.Sprintf("valid (%dh left)", hours)
}

// CredentialStore is the interface for OAuth credential storage.
// Credentials are keyed by server name.
type CredentialStore interface {
	// Load retrieves the credential for a server name, or ErrNotFound.
	Load(name string) (*Credential, error)

	// Save upserts a credential by server name.
	Save(cred *Credential) error

	// Remove deletes the credential for a server name, or returns ErrNotFound.
	Remove(name string) error

	// List returns all stored credentials ordered by name.
	List() ([]*Credential, error)
}

// StoreMode represents the credential storage mode.
type StoreMode string

const (
	// StoreModeAuto uses keyring if available, falls back to file.
	StoreModeAuto StoreMode = "auto"

	// StoreModeKeyring uses the system keychain.
	StoreModeKeyring StoreMode = "keyring"

	// StoreModeFile uses the JSON credentials file.
	StoreModeFile StoreMode = "file"
)

// NewCredentialStore creates a credential store based on the mode.
// path overrides the credentials file location when non-empty.
func NewCredentialStore(mode StoreMode, path string) (CredentialStore, error) {
	newFile := func() (CredentialStore, error) {
		if path != "" {
			return NewFileStoreAt(filepath.Clean(path)), nil
		}
		return NewFileStore()
	}

	switch mode {
	case StoreModeKeyring:
		store, err := NewKeyringStore()
		if err != nil {
			return nil, err
		}
		return store, nil

	case StoreModeFile, "":
		return newFile()

	case StoreModeAuto:
		store, err := NewKeyringStore()
		if err == nil {
			return store, nil
		}
		return newFile()

	default:
		return nil, fmt.Errorf("unknown credential store mode %q", mode)
	}
}
