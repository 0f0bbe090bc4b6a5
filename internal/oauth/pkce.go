package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// PKCEChallenge is the per-attempt secret material of an authorization
// request: the S256 verifier/challenge pair and the CSRF state.
type PKCEChallenge struct {
	// CodeVerifier is 43 characters of base64url (32 random bytes).
	CodeVerifier string

	// CodeChallenge is BASE64URL(SHA256(CodeVerifier)) without padding.
	CodeChallenge string

	// State is an independent random value echoed back by the server.
	State string

	// Method is always "S256".
	Method string
}

// NewPKCEChallenge generates a fresh verifier, challenge and state.
func NewPKCEChallenge() (*PKCEChallenge, error) {
	verifier := oauth2.GenerateVerifier()
	state, err := GenerateState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}
	return &PKCEChallenge{
		CodeVerifier:  verifier,
		CodeChallenge: DeriveChallenge(verifier),
		State:         state,
		Method:        "S256",
	}, nil
}

// DeriveChallenge computes the S256 code challenge for a verifier.
func DeriveChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// GenerateState generates a random state parameter for OAuth.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
