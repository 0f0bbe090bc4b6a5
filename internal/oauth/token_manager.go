package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/logging"
)

const (
	// DefaultSkew is the expiry margin applied before running a command.
	DefaultSkew = 30 * time.Second

	// DefaultAuthSkew is the expiry margin applied by the auth command.
	DefaultAuthSkew = 5 * time.Minute
)

// AuthOutcome says how Authenticate produced its credential.
type AuthOutcome int

const (
	// AlreadyValid means the stored token was still good.
	AlreadyValid AuthOutcome = iota
	// Refreshed means a refresh-token grant succeeded.
	Refreshed
	// Authenticated means the interactive browser flow ran.
	Authenticated
)

func (o AuthOutcome) String() string {
	switch o {
	case AlreadyValid:
		return "already valid"
	case Refreshed:
		return "refreshed"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("AuthOutcome(%d)", int(o))
	}
}

// AuthRequest is the input of an explicit authentication.
type AuthRequest struct {
	Name      string
	ServerURL string
	ClientID  string
	Force     bool
}

// AuthResult is the outcome of Authenticate.
type AuthResult struct {
	Credential *Credential
	Outcome    AuthOutcome
}

// TokenManagerConfig configures a TokenManager.
type TokenManagerConfig struct {
	Store      CredentialStore
	HTTPClient *http.Client

	// Flow is the template for interactive flows; ServerName, ServerURL,
	// ClientID and Store are filled in per run.
	Flow FlowConfig

	// Skew is the expiry margin for Credential (DefaultSkew when zero).
	Skew time.Duration

	// AuthSkew is the expiry margin for Authenticate (DefaultAuthSkew when zero).
	AuthSkew time.Duration

	Logger *slog.Logger
}

// TokenManager hands out usable credentials: stored, refreshed, or freshly
// obtained through the interactive flow.
type TokenManager struct {
	cfg TokenManagerConfig
	log *slog.Logger

	mu          sync.Mutex
	metadata    map[string]*AuthorizationServerMetadata // by server URL
	invalidated map[string]bool
}

// NewTokenManager creates a new token manager.
func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultSkew
	}
	if cfg.AuthSkew <= 0 {
		cfg.AuthSkew = DefaultAuthSkew
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &TokenManager{
		cfg:         cfg,
		log:         log,
		metadata:    make(map[string]*AuthorizationServerMetadata),
		invalidated: make(map[string]bool),
	}
}

// Credential returns a credential for name whose access token can be sent
// now. An expired or invalidated token is refreshed; if that is impossible
// or fails, the interactive flow runs. Unknown names return ErrNotFound.
func (m *TokenManager) Credential(ctx context.Context, name string) (*Credential, error) {
	cred, err := m.cfg.Store.Load(name)
	if err != nil {
		return nil, err
	}

	if cred.ServerURL == "" {
		return nil, fmt.Errorf("no server URL stored for %q", name)
	}
	if cred.AccessToken != "" && !m.isInvalidated(name) && !cred.ExpiresWithin(m.cfg.Skew) {
		return cred, nil
	}

	renewed, err := m.renew(ctx, cred)
	if err != nil {
		return nil, err
	}
	m.clearInvalidated(name)
	return renewed, nil
}

// Invalidate marks the cached access token for name as rejected, so the next
// Credential call renews it. Nothing is written to the store.
func (m *TokenManager) Invalidate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated[name] = true
}

// Authenticate is the explicit auth entry point. Without Force it keeps a
// token valid beyond AuthSkew, then tries a refresh, and only then runs the
// interactive flow. A server URL is required for servers not on file.
func (m *TokenManager) Authenticate(ctx context.Context, req AuthRequest) (*AuthResult, error) {
	if req.Name == "" {
		return nil, errors.New("server name is required")
	}

	existing, err := m.cfg.Store.Load(req.Name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil && !req.Force {
		if existing.AccessToken != "" && !existing.ExpiresWithin(m.cfg.AuthSkew) {
			return &AuthResult{Credential: existing, Outcome: AlreadyValid}, nil
		}
		if existing.RefreshToken != "" {
			cred, err := m.Refresh(ctx, existing)
			if err == nil {
				return &AuthResult{Credential: cred, Outcome: Refreshed}, nil
			}
			m.log.Warn("refresh failed, starting full authentication", logging.Server(req.Name), logging.Err(err))
		}
	}

	serverURL, clientID := req.ServerURL, req.ClientID
	if existing != nil {
		if serverURL == "" {
			serverURL = existing.ServerURL
		}
		if clientID == "" {
			clientID = existing.ClientID
		}
	}
	if serverURL == "" {
		return nil, fmt.Errorf("server URL is required for new server %q", req.Name)
	}

	cred, err := m.interactive(ctx, req.Name, serverURL, clientID)
	if err != nil {
		return nil, err
	}
	m.clearInvalidated(req.Name)
	return &AuthResult{Credential: cred, Outcome: Authenticated}, nil
}

// Refresh exchanges cred's refresh token for a new access token and saves
// the result. The refresh token is kept unless the server rotates it.
func (m *TokenManager) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefresh)
	}

	md, err := m.metadataFor(ctx, cred.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefresh, err)
	}

	conf := &oauth2.Config{
		ClientID: cred.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.cfg.HTTPClient)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefresh, err)
	}

	updated := *cred
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.ExpiresAt = expiresAtMillis(tok)
	updated.Scopes = grantedScopes(tok, cred.Scopes)

	if err := m.cfg.Store.Save(&updated); err != nil {
		// The token is usable for this run; the next one will re-authenticate.
		m.log.Warn("failed to store refreshed token", logging.Server(cred.ServerName), logging.Err(err))
	}
	m.log.Debug("token refreshed", "server", cred.ServerName)
	return &updated, nil
}

// renew replaces an unusable token, preferring refresh over the browser.
func (m *TokenManager) renew(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred.RefreshToken != "" {
		refreshed, err := m.Refresh(ctx, cred)
		if err == nil {
			return refreshed, nil
		}
		m.log.Warn("refresh failed, starting full authentication", logging.Server(cred.ServerName), logging.Err(err))
	}
	return m.interactive(ctx, cred.ServerName, cred.ServerURL, cred.ClientID)
}

func (m *TokenManager) interactive(ctx context.Context, name, serverURL, clientID string) (*Credential, error) {
	fc := m.cfg.Flow
	fc.ServerName = name
	fc.ServerURL = serverURL
	fc.ClientID = clientID
	fc.Store = m.cfg.Store
	if fc.HTTPClient == nil {
		fc.HTTPClient = m.cfg.HTTPClient
	}
	if fc.Logger == nil {
		fc.Logger = m.log
	}
	return NewFlow(fc).Run(ctx)
}

func (m *TokenManager) metadataFor(ctx context.Context, serverURL string) (*AuthorizationServerMetadata, error) {
	m.mu.Lock()
	md, ok := m.metadata[serverURL]
	m.mu.Unlock()
	if ok {
		return md, nil
	}

	result, err := Discover(ctx, m.cfg.HTTPClient, serverURL)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.metadata[serverURL] = result.Metadata
	m.mu.Unlock()
	return result.Metadata, nil
}

func (m *TokenManager) isInvalidated(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidated[name]
}

func (m *TokenManager) clearInvalidated(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invalidated, name)
}
