package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/logging"
)

// DefaultScopes are requested when no scopes are configured.
var DefaultScopes = []string{"openid", "profile", "email", "offline_access"}

// DefaultAuthTimeout bounds the wait for the browser callback.
const DefaultAuthTimeout = 5 * time.Minute

// FlowState is a step of the authorization-code flow.
type FlowState int

const (
	FlowStart FlowState = iota
	FlowDiscover
	FlowRegisterClient
	FlowAwaitCallback
	FlowExchange
	FlowDone
	FlowFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowStart:
		return "start"
	case FlowDiscover:
		return "discover"
	case FlowRegisterClient:
		return "register_client"
	case FlowAwaitCallback:
		return "await_callback"
	case FlowExchange:
		return "exchange"
	case FlowDone:
		return "done"
	case FlowFailed:
		return "failed"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// FlowConfig holds configuration for one interactive authorization.
type FlowConfig struct {
	// ServerName is the store key for the resulting credential.
	ServerName string

	// ServerURL is the SSE endpoint of the MCP server.
	ServerURL string

	// ClientID is a supplied or previously stored client id. When set,
	// dynamic registration is skipped.
	ClientID string

	// Scopes to request (DefaultScopes when empty).
	Scopes []string

	// CallbackPort for the loopback listener (0 = ephemeral).
	CallbackPort int

	// Store receives the credential after a successful exchange.
	Store CredentialStore

	// HTTPClient is used for discovery, registration and token requests.
	HTTPClient *http.Client

	// AuthTimeout bounds the wait for the browser callback.
	AuthTimeout time.Duration

	// OpenBrowser opens the authorization URL (system browser when nil).
	OpenBrowser func(url string) error

	// Notify is told the authorization URL before the browser is opened.
	Notify func(authURL string)

	// Wait wraps the blocking callback wait, e.g. to show a spinner.
	Wait func(ctx context.Context, wait func(context.Context) error) error

	Logger *slog.Logger
}

// Flow runs the OAuth 2.0 authorization-code flow with PKCE.
type Flow struct {
	cfg   FlowConfig
	log   *slog.Logger
	state FlowState
}

// NewFlow creates a new OAuth flow.
func NewFlow(cfg FlowConfig) *Flow {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultAuthTimeout
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.OpenBrowser == nil {
		cfg.OpenBrowser = openBrowser
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Flow{cfg: cfg, log: log.With("server", cfg.ServerName)}
}

// State returns the current step; FlowDone or FlowFailed after Run.
func (f *Flow) State() FlowState {
	return f.state
}

func (f *Flow) enter(s FlowState) {
	f.state = s
	f.log.Debug("oauth flow", "state", s.String())
}

// Run discovers the authorization server, obtains a client id, waits for the
// browser redirect, exchanges the code and saves the credential.
func (f *Flow) Run(ctx context.Context) (*Credential, error) {
	f.enter(FlowStart)
	cred, err := f.run(ctx)
	if err != nil {
		f.enter(FlowFailed)
		return nil, err
	}
	f.enter(FlowDone)
	return cred, nil
}

func (f *Flow) run(ctx context.Context) (*Credential, error) {
	if f.cfg.ServerName == "" || f.cfg.ServerURL == "" {
		return nil, errors.New("oauth flow: server name and URL are required")
	}

	f.enter(FlowDiscover)
	md, err := f.discover(ctx)
	if err != nil {
		return nil, err
	}

	// Bind before registering so the redirect URI carries the real port.
	callback, err := NewCallbackServer(f.cfg.CallbackPort)
	if err != nil {
		return nil, fmt.Errorf("start callback server: %w", err)
	}
	defer func() { _ = callback.Stop() }()
	redirectURI := callback.RedirectURI()

	clientID := f.cfg.ClientID
	if clientID == "" && md.SupportsRegistration() {
		f.enter(FlowRegisterClient)
		reg, err := RegisterClient(ctx, f.cfg.HTTPClient, md.RegistrationEndpoint, redirectURI, f.cfg.Scopes)
		if err != nil {
			f.log.Warn("dynamic client registration failed", logging.Err(err))
		} else {
			clientID = reg.ClientID
			f.log.Info("registered client", "client_id", clientID)
		}
	}
	if clientID == "" {
		return nil, ErrClientIDRequired
	}

	f.enter(FlowAwaitCallback)
	pkce, err := NewPKCEChallenge()
	if err != nil {
		return nil, fmt.Errorf("generate PKCE: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURI,
		Scopes:      f.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	authURL := conf.AuthCodeURL(pkce.State, oauth2.S256ChallengeOption(pkce.CodeVerifier))

	if f.cfg.Notify != nil {
		f.cfg.Notify(authURL)
	}
	if err := f.cfg.OpenBrowser(authURL); err != nil {
		f.log.Warn("could not open browser", logging.Err(err))
	}

	result, err := f.awaitCallback(ctx, callback)
	if err != nil {
		return nil, err
	}
	// Only one callback is accepted; release the port before the exchange.
	if err := callback.Stop(); err != nil {
		f.log.Debug("stopping callback server", logging.Err(err))
	}
	if result.Error != "" {
		msg := result.Error
		if result.ErrorDescription != "" {
			msg += ": " + result.ErrorDescription
		}
		return nil, fmt.Errorf("%w: %s", ErrAuthorizationDenied, msg)
	}
	if result.State != pkce.State {
		return nil, ErrStateMismatch
	}

	f.enter(FlowExchange)
	tok, err := conf.Exchange(f.clientContext(ctx), result.Code, oauth2.VerifierOption(pkce.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}

	cred := &Credential{
		ServerName:   f.cfg.ServerName,
		ServerURL:    f.cfg.ServerURL,
		ClientID:     clientID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAtMillis(tok),
		Scopes:       grantedScopes(tok, f.cfg.Scopes),
	}
	if f.cfg.Store != nil {
		if err := f.cfg.Store.Save(cred); err != nil {
			return nil, fmt.Errorf("store credentials: %w", err)
		}
	}
	return cred, nil
}

// discover tries the well-known documents and then a 401 challenge from the
// SSE endpoint itself.
func (f *Flow) discover(ctx context.Context) (*AuthorizationServerMetadata, error) {
	result, err := Discover(ctx, f.cfg.HTTPClient, f.cfg.ServerURL)
	if err == nil {
		return result.Metadata, nil
	}
	f.log.Debug("well-known discovery failed, trying resource challenge", logging.Err(err))

	challenge := f.probeChallenge(ctx)
	if challenge == nil || challenge.ResourceMetadata == "" {
		return nil, err
	}
	result, cerr := DiscoverFromChallenge(ctx, f.cfg.HTTPClient, challenge)
	if cerr != nil {
		return nil, fmt.Errorf("%w (challenge: %v)", err, cerr)
	}
	return result.Metadata, nil
}

// probeChallenge GETs the SSE endpoint without a token and returns the
// Bearer challenge of a 401, if any. The stream is never read.
func (f *Flow) probeChallenge(ctx context.Context) *BearerChallenge {
	ctx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.ServerURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("MCP-Protocol-Version", MCPProtocolVersion)

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}
	return ParseBearerChallenge(resp.Header)
}

func (f *Flow) awaitCallback(ctx context.Context, callback *CallbackServer) (*CallbackResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, f.cfg.AuthTimeout)
	defer cancel()

	var result *CallbackResult
	wait := func(ctx context.Context) error {
		r, err := callback.Wait(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	var err error
	if f.cfg.Wait != nil {
		err = f.cfg.Wait(waitCtx, wait)
	} else {
		err = wait(waitCtx)
	}
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrAuthTimeout, f.cfg.AuthTimeout)
		}
		return nil, err
	}
	return result, nil
}

func (f *Flow) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, f.cfg.HTTPClient)
}

// expiresAtMillis converts a token expiry to Unix milliseconds, assuming
// DefaultExpiresIn when the server sent no expires_in.
func expiresAtMillis(tok *oauth2.Token) int64 {
	if tok.Expiry.IsZero() {
		return time.Now().Add(DefaultExpiresIn).UnixMilli()
	}
	return tok.Expiry.UnixMilli()
}

func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(s) != "" {
		return strings.Fields(s)
	}
	return requested
}

// openBrowser opens the default browser to a URL.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
