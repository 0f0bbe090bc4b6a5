// Package runner executes one command against a named MCP server: it
// obtains a usable token, runs the SSE session and, when the server rejects
// the token, renews it and retries exactly once.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/logging"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/mcp"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
)

// ErrAuthenticationFailed means the server rejected the token again after
// it was renewed.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Credentials hands out access tokens. *oauth.TokenManager implements it.
type Credentials interface {
	// Credential returns a credential whose token can be sent now.
	Credential(ctx context.Context, name string) (*oauth.Credential, error)
	// Invalidate marks the current token for name as rejected.
	Invalidate(name string)
}

// ExecFunc runs a command in a fresh session. mcp.RunCommand is the default.
type ExecFunc func(ctx context.Context, cfg mcp.SessionConfig, args []string) (*mcp.ToolResult, error)

// Config configures a Runner.
type Config struct {
	Credentials Credentials

	// Session is the template for each session; URL and AccessToken are
	// filled in from the credential.
	Session mcp.SessionConfig

	// Exec overrides session execution.
	Exec ExecFunc

	Logger *slog.Logger
}

// Runner executes commands.
type Runner struct {
	creds   Credentials
	session mcp.SessionConfig
	exec    ExecFunc
	log     *slog.Logger
}

// New creates a Runner.
func New(cfg Config) *Runner {
	exec := cfg.Exec
	if exec == nil {
		exec = mcp.RunCommand
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		creds:   cfg.Credentials,
		session: cfg.Session,
		exec:    exec,
		log:     log,
	}
}

// Run executes args on the server registered as name. A 401 from the SSE
// GET or any POST invalidates the token, renews it and retries once; a
// second 401 is ErrAuthenticationFailed. Other errors are returned as-is.
func (r *Runner) Run(ctx context.Context, name string, args []string) (*mcp.ToolResult, error) {
	result, err := r.attempt(ctx, name, args)

	var unauthorized *mcp.UnauthorizedError
	if !errors.As(err, &unauthorized) {
		return result, err
	}

	r.log.Info("access token rejected, renewing", logging.Server(name), "endpoint", unauthorized.Endpoint)
	r.creds.Invalidate(name)

	result, err = r.attempt(ctx, name, args)
	if errors.As(err, &unauthorized) {
		return nil, fmt.Errorf("%w: %s rejected the renewed token: %w", ErrAuthenticationFailed, name, err)
	}
	return result, err
}

func (r *Runner) attempt(ctx context.Context, name string, args []string) (*mcp.ToolResult, error) {
	cred, err := r.creds.Credential(ctx, name)
	if err != nil {
		return nil, err
	}

	cfg := r.session
	cfg.URL = cred.ServerURL
	cfg.AccessToken = cred.AccessToken
	if cfg.Logger == nil {
		cfg.Logger = r.log
	}

	r.log.Debug("executing command", logging.Server(name), "url", cred.ServerURL, logging.Token(cred.AccessToken), "args", args)
	return r.exec(ctx, cfg, args)
}
