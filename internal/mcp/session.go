package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// SessionConfig configures one command session.
type SessionConfig struct {
	// URL is the SSE endpoint.
	URL         string
	AccessToken string
	HTTPClient  *http.Client

	HandshakeTimeout  time.Duration
	RequestTimeout    time.Duration
	InitializeTimeout time.Duration
	ResponseTimeout   time.Duration

	// Version is reported to the server in clientInfo.
	Version string

	Logger *slog.Logger
}

// Session is an initialized MCP session over one SSE stream.
type Session struct {
	transport *SSETransport
	client    *Client
}

// Open connects the stream, waits for the message endpoint and performs
// the initialize handshake. The stream is closed if any step fails.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	transport, err := Connect(ctx, SSEConfig{
		URL:              cfg.URL,
		AccessToken:      cfg.AccessToken,
		Client:           cfg.HTTPClient,
		HandshakeTimeout: cfg.HandshakeTimeout,
		RequestTimeout:   cfg.RequestTimeout,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	client := NewClient(transport, ClientConfig{
		Version:           cfg.Version,
		InitializeTimeout: cfg.InitializeTimeout,
		ResponseTimeout:   cfg.ResponseTimeout,
		Logger:            cfg.Logger,
	})
	if err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Session{transport: transport, client: client}, nil
}

// SessionID returns the server-assigned session id.
func (s *Session) SessionID() string {
	return s.transport.SessionID()
}

// Client returns the session's JSON-RPC client.
func (s *Session) Client() *Client {
	return s.client
}

// Execute runs one command line on the server.
func (s *Session) Execute(ctx context.Context, args []string) (*ToolResult, error) {
	return s.client.Execute(ctx, args)
}

// Close releases the stream.
func (s *Session) Close() error {
	return s.client.Close()
}

// RunCommand opens a session, executes args and closes the session on
// every path.
func RunCommand(ctx context.Context, cfg SessionConfig, args []string) (*ToolResult, error) {
	session, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if cfg.Logger != nil {
		name, version := session.Client().ServerInfo()
		cfg.Logger.Debug("running command", "session_id", session.SessionID(), "server_name", name, "server_version", version)
	}
	return session.Execute(ctx, args)
}
