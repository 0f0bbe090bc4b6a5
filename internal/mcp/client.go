package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion is the MCP revision spoken over the legacy SSE transport.
	ProtocolVersion = "2024-11-05"

	// ClientName identifies this client in initialize.
	ClientName = "as-mcp-cli"

	// ExecuteTool is the server tool that runs a CLI command line.
	ExecuteTool = "cli_execute"

	// DefaultInitializeTimeout bounds the initialize round-trip.
	DefaultInitializeTimeout = 30 * time.Second

	// DefaultResponseTimeout bounds a command round-trip.
	DefaultResponseTimeout = 60 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Version is reported in clientInfo.
	Version string

	InitializeTimeout time.Duration
	ResponseTimeout   time.Duration

	Logger *slog.Logger
}

// Client is a JSON-RPC client over a Transport. Requests carry fresh UUID
// ids and responses are matched by id; anything else on the stream is
// discarded.
type Client struct {
	transport Transport
	config    ClientConfig
	logger    *slog.Logger
	mu        sync.Mutex
	closed    bool

	// Server info from initialization
	serverName      string
	serverVersion   string
	protocolVersion string
}

// rpcRequest is a JSON-RPC 2.0 request. Notifications have no id.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response, or any other frame seen on the stream.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      requestID       `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// requestID accepts both string and numeric ids.
type requestID string

func (id *requestID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = requestID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = requestID(n.String())
	return nil
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// initializeParams is the params for the initialize request.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the result of the initialize request.
type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// NewClient creates a new MCP client with the given transport.
func NewClient(transport Transport, cfg ClientConfig) *Client {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.InitializeTimeout <= 0 {
		cfg.InitializeTimeout = DefaultInitializeTimeout
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		transport: transport,
		config:    cfg,
		logger:    logger,
	}
}

// Initialize performs the MCP initialization handshake and then sends
// notifications/initialized. Failures other than a 401 are ErrInitialize.
func (c *Client) Initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: clientInfo{
			Name:    ClientName,
			Version: c.config.Version,
		},
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.InitializeTimeout)
	defer cancel()

	var result initializeResult
	if err := c.SendAndAwait(callCtx, "initialize", params, &result); err != nil {
		var unauthorized *UnauthorizedError
		switch {
		case errors.As(err, &unauthorized):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w: no response within %s", ErrInitialize, c.config.InitializeTimeout)
		default:
			return fmt.Errorf("%w: %w", ErrInitialize, err)
		}
	}

	c.serverName = result.ServerInfo.Name
	c.serverVersion = result.ServerInfo.Version
	c.protocolVersion = result.ProtocolVersion
	c.logger.Debug("initialized", "server", c.serverName, "version", c.serverVersion, "protocol", c.protocolVersion)

	if err := c.notify(ctx, "notifications/initialized", nil); err != nil {
		var unauthorized *UnauthorizedError
		if errors.As(err, &unauthorized) {
			return err
		}
		return fmt.Errorf("%w: notifications/initialized: %w", ErrInitialize, err)
	}
	return nil
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() (name, version string) {
	return c.serverName, c.serverVersion
}

// Execute runs a command line on the server through the cli_execute tool.
// args are joined with single spaces.
func (c *Client) Execute(ctx context.Context, args []string) (*ToolResult, error) {
	return c.CallTool(ctx, ExecuteTool, map[string]any{"command": strings.Join(args, " ")})
}

// CallTool invokes a tool and waits up to ResponseTimeout for its result.
// A JSON-RPC error or a result flagged isError is a *RemoteCommandError.
func (c *Client) CallTool(ctx context.Context, name string, arguments any) (*ToolResult, error) {
	params := toolCallParams{
		Name:      name,
		Arguments: arguments,
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.ResponseTimeout)
	defer cancel()

	var raw json.RawMessage
	if err := c.SendAndAwait(callCtx, "tools/call", params, &raw); err != nil {
		var rpcErr *rpcError
		switch {
		case errors.As(err, &rpcErr):
			return nil, &RemoteCommandError{Code: rpcErr.Code, Message: rpcErr.Message, Data: rpcErr.Data}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: no response to %s within %s", ErrResponseTimeout, name, c.config.ResponseTimeout)
		default:
			return nil, fmt.Errorf("tools/call: %w", err)
		}
	}

	result := &ToolResult{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return nil, fmt.Errorf("unmarshal tools/call result: %w", err)
		}
	}
	if result.IsError {
		return nil, &RemoteCommandError{Message: result.Text(), Data: raw}
	}
	return result, nil
}

// toolCallParams is the params for tools/call.
type toolCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`

	// Raw is the undecoded result object.
	Raw json.RawMessage `json:"-"`
}

// Text joins the text of every text content block.
func (r *ToolResult) Text() string {
	var parts []string
	for _, block := range r.Content {
		if text, ok := block.Text(); ok {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentBlock represents a content block in a tool result.
// Uses json.RawMessage to preserve all fields, including non-text content.
type ContentBlock json.RawMessage

// MarshalJSON implements json.Marshaler.
func (c ContentBlock) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(c), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ContentBlock) UnmarshalJSON(data []byte) error {
	*c = append(ContentBlock(nil), data...)
	return nil
}

// Text returns the block's text if it is a text block.
func (c ContentBlock) Text() (string, bool) {
	var block struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(c, &block); err != nil || block.Type != "text" || block.Text == nil {
		return "", false
	}
	return *block.Text, true
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.transport.Close()
}

// SendAndAwait sends a request with a fresh id and reads the stream until
// the response carrying that id arrives. Frames with other ids, server
// notifications and undecodable frames are discarded. A JSON-RPC error
// object is returned as an error.
func (c *Client) SendAndAwait(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrTransportClosed
	}

	id := uuid.NewString()
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	if err := c.transport.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	for {
		respData, err := c.transport.Receive(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		var resp rpcResponse
		if err := json.Unmarshal(respData, &resp); err != nil {
			c.logger.Debug("discarding undecodable frame", "error", err)
			continue
		}

		if string(resp.ID) != id {
			c.logger.Debug("discarding frame", "id", string(resp.ID), "method", resp.Method, "want", id)
			continue
		}

		if resp.Error != nil {
			return resp.Error
		}

		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// notify sends a JSON-RPC notification (no response expected).
func (c *Client) notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrTransportClosed
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return c.transport.Send(ctx, data)
}
