// Package mcp implements the client side of the legacy MCP HTTP+SSE
// transport: a long-lived event stream for server messages and a POST
// channel for client requests.
package mcp

import "context"

// Transport is the interface for MCP transports.
type Transport interface {
	// Send sends a JSON-RPC message.
	Send(ctx context.Context, msg []byte) error
	// Receive reads the next JSON-RPC message.
	Receive(ctx context.Context) ([]byte, error)
	// Close closes the transport.
	Close() error
}
