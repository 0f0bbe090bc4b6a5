package mcp

import (
	"errors"
	"fmt"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
)

var (
	// ErrSessionSetup means the stream never supplied a message endpoint.
	ErrSessionSetup = errors.New("session setup failed")

	// ErrInitialize means the initialize handshake failed or went unanswered.
	ErrInitialize = errors.New("initialize failed")

	// ErrResponseTimeout means no response matched the request in time.
	ErrResponseTimeout = errors.New("response timeout")

	// ErrTransportClosed is returned once the transport or stream is gone.
	ErrTransportClosed = errors.New("transport closed")
)

// UnauthorizedError is returned on HTTP 401 responses from either the SSE
// GET or a message POST. Challenge is nil when the server sent no Bearer
// challenge.
type UnauthorizedError struct {
	Endpoint  string
	Challenge *oauth.BearerChallenge
}

func (e *UnauthorizedError) Error() string {
	if e.Challenge != nil && e.Challenge.Error != "" {
		return fmt.Sprintf("unauthorized (%s): %s", e.Challenge.Error, e.Endpoint)
	}
	return "unauthorized: " + e.Endpoint
}

// RemoteCommandError is a failure reported by the server itself, either a
// JSON-RPC error object or a tool result flagged isError.
type RemoteCommandError struct {
	Code    int
	Message string
	Data    any
}

func (e *RemoteCommandError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
	}
	return "remote error: " + e.Message
}
