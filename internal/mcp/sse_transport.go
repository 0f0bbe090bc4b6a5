package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
)

const (
	// DefaultHandshakeTimeout bounds the wait for the endpoint event.
	DefaultHandshakeTimeout = 15 * time.Second

	// DefaultRequestTimeout bounds a single message POST.
	DefaultRequestTimeout = 30 * time.Second

	// maxPostResponseSize caps a JSON body returned inline by a POST.
	maxPostResponseSize = 1024 * 1024
)

// SSEConfig configures an SSE transport.
type SSEConfig struct {
	// URL is the SSE endpoint, e.g. "https://host/mcp/sse".
	URL string

	// AccessToken is sent as a Bearer credential on every request.
	AccessToken string

	// Client is the base HTTP client. If nil, a default is used.
	Client *http.Client

	// HandshakeTimeout bounds the wait for the endpoint event.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds each POST.
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// SSETransport implements Transport over the legacy MCP HTTP+SSE protocol:
// server messages arrive as "message" events on a GET stream, client
// messages are POSTed to the endpoint announced by the "endpoint" event.
type SSETransport struct {
	config    SSEConfig
	sseClient *http.Client // no overall timeout, the stream is long-lived
	rpcClient *http.Client
	logger    *slog.Logger

	endpointURL   string
	sessionID     string
	endpointReady chan struct{}
	endpointOnce  sync.Once

	messages chan []byte
	mu       sync.Mutex
	inline   [][]byte // JSON bodies returned directly by POSTs

	body      io.ReadCloser
	cancel    context.CancelFunc
	group     *errgroup.Group
	done      chan struct{}
	streamErr error
	closeOnce sync.Once
}

// Connect opens the SSE stream and blocks until the server announces the
// message endpoint. A 401 on the GET is returned as *UnauthorizedError; a
// missing endpoint event within HandshakeTimeout is ErrSessionSetup. The
// stream is bound to ctx: cancelling it tears the connection down.
func Connect(ctx context.Context, cfg SSEConfig) (*SSETransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: server URL is required", ErrSessionSetup)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	rpcClient := cloneHTTPClient(cfg.Client, cfg.RequestTimeout)
	rpcClient.Timeout = cfg.RequestTimeout

	t := &SSETransport{
		config:        cfg,
		sseClient:     cloneHTTPClient(cfg.Client, cfg.RequestTimeout),
		rpcClient:     rpcClient,
		logger:        logger,
		endpointReady: make(chan struct{}),
		messages:      make(chan []byte, 16),
		done:          make(chan struct{}),
	}

	streamCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrSessionSetup, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.authorize(req)

	logger.Debug("opening SSE stream", "url", cfg.URL)
	resp, err := t.sseClient.Do(req)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: GET %s: %w", ErrSessionSetup, cfg.URL, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		cancel()
		return nil, &UnauthorizedError{
			Endpoint:  cfg.URL,
			Challenge: oauth.ParseBearerChallenge(resp.Header),
		}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: GET %s: unexpected status %s", ErrSessionSetup, cfg.URL, resp.Status)
	}

	t.body = resp.Body
	g, gctx := errgroup.WithContext(streamCtx)
	t.group = g
	g.Go(func() error { return t.readLoop(gctx) })
	go func() {
		t.streamErr = g.Wait()
		close(t.done)
	}()

	timer := time.NewTimer(cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-t.endpointReady:
		logger.Debug("SSE session established", "endpoint", t.endpointURL, "session_id", t.sessionID)
		return t, nil
	case <-t.done:
		_ = t.Close()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: stream ended before endpoint event: %w", ErrSessionSetup, t.streamError())
	case <-timer.C:
		_ = t.Close()
		return nil, fmt.Errorf("%w: no endpoint event within %s", ErrSessionSetup, cfg.HandshakeTimeout)
	case <-ctx.Done():
		_ = t.Close()
		return nil, ctx.Err()
	}
}

// readLoop consumes the stream one whole event at a time until it ends or
// the transport is closed.
func (t *SSETransport) readLoop(ctx context.Context) error {
	defer close(t.messages)

	scanner := newSSEScanner(t.body, MaxSSEEventSize)
	for {
		event, err := scanner.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream ended by server")
			}
			return err
		}
		t.logger.Debug("SSE frame", "event", event.Event, "data", string(event.Data))

		switch event.Event {
		case "endpoint":
			endpoint, err := resolveEndpoint(t.config.URL, string(event.Data))
			if err != nil {
				t.logger.Warn("ignoring endpoint event", "error", err)
				continue
			}
			t.endpointOnce.Do(func() {
				t.endpointURL = endpoint
				t.sessionID = sessionIDFrom(endpoint)
				close(t.endpointReady)
			})

		case "", "message":
			if len(bytes.TrimSpace(event.Data)) == 0 {
				continue
			}
			select {
			case t.messages <- event.Data:
			case <-ctx.Done():
				return ctx.Err()
			}

		default:
			t.logger.Debug("ignoring SSE event", "event", event.Event)
		}
	}
}

// Send POSTs msg to the message endpoint.
func (t *SSETransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-t.endpointReady:
	default:
		return fmt.Errorf("%w: no message endpoint", ErrSessionSetup)
	}
	select {
	case <-t.done:
		return fmt.Errorf("%w: %w", ErrTransportClosed, t.streamError())
	default:
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpointURL, bytes.NewReader(msg))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	t.authorize(req)

	t.logger.Debug("POST", "url", t.endpointURL, "body", string(msg))
	resp, err := t.rpcClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", t.endpointURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &UnauthorizedError{
			Endpoint:  t.endpointURL,
			Challenge: oauth.ParseBearerChallenge(resp.Header),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("POST %s: unexpected status %s: %s", t.endpointURL, resp.Status, strings.TrimSpace(string(body)))
	}

	// Some servers answer inline instead of on the stream.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPostResponseSize))
		if err != nil {
			return fmt.Errorf("read POST response: %w", err)
		}
		if body = bytes.TrimSpace(body); len(body) > 0 && json.Valid(body) {
			t.mu.Lock()
			t.inline = append(t.inline, body)
			t.mu.Unlock()
		}
	}
	return nil
}

// Receive returns the next server message.
func (t *SSETransport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	if len(t.inline) > 0 {
		msg := t.inline[0]
		t.inline = t.inline[1:]
		t.mu.Unlock()
		return msg, nil
	}
	t.mu.Unlock()

	select {
	case msg, ok := <-t.messages:
		if !ok {
			<-t.done
			return nil, fmt.Errorf("%w: %w", ErrTransportClosed, t.streamError())
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the stream and waits for the read loop to exit. It is
// safe to call more than once.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		if t.body != nil {
			_ = t.body.Close()
			<-t.done
		}
		t.logger.Debug("SSE stream closed", "session_id", t.sessionID)
	})
	return nil
}

// EndpointURL returns the message endpoint announced by the server.
func (t *SSETransport) EndpointURL() string {
	return t.endpointURL
}

// SessionID returns the session id carried by the endpoint URL.
func (t *SSETransport) SessionID() string {
	return t.sessionID
}

func (t *SSETransport) streamError() error {
	if t.streamErr == nil {
		return ErrTransportClosed
	}
	return t.streamErr
}

func (t *SSETransport) authorize(req *http.Request) {
	if t.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.AccessToken)
	}
}

// resolveEndpoint turns endpoint event data into an absolute URL. The data
// may be an absolute URL, a path, or a JSON object with a "url" field. Paths
// resolve against the SSE URL with a trailing "/mcp/sse" removed, or against
// its origin when it has no such suffix.
func resolveEndpoint(sseURL, data string) (string, error) {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "{") {
		var obj struct {
			URL      string `json:"url"`
			Endpoint string `json:"endpoint"`
		}
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			return "", fmt.Errorf("parse endpoint object: %w", err)
		}
		data = obj.URL
		if data == "" {
			data = obj.Endpoint
		}
	}
	if data == "" {
		return "", errors.New("empty endpoint")
	}

	ref, err := url.Parse(data)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	base, err := url.Parse(sseURL)
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}
	prefix := ""
	if p, ok := strings.CutSuffix(strings.TrimSuffix(base.Path, "/"), "/mcp/sse"); ok {
		prefix = p
	}
	if !strings.HasPrefix(data, "/") {
		data = "/" + data
	}

	resolved, err := url.Parse(base.Scheme + "://" + base.Host + prefix + data)
	if err != nil {
		return "", fmt.Errorf("resolve endpoint: %w", err)
	}
	return resolved.String(), nil
}

func sessionIDFrom(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	q := u.Query()
	if id := q.Get("sessionId"); id != "" {
		return id
	}
	return q.Get("session_id")
}
