// Package mcptest provides an in-process fake of an OAuth-protected MCP
// server speaking the legacy HTTP+SSE transport.
package mcptest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Config controls the behaviour of the fake server.
type Config struct {
	// FailPOSTs answers the first N message POSTs with 401.
	FailPOSTs int

	// FailGETs answers the first N SSE GETs with 401.
	FailGETs int

	// Challenge is sent as WWW-Authenticate on 401 responses.
	Challenge string

	// WithholdEndpoint keeps the stream open without an endpoint event.
	WithholdEndpoint bool

	// EndpointData overrides the endpoint event payload. It receives the
	// server root URL and the session id.
	EndpointData func(root, sessionID string) string

	// InterleaveForeign sends a frame with an unrelated id before every response.
	InterleaveForeign bool

	// Tool handles tools/call. The default echoes the command argument.
	Tool ToolHandler

	// OAuth behaviour.
	NoRegistration   bool
	FailRegistration bool
	FailExchange     bool
	FailRefresh      bool
	OmitExpiresIn    bool
	OmitRefreshToken bool
	ExpiresIn        int
	// DiscoveryUnderMCP serves metadata only at /mcp/.well-known/...
	DiscoveryUnderMCP bool
	// NoDiscovery disables the well-known documents entirely.
	NoDiscovery bool
	// StateOverride makes /authorize redirect with a different state.
	StateOverride string
	// DenyWith makes /authorize redirect with error=DenyWith.
	DenyWith string
}

// Server is a fake MCP + OAuth server.
type Server struct {
	t   *testing.T
	cfg Config
	srv *httptest.Server

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	tokens   map[string]bool
	sessions map[string]*session
	codes    map[string]string // code -> challenge
	seq      int

	gets, posts     int
	methods         map[string]int
	commands        []string
	registrations   int
	exchanges       int
	refreshes       int
	authorizations  int
	lastAuthRequest map[string]string
}

// NewServer starts a fake server and registers its shutdown with t.Cleanup.
func NewServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	s := &Server{
		t:        t,
		cfg:      cfg,
		done:     make(chan struct{}),
		tokens:   make(map[string]bool),
		sessions: make(map[string]*session),
		codes:    make(map[string]string),
		methods:  make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	mux.HandleFunc("/mcp/message", s.handleMessage)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata(false))
	mux.HandleFunc("/mcp/.well-known/oauth-authorization-server", s.handleMetadata(true))
	mux.HandleFunc("/register", s.handleRegister)
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Close shuts the server down, dropping open streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.srv.CloseClientConnections()
		s.srv.Close()
	})
}

// Root returns the server origin.
func (s *Server) Root() string { return s.srv.URL }

// SSEURL returns the SSE endpoint, ".../mcp/sse".
func (s *Server) SSEURL() string { return s.srv.URL + "/mcp/sse" }

// Client returns an HTTP client for the server.
func (s *Server) Client() *http.Client { return s.srv.Client() }

// AddToken makes token acceptable as a bearer credential.
func (s *Server) AddToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = true
}

// RevokeToken stops accepting token.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Counts is a snapshot of the requests the server has seen.
type Counts struct {
	GETs           int
	POSTs          int
	Methods        map[string]int
	Registrations  int
	Exchanges      int
	Refreshes      int
	Authorizations int
}

// Counts returns a snapshot of request counters.
func (s *Server) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	methods := make(map[string]int, len(s.methods))
	for k, v := range s.methods {
		methods[k] = v
	}
	return Counts{
		GETs:           s.gets,
		POSTs:          s.posts,
		Methods:        methods,
		Registrations:  s.registrations,
		Exchanges:      s.exchanges,
		Refreshes:      s.refreshes,
		Authorizations: s.authorizations,
	}
}

// Commands returns the command strings received through tools/call.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// LastAuthRequest returns the query of the last /authorize request.
func (s *Server) LastAuthRequest() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthRequest
}

// authorized checks the bearer token (caller must not hold the lock).
func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[token]
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	if s.cfg.Challenge != "" {
		w.Header().Set("WWW-Authenticate", s.cfg.Challenge)
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func (s *Server) nextID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}
