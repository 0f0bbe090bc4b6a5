package oauth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultCallbackPort is the loopback port registered as redirect URI.
	DefaultCallbackPort = 8585

	callbackPath = "/callback"
)

// CallbackResult holds the query parameters of the OAuth redirect.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackServer is a single-use loopback listener for the OAuth redirect.
// The first request carrying a code or an error is delivered to Wait; any
// later request is answered with 410 Gone.
type CallbackServer struct {
	listener net.Listener
	server   *http.Server
	result   chan CallbackResult
	port     int

	deliver  sync.Once
	stopOnce sync.Once
	stopErr  error
}

// NewCallbackServer binds 127.0.0.1:port and starts serving. Port 0 picks
// an ephemeral port.
func NewCallbackServer(port int) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}

	s := &CallbackServer{
		listener: listener,
		result:   make(chan CallbackResult, 1),
		port:     listener.Addr().(*net.TCPAddr).Port,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handleCallback)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() { _ = s.server.Serve(listener) }()
	return s, nil
}

// Port returns the bound port.
func (s *CallbackServer) Port() int {
	return s.port
}

// RedirectURI returns the redirect URI to send to the authorization server.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, callbackPath)
}

// Wait blocks until the callback arrives or ctx is done.
func (s *CallbackServer) Wait(ctx context.Context) (*CallbackResult, error) {
	select {
	case result := <-s.result:
		return &result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop unbinds the port before returning. It is safe to call more than once.
func (s *CallbackServer) Stop() error {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.stopErr = s.server.Close()
		}
		// Shutdown only closes listeners Serve has already picked up.
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) && s.stopErr == nil {
			s.stopErr = err
		}
	})
	return s.stopErr
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result := CallbackResult{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	if result.Code == "" && result.Error == "" {
		renderCallbackPage(w, http.StatusBadRequest, "Error", "No authorization code received.")
		return
	}

	delivered := false
	s.deliver.Do(func() {
		s.result <- result
		delivered = true
	})
	if !delivered {
		renderCallbackPage(w, http.StatusGone, "Already Used", "This sign-in link has already been used.")
		return
	}

	if result.Error != "" {
		msg := result.ErrorDescription
		if msg == "" {
			msg = result.Error
		}
		renderCallbackPage(w, http.StatusBadRequest, "Authentication Failed", msg)
		return
	}
	renderCallbackPage(w, http.StatusOK, "Authentication Successful!", "You can close this window and return to the terminal.")
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>as-mcp-cli - {{.Title}}</title></head>
<body style="font-family: sans-serif; padding: 50px; text-align: center;">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>`))

func renderCallbackPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = callbackPage.Execute(w, struct{ Title, Message string }{title, message})
}
