package mcptest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
)

func (s *Server) handleMetadata(underMCP bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.NoDiscovery || underMCP != s.cfg.DiscoveryUnderMCP {
			http.NotFound(w, r)
			return
		}
		md := map[string]any{
			"issuer":                           s.srv.URL,
			"authorization_endpoint":           s.srv.URL + "/authorize",
			"token_endpoint":                   s.srv.URL + "/token",
			"code_challenge_methods_supported": []string{"S256"},
		}
		if !s.cfg.NoRegistration {
			md["registration_endpoint"] = s.srv.URL + "/register"
		}
		writeJSON(w, http.StatusOK, md)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.registrations++
	s.mu.Unlock()

	if s.cfg.FailRegistration {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access_denied"})
		return
	}
	var req struct {
		ClientName string `json:"client_name"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	writeJSON(w, http.StatusCreated, map[string]string{"client_id": s.nextID("client")})
}

// handleAuthorize plays the user approving the request in the browser: it
// redirects straight back to redirect_uri with a code.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	last := make(map[string]string, len(q))
	for k := range q {
		last[k] = q.Get(k)
	}
	s.mu.Lock()
	s.authorizations++
	s.lastAuthRequest = last
	s.mu.Unlock()

	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Host == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	params := redirect.Query()
	state := q.Get("state")
	if s.cfg.StateOverride != "" {
		state = s.cfg.StateOverride
	}
	params.Set("state", state)

	if s.cfg.DenyWith != "" {
		params.Set("error", s.cfg.DenyWith)
		params.Set("error_description", "user denied access")
	} else {
		code := s.nextID("code")
		s.mu.Lock()
		s.codes[code] = q.Get("code_challenge")
		s.mu.Unlock()
		params.Set("code", code)
	}

	redirect.RawQuery = params.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.mu.Lock()
		s.exchanges++
		challenge, ok := s.codes[r.PostForm.Get("code")]
		delete(s.codes, r.PostForm.Get("code"))
		s.mu.Unlock()

		if s.cfg.FailExchange || !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "PKCE verification failed"})
			return
		}
		s.issueTokens(w, !s.cfg.OmitRefreshToken)

	case "refresh_token":
		s.mu.Lock()
		s.refreshes++
		s.mu.Unlock()

		if s.cfg.FailRefresh || r.PostForm.Get("refresh_token") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		s.issueTokens(w, false)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (s *Server) issueTokens(w http.ResponseWriter, withRefresh bool) {
	access := s.nextID("access")
	s.AddToken(access)

	resp := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"scope":        "openid profile email offline_access",
	}
	if !s.cfg.OmitExpiresIn {
		expiresIn := s.cfg.ExpiresIn
		if expiresIn == 0 {
			expiresIn = 3600
		}
		resp["expires_in"] = expiresIn
	}
	if withRefresh {
		resp["refresh_token"] = s.nextID("refresh")
	}
	writeJSON(w, http.StatusOK, resp)
}

// Browser returns an OpenBrowser func that follows the authorization URL
// like a user who approves immediately.
func (s *Server) Browser() func(string) error {
	return func(authURL string) error {
		resp, err := http.Get(authURL)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
