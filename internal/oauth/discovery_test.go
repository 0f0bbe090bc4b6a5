package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func metadataHandler(t *testing.T, base func() string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 base(),
			"authorization_endpoint": base() + "/authorize",
			"token_endpoint":         base() + "/token",
			"registration_endpoint":  base() + "/register",
		})
	}
}

func TestDiscover_OriginWellKnown(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-authorization-server", metadataHandler(t, func() string { return srv.URL }))
	srv = httptest.NewServer(mux)
	defer srv.Close()

	result, err := Discover(context.Background(), srv.Client(), srv.URL+"/mcp/sse")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if result.Metadata.TokenEndpoint != srv.URL+"/token" {
		t.Errorf("TokenEndpoint: got %q", result.Metadata.TokenEndpoint)
	}
	if !result.Metadata.SupportsRegistration() {
		t.Error("SupportsRegistration: got false, want true")
	}
	if result.URL != srv.URL+"/.well-known/oauth-authorization-server" {
		t.Errorf("URL: got %q", result.URL)
	}
}

func TestDiscover_MCPPrefixFallback(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/.well-known/oauth-authorization-server", metadataHandler(t, func() string { return srv.URL }))
	srv = httptest.NewServer(mux)
	defer srv.Close()

	result, err := Discover(context.Background(), srv.Client(), srv.URL+"/mcp/sse")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if result.URL != srv.URL+"/mcp/.well-known/oauth-authorization-server" {
		t.Errorf("URL: got %q", result.URL)
	}
}

func TestDiscover_MissingRequiredFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"authorization_endpoint": "https://x/authorize"}`))
	}))
	defer srv.Close()

	_, err := Discover(context.Background(), srv.Client(), srv.URL+"/mcp/sse")
	if !errors.Is(err, ErrDiscovery) {
		t.Errorf("Discover error: got %v, want ErrDiscovery", err)
	}
}

func TestDiscover_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := Discover(context.Background(), nil, srv.URL+"/mcp/sse")
	if !errors.Is(err, ErrDiscovery) {
		t.Errorf("Discover error: got %v, want ErrDiscovery", err)
	}
}

func TestDiscover_InvalidURL(t *testing.T) {
	_, err := Discover(context.Background(), nil, "not a url")
	if !errors.Is(err, ErrDiscovery) {
		t.Errorf("Discover error: got %v, want ErrDiscovery", err)
	}
}

func TestDiscoverFromChallenge(t *testing.T) {
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resource":              srv.URL + "/mcp/sse",
			"authorization_servers": []string{srv.URL + "/tenant"},
		})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server/tenant", metadataHandler(t, func() string { return srv.URL + "/tenant" }))
	srv = httptest.NewServer(mux)
	defer srv.Close()

	result, err := DiscoverFromChallenge(context.Background(), srv.Client(), &BearerChallenge{
		ResourceMetadata: srv.URL + "/.well-known/oauth-protected-resource",
	})
	if err != nil {
		t.Fatalf("DiscoverFromChallenge failed: %v", err)
	}
	if result.Metadata.AuthorizationEndpoint != srv.URL+"/tenant/authorize" {
		t.Errorf("AuthorizationEndpoint: got %q", result.Metadata.AuthorizationEndpoint)
	}

	if _, err := DiscoverFromChallenge(context.Background(), srv.Client(), nil); !errors.Is(err, ErrDiscovery) {
		t.Errorf("nil challenge: got %v, want ErrDiscovery", err)
	}
}

func TestIssuerDiscoveryURLs(t *testing.T) {
	tests := []struct {
		issuer string
		want   []string
	}{
		{"https://auth.example.com", []string{"https://auth.example.com/.well-known/oauth-authorization-server"}},
		{"https://auth.example.com/", []string{"https://auth.example.com/.well-known/oauth-authorization-server"}},
		{"https://auth.example.com/tenant", []string{
			"https://auth.example.com/.well-known/oauth-authorization-server/tenant",
			"https://auth.example.com/tenant/.well-known/oauth-authorization-server",
			"https://auth.example.com/.well-known/oauth-authorization-server",
		}},
	}
	for _, tt := range tests {
		got := issuerDiscoveryURLs(tt.issuer)
		if len(got) != len(tt.want) {
			t.Errorf("issuerDiscoveryURLs(%q) = %v, want %v", tt.issuer, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("issuerDiscoveryURLs(%q)[%d] = %q, want %q", tt.issuer, i, got[i], tt.want[i])
			}
		}
	}
}
