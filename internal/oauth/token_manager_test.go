package oauth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/mcptest"
)

func newTestManager(t *testing.T, srv *mcptest.Server) (*TokenManager, *FileStore) {
	t.Helper()
	store := NewFileStoreAt(filepath.Join(t.TempDir(), "creds.json"))
	m := NewTokenManager(TokenManagerConfig{
		Store:      store,
		HTTPClient: srv.Client(),
		Flow: FlowConfig{
			AuthTimeout: 5 * time.Second,
			OpenBrowser: srv.Browser(),
		},
	})
	return m, store
}

func seed(t *testing.T, store CredentialStore, cred *Credential) {
	t.Helper()
	if err := store.Save(cred); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestTokenManager_ReturnsValidToken(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{})
	m, store := newTestManager(t, srv)
	seed(t, store, &Credential{
		ServerName:  "appsentinels",
		ServerURL:   srv.SSEURL(),
		AccessToken: "cached",
		ExpiresAt:   time.Now().Add(time.Hour).UnixMilli(),
	})

	cred, err := m.Credential(context.Background(), "appsentinels")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred.AccessToken != "cached" {
		t.Errorf("AccessToken: got %q, want %q", cred.AccessToken, "cached")
	}

	c := srv.Counts()
	if c.Refreshes+c.Exchanges+c.Authorizations != 0 {
		t.Errorf("a valid token must not touch the authorization server: %+v", c)
	}
}

func TestTokenManager_RefreshesExpiredToken(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{})
	m, store := newTestManager(t, srv)
	seed(t, store, &Credential{
		ServerName:   "appsentinels",
		ServerURL:    srv.SSEURL(),
		ClientID:     "client-1",
		AccessToken:  "old",
		RefreshToken: "refresh-old",
		ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
	})

	cred, err := m.Credential(context.Background(), "appsentinels")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred.AccessToken == "old" {
		t.Error("AccessToken was not refreshed")
	}
	if cred.RefreshToken != "refresh-old" {
		t.Errorf("RefreshToken: got %q, want the unrotated one", cred.RefreshToken)
	}

	stored, err := store.Load("appsentinels")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stored.AccessToken != cred.AccessToken || stored.IsExpired() {
		t.Errorf("refreshed credential not persisted: %+v", stored)
	}
	if n := srv.Counts().Authorizations; n != 0 {
		t.Errorf("Authorizations: got %d, want 0", n)
	}
}

func TestTokenManager_SkewTriggersRefresh(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{})
	m, store := newTestManager(t, srv)
	seed(t, store, &Credential{
		ServerName:   "appsentinels",
		ServerURL:    srv.SSEURL(),
		AccessToken:  "about-to-expire",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(10 * time.Second).UnixMilli(),
	})

	cred, err := m.Credential(context.Background(), "appsentinels")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred.AccessToken == "about-to-expire" {
		t.Error("token inside the skew margin should be refreshed")
	}
}

func TestTokenManager_ExpiredWithoutRefreshRunsInteractiveFlow(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{})
	m, store := newTestManager(t, srv)

	// Written directly: Save refuses credentials in this state.
	writeRaw(t, store.Path(), `{"mcpOAuth": {"appsentinels|x": {"serverName": "appsentinels", "serverUrl": "`+srv.SSEURL()+`", "clientId": "client-9", "accessToken": "dead", "expiresAt": 1}}}`)

	cred, err := m.Credential(context.Background(), "appsentinels")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred.AccessToken == "dead" {
		t.Error("expected a new access token")
	}
	if cred.ClientID != "client-9" {
		t.Errorf("ClientID: got %q, want stored id reused", cred.ClientID)
	}

	c := srv.Counts()
	if c.Authorizations != 1 || c.Exchanges != 1 {
		t.Errorf("expected one interactive authorization and exchange, got %+v", c)
	}
	if c.Registrations != 0 {
		t.Errorf("Registrations: got %d, want 0 (stored client id takes precedence)", c.Registrations)
	}
}

func TestTokenManager_RefreshFailureFallsBackToInteractive(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{FailRefresh: true})
	m, store := newTestManager(t, srv)
	seed(t, store, &Credential{
		ServerName:   "appsentinels",
		ServerURL:    srv.SSEURL(),
		ClientID:     "client-1",
		AccessToken:  "old",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
	})

	cred, err := m.Credential(context.Background(), "appsentinels")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred.AccessToken == "old" {
		t.Error("expected a new access token")
	}

	c := srv.Counts()
	if c.Refreshes != 1 || c.Authorizations != 1 {
		t.Errorf("expected one failed refresh then one authorization, got %+v", c)
	}
}

func TestTokenManager_Invalidate(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{})
	m, store := newTestManager(t, srv)
	seed(t, store, &Credential{
		ServerName:   "appsentinels",
		ServerURL:    srv.SSEURL(),
		AccessToken:  "rejected",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
	})

	m.Invalidate("appsentinels")
	cred, err := m.Credential(context.Background(), "appsentinels")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred.AccessToken == "rejected" {
		t.Error("invalidated token must not be handed out again")
	}

	// The renewed token is stored and no longer invalidated.
	again, err := m.Credential(context.Background(), "appsentinels")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if again.AccessToken != cred.AccessToken {
		t.Errorf("AccessToken: got %q, want %q", again.AccessToken, cred.AccessToken)
	}
	if n := srv.Counts().Refreshes; n != 1 {
		t.Errorf("Refreshes: got %d, want 1", n)
	}
}

func TestTokenManager_UnknownServer(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{})
	m, _ := newTestManager(t, srv)

	_, err := m.Credential(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Credential error: got %v, want ErrNotFound", err)
	}
}

func TestTokenManager_Authenticate(t *testing.T) {
	t.Run("new server requires URL", func(t *testing.T) {
		srv := mcptest.NewServer(t, mcptest.Config{})
		m, _ := newTestManager(t, srv)

		if _, err := m.Authenticate(context.Background(), AuthRequest{Name: "new"}); err == nil {
			t.Fatal("expected error without server URL")
		}
	})

	t.Run("new server", func(t *testing.T) {
		srv := mcptest.NewServer(t, mcptest.Config{})
		m, store := newTestManager(t, srv)

		res, err := m.Authenticate(context.Background(), AuthRequest{Name: "new", ServerURL: srv.SSEURL()})
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Outcome != Authenticated {
			t.Errorf("Outcome: got %s, want authenticated", res.Outcome)
		}
		if _, err := store.Load("new"); err != nil {
			t.Errorf("credential not stored: %v", err)
		}
	})

	t.Run("valid token kept", func(t *testing.T) {
		srv := mcptest.NewServer(t, mcptest.Config{})
		m, store := newTestManager(t, srv)
		seed(t, store, &Credential{
			ServerName: "s", ServerURL: srv.SSEURL(), AccessToken: "a",
			ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
		})

		res, err := m.Authenticate(context.Background(), AuthRequest{Name: "s"})
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Outcome != AlreadyValid {
			t.Errorf("Outcome: got %s, want already valid", res.Outcome)
		}
	})

	t.Run("token inside auth skew is refreshed", func(t *testing.T) {
		srv := mcptest.NewServer(t, mcptest.Config{})
		m, store := newTestManager(t, srv)
		seed(t, store, &Credential{
			ServerName: "s", ServerURL: srv.SSEURL(), AccessToken: "a", RefreshToken: "r",
			ExpiresAt: time.Now().Add(2 * time.Minute).UnixMilli(),
		})

		res, err := m.Authenticate(context.Background(), AuthRequest{Name: "s"})
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Outcome != Refreshed {
			t.Errorf("Outcome: got %s, want refreshed", res.Outcome)
		}
	})

	t.Run("force runs the flow", func(t *testing.T) {
		srv := mcptest.NewServer(t, mcptest.Config{})
		m, store := newTestManager(t, srv)
		seed(t, store, &Credential{
			ServerName: "s", ServerURL: srv.SSEURL(), ClientID: "kept", AccessToken: "a",
			ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
		})

		res, err := m.Authenticate(context.Background(), AuthRequest{Name: "s", Force: true})
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Outcome != Authenticated {
			t.Errorf("Outcome: got %s, want authenticated", res.Outcome)
		}
		if res.Credential.ClientID != "kept" {
			t.Errorf("ClientID: got %q, want stored id", res.Credential.ClientID)
		}
	})

	t.Run("supplied client id wins over stored", func(t *testing.T) {
		srv := mcptest.NewServer(t, mcptest.Config{})
		m, store := newTestManager(t, srv)
		seed(t, store, &Credential{
			ServerName: "s", ServerURL: srv.SSEURL(), ClientID: "stored", AccessToken: "a",
			ExpiresAt: time.Now().Add(time.Hour).UnixMilli(),
		})

		res, err := m.Authenticate(context.Background(), AuthRequest{Name: "s", ClientID: "supplied", Force: true})
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Credential.ClientID != "supplied" {
			t.Errorf("ClientID: got %q, want %q", res.Credential.ClientID, "supplied")
		}
	})
}

func TestAuthOutcome_String(t *testing.T) {
	if Refreshed.String() != "refreshed" {
		t.Errorf("String: got %q", Refreshed.String())
	}
}

func TestTokenManager_TokenlessEntryAuthenticates(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{})
	m, store := newTestManager(t, srv)
	// An entry left behind without a token, but with a far expiry.
	writeRaw(t, store.Path(), `{"mcpOAuth": {"stale|x": {"serverName": "stale", "serverUrl": "`+srv.SSEURL()+`", "accessToken": "", "expiresAt": 4102444800000}}}`)

	cred, err := m.Credential(context.Background(), "stale")
	if err != nil {
		t.Fatalf("Credential failed: %v", err)
	}
	if cred.AccessToken == "" {
		t.Error("expected a fresh access token")
	}
	if n := srv.Counts().Authorizations; n != 1 {
		t.Errorf("Authorizations: got %d, want 1", n)
	}

	stored, err := store.Load("stale")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if stored.AccessToken != cred.AccessToken {
		t.Errorf("stored AccessToken: got %q, want %q", stored.AccessToken, cred.AccessToken)
	}
}

func TestTokenManager_AuthenticateReusesStoredURL(t *testing.T) {
	srv := mcptest.NewServer(t, mcptest.Config{})
	m, store := newTestManager(t, srv)
	writeRaw(t, store.Path(), `{"mcpOAuth": {"stale|x": {"serverName": "stale", "serverUrl": "`+srv.SSEURL()+`", "clientId": "client-7", "accessToken": ""}}}`)

	res, err := m.Authenticate(context.Background(), AuthRequest{Name: "stale"})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if res.Outcome != Authenticated {
		t.Errorf("Outcome: got %s, want authenticated", res.Outcome)
	}
	if res.Credential.ServerURL != srv.SSEURL() || res.Credential.ClientID != "client-7" {
		t.Errorf("Credential: got %+v", res.Credential)
	}
	if n := srv.Counts().Registrations; n != 0 {
		t.Errorf("Registrations: got %d, want 0 (stored client id reused)", n)
	}
}
