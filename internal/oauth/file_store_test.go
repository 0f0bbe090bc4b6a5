package oauth

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestCredential(name string) *Credential {
	return &Credential{
		ServerName:   name,
		ServerURL:    "https://mcp.example.com/mcp/sse",
		ClientID:     "client-123",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).UnixMilli(),
		Scopes:       []string{"openid", "profile"},
	}
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	store := NewFileStoreAt(filepath.Join(t.TempDir(), "creds.json"))
	cred := newTestCredential("appsentinels")

	if err := store.Save(cred); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load("appsentinels")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ServerURL != cred.ServerURL {
		t.Errorf("ServerURL: got %q, want %q", got.ServerURL, cred.ServerURL)
	}
	if got.ClientID != cred.ClientID {
		t.Errorf("ClientID: got %q, want %q", got.ClientID, cred.ClientID)
	}
	if got.AccessToken != cred.AccessToken {
		t.Errorf("AccessToken: got %q, want %q", got.AccessToken, cred.AccessToken)
	}
	if got.RefreshToken != cred.RefreshToken {
		t.Errorf("RefreshToken: got %q, want %q", got.RefreshToken, cred.RefreshToken)
	}
	if got.ExpiresAt != cred.ExpiresAt {
		t.Errorf("ExpiresAt: got %d, want %d", got.ExpiresAt, cred.ExpiresAt)
	}
	if strings.Join(got.Scopes, " ") != "openid profile" {
		t.Errorf("Scopes: got %v", got.Scopes)
	}
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := NewFileStoreAt(filepath.Join(t.TempDir(), "creds.json"))

	_, err := store.Load("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load error: got %v, want ErrNotFound", err)
	}

	creds, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(creds) != 0 {
		t.Errorf("List: got %d entries, want 0", len(creds))
	}
}

func TestFileStore_OnDiskFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store := NewFileStoreAt(path)
	cred := newTestCredential("appsentinels")

	if err := store.Save(cred); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var doc struct {
		MCPOAuth map[string]map[string]any `json:"mcpOAuth"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	key := EntryKey("appsentinels", cred.ServerURL)
	entry, ok := doc.MCPOAuth[key]
	if !ok {
		t.Fatalf("entry %q missing, got keys %v", key, doc.MCPOAuth)
	}
	for _, field := range []string{"serverName", "serverUrl", "clientId", "accessToken", "refreshToken", "expiresAt", "scope"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("field %q missing from entry", field)
		}
	}
	if entry["scope"] != "openid profile" {
		t.Errorf("scope: got %v, want %q", entry["scope"], "openid profile")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode: got %o, want 600", info.Mode().Perm())
	}
}

func TestEntryKey(t *testing.T) {
	key := EntryKey("appsentinels", "https://mcp.example.com/mcp/sse")

	name, hash, ok := strings.Cut(key, "|")
	if !ok {
		t.Fatalf("key %q has no separator", key)
	}
	if name != "appsentinels" {
		t.Errorf("name: got %q", name)
	}
	if len(hash) != 16 {
		t.Errorf("hash length: got %d, want 16", len(hash))
	}

	// Userinfo is part of the authority that is hashed.
	withUser := EntryKey("appsentinels", "https://u:p@mcp.example.com/mcp/sse")
	sum := md5.Sum([]byte("u:p@mcp.example.com/mcp/sse"))
	if want := "appsentinels|" + hex.EncodeToString(sum[:])[:16]; withUser != want {
		t.Errorf("EntryKey with userinfo: got %q, want %q", withUser, want)
	}

	// Scheme and query do not participate in the hash.
	other := EntryKey("appsentinels", "http://mcp.example.com/mcp/sse?x=1")
	if other != key {
		t.Errorf("EntryKey should only hash host+path: %q vs %q", other, key)
	}
}

func TestFileStore_PreservesUnknownContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	seed := `{
  "claudeAiOauth": {"accessToken": "keep-me"},
  "mcpOAuth": {
    "other|0000000000000000": {"serverName": "other", "serverUrl": "https://other/mcp/sse", "accessToken": "o", "expiresAt": 1, "custom": 42},
    "appsentinels|1111111111111111": {"serverName": "appsentinels", "serverUrl": "https://mcp.example.com/mcp/sse", "accessToken": "old", "expiresAt": 1, "discoveryState": "x"}
  }
}`
	if err := os.WriteFile(path, []byte(seed), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	store := NewFileStoreAt(path)
	if err := store.Save(newTestCredential("appsentinels")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := top["claudeAiOauth"]; !ok {
		t.Error("unrelated top-level section was dropped")
	}
	var section map[string]map[string]any
	if err := json.Unmarshal(top["mcpOAuth"], &section); err != nil {
		t.Fatalf("unmarshal mcpOAuth: %v", err)
	}

	if _, ok := section["appsentinels|1111111111111111"]; ok {
		t.Error("stale entry for the same name should be replaced")
	}
	if got := section["other|0000000000000000"]["custom"]; got != float64(42) {
		t.Errorf("unknown field on other entry: got %v, want 42", got)
	}
	entry := section[EntryKey("appsentinels", "https://mcp.example.com/mcp/sse")]
	if entry == nil {
		t.Fatal("new entry missing")
	}
	if entry["discoveryState"] != "x" {
		t.Errorf("unknown field on replaced entry: got %v, want %q", entry["discoveryState"], "x")
	}
	if entry["accessToken"] != "access-token" {
		t.Errorf("accessToken: got %v", entry["accessToken"])
	}
}

func TestFileStore_Remove(t *testing.T) {
	store := NewFileStoreAt(filepath.Join(t.TempDir(), "creds.json"))

	if err := store.Save(newTestCredential("a")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(newTestCredential("b")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Remove("a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Load("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Remove: got %v, want ErrNotFound", err)
	}
	if _, err := store.Load("b"); err != nil {
		t.Errorf("Load(b) after Remove(a): %v", err)
	}

	if err := store.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove: got %v, want ErrNotFound", err)
	}
}

func TestFileStore_ListSortedAndDeduplicated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	seed := `{"mcpOAuth": {
  "zeta|a": {"serverName": "zeta", "serverUrl": "https://z/mcp/sse", "accessToken": "z", "expiresAt": 1},
  "alpha|a": {"serverName": "alpha", "serverUrl": "https://a/mcp/sse", "accessToken": "a1", "expiresAt": 1},
  "alpha|b": {"serverName": "alpha", "serverUrl": "https://a2/mcp/sse", "accessToken": "a2", "expiresAt": 1}
}}`
	if err := os.WriteFile(path, []byte(seed), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	creds, err := NewFileStoreAt(path).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("List: got %d entries, want 2", len(creds))
	}
	if creds[0].ServerName != "alpha" || creds[1].ServerName != "zeta" {
		t.Errorf("order: got %q, %q", creds[0].ServerName, creds[1].ServerName)
	}
}

func TestFileStore_LoadPrefersUsableEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	seed := `{"mcpOAuth": {
  "svc|a": {"serverName": "svc", "serverUrl": "https://s/mcp/sse"},
  "svc|b": {"serverName": "svc", "serverUrl": "https://s/mcp/sse", "accessToken": "tok", "expiresAt": 1}
}}`
	if err := os.WriteFile(path, []byte(seed), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := NewFileStoreAt(path).Load("svc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.AccessToken != "tok" {
		t.Errorf("AccessToken: got %q, want %q", got.AccessToken, "tok")
	}
}

func TestFileStore_LoadTokenlessEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	seed := `{"mcpOAuth": {"stale|a": {"serverName": "stale", "serverUrl": "https://s/mcp/sse", "clientId": "c1", "accessToken": ""}}}`
	if err := os.WriteFile(path, []byte(seed), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	store := NewFileStoreAt(path)

	got, err := store.Load("stale")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ServerURL != "https://s/mcp/sse" || got.ClientID != "c1" {
		t.Errorf("Load: got %+v", got)
	}
	if got.Authenticated() {
		t.Error("an entry without a token is not authenticated")
	}

	if err := store.Remove("stale"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Load("stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Remove: got %v, want ErrNotFound", err)
	}
}

func TestFileStore_FractionalExpiresAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	seed := `{"mcpOAuth": {"svc|a": {"serverName": "svc", "serverUrl": "https://s/mcp/sse", "accessToken": "tok", "expiresAt": 1893456000000.5}}}`
	if err := os.WriteFile(path, []byte(seed), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := NewFileStoreAt(path).Load("svc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ExpiresAt != 1893456000000 {
		t.Errorf("ExpiresAt: got %d, want 1893456000000", got.ExpiresAt)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	store := NewFileStoreAt(path)

	_, err := store.Load("x")
	if !errors.Is(err, ErrCorruptStore) {
		t.Fatalf("Load error: got %v, want ErrCorruptStore", err)
	}
	var corrupt *CorruptStoreError
	if !errors.As(err, &corrupt) || corrupt.Path != path {
		t.Errorf("CorruptStoreError path: got %+v", corrupt)
	}

	// A corrupt document must never be overwritten.
	if err := store.Save(newTestCredential("x")); !errors.Is(err, ErrCorruptStore) {
		t.Errorf("Save error: got %v, want ErrCorruptStore", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Errorf("corrupt file was modified: %q", data)
	}
}

func TestFileStore_CorruptEntries(t *testing.T) {
	tests := []struct {
		name string
		seed string
	}{
		{"section not an object", `{"mcpOAuth": ["svc"]}`},
		{"entry not an object", `{"mcpOAuth": {"svc|a": "garbage"}}`},
		{"string expiresAt", `{"mcpOAuth": {"svc|a": {"serverName": "svc", "serverUrl": "https://s/mcp/sse", "accessToken": "tok", "expiresAt": "1893456000000"}}}`},
		{"numeric serverName", `{"mcpOAuth": {"svc|a": {"serverName": 7, "serverUrl": "https://s/mcp/sse", "accessToken": "tok"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "creds.json")
			if err := os.WriteFile(path, []byte(tt.seed), 0600); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}
			store := NewFileStoreAt(path)

			if _, err := store.Load("svc"); !errors.Is(err, ErrCorruptStore) {
				t.Errorf("Load error: got %v, want ErrCorruptStore", err)
			}
			if _, err := store.List(); !errors.Is(err, ErrCorruptStore) {
				t.Errorf("List error: got %v, want ErrCorruptStore", err)
			}
			if err := store.Remove("svc"); !errors.Is(err, ErrCorruptStore) {
				t.Errorf("Remove error: got %v, want ErrCorruptStore", err)
			}
			if err := store.Save(newTestCredential("svc")); !errors.Is(err, ErrCorruptStore) {
				t.Errorf("Save error: got %v, want ErrCorruptStore", err)
			}

			var corrupt *CorruptStoreError
			if _, err := store.Load("svc"); !errors.As(err, &corrupt) || corrupt.Path != path {
				t.Errorf("CorruptStoreError path: got %+v", corrupt)
			}

			data, _ := os.ReadFile(path)
			if string(data) != tt.seed {
				t.Errorf("corrupt file was modified: %q", data)
			}
		})
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStoreAt(filepath.Join(dir, "creds.json"))

	for range 3 {
		if err := store.Save(newTestCredential("appsentinels")); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory should only hold the credentials file, got %v", names)
	}
}

func TestFileStore_SaveRejectsInvalid(t *testing.T) {
	store := NewFileStoreAt(filepath.Join(t.TempDir(), "creds.json"))

	err := store.Save(&Credential{ServerName: "x", ServerURL: "https://x", AccessToken: "a", ExpiresAt: 1})
	if err == nil {
		t.Fatal("expected error saving expired credential without refresh token")
	}
}
