package oauth

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	credentialsDir  = ".claude"
	credentialsFile = ".credentials.json"

	// oauthSection is the top-level key holding MCP OAuth entries.
	oauthSection = "mcpOAuth"
)

// fileEntry is the on-disk shape of a single mcpOAuth entry.
type fileEntry struct {
	ServerName   string      `json:"serverName"`
	ServerURL    string      `json:"serverUrl"`
	ClientID     string      `json:"clientId,omitempty"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	ExpiresAt    epochMillis `json:"expiresAt"`
	Scope        string      `json:"scope,omitempty"`
	Scopes       []string    `json:"scopes,omitempty"`
}

// epochMillis is a Unix millisecond timestamp. Other writers of the file may
// store it as a fractional number; the fraction is dropped.
type epochMillis int64

func (m *epochMillis) UnmarshalJSON(data []byte) error {
	text := string(bytes.TrimSpace(data))
	if text == "null" {
		*m = 0
		return nil
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		*m = epochMillis(n)
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("expiresAt: want a number, got %s", text)
	}
	*m = epochMillis(f)
	return nil
}

func (e fileEntry) credential() *Credential {
	scopes := e.Scopes
	if len(scopes) == 0 && e.Scope != "" {
		scopes = strings.Fields(e.Scope)
	}
	return &Credential{
		ServerName:   e.ServerName,
		ServerURL:    e.ServerURL,
		ClientID:     e.ClientID,
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		ExpiresAt:    int64(e.ExpiresAt),
		Scopes:       scopes,
	}
}

// FileStore stores credentials in the shared credentials JSON document.
// Keys and sections it does not manage are preserved on rewrite.
type FileStore struct {
	path string
	mu   sync.RWMutex
}

// DefaultCredentialsPath returns ~/.claude/.credentials.json.
func DefaultCredentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, credentialsDir, credentialsFile), nil
}

// NewFileStore creates a file-based credential store at the default path.
func NewFileStore() (*FileStore, error) {
	path, err := DefaultCredentialsPath()
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path}, nil
}

// NewFileStoreAt creates a file store at a specific path.
func NewFileStoreAt(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the credentials file location.
func (s *FileStore) Path() string {
	return s.path
}

// EntryKey builds the document key for a server: "<name>|<hash>", where hash
// is the first 16 hex chars of md5(authority + path) of the server URL. The
// authority includes userinfo when the URL carries any.
func EntryKey(name, serverURL string) string {
	hostPath := serverURL
	if u, err := url.Parse(serverURL); err == nil {
		authority := u.Host
		if u.User != nil {
			authority = u.User.String() + "@" + u.Host
		}
		hostPath = authority + u.Path
	}
	sum := md5.Sum([]byte(hostPath))
	return name + "|" + hex.EncodeToString(sum[:])[:16]
}

// Load retrieves the credential for a server name. When several entries
// carry the name, one with both a token and a URL is preferred; an entry
// without them is still returned so callers can reuse its URL and client id.
func (s *FileStore) Load(name string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	entries, err := s.entries(doc)
	if err != nil {
		return nil, err
	}
	decoded, err := s.decodeAll(entries)
	if err != nil {
		return nil, err
	}

	var fallback *fileEntry
	for _, key := range sortedKeys(entries) {
		e := decoded[key]
		if e.ServerName != name {
			continue
		}
		if e.AccessToken != "" && e.ServerURL != "" {
			return e.credential(), nil
		}
		if fallback == nil {
			fallback = &e
		}
	}
	if fallback != nil {
		return fallback.credential(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Save upserts a credential by server name. Any other entries with the same
// name are replaced, and unrecognized fields of the old entry are carried over.
func (s *FileStore) Save(cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	entries, err := s.entries(doc)
	if err != nil {
		return err
	}

	decoded, err := s.decodeAll(entries)
	if err != nil {
		return err
	}

	key := EntryKey(cred.ServerName, cred.ServerURL)
	merged := map[string]json.RawMessage{}
	for _, k := range sortedKeys(entries) {
		if decoded[k].ServerName != cred.ServerName {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(entries[k], &raw); err == nil {
			for field, v := range raw {
				merged[field] = v
			}
		}
		delete(entries, k)
	}

	fields, err := json.Marshal(fileEntry{
		ServerName:   cred.ServerName,
		ServerURL:    cred.ServerURL,
		ClientID:     cred.ClientID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    epochMillis(cred.ExpiresAt),
		Scope:        strings.Join(cred.Scopes, " "),
	})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	var managed map[string]json.RawMessage
	if err := json.Unmarshal(fields, &managed); err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	// Managed fields that are now empty must not survive from the old entry.
	for _, field := range []string{"clientId", "refreshToken", "scope", "scopes"} {
		delete(merged, field)
	}
	for field, v := range managed {
		merged[field] = v
	}

	entry, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	entries[key] = entry
	return s.write(doc, entries)
}

// Remove deletes every entry for a server name.
func (s *FileStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	entries, err := s.entries(doc)
	if err != nil {
		return err
	}

	decoded, err := s.decodeAll(entries)
	if err != nil {
		return err
	}

	found := false
	for k, e := range decoded {
		if e.ServerName == name {
			delete(entries, k)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.write(doc, entries)
}

// List returns one credential per server name, ordered by name.
func (s *FileStore) List() ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	entries, err := s.entries(doc)
	if err != nil {
		return nil, err
	}

	decoded, err := s.decodeAll(entries)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	creds := make([]*Credential, 0, len(entries))
	for _, k := range sortedKeys(entries) {
		e := decoded[k]
		if e.ServerName == "" || seen[e.ServerName] {
			continue
		}
		seen[e.ServerName] = true
		creds = append(creds, e.credential())
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].ServerName < creds[j].ServerName })
	return creds, nil
}

// read parses the whole document (caller must hold lock).
// A missing file is an empty document.
func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptStoreError{Path: s.path, Err: err}
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

// entries extracts the mcpOAuth section of doc.
func (s *FileStore) entries(doc map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	entries := map[string]json.RawMessage{}
	raw, ok := doc[oauthSection]
	if !ok {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &CorruptStoreError{Path: s.path, Err: fmt.Errorf("%s: %w", oauthSection, err)}
	}
	if entries == nil {
		entries = map[string]json.RawMessage{}
	}
	return entries, nil
}

// write replaces the document atomically (caller must hold lock).
func (s *FileStore) write(doc, entries map[string]json.RawMessage) error {
	section, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	doc[oauthSection] = section

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	// Write to a temp file in the same directory, then rename over the target.
	tmp, err := os.CreateTemp(dir, credentialsFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync credentials: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return fmt.Errorf("chmod credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename credentials: %w", err)
	}
	return nil
}

// decodeAll decodes every entry of the section. A single undecodable entry
// makes the whole store corrupt.
func (s *FileStore) decodeAll(entries map[string]json.RawMessage) (map[string]fileEntry, error) {
	decoded := make(map[string]fileEntry, len(entries))
	for key, raw := range entries {
		e, err := decodeEntry(raw)
		if err != nil {
			return nil, &CorruptStoreError{Path: s.path, Err: fmt.Errorf("%s[%q]: %w", oauthSection, key, err)}
		}
		decoded[key] = e
	}
	return decoded, nil
}

func decodeEntry(raw json.RawMessage) (fileEntry, error) {
	if t := bytes.TrimSpace(raw); len(t) == 0 || t[0] != '{' {
		return fileEntry{}, errors.New("entry is not an object")
	}
	var e fileEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return fileEntry{}, err
	}
	return e, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
