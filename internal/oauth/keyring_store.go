package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the system keychain.
	keyringService = "as-mcp-cli"

	// keyringIndexKey stores the list of server names.
	keyringIndexKey = "_index"
)

// keyringEntry is the JSON payload stored per server.
type keyringEntry struct {
	ServerName   string   `json:"serverName"`
	ServerURL    string   `json:"serverUrl"`
	ClientID     string   `json:"clientId,omitempty"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresAt    int64    `json:"expiresAt"`
	Scopes       []string `json:"scopes,omitempty"`
}

// KeyringStore stores credentials in the system keychain, one secret per
// server name plus an index secret listing the names.
type KeyringStore struct {
	mu sync.RWMutex
}

// NewKeyringStore creates a keyring-based credential store.
// Returns an error if the keyring is not available.
func NewKeyringStore() (*KeyringStore, error) {
	_, err := keyring.Get(keyringService, "_test_availability")
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	return &KeyringStore{}, nil
}

// Load retrieves the credential for a server name.
func (s *KeyringStore) Load(name string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(name)
}

// Save upserts a credential by server name.
func (s *KeyringStore) Save(cred *Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(keyringEntry(*cred))
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := keyring.Set(keyringService, cred.ServerName, string(data)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}

	names, err := s.loadIndex()
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == cred.ServerName {
			return nil
		}
	}
	return s.saveIndex(append(names, cred.ServerName))
}

// Remove deletes the credential for a server name.
func (s *KeyringStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := keyring.Delete(keyringService, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("keyring delete: %w", err)
	}

	names, err := s.loadIndex()
	if err != nil {
		return err
	}
	filtered := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			filtered = append(filtered, n)
		}
	}
	return s.saveIndex(filtered)
}

// List returns all stored credentials ordered by name.
func (s *KeyringStore) List() ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	creds := make([]*Credential, 0, len(names))
	for _, name := range names {
		cred, err := s.get(name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// get reads one credential (caller must hold lock).
func (s *KeyringStore) get(name string) (*Credential, error) {
	data, err := keyring.Get(keyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("keyring get: %w", err)
	}

	var e keyringEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, &CorruptStoreError{Path: "keyring:" + keyringService + "/" + name, Err: err}
	}
	cred := Credential(e)
	return &cred, nil
}

// loadIndex reads the list of stored server names (caller must hold lock).
func (s *KeyringStore) loadIndex() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndexKey)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("keyring get index: %w", err)
	}
	if data == "" {
		return []string{}, nil
	}

	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, &CorruptStoreError{Path: "keyring:" + keyringService + "/" + keyringIndexKey, Err: err}
	}
	return names, nil
}

// saveIndex writes the list of stored server names (caller must hold lock).
func (s *KeyringStore) saveIndex(names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := keyring.Set(keyringService, keyringIndexKey, string(data)); err != nil {
		return fmt.Errorf("keyring set index: %w", err)
	}
	return nil
}
