// Package testutil provides common test utilities.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestHome creates an isolated $HOME directory for tests, so settings
// under ~/.config/as-mcp-cli and credentials under ~/.claude never touch the
// real user's files.
//
// The temp directory is automatically cleaned up when the test ends.
func SetupTestHome(t *testing.T) string {
	t.Helper()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpHome, ".config"))
	// TMPDIR for macOS
	t.Setenv("TMPDIR", tmpHome)

	for _, dir := range []string{
		filepath.Join(tmpHome, ".config", "as-mcp-cli"),
		filepath.Join(tmpHome, ".claude"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("create test dir: %v", err)
		}
	}

	return tmpHome
}

// WriteTestConfig writes a settings file to the isolated $HOME.
func WriteTestConfig(t *testing.T, configYAML string) string {
	t.Helper()

	home := os.Getenv("HOME")
	if home == "" {
		t.Fatal("HOME not set - call SetupTestHome first")
	}

	configPath := filepath.Join(home, ".config", "as-mcp-cli", "config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	return configPath
}

// WriteTestCredentials writes a raw credentials document to the isolated $HOME.
func WriteTestCredentials(t *testing.T, credentialsJSON string) string {
	t.Helper()

	home := os.Getenv("HOME")
	if home == "" {
		t.Fatal("HOME not set - call SetupTestHome first")
	}

	path := filepath.Join(home, ".claude", ".credentials.json")
	if err := os.WriteFile(path, []byte(credentialsJSON), 0600); err != nil {
		t.Fatalf("write test credentials: %v", err)
	}

	return path
}
