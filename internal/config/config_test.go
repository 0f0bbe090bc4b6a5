package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/testutil"
)

func TestLoad_Defaults(t *testing.T) {
	home := testutil.SetupTestHome(t)

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".claude", ".credentials.json"), s.CredentialsPath)
	assert.Equal(t, "file", s.CredentialStore)
	assert.Equal(t, 8585, s.CallbackPort)
	assert.Equal(t, []string{"openid", "profile", "email", "offline_access"}, s.Scopes)
	assert.Equal(t, 15*time.Second, s.HandshakeTimeout)
	assert.Equal(t, 30*time.Second, s.InitializeTimeout)
	assert.Equal(t, 60*time.Second, s.ResponseTimeout)
	assert.Equal(t, 5*time.Minute, s.AuthTimeout)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Empty(t, s.ConfigFile)
}

func TestLoad_ConfigFile(t *testing.T) {
	testutil.SetupTestHome(t)
	path := testutil.WriteTestConfig(t, `
credential_store: keyring
callback_port: 0
handshake_timeout: 5s
scopes: [openid, offline_access]
log_level: debug
`)

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, path, s.ConfigFile)
	assert.Equal(t, "keyring", s.CredentialStore)
	assert.Equal(t, 0, s.CallbackPort)
	assert.Equal(t, 5*time.Second, s.HandshakeTimeout)
	assert.Equal(t, []string{"openid", "offline_access"}, s.Scopes)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	testutil.SetupTestHome(t)
	testutil.WriteTestConfig(t, "callback_port: 9000\n")
	t.Setenv("AS_MCP_CLI_CALLBACK_PORT", "9100")
	t.Setenv("AS_MCP_CLI_RESPONSE_TIMEOUT", "2m")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9100, s.CallbackPort)
	assert.Equal(t, 2*time.Minute, s.ResponseTimeout)
}

func TestLoad_ExplicitPath(t *testing.T) {
	home := testutil.SetupTestHome(t)

	_, err := Load(filepath.Join(home, "missing.yaml"))
	assert.Error(t, err, "an explicit config file must exist")

	_, err = Load(home)
	assert.ErrorContains(t, err, "is a directory")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown store", "credential_store: vault\n", "credential_store"},
		{"port out of range", "callback_port: 70000\n", "callback_port"},
		{"zero timeout", "response_timeout: 0s\n", "response_timeout"},
		{"unknown level", "log_level: loud\n", "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.SetupTestHome(t)
			testutil.WriteTestConfig(t, tt.yaml)

			_, err := Load("")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
