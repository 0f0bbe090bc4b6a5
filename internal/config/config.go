// Package config loads user settings from
// ~/.config/as-mcp-cli/config.yaml and AS_MCP_CLI_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
)

const (
	configDir  = ".config/as-mcp-cli"
	configFile = "config.yaml"

	// EnvPrefix prefixes environment overrides, e.g. AS_MCP_CLI_CALLBACK_PORT.
	EnvPrefix = "AS_MCP_CLI"
)

// Setting keys.
const (
	KeyCredentialsPath   = "credentials_path"
	KeyCredentialStore   = "credential_store"
	KeyCallbackPort      = "callback_port"
	KeyScopes            = "scopes"
	KeyHandshakeTimeout  = "handshake_timeout"
	KeyInitializeTimeout = "initialize_timeout"
	KeyResponseTimeout   = "response_timeout"
	KeyAuthTimeout       = "auth_timeout"
	KeyHTTPTimeout       = "http_timeout"
	KeyLogLevel          = "log_level"
)

// Settings are the resolved user settings.
type Settings struct {
	// CredentialsPath is the credentials file used by the file store.
	CredentialsPath string
	// CredentialStore is "file", "keyring" or "auto".
	CredentialStore string
	// CallbackPort is the OAuth loopback port; 0 picks a free one.
	CallbackPort int
	Scopes       []string

	HandshakeTimeout  time.Duration
	InitializeTimeout time.Duration
	ResponseTimeout   time.Duration
	AuthTimeout       time.Duration
	HTTPTimeout       time.Duration

	LogLevel string

	// ConfigFile is the file that was read, empty when none was.
	ConfigFile string
}

// ConfigPath returns the full path to the default config file.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, configDir, configFile), nil
}

// Load resolves settings from defaults, the config file and the
// environment, in increasing precedence. An empty path means the default
// location, where a missing file is not an error; an explicit path must
// exist.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	used, err := readConfigFile(v, path)
	if err != nil {
		return nil, err
	}

	credentialsPath, err := expandPath(v.GetString(KeyCredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", KeyCredentialsPath, err)
	}

	s := &Settings{
		CredentialsPath:   credentialsPath,
		CredentialStore:   strings.ToLower(strings.TrimSpace(v.GetString(KeyCredentialStore))),
		CallbackPort:      v.GetInt(KeyCallbackPort),
		Scopes:            v.GetStringSlice(KeyScopes),
		HandshakeTimeout:  v.GetDuration(KeyHandshakeTimeout),
		InitializeTimeout: v.GetDuration(KeyInitializeTimeout),
		ResponseTimeout:   v.GetDuration(KeyResponseTimeout),
		AuthTimeout:       v.GetDuration(KeyAuthTimeout),
		HTTPTimeout:       v.GetDuration(KeyHTTPTimeout),
		LogLevel:          strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel))),
		ConfigFile:        used,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyCredentialsPath, "~/.claude/.credentials.json")
	v.SetDefault(KeyCredentialStore, string(oauth.StoreModeFile))
	v.SetDefault(KeyCallbackPort, oauth.DefaultCallbackPort)
	v.SetDefault(KeyScopes, oauth.DefaultScopes)
	v.SetDefault(KeyHandshakeTimeout, 15*time.Second)
	v.SetDefault(KeyInitializeTimeout, 30*time.Second)
	v.SetDefault(KeyResponseTimeout, 60*time.Second)
	v.SetDefault(KeyAuthTimeout, 5*time.Minute)
	v.SetDefault(KeyHTTPTimeout, 30*time.Second)
	v.SetDefault(KeyLogLevel, "warn")
}

func readConfigFile(v *viper.Viper, path string) (string, error) {
	explicit := path != ""
	if !explicit {
		def, err := ConfigPath()
		if err != nil {
			return "", nil
		}
		path = def
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", path, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	switch s.CredentialStore {
	case "file", "keyring", "auto":
	default:
		return fmt.Errorf("%s: unknown store %q (want file, keyring or auto)", KeyCredentialStore, s.CredentialStore)
	}
	if s.CallbackPort < 0 || s.CallbackPort > 65535 {
		return fmt.Errorf("%s: %d out of range", KeyCallbackPort, s.CallbackPort)
	}
	for key, d := range map[string]time.Duration{
		KeyHandshakeTimeout:  s.HandshakeTimeout,
		KeyInitializeTimeout: s.InitializeTimeout,
		KeyResponseTimeout:   s.ResponseTimeout,
		KeyAuthTimeout:       s.AuthTimeout,
		KeyHTTPTimeout:       s.HTTPTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s: unknown level %q", KeyLogLevel, s.LogLevel)
	}
	return nil
}

func expandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
