package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/config"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/logging"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/runner"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/tui"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/tui/theme"
)

// Version information (set at build time via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

// app carries what every command needs. Tests replace httpClient and
// openBrowser.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// interactive is true when stderr is a terminal (spinners, colors).
	interactive bool
	// stdinTTY is true when prompts can read from a terminal.
	stdinTTY bool

	configPath string
	debug      bool

	settings *config.Settings
	logger   *slog.Logger
	theme    theme.Theme

	httpClient  *http.Client
	openBrowser func(string) error
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		theme:  theme.New(),
		logger: logging.Discard(),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "as-mcp-cli",
		Short: "Run AppSentinels CLI commands through an MCP server",
		Long: `as-mcp-cli authenticates with MCP servers over OAuth 2.0 (PKCE) and runs
commands on them over the MCP SSE transport.

Examples:
  as-mcp-cli add appsentinels https://mcp.appsentinels.ai/mcp/sse
  as-mcp-cli mcp appsentinels tenant all-tenants
  as-mcp-cli list`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		// Suppress errors from being printed twice
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Disable automatic completion command
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to settings file (default: ~/.config/as-mcp-cli/config.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging, including raw SSE frames")

	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(
		newMCPCommand(a),
		newAuthCommand(a),
		newAddCommand(a),
		newListCommand(a),
		newRemoveCommand(a),
	)
	return root
}

// execute runs the CLI and returns the process exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		a.printError(err)
		return 1
	}
	return 0
}

// init loads settings and builds the logger.
func (a *app) init() error {
	settings, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	a.settings = settings
	a.setLogger()
	return nil
}

func (a *app) setLogger() {
	level, err := logging.ParseLevel(a.settings.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	if a.debug {
		level = slog.LevelDebug
	}
	a.logger = logging.New(a.stderr, level)
	slog.SetDefault(a.logger)
}

func (a *app) printError(err error) {
	msg := a.theme.Danger.Render("Error:") + " " + err.Error()
	fmt.Fprintln(a.stderr, msg)

	var corrupt *oauth.CorruptStoreError
	switch {
	case errors.As(err, &corrupt):
		fmt.Fprintf(a.stderr, "Inspect or delete %s, then authenticate again.\n", corrupt.Path)
	case errors.Is(err, runner.ErrAuthenticationFailed):
		fmt.Fprintln(a.stderr, "Run 'as-mcp-cli auth <name> --force' to sign in again.")
	case errors.Is(err, oauth.ErrClientIDRequired):
		fmt.Fprintln(a.stderr, "Pass --client-id with a client registered for this server.")
	}
}

func (a *app) store() (oauth.CredentialStore, error) {
	return oauth.NewCredentialStore(oauth.StoreMode(a.settings.CredentialStore), a.settings.CredentialsPath)
}

func (a *app) client() *http.Client {
	if a.httpClient != nil {
		return a.httpClient
	}
	return &http.Client{Timeout: a.settings.HTTPTimeout}
}

func (a *app) tokenManager(store oauth.CredentialStore) *oauth.TokenManager {
	return oauth.NewTokenManager(oauth.TokenManagerConfig{
		Store:      store,
		HTTPClient: a.client(),
		Flow: oauth.FlowConfig{
			Scopes:       a.settings.Scopes,
			CallbackPort: a.settings.CallbackPort,
			AuthTimeout:  a.settings.AuthTimeout,
			OpenBrowser:  a.openBrowser,
			Notify:       a.notifyAuthURL,
			Wait: tui.Waiter(tui.WaitOptions{
				Label:       "Waiting for authorization in the browser",
				Interactive: a.interactive && a.stdinTTY,
				In:          a.stdin,
				Out:         a.stderr,
			}),
			Logger: a.logger,
		},
		Logger: a.logger,
	})
}

func (a *app) notifyAuthURL(authURL string) {
	if !a.interactive {
		fmt.Fprintf(a.stderr, "Open this URL to authorize:\n%s\n", authURL)
		return
	}
	content := "Opening your browser. If it does not open, visit:\n\n" + authURL
	fmt.Fprintln(a.stderr, a.theme.RenderPane("Authorize", content, max(len(authURL)+4, 60)))
}

// notFound explains an unknown server name, listing the known ones.
func notFound(store oauth.CredentialStore, name string) error {
	creds, err := store.List()
	if err != nil || len(creds) == 0 {
		return fmt.Errorf("server %q not found; add it with 'as-mcp-cli add %s <url>'", name, name)
	}
	names := make([]string, 0, len(creds))
	for _, c := range creds {
		names = append(names, c.ServerName)
	}
	sort.Strings(names)
	return fmt.Errorf("server %q not found; available servers: %s", name, strings.Join(names, ", "))
}
