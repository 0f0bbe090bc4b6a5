package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
)

func newAuthCommand(a *app) *cobra.Command {
	var (
		serverURL string
		clientID  string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "auth <name>",
		Short: "Authenticate with an MCP server",
		Long: `Make sure a usable token is stored for the named server.

A valid token is kept, an expiring one is refreshed, and otherwise the
browser-based OAuth flow runs. --server-url registers a new server.

Examples:
  as-mcp-cli auth appsentinels
  as-mcp-cli auth appsentinels --force
  as-mcp-cli auth staging --server-url https://staging.example.com/mcp/sse`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.authenticate(cmd, oauth.AuthRequest{
				Name:      args[0],
				ServerURL: serverURL,
				ClientID:  clientID,
				Force:     force,
			})
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "", "SSE URL of the server (required for a new server)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client ID (skips dynamic registration)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Run the browser flow even if a valid token exists")

	return cmd
}

func (a *app) authenticate(cmd *cobra.Command, req oauth.AuthRequest) error {
	store, err := a.store()
	if err != nil {
		return err
	}

	if req.ServerURL == "" {
		if _, err := store.Load(req.Name); errors.Is(err, oauth.ErrNotFound) {
			return fmt.Errorf("%w (or pass --server-url)", notFound(store, req.Name))
		}
	}

	res, err := a.tokenManager(store).Authenticate(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var msg string
	switch res.Outcome {
	case oauth.AlreadyValid:
		msg = fmt.Sprintf("Token for %q is already valid", req.Name)
	case oauth.Refreshed:
		msg = fmt.Sprintf("Refreshed token for %q", req.Name)
	default:
		msg = fmt.Sprintf("Authenticated with %q", req.Name)
	}
	fmt.Fprintf(out, "%s %s: %s\n", a.theme.Success.Render("✓"), msg, a.theme.TokenStatus(res.Credential.Status()))
	return nil
}
