package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
)

func newAddCommand(a *app) *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add an MCP server and authenticate with it",
		Long: `Add an MCP server by name and run the browser-based OAuth flow.

Adding an existing name replaces its URL and token.

Examples:
  as-mcp-cli add appsentinels https://mcp.appsentinels.ai/mcp/sse
  as-mcp-cli add internal https://mcp.internal/mcp/sse --client-id my-client`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rawURL := args[0], args[1]
			u, err := url.Parse(rawURL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("invalid server URL %q: must be an http(s) URL", rawURL)
			}
			return a.authenticate(cmd, oauth.AuthRequest{
				Name:      name,
				ServerURL: rawURL,
				ClientID:  clientID,
				Force:     true,
			})
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth client ID (skips dynamic registration)")

	return cmd
}
