package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/mcp"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
	"github.com/vinay4appsentinels/as-mcp-cli/internal/runner"
)

func newMCPCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp <name> [--debug] <command...>",
		Short: "Run a command on an MCP server",
		Long: `Run a CLI command on the named MCP server and print its result.

Everything after the server name is sent as the command, flags included.

Examples:
  as-mcp-cli mcp appsentinels tenant all-tenants
  as-mcp-cli mcp appsentinels --debug app list --tenant acme`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, command := args[0], args[1:]
			// --debug is also accepted right after the server name.
			if len(command) > 0 && command[0] == "--debug" {
				command = command[1:]
				a.debug = true
				a.setLogger()
			}
			if len(command) == 0 {
				return fmt.Errorf("no command given for server %q", name)
			}
			return a.runMCP(cmd, name, command)
		},
	}
	// The command is passed through verbatim, so stop parsing flags at the
	// server name.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (a *app) runMCP(cmd *cobra.Command, name string, command []string) error {
	store, err := a.store()
	if err != nil {
		return err
	}

	r := runner.New(runner.Config{
		Credentials: a.tokenManager(store),
		Session: mcp.SessionConfig{
			HTTPClient:        a.httpClient,
			HandshakeTimeout:  a.settings.HandshakeTimeout,
			RequestTimeout:    a.settings.HTTPTimeout,
			InitializeTimeout: a.settings.InitializeTimeout,
			ResponseTimeout:   a.settings.ResponseTimeout,
			Version:           version,
			Logger:            a.logger,
		},
		Logger: a.logger,
	})

	result, err := r.Run(cmd.Context(), name, command)
	if errors.Is(err, oauth.ErrNotFound) {
		return notFound(store, name)
	}
	if err != nil {
		return err
	}
	return runner.Render(cmd.OutOrStdout(), result)
}
