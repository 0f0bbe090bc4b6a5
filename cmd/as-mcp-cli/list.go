package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
)

func newListCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List MCP servers with stored credentials",
		Long: `List all MCP servers with stored credentials and their token status.

By default, outputs a human-readable table. Use --json for machine-readable output.

Examples:
  as-mcp-cli list
  as-mcp-cli list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			creds, err := store.List()
			if err != nil {
				return err
			}
			if asJSON {
				return a.listJSON(cmd, creds)
			}
			return a.listTable(cmd, creds)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func (a *app) listJSON(cmd *cobra.Command, creds []*oauth.Credential) error {
	type serverView struct {
		Name          string   `json:"name"`
		URL           string   `json:"url"`
		Status        string   `json:"status"`
		Authenticated bool     `json:"authenticated"`
		ExpiresAt     string   `json:"expiresAt,omitempty"`
		Scopes        []string `json:"scopes,omitempty"`
	}

	views := make([]serverView, len(creds))
	for i, c := range creds {
		views[i] = serverView{
			Name:          c.ServerName,
			URL:           c.ServerURL,
			Status:        c.Status(),
			Authenticated: c.Authenticated(),
			Scopes:        c.Scopes,
		}
		if c.ExpiresAt > 0 {
			views[i].ExpiresAt = time.UnixMilli(c.ExpiresAt).UTC().Format(time.RFC3339)
		}
	}

	data, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func (a *app) listTable(cmd *cobra.Command, creds []*oauth.Credential) error {
	out := cmd.OutOrStdout()
	if len(creds) == 0 {
		fmt.Fprintln(out, "No servers configured")
		return nil
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(a.theme.Border).
		Headers("NAME", "URL", "STATUS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return a.theme.Header
			}
			return a.theme.Cell
		})
	for _, c := range creds {
		t.Row(c.ServerName, c.ServerURL, a.theme.TokenStatus(c.Status()))
	}

	fmt.Fprintln(out, t.Render())
	return nil
}
