package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/oauth"
)

func newRemoveCommand(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an MCP server and its stored credentials",
		Long: `Remove an MCP server and its stored credentials.

By default, prompts for confirmation. Use --yes to skip the prompt.

Examples:
  as-mcp-cli remove staging
  as-mcp-cli remove staging --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			store, err := a.store()
			if err != nil {
				return err
			}
			if _, err := store.Load(name); err != nil {
				if errors.Is(err, oauth.ErrNotFound) {
					return notFound(store, name)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if !yes {
				ok, err := a.confirm(fmt.Sprintf("Remove server %q?", name))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Cancelled")
					return nil
				}
			}

			if err := store.Remove(name); err != nil {
				if errors.Is(err, oauth.ErrNotFound) {
					return notFound(store, name)
				}
				return err
			}
			fmt.Fprintf(out, "Removed server %q\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

// confirm asks a yes/no question, with a form on a terminal and a plain
// [y/N] prompt otherwise.
func (a *app) confirm(question string) (bool, error) {
	if a.interactive && a.stdinTTY {
		var ok bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(question).
					Affirmative("Remove").
					Negative("Cancel").
					Value(&ok),
			),
		).WithTheme(huh.ThemeBase16())
		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return false, nil
			}
			return false, err
		}
		return ok, nil
	}

	fmt.Fprintf(a.stderr, "%s [y/N] ", question)
	response, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && response == "" {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
