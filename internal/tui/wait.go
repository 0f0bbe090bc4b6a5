// Package tui holds the interactive pieces of the CLI.
package tui

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/tui/theme"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// WaitOptions configures Wait.
type WaitOptions struct {
	// Label is shown next to the spinner.
	Label string

	// Interactive enables the spinner. When false, Wait just runs fn.
	Interactive bool

	In  io.Reader
	Out io.Writer
}

// Wait runs fn while showing a spinner. Pressing esc or ctrl+c cancels the
// context passed to fn. Wait always returns fn's error, after fn returned.
func Wait(ctx context.Context, opts WaitOptions, fn func(context.Context) error) error {
	if !opts.Interactive {
		return fn(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fnErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		fnErr = fn(ctx)
	}()

	var progOpts []tea.ProgramOption
	if opts.In != nil {
		progOpts = append(progOpts, tea.WithInput(opts.In))
	}
	if opts.Out != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Out))
	}

	p := tea.NewProgram(newWaitModel(opts.Label, cancel, done), progOpts...)
	if _, err := p.Run(); err != nil {
		cancel()
	}

	<-done
	return fnErr
}

// Waiter adapts Wait to the oauth flow's Wait hook.
func Waiter(opts WaitOptions) func(context.Context, func(context.Context) error) error {
	return func(ctx context.Context, fn func(context.Context) error) error {
		return Wait(ctx, opts, fn)
	}
}

type waitDoneMsg struct{}

// waitModel shows a spinner until done closes.
type waitModel struct {
	spinner  spinner.Model
	label    string
	theme    theme.Theme
	keys     KeyBindings
	cancel   context.CancelFunc
	done     <-chan struct{}
	finished bool
	canceled bool
}

func newWaitModel(label string, cancel context.CancelFunc, done <-chan struct{}) waitModel {
	th := theme.New()
	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(th.Primary))
	return waitModel{
		spinner: s,
		label:   label,
		theme:   th,
		keys:    NewKeyBindings(),
		cancel:  cancel,
		done:    done,
	}
}

// Init implements tea.Model.
func (m waitModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForDone())
}

func (m waitModel) waitForDone() tea.Cmd {
	return func() tea.Msg {
		<-m.done
		return waitDoneMsg{}
	}
}

// Update implements tea.Model.
func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case waitDoneMsg:
		m.finished = true
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.CtrlC) || key.Matches(msg, m.keys.Cancel) {
			// fn sees the cancellation and returns; waitDoneMsg follows.
			m.canceled = true
			m.cancel()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m waitModel) View() string {
	if m.finished {
		return ""
	}
	if m.canceled {
		return m.theme.Warn.Render("Cancelling...") + "\n"
	}
	return m.spinner.View() + " " + m.theme.Base.Render(m.label) + " " +
		m.theme.Faint.Render("(esc to cancel)") + "\n"
}
