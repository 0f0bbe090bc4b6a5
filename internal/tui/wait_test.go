package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// updateModel calls Update and returns the waitModel.
func updateModel(t *testing.T, m waitModel, msg tea.Msg) (waitModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	wm, ok := next.(waitModel)
	require.True(t, ok, "unexpected model type %T", next)
	return wm, cmd
}

func TestWait_NonInteractiveRunsFn(t *testing.T) {
	want := errors.New("timed out")
	calls := 0

	err := Wait(context.Background(), WaitOptions{Label: "waiting"}, func(context.Context) error {
		calls++
		return want
	})

	assert.ErrorIs(t, err, want)
	assert.Equal(t, 1, calls)
}

func TestWaitModel_DoneQuits(t *testing.T) {
	done := make(chan struct{})
	close(done)
	m := newWaitModel("Waiting for browser", func() {}, done)

	assert.Contains(t, m.View(), "Waiting for browser")

	msg := m.waitForDone()()
	require.IsType(t, waitDoneMsg{}, msg)

	m, cmd := updateModel(t, m, msg)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

func TestWaitModel_CancelKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newWaitModel("Waiting", cancel, make(chan struct{}))

	m, cmd := updateModel(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.Nil(t, cmd, "the model keeps running until fn returns")
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Contains(t, m.View(), "Cancelling")
}

func TestWaitModel_EscCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newWaitModel("Waiting", cancel, make(chan struct{}))

	updateModel(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWaitModel_SpinnerTicks(t *testing.T) {
	m := newWaitModel("Waiting", func() {}, make(chan struct{}))

	_, cmd := updateModel(t, m, m.spinner.Tick())
	assert.NotNil(t, cmd)
}
