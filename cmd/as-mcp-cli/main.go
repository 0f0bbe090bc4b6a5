package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vinay4appsentinels/as-mcp-cli/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	a.interactive = tui.IsTerminal(os.Stderr)
	a.stdinTTY = tui.IsTerminal(os.Stdin)

	code := a.execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
