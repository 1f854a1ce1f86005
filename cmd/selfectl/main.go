package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/danmuck/selfectl/internal/logging"
	"github.com/danmuck/selfectl/internal/observability"
	"github.com/danmuck/selfectl/internal/tools"
)

func main() {
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{
		runner:  tools.ExecRunner{},
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		metrics: observability.Default(),
	}
	code := a.execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs one invocation and returns its exit status. Metrics are written
// whether or not the command succeeded.
func (a *app) execute(ctx context.Context, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if a.metricsFile != "" {
		if werr := a.metrics.WriteTextfile(a.metricsFile); werr != nil {
			fmt.Fprintf(a.stderr, "selfectl: write metrics: %v\n", werr)
		}
	}
	if err != nil {
		fmt.Fprintf(a.stderr, "selfectl: %v\n", err)
	}
	return exitCode(err)
}
