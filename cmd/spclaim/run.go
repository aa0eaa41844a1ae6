package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"spclaim/internal/app"
)

const stopTimeout = 10 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		Short:   "runs the claim schedules until interrupted",
		Example: "spclaim run --config ./config.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), opts)
		},
	}
}

func runApp(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(opts.configPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	reason := waitStop(ctx, a.Done())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}

// waitStop blocks until a signal arrives or the app dies on its own. A signal
// wins when both are ready.
func waitStop(ctx context.Context, done <-chan struct{}) app.StopReason {
	select {
	case <-ctx.Done():
	case <-done:
	}
	if ctx.Err() != nil {
		return app.StopSignal
	}
	return app.StopFatalError
}
