package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/triboar/guild-sync/internal/infrastructure/scheduler"
)

func runSync(parent context.Context, out io.Writer) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	run, err := a.scheduler.RunOnce(ctx, scheduler.TriggerManual)
	if err != nil {
		return err
	}
	if run == nil {
		return errors.New("sync produced no run")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run.Summary()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if !run.Succeeded() {
		return fmt.Errorf("sync failed: %w", run.FetchErr)
	}
	return nil
}
