package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/triboar/guild-sync/internal/api"
	"github.com/triboar/guild-sync/internal/api/handler"
	"github.com/triboar/guild-sync/internal/infrastructure/discord"
	"github.com/triboar/guild-sync/internal/infrastructure/queue"
	"github.com/triboar/guild-sync/internal/infrastructure/scheduler"
)

const shutdownTimeout = 15 * time.Second

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	log := a.log
	cfg := a.cfg

	// Workers outlive the signal so queued events drain during shutdown.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	billingQueue := queue.NewDispatcher(cfg.Sync.QueueWorkers, a.reconciler, log)
	billingQueue.Start(workerCtx)

	discord.NewGateway(cfg.Discord.GuildID, a.reconciler, log).Register(a.session)
	if err := a.session.Open(); err != nil {
		stopWorkers()
		a.close(context.WithoutCancel(ctx))
		return fmt.Errorf("discord gateway: %w", err)
	}

	if err := a.scheduler.Start(ctx); err != nil {
		stopWorkers()
		a.close(context.WithoutCancel(ctx))
		return err
	}
	log.Info().Time("next_run", a.scheduler.Next()).Str("schedule", cfg.Sync.Schedule).Msg("daily sync scheduled")

	// Startup and manual syncs run here; shutdown cancels them and waits
	// before the shared clients close.
	syncCtx, cancelSyncs := context.WithCancel(ctx)
	defer cancelSyncs()
	background := handler.NewBackground(syncCtx)

	if cfg.Sync.OnStartup {
		background.Go(func(ctx context.Context) {
			if _, err := a.scheduler.RunOnce(ctx, scheduler.TriggerStartup); err != nil {
				log.Warn().Err(err).Msg("startup sync did not complete")
			}
		})
	}

	e := api.NewRouter(api.Dependencies{
		Log:            log,
		WebhookSecret:  cfg.Security.WebhookSecret,
		AdminJWTSecret: cfg.Security.AdminJWTSecret,
		Queue:          billingQueue,
		Sync:           a.scheduler,
		Reconciler:     a.reconciler,
		Runs:           a.runs,
		Checks:         a.checks(),
		Background:     background,
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("http server listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err = <-serverErr:
		log.Error().Err(err).Msg("http server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	a.scheduler.Stop(shutdownCtx)
	cancelSyncs()
	background.Wait()
	stopWorkers()
	billingQueue.Wait()
	a.close(shutdownCtx)

	log.Info().Msg("stopped")
	return err
}
