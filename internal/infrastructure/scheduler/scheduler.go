// Package scheduler fires full reconciliation runs on a cron schedule and
// makes sure only one full run is active at a time.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"

	flightKey = "full-sync"
)

// Locker grants a lease that spans service instances.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// Options configure a Scheduler.
type Options struct {
	Spec     string
	Location *time.Location
	// Locker is optional; without it only in-process coalescing applies.
	Locker Locker
}

type Scheduler struct {
	cron       *cron.Cron
	spec       string
	reconciler ports.Reconciler
	locker     Locker
	group      singleflight.Group
	log        zerolog.Logger
}

// New validates the cron spec and builds a stopped scheduler.
func New(opts Options, reconciler ports.Reconciler, log zerolog.Logger) (*Scheduler, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	if _, err := cron.ParseStandard(opts.Spec); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", opts.Spec, err)
	}

	log = log.With().Str("component", "scheduler").Logger()
	cronLog := cron.PrintfLogger(&log)
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		spec:       opts.Spec,
		reconciler: reconciler,
		locker:     opts.Locker,
		log:        log,
	}, nil
}

// Start registers the schedule and starts the cron loop. Ticks run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx, TriggerSchedule); err != nil {
			s.log.Warn().Err(err).Msg("scheduled full sync did not complete")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.spec).Time("next", s.Next()).Msg("daily sync scheduled")
	return nil
}

// Stop halts the cron loop and waits for a running tick to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Next returns the next scheduled tick, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs one FullSync. Concurrent callers in this process share a
// single run; when another instance holds the run lock it returns
// domain.ErrRunInProgress without running.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (*domain.Run, error) {
	v, err, shared := s.group.Do(flightKey, func() (any, error) {
		return s.runLocked(ctx, trigger)
	})
	if shared {
		s.log.Debug().Str("trigger", trigger).Msg("joined in-flight full sync")
	}
	run, _ := v.(*domain.Run)
	return run, err
}

func (s *Scheduler) runLocked(ctx context.Context, trigger string) (*domain.Run, error) {
	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("full sync lock: %w", err)
		}
		if !ok {
			s.log.Info().Str("trigger", trigger).Msg("full sync already running elsewhere, skipping")
			return nil, domain.ErrRunInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn().Err(err).Msg("failed to release full sync lock")
			}
		}()
	}

	s.log.Info().Str("trigger", trigger).Msg("starting full sync")
	return s.reconciler.FullSync(ctx, trigger)
}
