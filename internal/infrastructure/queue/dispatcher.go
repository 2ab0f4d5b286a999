package queue

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
	"github.com/triboar/guild-sync/internal/metrics"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
)

// Dispatcher routes billing events to a fixed set of workers using consistent
// hashing on the Discord id, guaranteeing per-user event ordering.
type Dispatcher struct {
	workers    []chan ports.BillingEventInput
	reconciler ports.Reconciler
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, reconciler ports.Reconciler, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers:    make([]chan ports.BillingEventInput, numWorkers),
		reconciler: reconciler,
		log:        log.With().Str("component", "billing_queue").Logger(),
	}
	for i := range d.workers {
		d.workers[i] = make(chan ports.BillingEventInput, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Enqueue sends an event to the worker responsible for its Discord id. It
// blocks while that worker's buffer is full, until ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, event ports.BillingEventInput) error {
	idx := d.shardIndex(event.DiscordID)
	select {
	case d.workers[idx] <- event:
		metrics.BillingQueueDepth.WithLabelValues(strconv.Itoa(idx)).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shardIndex maps a Discord id deterministically to a worker index.
func (d *Dispatcher) shardIndex(discordID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(discordID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan ports.BillingEventInput) {
	defer d.wg.Done()
	depth := metrics.BillingQueueDepth.WithLabelValues(strconv.Itoa(id))
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			depth.Dec()
			d.process(ctx, id, event)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, worker int, event ports.BillingEventInput) {
	kind, err := domain.ParseBillingEventKind(event.Type)
	if err != nil {
		d.log.Warn().Str("type", event.Type).Str("user_id", event.DiscordID).Msg("ignoring unknown billing event")
		return
	}

	run, err := d.reconciler.IncrementalSync(ctx, event.DiscordID, kind)
	if err != nil {
		lvl := d.log.Error()
		if errors.Is(err, domain.ErrUnknownEventType) {
			lvl = d.log.Warn()
		}
		lvl.Err(err).
			Str("user_id", event.DiscordID).
			Str("type", event.Type).
			Int("worker_id", worker).
			Msg("billing event processing failed")
		return
	}
	if run != nil && len(run.Failures()) > 0 {
		d.log.Warn().
			Str("run_id", run.ID).
			Str("user_id", event.DiscordID).
			Int("failures", len(run.Failures())).
			Msg("billing event processed with failures")
	}
}
