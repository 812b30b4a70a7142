package workflow

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deciframe-hq/deciframe/internal/domain"
	"github.com/deciframe-hq/deciframe/internal/store"
	"github.com/deciframe-hq/deciframe/internal/tenant"
)

// Processor drains the queue with a bounded worker pool. Each worker
// claims, dispatches and settles one event at a time; claim order
// follows the enqueue sequence, so events written by one transaction
// start in order even when they finish concurrently.
type Processor struct {
	engine       *Engine
	queue        store.QueueStore
	workers      int
	pollInterval time.Duration
}

func NewProcessor(engine *Engine, queue store.QueueStore, workers int, pollInterval time.Duration) *Processor {
	if workers < 1 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Processor{engine: engine, queue: queue, workers: workers, pollInterval: pollInterval}
}

// Run blocks until ctx is cancelled. The platform capability lets the
// claim cross organizations; each dispatched event is re-scoped to its
// own tenant before any handler runs.
func (p *Processor) Run(ctx context.Context) error {
	claimCtx := tenant.Platform(ctx)
	g, gctx := errgroup.WithContext(claimCtx)
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			return p.workerLoop(gctx)
		})
	}
	return g.Wait()
}

func (p *Processor) workerLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progressed, err := p.Step(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
		}
	}
}

// Step claims and settles at most one event. It reports whether an
// event was claimed, so callers (and tests) can drain synchronously.
func (p *Processor) Step(ctx context.Context) (bool, error) {
	ev, err := p.queue.Claim(ctx, p.engine.now())
	if errors.Is(err, store.ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if procErr := p.engine.Process(ctx, ev); procErr != nil {
		p.settle(ctx, ev, procErr)
		return true, nil
	}
	if err := p.queue.MarkDone(ctx, ev.ID); err != nil {
		p.engine.log.Error().Err(err).Stringer("event_id", ev.ID).Msg("mark done failed")
	}
	return true, nil
}

func (p *Processor) settle(ctx context.Context, ev *domain.QueuedEvent, procErr error) {
	log := p.engine.log.With().
		Stringer("event_id", ev.ID).
		Str("event", string(ev.Name)).
		Int("attempts", ev.Attempts).
		Logger()
	if p.engine.retry.Exhausted(ev.Attempts + 1) {
		if err := p.queue.Fail(ctx, ev.ID, procErr.Error()); err != nil {
			log.Error().Err(err).Msg("fail transition failed")
			return
		}
		log.Error().Err(procErr).Msg("event moved to failed after exhausting retries")
		return
	}
	next := p.engine.now().Add(p.engine.retry.Delay(ev.Attempts))
	if err := p.queue.Retry(ctx, ev.ID, next, procErr.Error()); err != nil {
		log.Error().Err(err).Msg("retry transition failed")
		return
	}
	log.Warn().Err(procErr).Time("next_attempt", next).Msg("event scheduled for retry")
}
