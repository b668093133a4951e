package delivery

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultSchedule releases queued deliveries once a minute.
const DefaultSchedule = "@every 1m"

// Flusher is the part of Service the Dispatcher drives.
type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

// Dispatcher flushes the delivery queue on a cron schedule. Runs never
// overlap; a run still in progress causes the next tick to be skipped.
type Dispatcher struct {
	cron   *cron.Cron
	svc    Flusher
	logger log.Logger
	ctx    context.Context
}

// NewDispatcher validates schedule and registers the flush job. The job
// runs with ctx, which should outlive the dispatcher.
func NewDispatcher(ctx context.Context, svc Flusher, schedule string, logger log.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	d := &Dispatcher{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		svc:    svc,
		logger: logger,
		ctx:    ctx,
	}
	if _, err := d.cron.AddFunc(schedule, d.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid dispatch schedule %q: %w", schedule, err)
	}
	return d, nil
}

// RunOnce flushes the queue a single time.
func (d *Dispatcher) RunOnce() {
	n, err := d.svc.Flush(d.ctx)
	if err != nil {
		d.logger.Error(d.ctx, err, "queue flush failed", "flushed", n)
		return
	}
	if n > 0 {
		d.logger.Info(d.ctx, "queue flushed", "flushed", n)
	}
}

// Start begins running the schedule in the background.
func (d *Dispatcher) Start() {
	d.cron.Start()
}

// Stop halts the schedule and waits for a running flush to finish or for
// ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	done := d.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
