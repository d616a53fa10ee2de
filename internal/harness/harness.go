// Package harness drives a ticket lock under real contention. Every iteration spawns a
// fixed number of workers, lines them up on a start barrier and then has each of them
// enter a critical section on one shared lock exactly once. Workers track how many of
// them are inside the critical section with a plain counter guarded only by the lock
// under test, so any overlap is reported as ErrExclusionViolated.
package harness

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/ticketlock/internal/spin"
	"github.com/ahrav/ticketlock/ticket"
)

// ErrExclusionViolated is returned when two workers were seen inside the critical
// section at the same time.
var ErrExclusionViolated = errors.New("harness: mutual exclusion violated")

// Report summarizes a completed run.
type Report struct {
	RunID           string
	Mode            Mode
	Width           int
	Workers         int
	Iterations      int
	Acquisitions    uint64
	TryLockFailures uint64
	Elapsed         time.Duration
}

type options struct {
	log     *zap.Logger
	reg     prometheus.Registerer
	section func()
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the logger for progress messages. The default discards them.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegisterer registers the run's metrics on reg. The default is a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithCriticalSection sets the work performed while holding the lock. The default
// does nothing.
func WithCriticalSection(fn func()) Option {
	return func(o *options) { o.section = fn }
}

// Start runs cfg on a lock of the configured counter width.
func Start(ctx context.Context, cfg Config, opts ...Option) (Report, error) {
	switch cfg.Width {
	case 8:
		return Run[uint8](ctx, cfg, opts...)
	case 16:
		return Run[uint16](ctx, cfg, opts...)
	case 32:
		return Run[uint32](ctx, cfg, opts...)
	default:
		_, err := CapacityFor(cfg.Width)
		return Report{}, err
	}
}

// Run stress tests a ticket.Lock[T] as described by cfg. cfg.Width is taken from T, and
// out-of-range counts are replaced with defaults for T's capacity. Run stops at the first iteration that sees an
// exclusion violation, or before starting an iteration once ctx is done.
func Run[T ticket.Ticket](ctx context.Context, cfg Config, opts ...Option) (Report, error) {
	cfg.Width = bits.OnesCount64(ticket.Capacity[T]())
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	cfg = cfg.Normalize(ticket.Capacity[T]())

	o := options{log: zap.NewNop(), section: func() {}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reg == nil {
		o.reg = prometheus.NewRegistry()
	}

	r := &runner[T]{
		cfg:     cfg,
		section: o.section,
		barrier: NewBarrier(cfg.Workers, cfg.BarrierPoll),
		metrics: NewMetrics(o.reg),
	}
	r.lock.Init()

	report := Report{
		RunID:   uuid.New().String(),
		Mode:    cfg.Mode,
		Width:   cfg.Width,
		Workers: cfg.Workers,
	}
	log := o.log.With(zap.String("run_id", report.RunID))
	log.Info("Running ticket lock test",
		zap.Int("iterations", cfg.Iterations),
		zap.Int("workers", cfg.Workers),
		zap.String("mode", string(cfg.Mode)),
		zap.Uint64("capacity", ticket.Capacity[T]()),
	)

	start := time.Now()
	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}
		log.Info("Test iteration", zap.Int("iteration", i))

		err := r.iterate()
		report.Iterations++
		report.Acquisitions = r.acquisitions.Load()
		report.TryLockFailures = r.failures.Load()
		report.Elapsed = time.Since(start)
		if err != nil {
			log.Error("Iteration failed", zap.Int("iteration", i), zap.Error(err))
			return report, fmt.Errorf("iteration %d: %w", i, err)
		}
	}

	log.Info("Ticket lock test finished",
		zap.Uint64("acquisitions", report.Acquisitions),
		zap.Uint64("trylock_failures", report.TryLockFailures),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

type runner[T ticket.Ticket] struct {
	cfg     Config
	lock    ticket.PaddedLock[T]
	barrier *Barrier
	section func()
	metrics *Metrics

	// Guarded by lock.
	occupancy int

	acquisitions atomic.Uint64
	failures     atomic.Uint64
}

// iterate spawns one worker per configured slot and joins them all.
func (r *runner[T]) iterate() error {
	r.barrier.Reset()
	start := time.Now()

	var g errgroup.Group
	for range r.cfg.Workers {
		g.Go(r.work)
	}
	err := g.Wait()

	r.metrics.Iterations.Inc()
	r.metrics.IterationTime.Observe(time.Since(start).Seconds())
	return err
}

func (r *runner[T]) work() error {
	r.barrier.Wait()
	r.acquire()

	r.occupancy++
	holders := r.occupancy
	r.section()
	r.occupancy--

	r.lock.Unlock()

	r.acquisitions.Add(1)
	r.metrics.Acquisitions.Inc()
	if holders != 1 {
		return fmt.Errorf("%w: %d holders", ErrExclusionViolated, holders)
	}
	return nil
}

func (r *runner[T]) acquire() {
	if r.cfg.Mode != ModeTryLock {
		r.lock.Lock()
		return
	}
	for !r.lock.TryLock() {
		r.failures.Add(1)
		r.metrics.TryLockFailures.Inc()
		spin.Yield()
	}
}
