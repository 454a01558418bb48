// Package processor drives the merge queue: a single loop fetches queues,
// lets the fair scheduler pick an order, and runs each eligible head entry
// through the merge pipeline under a concurrency cap.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/imq-dev/imq/internal/checks"
	"github.com/imq-dev/imq/internal/events"
	"github.com/imq-dev/imq/internal/gateway"
	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/queue"
	"github.com/imq-dev/imq/internal/retry"
	"github.com/imq-dev/imq/internal/scheduler"
)

var (
	// ErrAlreadyRunning is returned by Start on a running processor.
	ErrAlreadyRunning = errors.New("processor already running")

	// ErrNotRunning is returned by operations that need a running loop.
	ErrNotRunning = errors.New("processor not running")
)

// errorBackoff is the pause after a failed loop iteration.
const errorBackoff = 5 * time.Second

// Config holds the processor's tunables. Zero values fall back to the
// defaults used in production.
type Config struct {
	// MaxConcurrent caps simultaneously running pipelines
	MaxConcurrent int

	// Interval is the sleep between processing cycles
	Interval time.Duration

	// Timeout bounds one entry's pipeline run
	Timeout time.Duration

	// ShutdownTimeout bounds the wait for in-flight pipelines
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 60 * time.Second
	}
	return c
}

// Processor owns the processing loop and the pipeline tasks it spawns.
type Processor struct {
	cfg      Config
	store    queue.Store
	gw       gateway.Gateway
	engine   *checks.Engine
	sched    *scheduler.Scheduler
	bus      *events.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics
	retryCfg retry.Config

	mu           sync.Mutex
	running      bool
	shuttingDown bool
	loopCancel   context.CancelFunc
	loopDone     chan struct{}
	taskCtx      context.Context
	taskCancel   context.CancelFunc

	tasks sync.WaitGroup
	sem   *semaphore.Weighted

	// inFlight guards against re-dispatching a queue whose pipeline has
	// not yet persisted its first transition.
	inFlightMu sync.Mutex
	inFlight   map[string]bool
}

// New wires a processor. The scheduler is owned by the processor; the
// remaining dependencies are shared.
func New(cfg Config, store queue.Store, gw gateway.Gateway, engine *checks.Engine, bus *events.Bus, logger *zap.Logger, m *metrics.Metrics) *Processor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	retryCfg := retry.DefaultConfig
	retryCfg.Retriable = gateway.IsRetriable
	retryCfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Debug("retrying gateway call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	p := &Processor{
		cfg:      cfg,
		store:    store,
		gw:       gw,
		engine:   engine,
		sched:    scheduler.New(m),
		bus:      bus,
		logger:   logger,
		metrics:  m,
		retryCfg: retryCfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		inFlight: make(map[string]bool),
	}
	p.taskCtx, p.taskCancel = context.WithCancel(context.Background())
	return p
}

// Start launches the processing loop. It fails with ErrAlreadyRunning if
// the loop is already up.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	if err := p.recoverStalledEntries(ctx); err != nil {
		return fmt.Errorf("failed to recover stalled entries: %w", err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	p.taskCtx, p.taskCancel = context.WithCancel(context.Background())
	p.loopCancel = loopCancel
	p.loopDone = make(chan struct{})
	p.running = true
	p.shuttingDown = false

	p.bus.Emit(events.NewEvent(events.ProcessorStarted, ""))
	p.logger.Info("processor started",
		zap.Int("max_concurrent", p.cfg.MaxConcurrent),
		zap.Duration("interval", p.cfg.Interval))

	go p.run(loopCtx)
	return nil
}

// Shutdown stops the loop, then waits up to ShutdownTimeout for in-flight
// pipelines. Pipelines still running at the deadline are counted and their
// contexts cancelled.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.shuttingDown = true
	p.mu.Unlock()

	p.bus.Emit(events.NewEvent(events.ProcessorShuttingDown, ""))
	p.logger.Info("processor shutting down")

	p.loopCancel()
	<-p.loopDone

	done := make(chan struct{})
	go func() {
		p.tasks.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(p.cfg.ShutdownTimeout):
		p.metrics.ProcessorForcedShutdowns.Inc()
		p.logger.Warn("shutdown deadline expired, cancelling pipelines")
		p.taskCancel()
		<-done
	case <-ctx.Done():
		p.taskCancel()
		err = ctx.Err()
	}
	p.taskCancel()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.bus.Emit(events.NewEvent(events.ProcessorStopped, ""))
	p.logger.Info("processor stopped")
	return err
}

// Running reports whether the loop is up.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// run is the processing loop. A failed iteration is logged and followed by
// a short backoff; the loop exits only on context cancellation.
func (p *Processor) run(ctx context.Context) {
	defer close(p.loopDone)

	for {
		if err := p.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.metrics.ProcessorErrors.Inc()
			p.logger.Error("processing cycle failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(errorBackoff):
			}
			continue
		}
		p.metrics.ProcessorCycles.Inc()

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.Interval):
		}
	}
}

// runCycle performs one pass: load queues, schedule, and launch a pipeline
// for every queue whose head entry is pending.
func (p *Processor) runCycle(ctx context.Context) error {
	queues, err := p.store.Queues(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queues: %w", err)
	}

	for _, q := range queues {
		p.metrics.QueueLength.WithLabelValues(q.BaseBranch).Set(float64(q.Len()))
	}

	for _, q := range queues {
		p.sched.Schedule(q)
	}
	if p.sched.Len() == 0 {
		p.bus.Emit(events.NewEvent(events.ProcessingEmpty, ""))
		return nil
	}

	for {
		q := p.sched.NextQueue()
		if q == nil {
			return nil
		}

		p.mu.Lock()
		stopping := p.shuttingDown
		p.mu.Unlock()
		if stopping {
			return nil
		}

		entry := q.Head()
		if entry == nil || entry.Status != queue.StatusPending {
			continue
		}
		if !p.markInFlight(q.ID) {
			continue
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.clearInFlight(q.ID)
			return err
		}

		p.tasks.Add(1)
		p.metrics.ActivePipelines.Inc()
		go func(q *queue.Queue, e *queue.Entry) {
			defer p.tasks.Done()
			defer p.sem.Release(1)
			defer p.metrics.ActivePipelines.Dec()
			defer p.clearInFlight(q.ID)

			taskCtx, cancel := context.WithTimeout(p.taskCtx, p.cfg.Timeout)
			defer cancel()
			p.processEntry(taskCtx, q, e)
		}(q, entry)
	}
}

func (p *Processor) markInFlight(queueID string) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	if p.inFlight[queueID] {
		return false
	}
	p.inFlight[queueID] = true
	return true
}

func (p *Processor) clearInFlight(queueID string) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	delete(p.inFlight, queueID)
}

// recoverStalledEntries returns entries left in flight by an unclean stop
// to pending so their queues can drain again.
func (p *Processor) recoverStalledEntries(ctx context.Context) error {
	queues, err := p.store.Queues(ctx)
	if err != nil {
		return err
	}
	for _, q := range queues {
		for _, e := range q.Entries {
			if !e.Status.IsInFlight() {
				continue
			}
			p.logger.Warn("recovering stalled entry",
				zap.String("branch", q.BaseBranch),
				zap.Int("pr", e.PullRequest.Number),
				zap.String("status", string(e.Status)))
			e.Status = queue.StatusPending
			e.StartedAt = nil
			if err := p.store.UpdateEntry(ctx, e); err != nil {
				return err
			}
		}
	}
	return nil
}
