package checks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/events"
	"github.com/imq-dev/imq/internal/metrics"
)

// Engine executes check configurations level by level: independent checks
// run in parallel, dependent checks wait for the level below.
type Engine struct {
	factory ExecutorFactory
	cache   ResultCache
	bus     *events.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine builds an engine. cache and bus may be nil, in which case
// results are not cached and no events are emitted.
func NewEngine(factory ExecutorFactory, cache ResultCache, bus *events.Bus, logger *zap.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		factory: factory,
		cache:   cache,
		bus:     bus,
		logger:  logger,
		metrics: m,
	}
}

// Run executes the configuration against the target pull request and
// returns one result per check, in input order. The returned error is
// non-nil only when the configuration itself is invalid.
func (e *Engine) Run(ctx context.Context, cfg CheckConfiguration, target Target) (*ExecutionResult, error) {
	if cfg.IsEmpty() {
		return &ExecutionResult{AllPassed: true}, nil
	}

	graph, err := cfg.compile()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Check, len(cfg.Checks))
	for _, c := range cfg.Checks {
		byID[c.ID] = c
	}

	results := make(map[string]Result, len(cfg.Checks))
	stopped := false

	for _, level := range graph.Levels() {
		if stopped {
			for _, id := range level {
				results[id] = Result{
					Check:  byID[id],
					Status: StatusSkipped,
					Output: "not run: an earlier check failed",
				}
			}
			continue
		}

		e.runLevel(ctx, cfg.FailFast, level, byID, results, target)

		if cfg.FailFast && anyFailed(results) {
			stopped = true
		}
	}

	out := &ExecutionResult{
		Results:   make([]Result, 0, len(cfg.Checks)),
		AllPassed: true,
	}
	for _, c := range cfg.Checks {
		res := results[c.ID]
		out.Results = append(out.Results, res)
		if res.Status != StatusPassed {
			out.AllPassed = false
		}
		if res.Status == StatusFailed {
			out.FailedChecks = append(out.FailedChecks, c.ID)
		}
	}

	e.logger.Debug("check run finished",
		zap.String("queue", target.QueueID),
		zap.Int("pr", target.PRNumber),
		zap.Bool("all_passed", out.AllPassed),
		zap.Strings("failed", out.FailedChecks))

	return out, nil
}

// runLevel resolves one dependency level into results. Checks blocked by
// an unmet dependency or answered by the cache never spawn; the rest run
// concurrently. With failFast, the first failure cancels running siblings
// and pre-empts unspawned ones.
func (e *Engine) runLevel(ctx context.Context, failFast bool, ids []string, byID map[string]Check, results map[string]Result, target Target) {
	levelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make([]string, 0, len(ids))
	failedEarly := false

	for _, id := range ids {
		check := byID[id]

		if dep, ok := unmetDependency(check, results); ok {
			results[id] = Result{
				Check:  check,
				Status: StatusSkipped,
				Output: fmt.Sprintf("skipped: dependency %q did not pass", dep),
			}
			continue
		}

		if e.cache != nil {
			if status, ok := e.cache.Get(target.HeadSHA, check.Name); ok {
				results[id] = Result{
					Check:  check,
					Status: status,
					Output: "served from result cache",
				}
				if status == StatusFailed {
					failedEarly = true
				}
				continue
			}
		}

		pending = append(pending, id)
	}

	if failFast && failedEarly {
		for _, id := range pending {
			results[id] = Result{
				Check:  byID[id],
				Status: StatusCancelled,
				Output: "cancelled: sibling check failed",
			}
		}
		return
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, id := range pending {
		check := byID[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.runCheck(levelCtx, check, target)
			mu.Lock()
			results[check.ID] = res
			mu.Unlock()
			if failFast && res.Status == StatusFailed {
				cancel()
			}
		}()
	}
	wg.Wait()
}

// runCheck executes a single check through its executor, applying the
// per-check timeout and caching terminal outcomes.
func (e *Engine) runCheck(ctx context.Context, check Check, target Target) Result {
	runCtx := ctx
	if timeout, ok := check.timeoutDuration(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.emit(events.NewEvent(events.CheckStarted, target.QueueID).
		WithBranch(target.Branch).
		WithPR(target.PRNumber).
		WithPayload(map[string]string{"check": check.Name}))

	res := Result{Check: check, StartedAt: time.Now().UTC()}
	passed, output, err := e.factory.ExecutorFor(check.Kind).Execute(runCtx, check, target)
	res.CompletedAt = time.Now().UTC()
	res.Output = output

	switch {
	case err == nil && passed:
		res.Status = StatusPassed
	case err == nil:
		res.Status = StatusFailed
	case runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		// The per-check timeout fired, not the caller's deadline.
		res.Status = StatusFailed
		res.Output = fmt.Sprintf("timed out after %s", check.Timeout)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusCancelled
		res.Output = "cancelled"
	default:
		res.Status = StatusFailed
		res.Output = err.Error()
	}

	if e.cache != nil && (res.Status == StatusPassed || res.Status == StatusFailed) {
		e.cache.Set(target.HeadSHA, check.Name, res.Status)
	}

	if e.metrics != nil {
		e.metrics.ChecksTotal.WithLabelValues(string(check.Kind), string(res.Status)).Inc()
		e.metrics.CheckDuration.WithLabelValues(string(check.Kind)).
			Observe(res.CompletedAt.Sub(res.StartedAt).Seconds())
	}

	eventType := events.CheckCompleted
	if res.Status == StatusFailed {
		eventType = events.CheckFailed
	}
	e.emit(events.NewEvent(eventType, target.QueueID).
		WithBranch(target.Branch).
		WithPR(target.PRNumber).
		WithPayload(map[string]string{
			"check":  check.Name,
			"status": string(res.Status),
			"output": res.Output,
		}))

	return res
}

func (e *Engine) emit(ev events.Event) {
	if e.bus != nil {
		e.bus.Emit(ev)
	}
}

// unmetDependency returns the first dependency of check that has not
// passed. Levels run in order, so every dependency already has a result.
func unmetDependency(check Check, results map[string]Result) (string, bool) {
	for _, dep := range check.DependsOn {
		if res, ok := results[dep]; !ok || res.Status != StatusPassed {
			return dep, true
		}
	}
	return "", false
}

func anyFailed(results map[string]Result) bool {
	for _, res := range results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}
