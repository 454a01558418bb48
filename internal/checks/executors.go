package checks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/gateway"
	"github.com/imq-dev/imq/internal/retry"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultMaxPolls     = 60
)

// Executor runs a single check of one kind.
type Executor interface {
	// Execute runs the check and reports whether it passed, with
	// human-readable output for the result record. An error means the
	// check could not be run at all.
	Execute(ctx context.Context, check Check, target Target) (bool, string, error)
}

// ExecutorFactory resolves the executor for a check kind.
type ExecutorFactory interface {
	ExecutorFor(kind CheckKind) Executor
}

// GatewayExecutors is the standard factory: one executor per kind, all
// backed by the hosting-service gateway. Unknown kinds pass by default.
type GatewayExecutors struct {
	workflow     Executor
	status       Executor
	mergeability Executor
	fallback     Executor
}

// NewGatewayExecutors builds the factory with the default retry policy
// for gateway calls.
func NewGatewayExecutors(gw gateway.Gateway, logger *zap.Logger) *GatewayExecutors {
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

	return &GatewayExecutors{
		workflow: &WorkflowExecutor{
			gw:           gw,
			retryCfg:     retryCfg,
			pollInterval: defaultPollInterval,
			maxPolls:     defaultMaxPolls,
		},
		status:       &StatusExecutor{gw: gw, retryCfg: retryCfg},
		mergeability: &MergeabilityExecutor{gw: gw, retryCfg: retryCfg},
		fallback:     passExecutor{},
	}
}

func (f *GatewayExecutors) ExecutorFor(kind CheckKind) Executor {
	switch kind {
	case KindWorkflow:
		return f.workflow
	case KindStatus:
		return f.status
	case KindMergeability:
		return f.mergeability
	default:
		return f.fallback
	}
}

// WorkflowExecutor dispatches a GitHub Actions workflow at the PR head
// SHA and polls the resulting run until it completes.
type WorkflowExecutor struct {
	gw           gateway.Gateway
	retryCfg     retry.Config
	pollInterval time.Duration
	maxPolls     int
}

func (e *WorkflowExecutor) Execute(ctx context.Context, check Check, target Target) (bool, string, error) {
	dispatchedAt := time.Now().UTC()
	err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		return e.gw.TriggerWorkflow(ctx, check.Workflow, target.HeadSHA, nil)
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to dispatch workflow %s: %w", check.Workflow, err)
	}

	// The dispatch endpoint returns no run id, so the run is correlated
	// by listing runs for the head SHA. Runs created before dispatch
	// belong to earlier attempts on the same commit; allow a minute of
	// clock skew against GitHub.
	cutoff := dispatchedAt.Add(-time.Minute)

	var run *gateway.WorkflowRun
	for poll := 0; poll < e.maxPolls; poll++ {
		if poll > 0 {
			select {
			case <-ctx.Done():
				return false, "", ctx.Err()
			case <-time.After(e.pollInterval):
			}
		}

		if run == nil {
			runs, err := e.listRuns(ctx, check, target)
			if err != nil {
				return false, "", err
			}
			for _, r := range runs {
				if r.CreatedAt.After(cutoff) {
					run = r
					break
				}
			}
			if run == nil {
				continue
			}
		} else {
			current, err := e.getRun(ctx, run.ID)
			if err != nil {
				return false, "", err
			}
			run = current
		}

		if run.Completed() {
			if run.Succeeded() {
				return true, fmt.Sprintf("workflow %s concluded success", check.Workflow), nil
			}
			return false, fmt.Sprintf("workflow %s concluded %s", check.Workflow, run.Conclusion), nil
		}
	}

	return false, fmt.Sprintf("workflow %s did not complete within the polling budget", check.Workflow), nil
}

func (e *WorkflowExecutor) listRuns(ctx context.Context, check Check, target Target) ([]*gateway.WorkflowRun, error) {
	var runs []*gateway.WorkflowRun
	err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		var err error
		runs, err = e.gw.ListWorkflowRuns(ctx, check.Workflow, target.HeadSHA)
		return err
	})
	return runs, err
}

func (e *WorkflowExecutor) getRun(ctx context.Context, runID int64) (*gateway.WorkflowRun, error) {
	var run *gateway.WorkflowRun
	err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		var err error
		run, err = e.gw.GetWorkflowRun(ctx, runID)
		return err
	})
	return run, err
}

// StatusExecutor passes when the PR's aggregate merge state is healthy:
// clean, unstable or has_hooks.
type StatusExecutor struct {
	gw       gateway.Gateway
	retryCfg retry.Config
}

func (e *StatusExecutor) Execute(ctx context.Context, check Check, target Target) (bool, string, error) {
	pr, err := fetchPR(ctx, e.gw, e.retryCfg, target.PRNumber)
	if err != nil {
		return false, "", err
	}

	switch pr.MergeableState {
	case "clean", "unstable", "has_hooks":
		return true, fmt.Sprintf("mergeable state %q", pr.MergeableState), nil
	}
	return false, fmt.Sprintf("mergeable state %q", pr.MergeableState), nil
}

// MergeabilityExecutor passes when GitHub reports the PR mergeable and
// its state is neither dirty nor blocked.
type MergeabilityExecutor struct {
	gw       gateway.Gateway
	retryCfg retry.Config
}

func (e *MergeabilityExecutor) Execute(ctx context.Context, check Check, target Target) (bool, string, error) {
	pr, err := fetchPR(ctx, e.gw, e.retryCfg, target.PRNumber)
	if err != nil {
		return false, "", err
	}

	if pr.Mergeable == nil || !*pr.Mergeable {
		return false, "pull request is not mergeable", nil
	}
	if pr.MergeableState == "dirty" || pr.MergeableState == "blocked" {
		return false, fmt.Sprintf("mergeable state %q", pr.MergeableState), nil
	}
	return true, "pull request is mergeable", nil
}

// passExecutor accepts checks of unknown kinds.
type passExecutor struct{}

func (passExecutor) Execute(ctx context.Context, check Check, target Target) (bool, string, error) {
	return true, fmt.Sprintf("no executor for kind %q, passing by default", check.Kind), nil
}

func fetchPR(ctx context.Context, gw gateway.Gateway, cfg retry.Config, number int) (*gateway.PullRequest, error) {
	var pr *gateway.PullRequest
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		pr, err = gw.GetPullRequest(ctx, number)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull request #%d: %w", number, err)
	}
	return pr, nil
}
