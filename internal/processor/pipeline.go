package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/checks"
	"github.com/imq-dev/imq/internal/events"
	"github.com/imq-dev/imq/internal/gateway"
	"github.com/imq-dev/imq/internal/queue"
	"github.com/imq-dev/imq/internal/retry"
)

// cleanupTimeout bounds the terminal persistence writes that must land
// even when the pipeline's own context has expired.
const cleanupTimeout = 10 * time.Second

// MergeRejectedError reports a merge the hosting service refused, with a
// reason fit for the failure comment.
type MergeRejectedError struct {
	Reason string
	Err    error
}

func (e *MergeRejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("merge rejected: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("merge rejected: %s", e.Reason)
}

func (e *MergeRejectedError) Unwrap() error { return e.Err }

// translateMergeError maps gateway error classes onto merge rejection
// reasons; anything unclassified stays a wrapped API error.
func translateMergeError(err error) error {
	switch {
	case gateway.IsUnauthorized(err):
		return &MergeRejectedError{Reason: "the configured token is not authorized to merge", Err: err}
	case gateway.IsForbidden(err):
		return &MergeRejectedError{Reason: "branch protection rejected the merge", Err: err}
	case gateway.IsNotFound(err):
		return &MergeRejectedError{Reason: "pull request not found", Err: err}
	default:
		return fmt.Errorf("merge failed: %w", err)
	}
}

// processEntry runs one head entry through the pipeline and records the
// outcome. The entry leaves the queue whether it merged or failed.
func (p *Processor) processEntry(ctx context.Context, q *queue.Queue, e *queue.Entry) {
	start := time.Now()
	logger := p.logger.With(
		zap.String("branch", q.BaseBranch),
		zap.Int("pr", e.PullRequest.Number))

	p.bus.Emit(events.NewEvent(events.ProcessingStarted, q.ID).
		WithBranch(q.BaseBranch).
		WithEntry(e.ID).
		WithPR(e.PullRequest.Number))

	err := p.runPipeline(ctx, q, e, logger)

	result := "merged"
	if err != nil {
		result = "failed"
		logger.Warn("pipeline failed", zap.Error(err))
	} else {
		logger.Info("pull request merged", zap.Duration("took", time.Since(start)))
	}
	p.metrics.Pipelines.WithLabelValues(result).Inc()
	p.metrics.PipelineDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	p.bus.Emit(events.NewEvent(events.ProcessingCompleted, q.ID).
		WithBranch(q.BaseBranch).
		WithEntry(e.ID).
		WithPayload(map[string]any{"result": result}))
}

func (p *Processor) runPipeline(ctx context.Context, q *queue.Queue, e *queue.Entry, logger *zap.Logger) error {
	pr := e.PullRequest

	sc, err := p.store.SystemConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load system config: %w", err)
	}

	// Start
	if err := p.transition(ctx, e, queue.StatusUpdating); err != nil {
		return err
	}
	p.bus.Emit(events.NewEvent(events.EntryStarted, q.ID).
		WithBranch(q.BaseBranch).
		WithEntry(e.ID).
		WithPR(pr.Number))

	// Conflict detect
	conflicted, err := p.detectConflict(ctx, q, pr)
	if err != nil {
		return p.failEntry(ctx, q, e, sc, fmt.Sprintf("conflict detection failed: %v", err))
	}
	if conflicted {
		p.bus.Emit(events.NewEvent(events.ConflictDetected, q.ID).
			WithBranch(q.BaseBranch).
			WithPR(pr.Number).
			WithPayload(map[string]any{"head_sha": pr.HeadSHA}))
		return p.failEntry(ctx, q, e, sc,
			fmt.Sprintf("head branch has conflicts with `%s` that must be resolved", q.BaseBranch))
	}

	// Update
	if !pr.IsUpToDate {
		if err := p.updateBranch(ctx, pr, logger); err != nil {
			return p.failEntry(ctx, q, e, sc, fmt.Sprintf("failed to update branch: %v", err))
		}
	}

	// Checks
	if err := p.transition(ctx, e, queue.StatusChecking); err != nil {
		return err
	}
	target := checks.Target{
		QueueID:  q.ID,
		Branch:   q.BaseBranch,
		PRNumber: pr.Number,
		HeadSHA:  pr.HeadSHA,
	}
	execResult, err := p.engine.Run(ctx, sc.Checks, target)
	if err != nil {
		return p.failEntry(ctx, q, e, sc, fmt.Sprintf("check configuration rejected: %v", err))
	}
	if !execResult.AllPassed {
		return p.failEntry(ctx, q, e, sc,
			fmt.Sprintf("checks failed: %s", strings.Join(execResult.FailedChecks, ", ")))
	}

	// Merge
	if err := p.transition(ctx, e, queue.StatusReady); err != nil {
		return err
	}
	if err := p.merge(ctx, q, pr); err != nil {
		p.bus.Emit(events.NewEvent(events.MergeFailed, q.ID).
			WithBranch(q.BaseBranch).
			WithPR(pr.Number).
			WithError(err))
		return p.failEntry(ctx, q, e, sc, mergeFailureReason(err))
	}

	return p.completeEntry(ctx, q, e, sc)
}

// detectConflict reports whether the head has diverged from base or the
// stored PR already carries a conflict flag.
func (p *Processor) detectConflict(ctx context.Context, q *queue.Queue, pr *queue.PullRequest) (bool, error) {
	if pr.IsConflicted {
		return true, nil
	}
	var cmp *gateway.Comparison
	err := p.retryGateway(ctx, func(ctx context.Context) error {
		var err error
		cmp, err = p.gw.CompareCommits(ctx, q.BaseBranch, pr.HeadSHA)
		return err
	})
	if err != nil {
		return false, err
	}
	return cmp.Status == gateway.CompareDiverged, nil
}

// updateBranch merges base into the PR head and persists the new SHA.
func (p *Processor) updateBranch(ctx context.Context, pr *queue.PullRequest, logger *zap.Logger) error {
	var newSHA string
	err := p.retryGateway(ctx, func(ctx context.Context) error {
		var err error
		newSHA, err = p.gw.UpdatePullRequestBranch(ctx, pr.Number)
		return err
	})
	if err != nil {
		return err
	}
	if newSHA != "" && newSHA != pr.HeadSHA {
		logger.Info("branch updated", zap.String("head_sha", newSHA))
		pr.HeadSHA = newSHA
	}
	pr.IsConflicted = false
	pr.IsUpToDate = true
	pr.Touch()
	if err := p.store.SavePullRequest(ctx, pr); err != nil {
		return fmt.Errorf("failed to persist updated pull request: %w", err)
	}
	return nil
}

// merge re-fetches the PR, requires positive mergeability, and performs the
// squash merge guarded by the expected head SHA.
func (p *Processor) merge(ctx context.Context, q *queue.Queue, pr *queue.PullRequest) error {
	var live *gateway.PullRequest
	err := p.retryGateway(ctx, func(ctx context.Context) error {
		var err error
		live, err = p.gw.GetPullRequest(ctx, pr.Number)
		return err
	})
	if err != nil {
		return translateMergeError(err)
	}
	if live.Merged {
		return &MergeRejectedError{Reason: "pull request is already merged"}
	}
	if live.Mergeable == nil || !*live.Mergeable {
		return &MergeRejectedError{
			Reason: fmt.Sprintf("pull request is not mergeable (state %q)", live.MergeableState),
		}
	}

	p.bus.Emit(events.NewEvent(events.MergeStarted, q.ID).
		WithBranch(q.BaseBranch).
		WithPR(pr.Number))

	opts := gateway.MergeOptions{
		Method:      "squash",
		CommitTitle: fmt.Sprintf("%s (#%d)", live.Title, pr.Number),
		SHA:         live.HeadSHA,
	}
	var res *gateway.MergeResult
	err = p.retryGateway(ctx, func(ctx context.Context) error {
		var err error
		res, err = p.gw.MergePullRequest(ctx, pr.Number, opts)
		return err
	})
	if err != nil {
		return translateMergeError(err)
	}
	if !res.Merged {
		return &MergeRejectedError{Reason: res.Message}
	}
	return nil
}

// completeEntry persists the terminal state, notifies, and removes the
// entry so the next PR reaches the head of the queue.
func (p *Processor) completeEntry(ctx context.Context, q *queue.Queue, e *queue.Entry, sc *queue.SystemConfig) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	pr := e.PullRequest
	if err := p.transition(cleanupCtx, e, queue.StatusCompleted); err != nil {
		return err
	}

	p.bus.Emit(events.NewEvent(events.MergeCompleted, q.ID).
		WithBranch(q.BaseBranch).
		WithPR(pr.Number))

	body, err := sc.RenderSuccessComment(queue.CommentData{Number: pr.Number, Base: q.BaseBranch})
	if err == nil {
		p.postComment(cleanupCtx, pr.Number, body)
	} else {
		p.logger.Error("failed to render success comment", zap.Error(err))
	}

	p.bus.Emit(events.NewEvent(events.EntryCompleted, q.ID).
		WithBranch(q.BaseBranch).
		WithEntry(e.ID).
		WithPR(pr.Number))

	if err := p.store.RemoveEntry(cleanupCtx, q.ID, e.ID); err != nil {
		return fmt.Errorf("failed to remove completed entry: %w", err)
	}
	return nil
}

// failEntry persists the failed state, posts the failure comment, emits the
// failure event, and removes the entry. It always returns a non-nil error
// carrying the reason.
func (p *Processor) failEntry(ctx context.Context, q *queue.Queue, e *queue.Entry, sc *queue.SystemConfig, reason string) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := e.Transition(queue.StatusFailed); err != nil {
		p.logger.Error("failed to mark entry failed", zap.Error(err))
	} else if err := p.store.UpdateEntry(cleanupCtx, e); err != nil {
		p.logger.Error("failed to persist failed entry", zap.Error(err))
	}

	pr := e.PullRequest
	body, err := sc.RenderFailureComment(queue.CommentData{
		Number: pr.Number,
		Base:   q.BaseBranch,
		Reason: reason,
	})
	if err == nil {
		p.postComment(cleanupCtx, pr.Number, body)
	} else {
		p.logger.Error("failed to render failure comment", zap.Error(err))
	}

	p.bus.Emit(events.NewEvent(events.EntryFailed, q.ID).
		WithBranch(q.BaseBranch).
		WithEntry(e.ID).
		WithPR(pr.Number).
		WithError(errors.New(reason)))

	if err := p.store.RemoveEntry(cleanupCtx, q.ID, e.ID); err != nil {
		p.logger.Error("failed to remove failed entry", zap.Error(err))
	}

	return errors.New(reason)
}

// transition moves the entry and persists it before any further work.
func (p *Processor) transition(ctx context.Context, e *queue.Entry, to queue.EntryStatus) error {
	if err := e.Transition(to); err != nil {
		return err
	}
	if err := p.store.UpdateEntry(ctx, e); err != nil {
		return fmt.Errorf("failed to persist %s entry: %w", to, err)
	}
	return nil
}

// postComment is best effort; a lost comment never fails the pipeline.
func (p *Processor) postComment(ctx context.Context, number int, body string) {
	err := p.retryGateway(ctx, func(ctx context.Context) error {
		return p.gw.PostComment(ctx, number, body)
	})
	if err != nil {
		p.logger.Error("failed to post comment",
			zap.Int("pr", number),
			zap.Error(err))
	}
}

func (p *Processor) retryGateway(ctx context.Context, op func(context.Context) error) error {
	return retry.Do(ctx, p.retryCfg, op)
}

// mergeFailureReason extracts the comment-facing reason from a merge error.
func mergeFailureReason(err error) string {
	var rejected *MergeRejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	return err.Error()
}
