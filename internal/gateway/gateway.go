// Package gateway is the GitHub API boundary: a typed client for the pull
// request, compare, merge, comment and workflow operations the merge queue
// needs, with classified errors so callers can decide what is retriable.
package gateway

import (
	"context"
	"time"
)

// Gateway is the GitHub surface consumed by the processor and the check
// executors. Implementations must be safe for concurrent use.
type Gateway interface {
	// GetPullRequest fetches the live pull request state.
	GetPullRequest(ctx context.Context, number int) (*PullRequest, error)

	// UpdatePullRequestBranch merges the base branch into the PR head and
	// returns the new head SHA.
	UpdatePullRequestBranch(ctx context.Context, number int) (string, error)

	// CompareCommits reports how head relates to base.
	CompareCommits(ctx context.Context, base, head string) (*Comparison, error)

	// MergePullRequest merges the PR with the given options.
	MergePullRequest(ctx context.Context, number int, opts MergeOptions) (*MergeResult, error)

	// PostComment adds an issue comment to the PR.
	PostComment(ctx context.Context, number int, body string) error

	// TriggerWorkflow dispatches a workflow file at the given ref.
	TriggerWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]string) error

	// GetWorkflowRun fetches a single workflow run by id.
	GetWorkflowRun(ctx context.Context, runID int64) (*WorkflowRun, error)

	// ListWorkflowRuns lists runs of a workflow file for a head SHA,
	// newest first.
	ListWorkflowRuns(ctx context.Context, workflowFile, headSHA string) ([]*WorkflowRun, error)
}

// PullRequest is the live GitHub view of a pull request.
type PullRequest struct {
	Number     int
	Title      string
	Author     string
	State      string // open, closed
	BaseBranch string
	HeadBranch string
	HeadSHA    string

	// Mergeable is nil while GitHub is still computing mergeability.
	Mergeable *bool

	// MergeableState is GitHub's merge readiness: clean, unstable,
	// has_hooks, dirty, blocked, behind, draft, unknown.
	MergeableState string

	Merged bool
	Labels []string
}

// HasLabel reports whether the PR carries the named label.
func (pr *PullRequest) HasLabel(name string) bool {
	for _, l := range pr.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// ComparisonStatus relates a head commit to a base branch.
type ComparisonStatus string

const (
	CompareIdentical ComparisonStatus = "identical"
	CompareAhead     ComparisonStatus = "ahead"
	CompareBehind    ComparisonStatus = "behind"
	CompareDiverged  ComparisonStatus = "diverged"
)

// Comparison is the result of comparing base...head.
type Comparison struct {
	Status   ComparisonStatus
	AheadBy  int
	BehindBy int
}

// MergeOptions controls how a pull request is merged.
type MergeOptions struct {
	// Method is the merge strategy; the queue always uses "squash".
	Method string

	// CommitTitle and CommitMessage override the squash commit text.
	CommitTitle   string
	CommitMessage string

	// SHA, when set, makes the merge fail if the head moved.
	SHA string
}

// MergeResult holds the result of a merge operation
type MergeResult struct {
	Merged  bool
	SHA     string
	Message string
}

// WorkflowRun is a single GitHub Actions run.
type WorkflowRun struct {
	ID         int64
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, cancelled, skipped, timed_out
	HeadSHA    string
	CreatedAt  time.Time
}

// Completed reports whether the run reached a terminal status.
func (r *WorkflowRun) Completed() bool {
	return r.Status == "completed"
}

// Succeeded reports whether the run completed with a success conclusion.
func (r *WorkflowRun) Succeeded() bool {
	return r.Completed() && r.Conclusion == "success"
}
