// Package checks runs a configurable set of merge-gating checks against a
// pull request. Checks declare dependencies on each other; the engine
// groups them into dependency levels and runs each level in parallel.
package checks

import (
	"fmt"
	"time"
)

// CheckKind selects the executor for a check.
type CheckKind string

const (
	// KindWorkflow dispatches a GitHub Actions workflow and polls the run.
	KindWorkflow CheckKind = "workflow"

	// KindStatus passes when the PR's aggregate merge state is healthy.
	KindStatus CheckKind = "status"

	// KindMergeability passes when GitHub reports the PR cleanly mergeable.
	KindMergeability CheckKind = "mergeability"
)

// Check is one gating check in a configuration.
type Check struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Kind CheckKind `json:"kind"`

	// Workflow is the workflow file for workflow checks, e.g. "ci.yml".
	Workflow string `json:"workflow,omitempty"`

	// Timeout bounds one execution, in Go duration syntax. Empty means
	// no per-check timeout.
	Timeout string `json:"timeout,omitempty"`

	// DependsOn lists check ids that must pass before this check runs.
	DependsOn []string `json:"depends_on,omitempty"`
}

// timeoutDuration returns the parsed per-check timeout, if set.
func (c *Check) timeoutDuration() (time.Duration, bool) {
	if c.Timeout == "" {
		return 0, false
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// CheckConfiguration is the runtime-editable set of checks gating merges.
type CheckConfiguration struct {
	Checks   []Check `json:"checks"`
	FailFast bool    `json:"fail_fast"`
}

// IsEmpty reports whether there is nothing to run.
func (cc *CheckConfiguration) IsEmpty() bool {
	return len(cc.Checks) == 0
}

// Validate rejects configurations that cannot run: duplicate or empty ids,
// workflow checks without a workflow file, malformed timeouts, unknown
// dependency ids, and dependency cycles.
func (cc *CheckConfiguration) Validate() error {
	_, err := cc.compile()
	return err
}

// compile validates the configuration and builds its dependency graph.
func (cc *CheckConfiguration) compile() (*Graph, error) {
	seen := make(map[string]bool, len(cc.Checks))
	for _, c := range cc.Checks {
		if c.ID == "" {
			return nil, &InvalidConfigurationError{Err: fmt.Errorf("check %q has no id", c.Name)}
		}
		if seen[c.ID] {
			return nil, &InvalidConfigurationError{Err: fmt.Errorf("duplicate check id %q", c.ID)}
		}
		seen[c.ID] = true

		if c.Kind == KindWorkflow && c.Workflow == "" {
			return nil, &InvalidConfigurationError{Err: fmt.Errorf("workflow check %q has no workflow file", c.ID)}
		}
		if c.Timeout != "" {
			if _, err := time.ParseDuration(c.Timeout); err != nil {
				return nil, &InvalidConfigurationError{Err: fmt.Errorf("check %q has invalid timeout %q", c.ID, c.Timeout)}
			}
		}
	}

	graph, err := NewGraph(cc.Checks)
	if err != nil {
		return nil, &InvalidConfigurationError{Err: err}
	}
	return graph, nil
}

// InvalidConfigurationError reports a check configuration that cannot run.
// It is terminal: the affected entry fails without retry.
type InvalidConfigurationError struct {
	Err error
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid check configuration: %v", e.Err)
}

func (e *InvalidConfigurationError) Unwrap() error {
	return e.Err
}

// ResultStatus is the terminal state of one check execution.
type ResultStatus string

const (
	StatusPassed    ResultStatus = "passed"
	StatusFailed    ResultStatus = "failed"
	StatusSkipped   ResultStatus = "skipped"
	StatusCancelled ResultStatus = "cancelled"
)

// Result is the outcome of one check execution.
type Result struct {
	Check       Check        `json:"check"`
	Status      ResultStatus `json:"status"`
	Output      string       `json:"output,omitempty"`
	StartedAt   time.Time    `json:"started_at,omitzero"`
	CompletedAt time.Time    `json:"completed_at,omitzero"`
}

// ExecutionResult aggregates one engine run over a configuration.
type ExecutionResult struct {
	// Results holds one result per configured check, in input order.
	Results []Result `json:"results"`

	// AllPassed is true when every check passed.
	AllPassed bool `json:"all_passed"`

	// FailedChecks lists the ids of checks that failed.
	FailedChecks []string `json:"failed_checks,omitempty"`
}

// Target identifies the pull request under check.
type Target struct {
	QueueID  string
	Branch   string
	PRNumber int
	HeadSHA  string
}

// ResultCache serves prior check outcomes keyed by head SHA and check
// name, so re-queued entries skip checks that already ran on the same
// commit. Implementations must be safe for concurrent use.
type ResultCache interface {
	// Get returns the cached terminal status for (headSHA, checkName).
	Get(headSHA, checkName string) (ResultStatus, bool)

	// Set records a terminal status for (headSHA, checkName).
	Set(headSHA, checkName string, status ResultStatus)
}
