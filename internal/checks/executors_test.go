package checks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/imq-dev/imq/internal/gateway"
	"github.com/imq-dev/imq/internal/retry"
)

// fakeGateway is a scripted gateway.Gateway for executor tests.
type fakeGateway struct {
	mu sync.Mutex

	pr      *gateway.PullRequest
	prErr   error
	prCalls int

	dispatches  []string
	dispatchErr error

	listRuns []*gateway.WorkflowRun
	listErr  error

	// runStates is the sequence GetWorkflowRun walks through; the last
	// state repeats.
	runStates   []*gateway.WorkflowRun
	getRunCalls int
}

func (f *fakeGateway) GetPullRequest(ctx context.Context, number int) (*gateway.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prCalls++
	if f.prErr != nil {
		return nil, f.prErr
	}
	return f.pr, nil
}

func (f *fakeGateway) UpdatePullRequestBranch(ctx context.Context, number int) (string, error) {
	return "", errors.New("not scripted")
}

func (f *fakeGateway) CompareCommits(ctx context.Context, base, head string) (*gateway.Comparison, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeGateway) MergePullRequest(ctx context.Context, number int, opts gateway.MergeOptions) (*gateway.MergeResult, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeGateway) PostComment(ctx context.Context, number int, body string) error {
	return errors.New("not scripted")
}

func (f *fakeGateway) TriggerWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatches = append(f.dispatches, fmt.Sprintf("%s@%s", workflowFile, ref))
	return f.dispatchErr
}

func (f *fakeGateway) GetWorkflowRun(ctx context.Context, runID int64) (*gateway.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.runStates) == 0 {
		return nil, errors.New("not scripted")
	}
	idx := f.getRunCalls
	if idx >= len(f.runStates) {
		idx = len(f.runStates) - 1
	}
	f.getRunCalls++
	return f.runStates[idx], nil
}

func (f *fakeGateway) ListWorkflowRuns(ctx context.Context, workflowFile, headSHA string) ([]*gateway.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listRuns, nil
}

func fastWorkflowExecutor(gw gateway.Gateway, maxPolls int) *WorkflowExecutor {
	return &WorkflowExecutor{
		gw:           gw,
		pollInterval: time.Millisecond,
		maxPolls:     maxPolls,
	}
}

func workflowCheck() Check {
	return Check{ID: "ci", Name: "CI", Kind: KindWorkflow, Workflow: "ci.yml"}
}

func TestWorkflowExecutor_Success(t *testing.T) {
	now := time.Now().UTC()
	fake := &fakeGateway{
		listRuns: []*gateway.WorkflowRun{
			{ID: 7, Status: "in_progress", CreatedAt: now},
		},
		runStates: []*gateway.WorkflowRun{
			{ID: 7, Status: "in_progress", CreatedAt: now},
			{ID: 7, Status: "completed", Conclusion: "success", CreatedAt: now},
		},
	}
	exec := fastWorkflowExecutor(fake, 10)

	passed, output, err := exec.Execute(context.Background(), workflowCheck(), testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !passed {
		t.Errorf("expected pass, got output %q", output)
	}
	if len(fake.dispatches) != 1 || fake.dispatches[0] != "ci.yml@abc123" {
		t.Errorf("expected dispatch at head SHA, got %v", fake.dispatches)
	}
}

func TestWorkflowExecutor_FailureConclusion(t *testing.T) {
	now := time.Now().UTC()
	fake := &fakeGateway{
		listRuns: []*gateway.WorkflowRun{
			{ID: 7, Status: "completed", Conclusion: "failure", CreatedAt: now},
		},
	}
	exec := fastWorkflowExecutor(fake, 10)

	passed, output, err := exec.Execute(context.Background(), workflowCheck(), testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if passed {
		t.Error("expected failure")
	}
	if output != "workflow ci.yml concluded failure" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestWorkflowExecutor_IgnoresRunsFromEarlierDispatches(t *testing.T) {
	now := time.Now().UTC()
	stale := &gateway.WorkflowRun{
		ID:         3,
		Status:     "completed",
		Conclusion: "failure",
		CreatedAt:  now.Add(-time.Hour),
	}
	fresh := &gateway.WorkflowRun{
		ID:         9,
		Status:     "completed",
		Conclusion: "success",
		CreatedAt:  now,
	}
	fake := &fakeGateway{listRuns: []*gateway.WorkflowRun{fresh, stale}}
	exec := fastWorkflowExecutor(fake, 10)

	passed, output, err := exec.Execute(context.Background(), workflowCheck(), testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !passed {
		t.Errorf("expected fresh run to win, got %q", output)
	}
}

func TestWorkflowExecutor_PollingBudgetExhausted(t *testing.T) {
	now := time.Now().UTC()
	fake := &fakeGateway{
		listRuns: []*gateway.WorkflowRun{
			{ID: 7, Status: "in_progress", CreatedAt: now},
		},
		runStates: []*gateway.WorkflowRun{
			{ID: 7, Status: "in_progress", CreatedAt: now},
		},
	}
	exec := fastWorkflowExecutor(fake, 3)

	passed, output, err := exec.Execute(context.Background(), workflowCheck(), testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if passed {
		t.Error("expected failure when run never completes")
	}
	if output != "workflow ci.yml did not complete within the polling budget" {
		t.Errorf("unexpected output %q", output)
	}
}

func TestWorkflowExecutor_DispatchErrorSurfaces(t *testing.T) {
	fake := &fakeGateway{dispatchErr: &gateway.APIError{StatusCode: 404, Message: "Not Found"}}
	exec := fastWorkflowExecutor(fake, 3)

	_, _, err := exec.Execute(context.Background(), workflowCheck(), testTarget())
	if !gateway.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestStatusExecutor(t *testing.T) {
	tests := []struct {
		state string
		pass  bool
	}{
		{"clean", true},
		{"unstable", true},
		{"has_hooks", true},
		{"dirty", false},
		{"blocked", false},
		{"behind", false},
		{"unknown", false},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			fake := &fakeGateway{pr: &gateway.PullRequest{Number: 42, MergeableState: tt.state}}
			exec := &StatusExecutor{gw: fake}

			passed, _, err := exec.Execute(context.Background(), Check{Kind: KindStatus}, testTarget())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if passed != tt.pass {
				t.Errorf("state %q: passed = %v, want %v", tt.state, passed, tt.pass)
			}
		})
	}
}

func TestMergeabilityExecutor(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }

	tests := []struct {
		name      string
		mergeable *bool
		state     string
		pass      bool
	}{
		{"computing", nil, "unknown", false},
		{"not mergeable", boolPtr(false), "dirty", false},
		{"mergeable but dirty", boolPtr(true), "dirty", false},
		{"mergeable but blocked", boolPtr(true), "blocked", false},
		{"mergeable clean", boolPtr(true), "clean", true},
		{"mergeable unstable", boolPtr(true), "unstable", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeGateway{pr: &gateway.PullRequest{
				Number:         42,
				Mergeable:      tt.mergeable,
				MergeableState: tt.state,
			}}
			exec := &MergeabilityExecutor{gw: fake}

			passed, _, err := exec.Execute(context.Background(), Check{Kind: KindMergeability}, testTarget())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if passed != tt.pass {
				t.Errorf("passed = %v, want %v", passed, tt.pass)
			}
		})
	}
}

func TestStatusExecutor_RetriesTransientErrors(t *testing.T) {
	fake := &fakeGateway{prErr: &gateway.APIError{StatusCode: 502}}
	exec := &StatusExecutor{
		gw: fake,
		retryCfg: retry.Config{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
			Retriable:  gateway.IsRetriable,
		},
	}

	_, _, err := exec.Execute(context.Background(), Check{Kind: KindStatus}, testTarget())
	if err == nil {
		t.Fatal("expected error after retries")
	}
	if fake.prCalls != 3 {
		t.Errorf("expected 3 attempts, got %d", fake.prCalls)
	}
}

func TestStatusExecutor_TerminalErrorNotRetried(t *testing.T) {
	fake := &fakeGateway{prErr: &gateway.APIError{StatusCode: 401}}
	exec := &StatusExecutor{
		gw: fake,
		retryCfg: retry.Config{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
			Retriable:  gateway.IsRetriable,
		},
	}

	_, _, err := exec.Execute(context.Background(), Check{Kind: KindStatus}, testTarget())
	if !gateway.IsUnauthorized(err) {
		t.Errorf("expected unauthorized, got %v", err)
	}
	if fake.prCalls != 1 {
		t.Errorf("terminal errors must not retry, got %d calls", fake.prCalls)
	}
}

func TestGatewayExecutors_UnknownKindPasses(t *testing.T) {
	factory := NewGatewayExecutors(&fakeGateway{}, nil)

	exec := factory.ExecutorFor(CheckKind("somersault"))
	passed, output, err := exec.Execute(context.Background(), Check{ID: "x", Kind: "somersault"}, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !passed {
		t.Errorf("unknown kinds pass by default, got %q", output)
	}
}

func TestGatewayExecutors_KindWiring(t *testing.T) {
	factory := NewGatewayExecutors(&fakeGateway{}, nil)

	if _, ok := factory.ExecutorFor(KindWorkflow).(*WorkflowExecutor); !ok {
		t.Error("workflow kind should resolve to WorkflowExecutor")
	}
	if _, ok := factory.ExecutorFor(KindStatus).(*StatusExecutor); !ok {
		t.Error("status kind should resolve to StatusExecutor")
	}
	if _, ok := factory.ExecutorFor(KindMergeability).(*MergeabilityExecutor); !ok {
		t.Error("mergeability kind should resolve to MergeabilityExecutor")
	}
}
