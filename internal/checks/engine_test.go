package checks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/imq-dev/imq/internal/events"
	"github.com/imq-dev/imq/internal/metrics"
)

// scriptedExecutor is both factory and executor: each check id resolves
// to a scripted outcome, defaulting to pass.
type scriptedExecutor struct {
	mu    sync.Mutex
	calls []string
	fn    map[string]func(ctx context.Context) (bool, string, error)
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{fn: make(map[string]func(ctx context.Context) (bool, string, error))}
}

func (s *scriptedExecutor) ExecutorFor(kind CheckKind) Executor { return s }

func (s *scriptedExecutor) Execute(ctx context.Context, check Check, target Target) (bool, string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, check.ID)
	fn := s.fn[check.ID]
	s.mu.Unlock()

	if fn == nil {
		return true, "ok", nil
	}
	return fn(ctx)
}

func (s *scriptedExecutor) called(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == id {
			return true
		}
	}
	return false
}

func (s *scriptedExecutor) fail(id string) {
	s.fn[id] = func(ctx context.Context) (bool, string, error) {
		return false, "deliberate failure", nil
	}
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]ResultStatus
	sets map[string]ResultStatus
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		data: make(map[string]ResultStatus),
		sets: make(map[string]ResultStatus),
	}
}

func (c *fakeCache) Get(sha, name string) (ResultStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.data[sha+"/"+name]
	return st, ok
}

func (c *fakeCache) Set(sha, name string, st ResultStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets[sha+"/"+name] = st
	c.data[sha+"/"+name] = st
}

func testTarget() Target {
	return Target{QueueID: "q1", Branch: "main", PRNumber: 42, HeadSHA: "abc123"}
}

func newTestEngine(exec ExecutorFactory, cache ResultCache) *Engine {
	return NewEngine(exec, cache, events.NewBus(nil), nil, metrics.New())
}

func resultByID(t *testing.T, res *ExecutionResult, id string) Result {
	t.Helper()
	for _, r := range res.Results {
		if r.Check.ID == id {
			return r
		}
	}
	t.Fatalf("no result for check %q", id)
	return Result{}
}

func TestEngine_Run_EmptyConfiguration(t *testing.T) {
	engine := newTestEngine(newScriptedExecutor(), nil)

	res, err := engine.Run(context.Background(), CheckConfiguration{}, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AllPassed || len(res.Results) != 0 {
		t.Errorf("empty configuration should pass vacuously: %+v", res)
	}
}

func TestEngine_Run_InvalidConfiguration(t *testing.T) {
	engine := newTestEngine(newScriptedExecutor(), nil)
	cfg := CheckConfiguration{Checks: []Check{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}}

	_, err := engine.Run(context.Background(), cfg, testTarget())
	var invalid *InvalidConfigurationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidConfigurationError, got %v", err)
	}
}

func TestEngine_Run_AllPass_InputOrder(t *testing.T) {
	exec := newScriptedExecutor()
	engine := newTestEngine(exec, nil)

	// Input order deliberately differs from execution (level) order.
	cfg := CheckConfiguration{Checks: []Check{
		{ID: "deploy", DependsOn: []string{"test"}},
		{ID: "build"},
		{ID: "test", DependsOn: []string{"build"}},
	}}

	res, err := engine.Run(context.Background(), cfg, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.AllPassed {
		t.Errorf("expected all checks to pass: %+v", res)
	}

	wantOrder := []string{"deploy", "build", "test"}
	for i, want := range wantOrder {
		if res.Results[i].Check.ID != want {
			t.Errorf("results[%d] = %q, want %q (input order)", i, res.Results[i].Check.ID, want)
		}
	}
}

func TestEngine_Run_DependencyFailureSkipsDependents(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail("build")
	engine := newTestEngine(exec, nil)

	cfg := CheckConfiguration{Checks: []Check{
		{ID: "build"},
		{ID: "lint"},
		{ID: "test", DependsOn: []string{"build"}},
		{ID: "deploy", DependsOn: []string{"test"}},
	}}

	res, err := engine.Run(context.Background(), cfg, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AllPassed {
		t.Error("expected failure to be reported")
	}

	if got := resultByID(t, res, "build").Status; got != StatusFailed {
		t.Errorf("build = %s, want failed", got)
	}
	// lint is independent of build and still runs.
	if got := resultByID(t, res, "lint").Status; got != StatusPassed {
		t.Errorf("lint = %s, want passed", got)
	}
	// test is blocked by the failed build; deploy transitively.
	if got := resultByID(t, res, "test").Status; got != StatusSkipped {
		t.Errorf("test = %s, want skipped", got)
	}
	if got := resultByID(t, res, "deploy").Status; got != StatusSkipped {
		t.Errorf("deploy = %s, want skipped", got)
	}
	if exec.called("test") || exec.called("deploy") {
		t.Error("skipped checks must not execute")
	}

	if len(res.FailedChecks) != 1 || res.FailedChecks[0] != "build" {
		t.Errorf("FailedChecks = %v, want [build]", res.FailedChecks)
	}
}

func TestEngine_Run_FailFastStopsLaterLevels(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail("build")
	engine := newTestEngine(exec, nil)

	cfg := CheckConfiguration{
		Checks: []Check{
			{ID: "build"},
			{ID: "audit"},
			{ID: "release", DependsOn: []string{"audit"}},
		},
		FailFast: true,
	}

	res, err := engine.Run(context.Background(), cfg, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// release depends only on audit, but fail-fast stops its level.
	if got := resultByID(t, res, "release").Status; got != StatusSkipped {
		t.Errorf("release = %s, want skipped", got)
	}
	if exec.called("release") {
		t.Error("later levels must not execute after fail-fast")
	}
}

func TestEngine_Run_FailFastCancelsSiblings(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fn["fast"] = func(ctx context.Context) (bool, string, error) {
		time.Sleep(10 * time.Millisecond)
		return false, "broken", nil
	}
	exec.fn["slow"] = func(ctx context.Context) (bool, string, error) {
		<-ctx.Done()
		return false, "", ctx.Err()
	}
	engine := newTestEngine(exec, nil)

	cfg := CheckConfiguration{
		Checks: []Check{
			{ID: "fast"},
			{ID: "slow"},
		},
		FailFast: true,
	}

	res, err := engine.Run(context.Background(), cfg, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := resultByID(t, res, "fast").Status; got != StatusFailed {
		t.Errorf("fast = %s, want failed", got)
	}
	if got := resultByID(t, res, "slow").Status; got != StatusCancelled {
		t.Errorf("slow = %s, want cancelled", got)
	}
	if res.AllPassed {
		t.Error("expected run to fail")
	}
}

func TestEngine_Run_PerCheckTimeout(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fn["sluggish"] = func(ctx context.Context) (bool, string, error) {
		<-ctx.Done()
		return false, "", ctx.Err()
	}
	engine := newTestEngine(exec, nil)

	cfg := CheckConfiguration{Checks: []Check{
		{ID: "sluggish", Name: "Sluggish", Timeout: "20ms"},
	}}

	res, err := engine.Run(context.Background(), cfg, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := resultByID(t, res, "sluggish")
	if got.Status != StatusFailed {
		t.Errorf("status = %s, want failed on timeout", got.Status)
	}
	if got.Output != "timed out after 20ms" {
		t.Errorf("output = %q, want timeout message", got.Output)
	}
}

func TestEngine_Run_CacheHitSkipsExecution(t *testing.T) {
	exec := newScriptedExecutor()
	cache := newFakeCache()
	cache.data["abc123/Build"] = StatusPassed
	engine := newTestEngine(exec, cache)

	cfg := CheckConfiguration{Checks: []Check{
		{ID: "build", Name: "Build"},
	}}

	res, err := engine.Run(context.Background(), cfg, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := resultByID(t, res, "build")
	if got.Status != StatusPassed || got.Output != "served from result cache" {
		t.Errorf("expected cached pass, got %+v", got)
	}
	if exec.called("build") {
		t.Error("cache hit must not execute the check")
	}
}

func TestEngine_Run_CachesTerminalOutcomes(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail("build")
	cache := newFakeCache()
	engine := newTestEngine(exec, cache)

	cfg := CheckConfiguration{Checks: []Check{
		{ID: "build", Name: "Build"},
		{ID: "lint", Name: "Lint"},
		{ID: "test", Name: "Test", DependsOn: []string{"build"}},
	}}

	if _, err := engine.Run(context.Background(), cfg, testTarget()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st := cache.sets["abc123/Build"]; st != StatusFailed {
		t.Errorf("failed outcome should be cached, got %q", st)
	}
	if st := cache.sets["abc123/Lint"]; st != StatusPassed {
		t.Errorf("passed outcome should be cached, got %q", st)
	}
	// Skipped checks never ran; nothing to cache.
	if _, ok := cache.sets["abc123/Test"]; ok {
		t.Error("skipped outcome must not be cached")
	}
}

func TestEngine_Run_CachedFailureFailsRun(t *testing.T) {
	exec := newScriptedExecutor()
	cache := newFakeCache()
	cache.data["abc123/Build"] = StatusFailed
	engine := newTestEngine(exec, cache)

	cfg := CheckConfiguration{
		Checks: []Check{
			{ID: "build", Name: "Build"},
			{ID: "lint", Name: "Lint"},
		},
		FailFast: true,
	}

	res, err := engine.Run(context.Background(), cfg, testTarget())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AllPassed {
		t.Error("cached failure must fail the run")
	}
	// lint never spawned: the cached failure pre-empted the level.
	if got := resultByID(t, res, "lint").Status; got != StatusCancelled {
		t.Errorf("lint = %s, want cancelled", got)
	}
	if exec.called("lint") {
		t.Error("fail-fast after cache hit must not execute siblings")
	}
}
