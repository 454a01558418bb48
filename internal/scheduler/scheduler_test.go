package scheduler

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/imq-dev/imq/internal/queue"
)

func testQueue(branch string, entries int) *queue.Queue {
	q := queue.NewQueue(queue.Repo{Owner: "octo", Name: "widgets"}, branch)
	for i := 0; i < entries; i++ {
		pr := queue.NewPullRequest(q.Repo, 100+i)
		q.Entries = append(q.Entries, queue.NewEntry(q.ID, pr, i))
	}
	return q
}

func TestPriorityForBranch(t *testing.T) {
	tests := []struct {
		branch string
		want   Priority
	}{
		{"hotfix/login", PriorityCritical},
		{"HOTFIX-123", PriorityCritical},
		{"hotfix-release", PriorityCritical}, // first hit wins
		{"release-1.2", PriorityHigh},
		{"Release/2024.1", PriorityHigh},
		{"main", PriorityNormal},
		{"MAIN", PriorityNormal},
		{"master", PriorityNormal},
		{"mainline", PriorityLow}, // main must match exactly
		{"develop", PriorityLow},
		{"feature/thing", PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.branch, func(t *testing.T) {
			if got := PriorityForBranch(tt.branch); got != tt.want {
				t.Errorf("PriorityForBranch(%q) = %v, want %v", tt.branch, got, tt.want)
			}
		})
	}
}

func TestPriority_Weight(t *testing.T) {
	weights := map[Priority]int{
		PriorityCritical: 4,
		PriorityHigh:     3,
		PriorityNormal:   2,
		PriorityLow:      1,
	}
	for p, want := range weights {
		if got := p.Weight(); got != want {
			t.Errorf("%v.Weight() = %d, want %d", p, got, want)
		}
	}
}

func TestScheduler_SkipsEmptyQueues(t *testing.T) {
	s := New(nil)
	s.Schedule(testQueue("main", 0))

	if s.Len() != 0 {
		t.Errorf("empty queue should not be scheduled, len = %d", s.Len())
	}
	if q := s.NextQueue(); q != nil {
		t.Errorf("expected nil from empty scheduler, got %v", q.BaseBranch)
	}
}

func TestScheduler_DeduplicatesQueues(t *testing.T) {
	s := New(nil)
	q := testQueue("main", 1)

	s.Schedule(q)
	s.Schedule(q)

	if s.Len() != 1 {
		t.Errorf("queue scheduled twice, len = %d", s.Len())
	}
}

func TestScheduler_NextQueue_Empty(t *testing.T) {
	s := New(nil)
	if q := s.NextQueue(); q != nil {
		t.Errorf("expected nil, got %v", q.BaseBranch)
	}
}

func TestScheduler_DrainsInPriorityOrder(t *testing.T) {
	s := New(nil)
	s.Schedule(testQueue("develop", 1))
	s.Schedule(testQueue("main", 1))
	s.Schedule(testQueue("hotfix/crash", 1))
	s.Schedule(testQueue("release-2.0", 1))

	var order []string
	for q := s.NextQueue(); q != nil; q = s.NextQueue() {
		order = append(order, q.BaseBranch)
	}

	want := []string{"hotfix/crash", "release-2.0", "main", "develop"}
	if len(order) != len(want) {
		t.Fatalf("drained %d queues, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("drain order = %v, want %v", order, want)
			break
		}
	}
}

func TestScheduler_FIFOWithinSamePriority(t *testing.T) {
	s := New(nil)
	first := testQueue("feature/a", 1)
	second := testQueue("feature/b", 1)
	s.Schedule(first)
	s.Schedule(second)

	if got := s.NextQueue(); got.ID != first.ID {
		t.Errorf("expected first scheduled queue, got %s", got.BaseBranch)
	}
	if got := s.NextQueue(); got.ID != second.ID {
		t.Errorf("expected second scheduled queue, got %s", got.BaseBranch)
	}
}

func TestScheduler_DeficitBeatsPriority(t *testing.T) {
	s := New(nil)
	low := testQueue("develop", 1)
	s.Schedule(low)
	s.Schedule(testQueue("hotfix/a", 1))

	// hotfix wins the tie at zero deficit; develop accrues its weight.
	if got := s.NextQueue(); got.BaseBranch != "hotfix/a" {
		t.Fatalf("expected hotfix first, got %s", got.BaseBranch)
	}

	// A fresh critical queue starts at zero deficit, so the waiting
	// low-priority queue now outranks it.
	s.Schedule(testQueue("hotfix/b", 1))
	if got := s.NextQueue(); got.ID != low.ID {
		t.Errorf("expected deficit to beat class, got %s", got.BaseBranch)
	}
}

func TestScheduler_AccruesDeficitEachRound(t *testing.T) {
	s := New(nil)
	low := testQueue("develop", 1)
	s.Schedule(low)
	for i := 0; i < 3; i++ {
		s.Schedule(testQueue("hotfix/x", 1))
	}

	// Three critical queues drain ahead of the low one, each round
	// adding the low queue's weight to its deficit.
	for i := 0; i < 3; i++ {
		s.NextQueue()
	}

	s.mu.Lock()
	deficit := s.slots[0].deficit
	s.mu.Unlock()
	if deficit != 3 {
		t.Errorf("deficit = %d, want 3 after three passes", deficit)
	}

	if got := s.NextQueue(); got.ID != low.ID {
		t.Errorf("expected the waiting queue, got %s", got.BaseBranch)
	}
}

func TestProperty_SchedulerDrainIsCompleteAndWeightOrdered(t *testing.T) {
	branches := []string{"hotfix/fire", "release-3", "main", "develop", "feature/x"}

	rapid.Check(t, func(t *rapid.T) {
		s := New(nil)

		n := rapid.IntRange(1, 20).Draw(t, "queues")
		scheduled := make(map[string]bool)
		for i := 0; i < n; i++ {
			branch := rapid.SampledFrom(branches).Draw(t, "branch")
			entries := rapid.IntRange(0, 3).Draw(t, "entries")
			q := testQueue(branch, entries)
			s.Schedule(q)
			if entries > 0 {
				scheduled[q.ID] = true
			}
		}

		seen := make(map[string]bool)
		lastWeight := 5
		for q := s.NextQueue(); q != nil; q = s.NextQueue() {
			if seen[q.ID] {
				t.Fatalf("queue %s returned twice", q.ID)
			}
			seen[q.ID] = true

			if !scheduled[q.ID] {
				t.Fatalf("queue %s was never schedulable", q.ID)
			}

			// Queues scheduled together drain by descending weight.
			w := PriorityForBranch(q.BaseBranch).Weight()
			if w > lastWeight {
				t.Fatalf("drain not weight-ordered: %d after %d", w, lastWeight)
			}
			lastWeight = w
		}

		if len(seen) != len(scheduled) {
			t.Fatalf("drained %d queues, scheduled %d", len(seen), len(scheduled))
		}
	})
}
