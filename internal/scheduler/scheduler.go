// Package scheduler picks the next merge queue to process using weighted
// deficit round robin: every pass over a waiting queue raises its deficit
// by its priority weight, so high-priority queues are served first while
// low-priority queues accrue enough deficit to never starve.
package scheduler

import (
	"sync"

	"github.com/imq-dev/imq/internal/metrics"
	"github.com/imq-dev/imq/internal/queue"
)

// slot is one scheduled queue in the current round.
type slot struct {
	queue    *queue.Queue
	priority Priority
	weight   int
	deficit  int
}

// Scheduler holds the queues waiting for a processing slot. Methods are
// safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	slots   []*slot
	metrics *metrics.Metrics
}

// New creates an empty scheduler. m may be nil.
func New(m *metrics.Metrics) *Scheduler {
	return &Scheduler{metrics: m}
}

// Schedule adds a queue to the round with zero deficit. Empty queues are
// skipped; a queue already waiting is not added twice.
func (s *Scheduler) Schedule(q *queue.Queue) {
	if q == nil || len(q.Entries) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sl := range s.slots {
		if sl.queue.ID == q.ID {
			return
		}
	}

	priority := PriorityForBranch(q.BaseBranch)
	s.slots = append(s.slots, &slot{
		queue:    q,
		priority: priority,
		weight:   priority.Weight(),
	})
}

// NextQueue removes and returns the queue with the greatest deficit,
// breaking ties toward the higher priority class and then scheduling
// order. Every queue passed over earns its weight in deficit. Returns
// nil when the round is drained.
func (s *Scheduler) NextQueue() *queue.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.slots) == 0 {
		return nil
	}

	best := 0
	for i := 1; i < len(s.slots); i++ {
		candidate, leader := s.slots[i], s.slots[best]
		if candidate.deficit > leader.deficit ||
			(candidate.deficit == leader.deficit && candidate.priority < leader.priority) {
			best = i
		}
	}

	chosen := s.slots[best]
	s.slots = append(s.slots[:best], s.slots[best+1:]...)

	for _, sl := range s.slots {
		sl.deficit += sl.weight
	}

	if s.metrics != nil {
		s.metrics.SchedulerSelections.WithLabelValues(chosen.priority.String()).Inc()
	}
	return chosen.queue
}

// Len reports how many queues are waiting.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
