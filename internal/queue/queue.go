// Package queue holds the merge queue domain model: queues, entries, pull
// requests and the mutation service that keeps their invariants.
//
// Invariants maintained by this package:
//   - entry positions within a queue are exactly 0..n-1
//   - a queue never holds two entries for the same pull request
//   - at most one entry per queue is in flight, and it sits at position 0
//   - status transitions follow ValidTransitions; terminal states are final
package queue

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Repo identifies a GitHub repository. Immutable after creation.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// String returns the owner/name form.
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// Queue is an ordered set of entries targeting one base branch of one repo.
type Queue struct {
	ID         string    `json:"id"`
	Repo       Repo      `json:"repo"`
	BaseBranch string    `json:"base_branch"`
	Entries    []*Entry  `json:"entries"`
	CreatedAt  time.Time `json:"created_at"`
}

// Entry is one pull request's place in a queue.
type Entry struct {
	ID          string       `json:"id"`
	QueueID     string       `json:"queue_id"`
	PullRequest *PullRequest `json:"pull_request"`
	Position    int          `json:"position"`
	Status      EntryStatus  `json:"status"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// NewQueue creates an empty queue for the given repo and base branch.
func NewQueue(repo Repo, baseBranch string) *Queue {
	return &Queue{
		ID:         ulid.Make().String(),
		Repo:       repo,
		BaseBranch: baseBranch,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewEntry creates a pending entry for pr at the given position.
func NewEntry(queueID string, pr *PullRequest, position int) *Entry {
	return &Entry{
		ID:          ulid.Make().String(),
		QueueID:     queueID,
		PullRequest: pr,
		Position:    position,
		Status:      StatusPending,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	return len(q.Entries)
}

// Head returns the entry at position 0, or nil for an empty queue.
func (q *Queue) Head() *Entry {
	for _, e := range q.Entries {
		if e.Position == 0 {
			return e
		}
	}
	return nil
}

// EntryForPR returns the entry holding the given PR id, or nil.
func (q *Queue) EntryForPR(prID string) *Entry {
	for _, e := range q.Entries {
		if e.PullRequest != nil && e.PullRequest.ID == prID {
			return e
		}
	}
	return nil
}

// EntryByID returns the entry with the given id, or nil.
func (q *Queue) EntryByID(entryID string) *Entry {
	for _, e := range q.Entries {
		if e.ID == entryID {
			return e
		}
	}
	return nil
}

// NextPosition returns the position a newly appended entry takes.
func (q *Queue) NextPosition() int {
	max := -1
	for _, e := range q.Entries {
		if e.Position > max {
			max = e.Position
		}
	}
	return max + 1
}

// Transition moves the entry to a new status, stamping StartedAt on the
// first in-flight transition and CompletedAt on terminal ones.
func (e *Entry) Transition(to EntryStatus) error {
	if !CanTransition(e.Status, to) {
		return &InvalidTransitionError{From: e.Status, To: to}
	}
	now := time.Now().UTC()
	if e.Status == StatusPending && to.IsInFlight() && e.StartedAt == nil {
		e.StartedAt = &now
	}
	if to.IsTerminal() && e.CompletedAt == nil {
		e.CompletedAt = &now
	}
	e.Status = to
	return nil
}

// InvalidTransitionError reports a lifecycle violation.
type InvalidTransitionError struct {
	From EntryStatus
	To   EntryStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Validate checks the queue invariants and returns the first violation.
func (q *Queue) Validate() error {
	seen := make(map[int]bool, len(q.Entries))
	prs := make(map[string]bool, len(q.Entries))
	inFlight := 0
	for _, e := range q.Entries {
		if e.Position < 0 || e.Position >= len(q.Entries) {
			return fmt.Errorf("entry %s: position %d out of range [0,%d)", e.ID, e.Position, len(q.Entries))
		}
		if seen[e.Position] {
			return fmt.Errorf("duplicate position %d", e.Position)
		}
		seen[e.Position] = true

		if e.PullRequest != nil {
			if prs[e.PullRequest.ID] {
				return fmt.Errorf("duplicate pull request %s", e.PullRequest.ID)
			}
			prs[e.PullRequest.ID] = true
		}

		if e.Status.IsInFlight() {
			inFlight++
			if e.Position != 0 {
				return fmt.Errorf("in-flight entry %s at position %d", e.ID, e.Position)
			}
		}
	}
	if inFlight > 1 {
		return fmt.Errorf("%d entries in flight", inFlight)
	}
	return nil
}
