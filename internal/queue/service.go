package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/events"
)

// Service applies queue mutations on top of the store while holding the
// package invariants and emitting lifecycle events. It is the single write
// path for webhook and API callers; the processor mutates entry status
// directly through the store.
type Service struct {
	store  Store
	bus    *events.Bus
	logger *zap.Logger
}

// NewService wires a mutation service.
func NewService(store Store, bus *events.Bus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, bus: bus, logger: logger}
}

// Enqueue upserts the pull request, finds or creates the queue for its base
// branch, and appends a pending entry at the tail. Enqueueing a PR that is
// already queued is a no-op returning the existing entry.
func (s *Service) Enqueue(ctx context.Context, pr *PullRequest) (*Entry, error) {
	pr, err := s.upsertPullRequest(ctx, pr)
	if err != nil {
		return nil, err
	}

	q, err := s.store.QueueFor(ctx, pr.Repo, pr.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to find queue: %w", err)
	}
	if q == nil {
		q = NewQueue(pr.Repo, pr.BaseBranch)
		if err := s.store.SaveQueue(ctx, q); err != nil {
			return nil, fmt.Errorf("failed to create queue: %w", err)
		}
		s.logger.Info("created queue",
			zap.String("queue", q.ID),
			zap.String("branch", q.BaseBranch))
	}

	if existing := q.EntryForPR(pr.ID); existing != nil {
		return existing, nil
	}

	entry := NewEntry(q.ID, pr, q.NextPosition())
	if err := s.store.InsertEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	s.bus.Emit(events.NewEvent(events.EntryAdded, q.ID).
		WithBranch(q.BaseBranch).
		WithEntry(entry.ID).
		WithPR(pr.Number).
		WithPayload(map[string]any{"position": entry.Position}))

	return entry, nil
}

// Remove deletes the queue entry holding the given PR, compacting positions.
// Removing a PR that is not queued is a no-op returning (nil, nil).
func (s *Service) Remove(ctx context.Context, repo Repo, number int) (*Entry, error) {
	pr, err := s.store.PullRequestByNumber(ctx, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to find pull request: %w", err)
	}
	if pr == nil {
		return nil, nil
	}

	queues, err := s.store.Queues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	for _, q := range queues {
		entry := q.EntryForPR(pr.ID)
		if entry == nil {
			continue
		}
		if err := s.store.RemoveEntry(ctx, q.ID, entry.ID); err != nil {
			return nil, fmt.Errorf("failed to remove entry: %w", err)
		}
		s.bus.Emit(events.NewEvent(events.EntryRemoved, q.ID).
			WithBranch(q.BaseBranch).
			WithEntry(entry.ID).
			WithPR(pr.Number))
		return entry, nil
	}
	return nil, nil
}

// RemoveEntry deletes a specific entry by id (API path), compacting
// positions and emitting the removal event.
func (s *Service) RemoveEntry(ctx context.Context, queueID, entryID string) error {
	entries, err := s.store.Entries(ctx, queueID)
	if err != nil {
		return fmt.Errorf("failed to load entries: %w", err)
	}
	var target *Entry
	for _, e := range entries {
		if e.ID == entryID {
			target = e
			break
		}
	}
	if target == nil {
		return ErrEntryNotFound
	}

	if err := s.store.RemoveEntry(ctx, queueID, entryID); err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}

	evt := events.NewEvent(events.EntryRemoved, queueID).WithEntry(entryID)
	if target.PullRequest != nil {
		evt = evt.WithPR(target.PullRequest.Number)
	}
	s.bus.Emit(evt)
	return nil
}

// Requeue moves a PR to the tail of its queue: any existing entry is
// removed, then a fresh pending entry is appended. Used when new commits
// arrive on an already-queued PR.
func (s *Service) Requeue(ctx context.Context, pr *PullRequest) (*Entry, error) {
	if _, err := s.Remove(ctx, pr.Repo, pr.Number); err != nil {
		return nil, err
	}
	return s.Enqueue(ctx, pr)
}

// Close removes the PR's entry (if any) and deletes the stored PR. Called
// when the pull request is closed on GitHub.
func (s *Service) Close(ctx context.Context, repo Repo, number int) error {
	if _, err := s.Remove(ctx, repo, number); err != nil {
		return err
	}
	pr, err := s.store.PullRequestByNumber(ctx, repo, number)
	if err != nil {
		return fmt.Errorf("failed to find pull request: %w", err)
	}
	if pr == nil {
		return nil
	}
	if err := s.store.DeletePullRequest(ctx, pr.ID); err != nil {
		return fmt.Errorf("failed to delete pull request: %w", err)
	}
	return nil
}

// upsertPullRequest reconciles incoming PR fields with any stored row,
// preserving the stored id and creation time.
func (s *Service) upsertPullRequest(ctx context.Context, pr *PullRequest) (*PullRequest, error) {
	existing, err := s.store.PullRequestByNumber(ctx, pr.Repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to find pull request: %w", err)
	}
	if existing != nil {
		existing.Title = pr.Title
		existing.Author = pr.Author
		existing.BaseBranch = pr.BaseBranch
		existing.HeadBranch = pr.HeadBranch
		existing.HeadSHA = pr.HeadSHA
		existing.IsConflicted = pr.IsConflicted
		existing.IsUpToDate = pr.IsUpToDate
		existing.Touch()
		pr = existing
	}
	if err := s.store.SavePullRequest(ctx, pr); err != nil {
		return nil, fmt.Errorf("failed to save pull request: %w", err)
	}
	return pr, nil
}
