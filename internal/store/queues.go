package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/imq-dev/imq/internal/queue"
)

// Queues returns every queue with its entries and their pull requests
// loaded, entries ordered by position.
func (s *Store) Queues(ctx context.Context) ([]*queue.Queue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, repo, base_branch, created_at
		FROM queues
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	defer rows.Close()

	var queues []*queue.Queue
	for rows.Next() {
		q := &queue.Queue{}
		if err := rows.Scan(&q.ID, &q.Repo.Owner, &q.Repo.Name, &q.BaseBranch, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue: %w", err)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queues: %w", err)
	}

	for _, q := range queues {
		entries, err := s.Entries(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		q.Entries = entries
	}
	return queues, nil
}

// QueueFor returns the queue for (repo, baseBranch) with entries loaded.
// Returns nil, nil if no such queue exists.
func (s *Store) QueueFor(ctx context.Context, repo queue.Repo, baseBranch string) (*queue.Queue, error) {
	q := &queue.Queue{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, repo, base_branch, created_at
		FROM queues
		WHERE owner = ? AND repo = ? AND base_branch = ?
	`, repo.Owner, repo.Name, baseBranch).Scan(&q.ID, &q.Repo.Owner, &q.Repo.Name, &q.BaseBranch, &q.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}

	entries, err := s.Entries(ctx, q.ID)
	if err != nil {
		return nil, err
	}
	q.Entries = entries
	return q, nil
}

// SaveQueue inserts or updates a queue row. Entries are persisted
// separately.
func (s *Store) SaveQueue(ctx context.Context, q *queue.Queue) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queues (id, owner, repo, base_branch, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			repo = excluded.repo,
			base_branch = excluded.base_branch
	`, q.ID, q.Repo.Owner, q.Repo.Name, q.BaseBranch, q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save queue: %w", err)
	}
	return nil
}

// DeleteQueue removes a queue; its entries cascade away.
func (s *Store) DeleteQueue(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM queues WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return queue.ErrQueueNotFound
	}
	return nil
}

// InsertEntry appends an entry row. Position and pull request uniqueness
// are enforced by the schema.
func (s *Store) InsertEntry(ctx context.Context, e *queue.Entry) error {
	if e.PullRequest == nil {
		return fmt.Errorf("entry %s has no pull request", e.ID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_entries (
			id, queue_id, pull_request_id, position, status,
			enqueued_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.QueueID, e.PullRequest.ID, e.Position, e.Status,
		e.EnqueuedAt, e.StartedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// UpdateEntry persists an entry's status, position and timestamps.
func (s *Store) UpdateEntry(ctx context.Context, e *queue.Entry) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET position = ?, status = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`, e.Position, e.Status, e.StartedAt, e.CompletedAt, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return queue.ErrEntryNotFound
	}
	return nil
}

// RemoveEntry deletes an entry and compacts the remaining positions to
// 0..n-1 in the same transaction. Positions pass through negative values
// so the uniqueness constraint never sees a transient duplicate.
func (s *Store) RemoveEntry(ctx context.Context, queueID, entryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var position int
	err = tx.QueryRowContext(ctx, `
		SELECT position FROM queue_entries WHERE id = ? AND queue_id = ?
	`, entryID, queueID).Scan(&position)
	if err == sql.ErrNoRows {
		return queue.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get entry position: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM queue_entries WHERE id = ?
	`, entryID); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_entries SET position = -(position - 1) - 1
		WHERE queue_id = ? AND position > ?
	`, queueID, position); err != nil {
		return fmt.Errorf("failed to shift positions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_entries SET position = -position - 1
		WHERE queue_id = ? AND position < 0
	`, queueID); err != nil {
		return fmt.Errorf("failed to restore positions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal: %w", err)
	}
	return nil
}

// Entries returns a queue's entries with pull requests joined, ordered
// by position.
func (s *Store) Entries(ctx context.Context, queueID string) ([]*queue.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.queue_id, e.position, e.status,
		       e.enqueued_at, e.started_at, e.completed_at,
		       p.id, p.owner, p.repo, p.number, p.title, p.author,
		       p.base_branch, p.head_branch, p.head_sha,
		       p.is_conflicted, p.is_up_to_date, p.created_at, p.updated_at
		FROM queue_entries e
		JOIN pull_requests p ON p.id = e.pull_request_id
		WHERE e.queue_id = ?
		ORDER BY e.position
	`, queueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*queue.Entry
	for rows.Next() {
		e := &queue.Entry{PullRequest: &queue.PullRequest{}}
		p := e.PullRequest
		err := rows.Scan(
			&e.ID, &e.QueueID, &e.Position, &e.Status,
			&e.EnqueuedAt, &e.StartedAt, &e.CompletedAt,
			&p.ID, &p.Repo.Owner, &p.Repo.Name, &p.Number, &p.Title, &p.Author,
			&p.BaseBranch, &p.HeadBranch, &p.HeadSHA,
			&p.IsConflicted, &p.IsUpToDate, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// ReorderEntries rewrites positions to match the given entry id order.
func (s *Store) ReorderEntries(ctx context.Context, queueID string, orderedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Park every position in negative space first so the uniqueness
	// constraint holds throughout the rewrite.
	for i, id := range orderedIDs {
		result, err := tx.ExecContext(ctx, `
			UPDATE queue_entries SET position = ? WHERE id = ? AND queue_id = ?
		`, -(i + 1), id, queueID)
		if err != nil {
			return fmt.Errorf("failed to reorder entry: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if affected == 0 {
			return queue.ErrEntryNotFound
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_entries SET position = -position - 1
		WHERE queue_id = ? AND position < 0
	`, queueID); err != nil {
		return fmt.Errorf("failed to restore positions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reorder: %w", err)
	}
	return nil
}
