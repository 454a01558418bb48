package queue

import "context"

// Store is the persistence boundary for the queue domain. Implementations
// must be safe for concurrent use. Lookup methods return (nil, nil) when the
// row does not exist.
type Store interface {
	QueueStore
	PullRequestStore
	ConfigStore
}

// QueueStore persists queues and their entries.
type QueueStore interface {
	// Queues returns every queue with entries (and their PRs) loaded,
	// ordered by position within each queue.
	Queues(ctx context.Context) ([]*Queue, error)

	// QueueFor returns the queue for (repo, baseBranch), or (nil, nil).
	QueueFor(ctx context.Context, repo Repo, baseBranch string) (*Queue, error)

	// SaveQueue inserts or updates a queue row (not its entries).
	SaveQueue(ctx context.Context, q *Queue) error

	// DeleteQueue removes a queue and cascades to its entries.
	DeleteQueue(ctx context.Context, id string) error

	// InsertEntry appends an entry row.
	InsertEntry(ctx context.Context, e *Entry) error

	// UpdateEntry persists an entry's status, position and timestamps.
	UpdateEntry(ctx context.Context, e *Entry) error

	// RemoveEntry deletes an entry and compacts the remaining positions
	// to 0..n-1 within the same transaction.
	RemoveEntry(ctx context.Context, queueID, entryID string) error

	// Entries returns a queue's entries ordered by position.
	Entries(ctx context.Context, queueID string) ([]*Entry, error)

	// ReorderEntries rewrites positions to match the given entry id order.
	ReorderEntries(ctx context.Context, queueID string, orderedIDs []string) error
}

// PullRequestStore persists pull requests.
type PullRequestStore interface {
	PullRequestByID(ctx context.Context, id string) (*PullRequest, error)
	PullRequestByNumber(ctx context.Context, repo Repo, number int) (*PullRequest, error)

	// SavePullRequest inserts or updates by (repo, number).
	SavePullRequest(ctx context.Context, pr *PullRequest) error

	DeletePullRequest(ctx context.Context, id string) error
}

// ConfigStore persists the single system configuration row.
type ConfigStore interface {
	// SystemConfig returns the configuration row, creating the default
	// row on first read.
	SystemConfig(ctx context.Context) (*SystemConfig, error)

	SaveSystemConfig(ctx context.Context, sc *SystemConfig) error
}
