package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/imq-dev/imq/internal/queue"
)

const prColumns = `id, owner, repo, number, title, author, base_branch,
	head_branch, head_sha, is_conflicted, is_up_to_date, created_at, updated_at`

// PullRequestByID returns the stored pull request, or nil, nil.
func (s *Store) PullRequestByID(ctx context.Context, id string) (*queue.PullRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prColumns+` FROM pull_requests WHERE id = ?
	`, id)
	return scanPullRequest(row)
}

// PullRequestByNumber returns the stored pull request for (repo, number),
// or nil, nil.
func (s *Store) PullRequestByNumber(ctx context.Context, repo queue.Repo, number int) (*queue.PullRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prColumns+` FROM pull_requests
		WHERE owner = ? AND repo = ? AND number = ?
	`, repo.Owner, repo.Name, number)
	return scanPullRequest(row)
}

// SavePullRequest inserts the pull request or updates its mutable fields.
func (s *Store) SavePullRequest(ctx context.Context, pr *queue.PullRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pull_requests (
			id, owner, repo, number, title, author, base_branch,
			head_branch, head_sha, is_conflicted, is_up_to_date,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			base_branch = excluded.base_branch,
			head_branch = excluded.head_branch,
			head_sha = excluded.head_sha,
			is_conflicted = excluded.is_conflicted,
			is_up_to_date = excluded.is_up_to_date,
			updated_at = excluded.updated_at
	`, pr.ID, pr.Repo.Owner, pr.Repo.Name, pr.Number, pr.Title, pr.Author,
		pr.BaseBranch, pr.HeadBranch, pr.HeadSHA, pr.IsConflicted, pr.IsUpToDate,
		pr.CreatedAt, pr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pull request: %w", err)
	}
	return nil
}

// DeletePullRequest removes a pull request; any queue entry referencing
// it cascades away.
func (s *Store) DeletePullRequest(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pull_requests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete pull request: %w", err)
	}
	return nil
}

func scanPullRequest(row *sql.Row) (*queue.PullRequest, error) {
	pr := &queue.PullRequest{}
	err := row.Scan(
		&pr.ID, &pr.Repo.Owner, &pr.Repo.Name, &pr.Number, &pr.Title, &pr.Author,
		&pr.BaseBranch, &pr.HeadBranch, &pr.HeadSHA,
		&pr.IsConflicted, &pr.IsUpToDate, &pr.CreatedAt, &pr.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pull request: %w", err)
	}
	return pr, nil
}
