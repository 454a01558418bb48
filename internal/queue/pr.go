package queue

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// PullRequest is the persisted view of a GitHub pull request. It carries
// what the pipeline needs between webhook deliveries; live mergeability
// comes from the gateway at processing time.
type PullRequest struct {
	ID           string    `json:"id"`
	Repo         Repo      `json:"repo"`
	Number       int       `json:"number"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	BaseBranch   string    `json:"base_branch"`
	HeadBranch   string    `json:"head_branch"`
	HeadSHA      string    `json:"head_sha"`
	IsConflicted bool      `json:"is_conflicted"`
	IsUpToDate   bool      `json:"is_up_to_date"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewPullRequest creates a PullRequest with a fresh id and timestamps.
func NewPullRequest(repo Repo, number int) *PullRequest {
	now := time.Now().UTC()
	return &PullRequest{
		ID:        ulid.Make().String(),
		Repo:      repo,
		Number:    number,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps the modification timestamp.
func (pr *PullRequest) Touch() {
	pr.UpdatedAt = time.Now().UTC()
}
