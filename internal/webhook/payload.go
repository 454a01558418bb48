package webhook

import (
	"strings"

	"github.com/imq-dev/imq/internal/queue"
)

// pullRequestEvent is the subset of GitHub's pull_request event payload the
// queue cares about. Before carries the pre-push head SHA on synchronize.
type pullRequestEvent struct {
	Action      string            `json:"action"`
	Number      int               `json:"number"`
	Before      string            `json:"before"`
	PullRequest prPayload         `json:"pull_request"`
	Label       labelPayload      `json:"label"`
	Repository  repositoryPayload `json:"repository"`
}

type prPayload struct {
	Number int            `json:"number"`
	Title  string         `json:"title"`
	User   userPayload    `json:"user"`
	Labels []labelPayload `json:"labels"`
	Base   refPayload     `json:"base"`
	Head   refPayload     `json:"head"`
}

type userPayload struct {
	Login string `json:"login"`
}

type labelPayload struct {
	Name string `json:"name"`
}

type refPayload struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type repositoryPayload struct {
	Name  string      `json:"name"`
	Owner userPayload `json:"owner"`
}

// hasLabel reports whether the PR currently carries the given label. GitHub
// label names are case-insensitive.
func (e *pullRequestEvent) hasLabel(name string) bool {
	for _, l := range e.PullRequest.Labels {
		if strings.EqualFold(l.Name, name) {
			return true
		}
	}
	return false
}

// toDomain converts the payload into the queue's pull request model.
func (e *pullRequestEvent) toDomain(repo queue.Repo) *queue.PullRequest {
	pr := queue.NewPullRequest(repo, e.PullRequest.Number)
	pr.Title = e.PullRequest.Title
	pr.Author = e.PullRequest.User.Login
	pr.BaseBranch = e.PullRequest.Base.Ref
	pr.HeadBranch = e.PullRequest.Head.Ref
	pr.HeadSHA = e.PullRequest.Head.SHA
	return pr
}
