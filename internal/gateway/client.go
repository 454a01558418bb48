package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/imq-dev/imq/internal/config"
	"github.com/imq-dev/imq/internal/metrics"
)

const (
	requestTimeout = 30 * time.Second
	apiVersion     = "2022-11-28"
)

// Client implements Gateway against the GitHub REST API. All requests flow
// through a circuit breaker; an open breaker fails fast with a retriable
// error instead of hammering a failing upstream.
type Client struct {
	baseURL string
	owner   string
	repo    string
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewClient creates a GitHub API client for the configured repository.
func NewClient(cfg config.GitHubConfig, m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: cfg.APIBaseURL,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		token:   cfg.Token,
		http:    &http.Client{Timeout: requestTimeout},
		metrics: m,
		logger:  logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "github",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if to == gobreaker.StateOpen {
				m.GatewayBreakerTrips.Inc()
			}
		},
		// Rate limits and client errors are the caller's problem, not a
		// sign the upstream is down.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var netErr *NetworkError
			if errors.As(err, &netErr) {
				return false
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return true
		},
	})
	return c
}

// GetPullRequest fetches the live pull request state.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, c.owner, c.repo, number)

	var payload prPayload
	if err := c.doJSON(ctx, "get_pull_request", http.MethodGet, url, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to get pull request #%d: %w", number, err)
	}
	return payload.toPullRequest(), nil
}

// UpdatePullRequestBranch merges the base branch into the PR head. The
// update endpoint returns no commit, so the new head SHA comes from a
// follow-up fetch.
func (c *Client) UpdatePullRequestBranch(ctx context.Context, number int) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/update-branch", c.baseURL, c.owner, c.repo, number)

	if err := c.doJSON(ctx, "update_branch", http.MethodPut, url, map[string]any{}, nil); err != nil {
		return "", fmt.Errorf("failed to update branch of #%d: %w", number, err)
	}

	pr, err := c.GetPullRequest(ctx, number)
	if err != nil {
		return "", fmt.Errorf("failed to fetch updated head of #%d: %w", number, err)
	}
	return pr.HeadSHA, nil
}

// CompareCommits reports how head relates to base.
func (c *Client) CompareCommits(ctx context.Context, base, head string) (*Comparison, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/compare/%s...%s", c.baseURL, c.owner, c.repo, base, head)

	var payload struct {
		Status   string `json:"status"`
		AheadBy  int    `json:"ahead_by"`
		BehindBy int    `json:"behind_by"`
	}
	if err := c.doJSON(ctx, "compare_commits", http.MethodGet, url, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to compare %s...%s: %w", base, head, err)
	}
	return &Comparison{
		Status:   ComparisonStatus(payload.Status),
		AheadBy:  payload.AheadBy,
		BehindBy: payload.BehindBy,
	}, nil
}

// MergePullRequest merges the PR with the given options.
func (c *Client) MergePullRequest(ctx context.Context, number int, opts MergeOptions) (*MergeResult, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/merge", c.baseURL, c.owner, c.repo, number)

	body := map[string]any{"merge_method": opts.Method}
	if opts.CommitTitle != "" {
		body["commit_title"] = opts.CommitTitle
	}
	if opts.CommitMessage != "" {
		body["commit_message"] = opts.CommitMessage
	}
	if opts.SHA != "" {
		body["sha"] = opts.SHA
	}

	var payload struct {
		SHA     string `json:"sha"`
		Merged  bool   `json:"merged"`
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, "merge_pull_request", http.MethodPut, url, body, &payload); err != nil {
		return nil, fmt.Errorf("failed to merge #%d: %w", number, err)
	}
	return &MergeResult{Merged: payload.Merged, SHA: payload.SHA, Message: payload.Message}, nil
}

// PostComment adds an issue comment to the PR.
func (c *Client) PostComment(ctx context.Context, number int, body string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, c.owner, c.repo, number)

	if err := c.doJSON(ctx, "post_comment", http.MethodPost, url, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("failed to comment on #%d: %w", number, err)
	}
	return nil
}

// TriggerWorkflow dispatches a workflow file at the given ref.
func (c *Client) TriggerWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches", c.baseURL, c.owner, c.repo, workflowFile)

	body := map[string]any{"ref": ref}
	if len(inputs) > 0 {
		body["inputs"] = inputs
	}
	if err := c.doJSON(ctx, "trigger_workflow", http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("failed to dispatch workflow %s: %w", workflowFile, err)
	}
	return nil
}

// GetWorkflowRun fetches a single workflow run by id.
func (c *Client) GetWorkflowRun(ctx context.Context, runID int64) (*WorkflowRun, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d", c.baseURL, c.owner, c.repo, runID)

	var payload runPayload
	if err := c.doJSON(ctx, "get_workflow_run", http.MethodGet, url, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to get workflow run %d: %w", runID, err)
	}
	return payload.toWorkflowRun(), nil
}

// ListWorkflowRuns lists runs of a workflow file for a head SHA.
func (c *Client) ListWorkflowRuns(ctx context.Context, workflowFile, headSHA string) ([]*WorkflowRun, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/runs?head_sha=%s&per_page=50",
		c.baseURL, c.owner, c.repo, workflowFile, headSHA)

	var payload struct {
		WorkflowRuns []runPayload `json:"workflow_runs"`
	}
	if err := c.doJSON(ctx, "list_workflow_runs", http.MethodGet, url, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to list runs of %s: %w", workflowFile, err)
	}
	runs := make([]*WorkflowRun, len(payload.WorkflowRuns))
	for i, rp := range payload.WorkflowRuns {
		runs[i] = rp.toWorkflowRun()
	}
	return runs, nil
}

// doJSON performs a request through the breaker, decoding a JSON response
// into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, url string, body, out any) error {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, method, url, body)
	})
	outcome := "ok"
	if err != nil {
		outcome = classifyOutcome(err)
	}
	c.metrics.GatewayRequests.WithLabelValues(op, outcome).Inc()
	if err != nil {
		return err
	}

	data := result.([]byte)
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// doRequest performs one HTTP round trip and classifies the response.
func (c *Client) doRequest(ctx context.Context, method, url string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, classifyResponse(resp, data)
}

// classifyResponse maps a non-2xx response to a typed error.
func classifyResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0") {
		return &RateLimitError{ResetAt: parseRateLimitReset(resp.Header)}
	}

	message := resp.Status
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		message = payload.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// parseRateLimitReset reads the X-RateLimit-Reset epoch header, defaulting
// to one minute out when absent.
func parseRateLimitReset(h http.Header) time.Time {
	if raw := h.Get("X-RateLimit-Reset"); raw != "" {
		if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return time.Unix(epoch, 0)
		}
	}
	return time.Now().Add(time.Minute)
}

func classifyOutcome(err error) string {
	switch {
	case IsRateLimit(err):
		return "rate_limit"
	case IsUnauthorized(err):
		return "unauthorized"
	case IsForbidden(err):
		return "forbidden"
	case IsNotFound(err):
		return "not_found"
	default:
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return "network"
		}
		return "error"
	}
}

// prPayload is the GitHub REST shape for a pull request.
type prPayload struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
	Head struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Mergeable      *bool  `json:"mergeable"`
	MergeableState string `json:"mergeable_state"`
	Merged         bool   `json:"merged"`
	Labels         []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (p *prPayload) toPullRequest() *PullRequest {
	labels := make([]string, len(p.Labels))
	for i, l := range p.Labels {
		labels[i] = l.Name
	}
	return &PullRequest{
		Number:         p.Number,
		Title:          p.Title,
		Author:         p.User.Login,
		State:          p.State,
		BaseBranch:     p.Base.Ref,
		HeadBranch:     p.Head.Ref,
		HeadSHA:        p.Head.SHA,
		Mergeable:      p.Mergeable,
		MergeableState: p.MergeableState,
		Merged:         p.Merged,
		Labels:         labels,
	}
}

// runPayload is the GitHub REST shape for a workflow run.
type runPayload struct {
	ID         int64     `json:"id"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	HeadSHA    string    `json:"head_sha"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p *runPayload) toWorkflowRun() *WorkflowRun {
	return &WorkflowRun{
		ID:         p.ID,
		Status:     p.Status,
		Conclusion: p.Conclusion,
		HeadSHA:    p.HeadSHA,
		CreatedAt:  p.CreatedAt,
	}
}
