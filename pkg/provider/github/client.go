// Package github implements provider.Client against the GitHub REST API.
//
// All calls go through a shared token-bucket limiter so concurrent jobs
// draw from one rate budget instead of racing each other into secondary
// rate limits.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/airlift/buildforge/pkg/provider"
)

// Client is a provider.Client backed by the GitHub REST API.
type Client struct {
	cfg     Config
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

var _ provider.Client = (*Client)(nil)

// New creates a GitHub client from the given configuration.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout()}
	}

	return &Client{
		cfg:     cfg,
		http:    hc,
		base:    cfg.baseURL(),
		limiter: rate.NewLimiter(rate.Limit(cfg.requestsPerSecond()), 1),
	}, nil
}

// AuthenticatedUser returns the service account identity and token scopes.
func (c *Client) AuthenticatedUser(ctx context.Context) (*provider.Identity, error) {
	var body struct {
		Login string `json:"login"`
	}
	resp, err := c.do(ctx, "AuthenticatedUser", http.MethodGet, "/user", nil, &body)
	if err != nil {
		return nil, err
	}

	id := &provider.Identity{Login: body.Login}
	if scopes := resp.Header.Get("X-OAuth-Scopes"); scopes != "" {
		for _, s := range strings.Split(scopes, ",") {
			id.Scopes = append(id.Scopes, strings.TrimSpace(s))
		}
	}
	return id, nil
}

// ForkRepo requests a fork of owner/repo named forkName under the
// service account. GitHub processes forks asynchronously; only a 202
// response is treated as success.
func (c *Client) ForkRepo(ctx context.Context, owner, repo, forkName string) (*provider.Repository, error) {
	req := map[string]any{
		"name":                forkName,
		"default_branch_only": false,
	}
	var body repoJSON
	resp, err := c.do(ctx, "ForkRepo", http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/forks", pathEscape(owner), pathEscape(repo)), req, &body)
	if err != nil {
		return nil, c.opErr("ForkRepo", owner, repo, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, c.opErr("ForkRepo", owner, repo,
			fmt.Errorf("unexpected status %d, want 202 Accepted", resp.StatusCode))
	}
	return body.toRepository(), nil
}

// GetBranch resolves a branch head.
func (c *Client) GetBranch(ctx context.Context, owner, repo, branch string) (*provider.Branch, error) {
	var body struct {
		Name   string `json:"name"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	_, err := c.do(ctx, "GetBranch", http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/branches/%s", pathEscape(owner), pathEscape(repo), pathEscape(branch)),
		nil, &body)
	if err != nil {
		return nil, c.opErr("GetBranch", owner, repo, err)
	}
	return &provider.Branch{Name: body.Name, SHA: body.Commit.SHA}, nil
}

// ListBranches returns the repository's branches.
func (c *Client) ListBranches(ctx context.Context, owner, repo string) ([]provider.Branch, error) {
	var body []struct {
		Name   string `json:"name"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	_, err := c.do(ctx, "ListBranches", http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/branches", pathEscape(owner), pathEscape(repo)), nil, &body)
	if err != nil {
		return nil, c.opErr("ListBranches", owner, repo, err)
	}

	branches := make([]provider.Branch, 0, len(body))
	for _, b := range body {
		branches = append(branches, provider.Branch{Name: b.Name, SHA: b.Commit.SHA})
	}
	return branches, nil
}

// CreateBranch creates refs/heads/<branch> at sha.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	req := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}
	_, err := c.do(ctx, "CreateBranch", http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/git/refs", pathEscape(owner), pathEscape(repo)), req, nil)
	if err != nil {
		return c.opErr("CreateBranch", owner, repo, err)
	}
	return nil
}

// WriteFile creates or updates a file through the contents API.
func (c *Client) WriteFile(ctx context.Context, owner, repo string, opts provider.WriteFileOptions) error {
	req := map[string]any{
		"message": opts.Message,
		"content": base64.StdEncoding.EncodeToString(opts.Content),
		"branch":  opts.Branch,
	}
	if opts.SHA != "" {
		req["sha"] = opts.SHA
	}
	_, err := c.do(ctx, "WriteFile", http.MethodPut,
		fmt.Sprintf("/repos/%s/%s/contents/%s", pathEscape(owner), pathEscape(repo), escapePath(opts.Path)),
		req, nil)
	if err != nil {
		return c.opErr("WriteFile", owner, repo, err)
	}
	return nil
}

// DispatchWorkflow triggers a workflow_dispatch event for workflowFile on ref.
func (c *Client) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string) error {
	req := map[string]string{"ref": ref}
	_, err := c.do(ctx, "DispatchWorkflow", http.MethodPost,
		fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches",
			pathEscape(owner), pathEscape(repo), pathEscape(workflowFile)), req, nil)
	if err != nil {
		return c.opErr("DispatchWorkflow", owner, repo, err)
	}
	return nil
}

// ListRuns returns workflow runs, newest first (GitHub's default order).
func (c *Client) ListRuns(ctx context.Context, owner, repo string) ([]provider.Run, error) {
	var body struct {
		WorkflowRuns []struct {
			ID         int64     `json:"id"`
			Status     string    `json:"status"`
			Conclusion string    `json:"conclusion"`
			HTMLURL    string    `json:"html_url"`
			CreatedAt  time.Time `json:"created_at"`
		} `json:"workflow_runs"`
	}
	_, err := c.do(ctx, "ListRuns", http.MethodGet,
		fmt.Sprintf("/repos/%s/%s/actions/runs", pathEscape(owner), pathEscape(repo)), nil, &body)
	if err != nil {
		return nil, c.opErr("ListRuns", owner, repo, err)
	}

	runs := make([]provider.Run, 0, len(body.WorkflowRuns))
	for _, r := range body.WorkflowRuns {
		runs = append(runs, provider.Run{
			ID:         r.ID,
			Status:     r.Status,
			Conclusion: r.Conclusion,
			HTMLURL:    r.HTMLURL,
			CreatedAt:  r.CreatedAt,
		})
	}
	return runs, nil
}

// DeleteRepo deletes owner/repo.
func (c *Client) DeleteRepo(ctx context.Context, owner, repo string) error {
	_, err := c.do(ctx, "DeleteRepo", http.MethodDelete,
		fmt.Sprintf("/repos/%s/%s", pathEscape(owner), pathEscape(repo)), nil, nil)
	if err != nil {
		return c.opErr("DeleteRepo", owner, repo, err)
	}
	return nil
}

type repoJSON struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	Private       bool   `json:"private"`
}

func (r repoJSON) toRepository() *provider.Repository {
	return &provider.Repository{
		Owner:         r.Owner.Login,
		Name:          r.Name,
		DefaultBranch: r.DefaultBranch,
		HTMLURL:       r.HTMLURL,
		Private:       r.Private,
	}
}

// do performs one rate-limited API call and decodes the response into out.
// The returned *http.Response has a drained, closed body; only status and
// headers remain usable.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "token "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return resp, nil
}

// classifyStatus maps an HTTP error response to the provider taxonomy.
func classifyStatus(resp *http.Response, body []byte) error {
	msg := apiMessage(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return wrapMsg(provider.ErrInvalidCredentials, msg)
	case resp.StatusCode == http.StatusForbidden:
		// GitHub reports both permission problems and exhausted rate
		// budgets as 403; the rate-limit headers disambiguate.
		if resp.Header.Get("X-RateLimit-Remaining") == "0" ||
			strings.Contains(strings.ToLower(msg), "rate limit") {
			return wrapMsg(provider.ErrRateLimited, msg)
		}
		return wrapMsg(provider.ErrAccessDenied, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return wrapMsg(provider.ErrRateLimited, msg)
	case resp.StatusCode == http.StatusNotFound:
		return wrapMsg(provider.ErrNotFound, msg)
	case resp.StatusCode >= 500:
		return wrapMsg(provider.ErrUnavailable, msg)
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
}

func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

func wrapMsg(sentinel error, msg string) error {
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

func (c *Client) opErr(op, owner, repo string, err error) error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}
	return &provider.Error{Op: op, Owner: owner, Repo: repo, Err: err}
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}

// escapePath escapes a repository-relative file path, keeping separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
