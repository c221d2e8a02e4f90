// Package provider defines abstractions for the external CI provider's
// REST API.
//
// Implementations cover exactly the surface the build pipeline needs:
// forking repositories, resolving and creating branches, writing files,
// dispatching workflows, polling workflow runs, and deleting forks.
// Authentication uses a single service-account API token shared across
// all jobs - implementations should be safe for concurrent use and
// respect the shared rate budget.
package provider

import (
	"context"
	"time"
)

// Client abstracts the CI provider's REST API.
type Client interface {
	// AuthenticatedUser returns the identity behind the configured token.
	// Returns ErrInvalidCredentials if the token is missing or rejected.
	AuthenticatedUser(ctx context.Context) (*Identity, error)

	// ForkRepo requests an asynchronous fork of owner/repo under the
	// service account, named forkName. Only the provider's "accepted"
	// response counts as success; the fork may not be ready on return.
	ForkRepo(ctx context.Context, owner, repo, forkName string) (*Repository, error)

	// GetBranch resolves a branch on owner/repo.
	// Returns ErrNotFound if the branch does not exist.
	GetBranch(ctx context.Context, owner, repo, branch string) (*Branch, error)

	// ListBranches returns the branches of owner/repo.
	ListBranches(ctx context.Context, owner, repo string) ([]Branch, error)

	// CreateBranch creates a branch on owner/repo pointing at sha.
	CreateBranch(ctx context.Context, owner, repo, branch, sha string) error

	// WriteFile creates or updates a file on a branch via the provider's
	// content-write API. The SHA of the current commit is supplied to
	// detect conflicting writes.
	WriteFile(ctx context.Context, owner, repo string, opts WriteFileOptions) error

	// DispatchWorkflow starts execution of a workflow file already
	// present on the given ref.
	DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string) error

	// ListRuns returns workflow runs for owner/repo, newest first.
	ListRuns(ctx context.Context, owner, repo string) ([]Run, error)

	// DeleteRepo deletes owner/repo. Deleting a repository that does not
	// exist returns ErrNotFound; callers treating deletion as idempotent
	// should map that to success.
	DeleteRepo(ctx context.Context, owner, repo string) error
}

// Identity is the authenticated service account.
type Identity struct {
	// Login is the account name forks are created under.
	Login string

	// Scopes are the token's granted OAuth scopes.
	Scopes []string
}

// HasScope reports whether the token carries the given scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository describes a repository as reported by the provider.
type Repository struct {
	Owner         string
	Name          string
	DefaultBranch string
	HTMLURL       string
	Private       bool
}

// Branch is a branch head.
type Branch struct {
	Name string
	SHA  string
}

// WriteFileOptions parameterizes a content-write call.
type WriteFileOptions struct {
	// Path is the repository-relative file path.
	Path string

	// Branch scopes the write to a branch.
	Branch string

	// SHA is the resolved commit the write is based on.
	SHA string

	// Message is the commit message for the write.
	Message string

	// Content is the raw file content.
	Content []byte
}

// Run statuses reported by the provider.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
)

// Run conclusions for completed runs.
const (
	RunConclusionSuccess   = "success"
	RunConclusionFailure   = "failure"
	RunConclusionCancelled = "cancelled"
	RunConclusionTimedOut  = "timed_out"
)

// Run is one workflow execution.
type Run struct {
	ID         int64
	Status     string
	Conclusion string
	HTMLURL    string
	CreatedAt  time.Time
}

// Completed reports whether the run has finished.
func (r Run) Completed() bool {
	return r.Status == RunStatusCompleted
}

// Failed reports whether a completed run ended unsuccessfully.
func (r Run) Failed() bool {
	switch r.Conclusion {
	case RunConclusionFailure, RunConclusionCancelled, RunConclusionTimedOut:
		return true
	}
	return false
}
