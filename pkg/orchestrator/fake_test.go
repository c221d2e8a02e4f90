package orchestrator

import (
	"context"
	"sync"

	"github.com/airlift/buildforge/pkg/provider"
)

// fakeClient is an in-memory provider.Client with per-call error knobs.
type fakeClient struct {
	mu sync.Mutex

	identity provider.Identity
	authErr  error

	forkErr error

	branchMissing   bool
	branchErr       error
	createBranchErr error

	branches    []provider.Branch
	branchesErr error

	writeErr    error
	dispatchErr error

	runs    []provider.Run
	runsErr error

	deleteErrs []error // consumed one per DeleteRepo call; nil entry = success

	forkedName      string
	createdBranches []string
	writtenFiles    []provider.WriteFileOptions
	dispatched      []string
	deleteCalls     int
	deletedRepos    []string
}

var _ provider.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		identity: provider.Identity{Login: "ci-bot", Scopes: []string{"repo", "delete_repo"}},
	}
}

func (f *fakeClient) AuthenticatedUser(ctx context.Context) (*provider.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return nil, f.authErr
	}
	id := f.identity
	return &id, nil
}

func (f *fakeClient) ForkRepo(ctx context.Context, owner, repo, forkName string) (*provider.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forkErr != nil {
		return nil, f.forkErr
	}
	f.forkedName = forkName
	return &provider.Repository{
		Owner:         f.identity.Login,
		Name:          forkName,
		DefaultBranch: "main",
		HTMLURL:       "https://git.example.com/" + f.identity.Login + "/" + forkName,
	}, nil
}

func (f *fakeClient) GetBranch(ctx context.Context, owner, repo, branch string) (*provider.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branchErr != nil {
		return nil, f.branchErr
	}
	if f.branchMissing && branch != "main" {
		for _, created := range f.createdBranches {
			if created == branch {
				return &provider.Branch{Name: branch, SHA: "abc123"}, nil
			}
		}
		return nil, &provider.Error{Op: "get branch", Owner: owner, Repo: repo, Err: provider.ErrNotFound}
	}
	return &provider.Branch{Name: branch, SHA: "abc123"}, nil
}

func (f *fakeClient) ListBranches(ctx context.Context, owner, repo string) ([]provider.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branchesErr != nil {
		return nil, f.branchesErr
	}
	out := make([]provider.Branch, len(f.branches))
	copy(out, f.branches)
	return out, nil
}

func (f *fakeClient) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createBranchErr != nil {
		return f.createBranchErr
	}
	f.createdBranches = append(f.createdBranches, branch)
	return nil
}

func (f *fakeClient) WriteFile(ctx context.Context, owner, repo string, opts provider.WriteFileOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writtenFiles = append(f.writtenFiles, opts)
	return nil
}

func (f *fakeClient) DispatchWorkflow(ctx context.Context, owner, repo, workflowFile, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.dispatched = append(f.dispatched, workflowFile+"@"+ref)
	return nil
}

func (f *fakeClient) ListRuns(ctx context.Context, owner, repo string) ([]provider.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runsErr != nil {
		return nil, f.runsErr
	}
	out := make([]provider.Run, len(f.runs))
	copy(out, f.runs)
	return out, nil
}

func (f *fakeClient) DeleteRepo(ctx context.Context, owner, repo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if len(f.deleteErrs) > 0 {
		err := f.deleteErrs[0]
		f.deleteErrs = f.deleteErrs[1:]
		if err != nil {
			return err
		}
	}
	f.deletedRepos = append(f.deletedRepos, owner+"/"+repo)
	return nil
}

func (f *fakeClient) setRuns(runs ...provider.Run) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = runs
}

func (f *fakeClient) deletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls
}
