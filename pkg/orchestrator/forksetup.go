package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/provider"
	"github.com/airlift/buildforge/pkg/repourl"
)

// runJob walks a job through fork, setup and dispatch, then hands off to
// the run monitor. Any step failure fails the job; once a fork exists it
// is cleaned up on every failure path.
func (o *Orchestrator) runJob(ctx context.Context, jobID string, src jobstore.Source) {
	log := o.log.With(zap.String("job_id", jobID))

	applied, err := o.transition(ctx, jobID, jobstore.StatusForking, "Forking repository", nil)
	if err != nil || !applied {
		// Cancelled before the pipeline started.
		return
	}

	ref, err := repourl.Parse(src.RepoURL)
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Invalid repository URL %q: %v", src.RepoURL, err))
		return
	}

	forkName := fmt.Sprintf("%s-%s", ref.Repo, shortID(jobID))
	repo, err := o.ci.ForkRepo(ctx, ref.Owner, ref.Repo, forkName)
	if err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Fork of %s/%s failed: %v", ref.Owner, ref.Repo, err))
		return
	}
	log.Info("fork accepted",
		zap.String("fork", repo.Owner+"/"+repo.Name))
	o.appendLog(ctx, jobID, fmt.Sprintf("Fork accepted as %s/%s", repo.Owner, repo.Name))

	// Fork creation is asynchronous on the provider side; give it a
	// moment before touching the new repository.
	select {
	case <-time.After(o.cfg.ForkGraceDelay):
	case <-ctx.Done():
		o.cleanupFork(context.Background(), jobID, repo.Owner, repo.Name)
		return
	}

	fi := jobstore.ForkInfo{
		Owner:  repo.Owner,
		Repo:   repo.Name,
		URL:    repo.HTMLURL,
		Branch: src.Branch,
	}
	if err := o.store.SetForkInfo(ctx, jobID, fi); err != nil {
		log.Error("record fork info", zap.Error(err))
	}

	applied, err = o.transition(ctx, jobID, jobstore.StatusSettingUp, "Configuring build workflow", nil)
	if err != nil || !applied {
		o.cleanupFork(context.Background(), jobID, repo.Owner, repo.Name)
		return
	}

	if err := o.setUpFork(ctx, jobID, src, repo); err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Workflow setup failed: %v", err))
		o.cleanupFork(context.Background(), jobID, repo.Owner, repo.Name)
		return
	}

	if err := o.ci.DispatchWorkflow(ctx, repo.Owner, repo.Name, o.workflowFileName(), src.Branch); err != nil {
		o.failJob(ctx, jobID, fmt.Sprintf("Workflow dispatch failed: %v", err))
		o.cleanupFork(context.Background(), jobID, repo.Owner, repo.Name)
		return
	}

	applied, err = o.transition(ctx, jobID, jobstore.StatusTriggered, "Build triggered, waiting for workflow run", nil)
	if err != nil || !applied {
		o.cleanupFork(context.Background(), jobID, repo.Owner, repo.Name)
		return
	}

	o.monitorRuns(ctx, jobID, repo.Owner, repo.Name)
}

// setUpFork makes the requested branch exist on the fork and writes the
// build workflow file to it.
func (o *Orchestrator) setUpFork(ctx context.Context, jobID string, src jobstore.Source, repo *provider.Repository) error {
	head, err := o.ci.GetBranch(ctx, repo.Owner, repo.Name, src.Branch)
	switch {
	case provider.IsNotFound(err):
		// The fork only carries the upstream default branch until we
		// create the requested one from it.
		base, baseErr := o.ci.GetBranch(ctx, repo.Owner, repo.Name, repo.DefaultBranch)
		if baseErr != nil {
			return fmt.Errorf("branch %q not found and default branch %q unreadable: %w",
				src.Branch, repo.DefaultBranch, baseErr)
		}
		if err := o.ci.CreateBranch(ctx, repo.Owner, repo.Name, src.Branch, base.SHA); err != nil {
			return fmt.Errorf("create branch %q: %w", src.Branch, err)
		}
		head = &provider.Branch{Name: src.Branch, SHA: base.SHA}
		o.appendLog(ctx, jobID, fmt.Sprintf("Created branch %s from %s", src.Branch, repo.DefaultBranch))
	case err != nil:
		return fmt.Errorf("resolve branch %q: %w", src.Branch, err)
	}

	content, err := GenerateWorkflow(WorkflowParams{
		JobID:       jobID,
		AppName:     src.AppName,
		Branch:      src.Branch,
		BuildConfig: src.BuildConfig,
		TeamID:      o.cfg.TeamID,
		CallbackURL: o.cfg.CallbackURL,
	})
	if err != nil {
		return fmt.Errorf("generate workflow: %w", err)
	}

	// The write is anchored to the resolved branch head so a concurrent
	// push to the fork surfaces as a conflict, not a silent overwrite.
	err = o.ci.WriteFile(ctx, repo.Owner, repo.Name, provider.WriteFileOptions{
		Path:    o.cfg.WorkflowPath,
		Branch:  src.Branch,
		SHA:     head.SHA,
		Message: fmt.Sprintf("Add build workflow for %s", src.AppName),
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("write workflow file: %w", err)
	}
	o.appendLog(ctx, jobID, fmt.Sprintf("Workflow %s written to branch %s", o.cfg.WorkflowPath, src.Branch))
	return nil
}

// shortID is the fork-name suffix derived from the job id.
func shortID(jobID string) string {
	if len(jobID) > 8 {
		return jobID[:8]
	}
	return jobID
}
