package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/airlift/buildforge/pkg/ipa"
	"github.com/airlift/buildforge/pkg/jobstore"
)

// CompletionRequest is the payload posted by the CI worker when a build
// finishes.
type CompletionRequest struct {
	JobID        string
	Success      bool
	Filename     string
	Artifact     []byte
	ErrorMessage string
}

// HandleCompletion finalizes a job from the completion callback. The
// callback is the sole authority for success: only it carries the
// artifact. Duplicate callbacks for an already-terminal job are accepted
// and ignored so worker retries stay harmless.
func (o *Orchestrator) HandleCompletion(ctx context.Context, req CompletionRequest) error {
	if req.JobID == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidRequest)
	}

	job, err := o.store.Get(ctx, req.JobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		o.appendLog(ctx, req.JobID, "Ignoring completion callback for finished build")
		return nil
	}

	if !req.Success {
		msg := req.ErrorMessage
		if msg == "" {
			msg = "build failed"
		}
		if applied, err := o.transition(ctx, req.JobID, jobstore.StatusFailed,
			fmt.Sprintf("Build failed: %s", msg), nil); err != nil {
			return err
		} else if applied {
			o.finishJob(ctx, job)
		}
		return nil
	}

	if len(req.Artifact) == 0 || req.Filename == "" {
		return fmt.Errorf("%w: successful completion requires filename and artifact data", ErrInvalidRequest)
	}

	ref, err := o.artifacts.Put(ctx, req.Filename, req.Artifact)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}

	// Metadata extraction never blocks completion.
	meta := ipa.Extract(req.Artifact, req.Filename)
	info := &jobstore.AppInfo{
		Name:        meta.Name,
		Version:     meta.Version,
		BuildNumber: meta.BuildNumber,
		BundleID:    meta.BundleID,
	}
	// The artifact reference and the completed status commit in one
	// transaction: a finalizer that lost the race leaves no dangling
	// artifact_ref on the job record.
	msg := fmt.Sprintf("Build completed, artifact %s stored", req.Filename)
	applied, err := o.store.CompleteWithArtifact(ctx, req.JobID, ref, req.Filename, info, msg)
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	if !applied {
		// Lost the finalize race after storing; drop the orphan blob.
		if derr := o.artifacts.Delete(ctx, ref); derr != nil {
			o.log.Warn("drop orphan artifact",
				zap.String("job_id", req.JobID), zap.Error(derr))
		}
		return nil
	}

	o.publish(req.JobID, jobstore.StatusCompleted, msg)
	o.finishJob(ctx, job)
	return nil
}

// finishJob stops the job's monitor and cleans up its fork after a
// terminal transition committed.
func (o *Orchestrator) finishJob(ctx context.Context, job *jobstore.BuildJob) {
	o.stopMonitor(job.ID)
	o.cleanupForkIfNeeded(ctx, job)
}
