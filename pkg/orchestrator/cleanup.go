package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/provider"
)

// cleanupFork deletes a job's fork and records the result. Deletion is
// idempotent: a fork that is already gone counts as cleaned. Rate limits
// and brief provider outages are retried with a fixed backoff up to the
// configured attempt cap; credential and permission errors are not
// retried because they cannot succeed on a later attempt.
//
// Returns true when the fork is confirmed gone.
func (o *Orchestrator) cleanupFork(ctx context.Context, jobID, owner, repo string) bool {
	log := o.log.With(
		zap.String("job_id", jobID),
		zap.String("fork", owner+"/"+repo))

	for attempt := 1; attempt <= o.cfg.CleanupMaxAttempts; attempt++ {
		err := o.ci.DeleteRepo(ctx, owner, repo)
		if err == nil || provider.IsNotFound(err) {
			if serr := o.store.SetForkCleaned(ctx, jobID); serr != nil {
				log.Error("record fork cleanup", zap.Error(serr))
			}
			o.appendLog(ctx, jobID, "Fork deleted")
			return true
		}

		if provider.IsFatal(err) {
			log.Warn("fork cleanup not retryable", zap.Error(err))
			break
		}

		log.Warn("fork cleanup attempt failed",
			zap.Int("attempt", attempt), zap.Error(err))
		if attempt < o.cfg.CleanupMaxAttempts {
			select {
			case <-time.After(o.cfg.CleanupBackoff):
			case <-ctx.Done():
				return false
			}
		}
	}

	o.appendLog(ctx, jobID, "Fork cleanup failed; repository may need manual deletion")
	return false
}

// cleanupForkIfNeeded runs cleanup when the job has an uncleaned fork.
func (o *Orchestrator) cleanupForkIfNeeded(ctx context.Context, job *jobstore.BuildJob) {
	if job.ForkInfo == nil || job.ForkCleaned {
		return
	}
	o.cleanupFork(ctx, job.ID, job.ForkInfo.Owner, job.ForkInfo.Repo)
}
