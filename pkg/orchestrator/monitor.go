package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/provider"
)

// monitorRuns polls the fork's workflow runs until the run fails, the
// polling budget runs out, or the job goes terminal some other way.
//
// A successful run does NOT complete the job: the artifact arrives via
// the completion callback, which is the only authority for success. The
// monitor's job is to surface progress and to fail fast on runs that die
// without ever calling back.
func (o *Orchestrator) monitorRuns(ctx context.Context, jobID, owner, repo string) {
	log := o.log.With(zap.String("job_id", jobID))

	var lastNote string
	note := func(msg string) {
		if msg == lastNote {
			return
		}
		lastNote = msg
		o.appendLog(ctx, jobID, msg)
	}

	for i := 0; i < o.cfg.MonitorMaxChecks; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(o.cfg.MonitorInterval):
		}

		job, err := o.store.Get(ctx, jobID)
		if err != nil {
			log.Error("monitor read job", zap.Error(err))
			return
		}
		if job.Status.Terminal() {
			// The callback (or a cancel) beat us; nothing left to watch.
			return
		}

		runs, err := o.ci.ListRuns(ctx, owner, repo)
		if err != nil {
			if provider.IsFatal(err) {
				o.failJob(ctx, jobID, fmt.Sprintf("Monitoring aborted: %v", err))
				o.cleanupFork(context.Background(), jobID, owner, repo)
				return
			}
			// Transient; the next tick retries.
			log.Warn("list workflow runs", zap.Error(err))
			continue
		}

		if len(runs) == 0 {
			note("Waiting for workflow run to start")
			continue
		}

		run := runs[0]
		switch {
		case !run.Completed():
			if run.Status == provider.RunStatusInProgress {
				// The job record read at the top of the tick gates the
				// transition, so an unchanged run costs no write and
				// repeats neither the log line nor the event.
				if job.Status != jobstore.StatusInProgress {
					if applied, err := o.transition(ctx, jobID, jobstore.StatusInProgress, "Build in progress", nil); err == nil && applied {
						lastNote = "Build in progress"
					}
				}
			} else {
				note("Workflow run queued")
			}
		case run.Failed():
			o.failJob(ctx, jobID, fmt.Sprintf("Workflow run ended with conclusion %q: %s", run.Conclusion, run.HTMLURL))
			o.cleanupFork(context.Background(), jobID, owner, repo)
			return
		default:
			// Success on the provider side; the artifact callback closes
			// the job out.
			note("Workflow run succeeded, waiting for artifact callback")
		}
	}

	// Budget exhausted. The reaper would catch this eventually; failing
	// here gives a precise message while the context is still known.
	if o.failJob(ctx, jobID, "Build timed out waiting for workflow to finish") {
		o.cleanupFork(context.Background(), jobID, owner, repo)
	}
}
