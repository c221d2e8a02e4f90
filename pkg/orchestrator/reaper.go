package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StartReaper runs the abandoned-job sweep on a fixed cadence until the
// orchestrator is closed. The reaper is the liveness backstop: a crashed
// worker, a lost callback or a dead monitor all end here.
func (o *Orchestrator) StartReaper() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.ReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-o.baseCtx.Done():
				return
			case <-ticker.C:
				if n, err := o.SweepAbandoned(o.baseCtx); err != nil {
					o.log.Error("reaper sweep", zap.Error(err))
				} else if n > 0 {
					o.log.Info("reaper failed abandoned builds", zap.Int("count", n))
				}
			}
		}
	}()
}

// SweepAbandoned fails every non-terminal job older than the abandonment
// threshold and cleans up its fork. Returns the number of jobs reaped.
func (o *Orchestrator) SweepAbandoned(ctx context.Context) (int, error) {
	jobs, err := o.store.ListNonterminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	cutoff := time.Now().Add(-o.cfg.AbandonAfter)
	reaped := 0
	for i := range jobs {
		job := &jobs[i]
		if job.StartTime.After(cutoff) {
			continue
		}
		msg := fmt.Sprintf("Build abandoned after %s without completing", o.cfg.AbandonAfter)
		if !o.failJob(ctx, job.ID, msg) {
			continue
		}
		reaped++
		o.stopMonitor(job.ID)
		o.cleanupForkIfNeeded(ctx, job)
	}
	return reaped, nil
}
