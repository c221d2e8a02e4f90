// Package orchestrator drives remote build jobs end to end.
//
// A submitted job flows through fork creation, workflow injection,
// dispatch, run monitoring and completion, with a periodic reaper as the
// liveness backstop. The job store is the single source of truth; every
// component records what it did on the job's append-only log, and all
// terminal transitions funnel through one conditional store update so
// racing finalizers commit at most once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/airlift/buildforge/pkg/artifact"
	"github.com/airlift/buildforge/pkg/events"
	"github.com/airlift/buildforge/pkg/jobstore"
	"github.com/airlift/buildforge/pkg/provider"
	"github.com/airlift/buildforge/pkg/repourl"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	// ErrInvalidRequest indicates the submission or callback was rejected
	// before any work started.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyTerminal indicates the job has already finished.
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
)

// Config tunes orchestrator behavior. Zero values get defaults; none of
// the cadences are correctness requirements.
type Config struct {
	// ForkGraceDelay is the fixed wait after a fork is accepted before
	// the fork is used. Forks are asynchronous on the provider side.
	ForkGraceDelay time.Duration

	// MonitorInterval and MonitorMaxChecks bound the per-job polling
	// loop (default 30s x 60 = 30 minutes).
	MonitorInterval  time.Duration
	MonitorMaxChecks int

	// ReaperInterval and AbandonAfter control the stuck-job sweep.
	ReaperInterval time.Duration
	AbandonAfter   time.Duration

	// CleanupMaxAttempts and CleanupBackoff bound fork deletion retries
	// when the provider rate-limits or is briefly unavailable.
	CleanupMaxAttempts int
	CleanupBackoff     time.Duration

	// WorkflowPath is the repository path the workflow file is written to.
	WorkflowPath string

	// TeamID is the Apple developer team used for code signing.
	TeamID string

	// CallbackURL is the externally reachable base URL the CI worker
	// posts the completion callback to.
	CallbackURL string
}

func (c Config) withDefaults() Config {
	if c.ForkGraceDelay <= 0 {
		c.ForkGraceDelay = 10 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.MonitorMaxChecks <= 0 {
		c.MonitorMaxChecks = 60
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 5 * time.Minute
	}
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = 30 * time.Minute
	}
	if c.CleanupMaxAttempts <= 0 {
		c.CleanupMaxAttempts = 3
	}
	if c.CleanupBackoff <= 0 {
		c.CleanupBackoff = 2 * time.Second
	}
	if c.WorkflowPath == "" {
		c.WorkflowPath = ".github/workflows/build.yml"
	}
	return c
}

// Orchestrator composes the job store, the CI provider client, the
// artifact store and the event publisher into the build-job lifecycle.
type Orchestrator struct {
	store     *jobstore.Store
	ci        provider.Client
	artifacts artifact.Store
	events    events.Publisher
	log       *zap.Logger
	cfg       Config

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	monitors map[string]context.CancelFunc
}

// New creates an orchestrator. Call Close to stop background work.
func New(store *jobstore.Store, ci provider.Client, artifacts artifact.Store, pub events.Publisher, logger *zap.Logger, cfg Config) *Orchestrator {
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		ci:        ci,
		artifacts: artifacts,
		events:    pub,
		log:       logger,
		cfg:       cfg.withDefaults(),
		baseCtx:   ctx,
		cancel:    cancel,
		monitors:  make(map[string]context.CancelFunc),
	}
}

// Close cancels all per-job background tasks and waits for them to exit.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// SubmitRequest is one build submission.
type SubmitRequest struct {
	RepoURL     string
	Branch      string
	AppName     string
	BuildConfig string
	RequestedBy string
}

// Submit validates the request and the provider credential, creates the
// job and starts its pipeline. Invalid input is rejected synchronously
// and no job is created.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.RepoURL) == "" {
		return "", fmt.Errorf("%w: repo_url is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.AppName) == "" {
		return "", fmt.Errorf("%w: app_name is required", ErrInvalidRequest)
	}
	if req.Branch == "" {
		req.Branch = "main"
	}
	if req.BuildConfig == "" {
		req.BuildConfig = "Release"
	}

	// A dead credential fails every job the same way; reject up front
	// instead of minting a job that cannot leave queued.
	identity, err := o.ci.AuthenticatedUser(ctx)
	if err != nil {
		return "", fmt.Errorf("provider credential check failed: %w", err)
	}
	if !identity.HasScope("repo") {
		return "", fmt.Errorf("provider token is missing the repo scope")
	}

	job := &jobstore.BuildJob{
		ID: uuid.New().String(),
		Source: jobstore.Source{
			RepoURL:     req.RepoURL,
			Branch:      req.Branch,
			AppName:     req.AppName,
			BuildConfig: req.BuildConfig,
		},
		RequestedBy: req.RequestedBy,
		Status:      jobstore.StatusQueued,
		StartTime:   time.Now().UTC(),
	}
	if err := o.store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	o.publish(job.ID, jobstore.StatusQueued, "Build queued")

	o.startJobTask(job.ID, func(jobCtx context.Context) {
		o.runJob(jobCtx, job.ID, job.Source)
	})

	return job.ID, nil
}

// Get returns a job with its full log.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*jobstore.BuildJob, error) {
	return o.store.Get(ctx, jobID)
}

// List returns all jobs, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]jobstore.BuildJob, error) {
	return o.store.List(ctx)
}

// ListBranches returns the branch names of the upstream repository, for
// branch selection before a build is submitted.
func (o *Orchestrator) ListBranches(ctx context.Context, repoURL string) ([]string, error) {
	ref, err := repourl.Parse(repoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	branches, err := o.ci.ListBranches(ctx, ref.Owner, ref.Repo)
	if err != nil {
		return nil, fmt.Errorf("list branches for %s: %w", ref, err)
	}

	names := make([]string, 0, len(branches))
	for _, b := range branches {
		names = append(names, b.Name)
	}
	return names, nil
}

// Cancel stops a non-terminal job: its monitor task is cancelled, the
// fork is cleaned up best-effort, and the job ends cancelled. The remote
// run is not cancelled; its eventual result is ignored because the job
// is already terminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	applied, err := o.transition(ctx, jobID, jobstore.StatusCancelled, "Build cancelled", nil)
	if err != nil {
		return err
	}
	if !applied {
		return ErrAlreadyTerminal
	}

	o.stopMonitor(jobID)

	if job, err := o.store.Get(ctx, jobID); err == nil {
		o.cleanupForkIfNeeded(ctx, job)
	}
	return nil
}

// Delete removes a job, its stored artifact and - best effort - its
// fork. This is an explicit administrative action.
func (o *Orchestrator) Delete(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	o.stopMonitor(jobID)

	if job.ArtifactRef != "" {
		if err := o.artifacts.Delete(ctx, job.ArtifactRef); err != nil {
			o.log.Warn("delete artifact failed",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}
	o.cleanupForkIfNeeded(ctx, job)

	return o.store.Delete(ctx, jobID)
}

// CleanupRepository retries fork deletion for a job whose automatic
// cleanup failed. Exposed to operators; fork_cleaned records the result.
func (o *Orchestrator) CleanupRepository(ctx context.Context, jobID string) error {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.ForkInfo == nil {
		return fmt.Errorf("%w: job has no fork to clean up", ErrInvalidRequest)
	}
	if job.ForkCleaned {
		return nil
	}
	if !o.cleanupFork(ctx, jobID, job.ForkInfo.Owner, job.ForkInfo.Repo) {
		return fmt.Errorf("fork %s/%s could not be deleted", job.ForkInfo.Owner, job.ForkInfo.Repo)
	}
	return nil
}

// startJobTask runs fn in a goroutine with a per-job cancellable context
// registered for Cancel/Close.
func (o *Orchestrator) startJobTask(jobID string, fn func(context.Context)) {
	jobCtx, cancel := context.WithCancel(o.baseCtx)

	o.mu.Lock()
	o.monitors[jobID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.monitors, jobID)
			o.mu.Unlock()
			cancel()
		}()
		fn(jobCtx)
	}()
}

func (o *Orchestrator) stopMonitor(jobID string) {
	o.mu.Lock()
	cancel, ok := o.monitors[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// transition applies a status change through the store's conditional
// update and publishes an event when it took effect.
func (o *Orchestrator) transition(ctx context.Context, jobID string, status jobstore.Status, msg string, endTime *time.Time) (bool, error) {
	applied, err := o.store.SetStatus(ctx, jobID, status, msg, endTime)
	if err != nil {
		return false, err
	}
	if applied {
		o.publish(jobID, status, msg)
	}
	return applied, nil
}

// failJob commits a failed terminal transition. Losing the race to
// another finalizer is fine; the winner's outcome stands.
func (o *Orchestrator) failJob(ctx context.Context, jobID, msg string) bool {
	applied, err := o.transition(ctx, jobID, jobstore.StatusFailed, msg, nil)
	if err != nil {
		o.log.Error("record job failure", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	return applied
}

func (o *Orchestrator) appendLog(ctx context.Context, jobID, msg string) {
	if err := o.store.AppendLog(ctx, jobID, msg); err != nil {
		o.log.Error("append job log", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(jobID string, status jobstore.Status, msg string) {
	ev := events.Event{
		JobID:   jobID,
		Status:  string(status),
		Message: msg,
		At:      time.Now().UTC(),
	}
	// Events are advisory; a broker outage never affects the job.
	if err := o.events.JobStatusChanged(o.baseCtx, ev); err != nil {
		o.log.Warn("publish job event", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (o *Orchestrator) workflowFileName() string {
	return path.Base(o.cfg.WorkflowPath)
}
