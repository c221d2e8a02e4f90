package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const timeLayout = time.RFC3339Nano

// Create inserts a new job in queued status with an initial log line.
func (s *Store) Create(ctx context.Context, job *BuildJob) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.StartTime.IsZero() {
		job.StartTime = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO build_jobs
		 (job_id, repo_url, branch, app_name, build_config, requested_by, status, start_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Source.RepoURL, job.Source.Branch, job.Source.AppName,
		job.Source.BuildConfig, job.RequestedBy, string(job.Status),
		job.StartTime.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	msg := fmt.Sprintf("Build queued for %s from %s (%s)",
		job.Source.AppName, job.Source.RepoURL, job.Source.Branch)
	if err := appendLogTx(ctx, tx, job.ID, msg); err != nil {
		return err
	}

	return tx.Commit()
}

// Get returns a job with its full log.
func (s *Store) Get(ctx context.Context, jobID string) (*BuildJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, repo_url, branch, app_name, build_config, requested_by,
		        status, start_time, end_time,
		        fork_owner, fork_repo, fork_url, fork_branch, fork_cleaned,
		        artifact_ref, output_filename,
		        app_display_name, app_version, app_build_number, app_bundle_id
		 FROM build_jobs WHERE job_id = ?`, jobID)

	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, at, message FROM build_log WHERE job_id = ? ORDER BY seq`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var e LogEntry
		var at string
		if err := rows.Scan(&e.Seq, &at, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		e.At, _ = time.Parse(timeLayout, at)
		job.Log = append(job.Log, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read job log: %w", err)
	}

	return job, nil
}

// AppendLog adds one timestamped entry to the job log.
func (s *Store) AppendLog(ctx context.Context, jobID, message string) error {
	if err := s.exists(ctx, jobID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO build_log (job_id, at, message) VALUES (?, ?, ?)`,
		jobID, time.Now().UTC().Format(timeLayout), message)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// SetStatus transitions a job and appends the transition log line in the
// same transaction, so the log is durable before the transition is
// observable. The update is conditional:
//
//   - a terminal job is never modified (at-most-one terminal commit)
//   - a non-terminal target never moves the status backward, and
//     re-applying the current status is a no-op, so a polling writer
//     commits each forward step exactly once
//
// The returned bool reports whether the transition was applied; losing a
// finalize race is not an error.
func (s *Store) SetStatus(ctx context.Context, jobID string, status Status, logMsg string, endTime *time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM build_jobs WHERE job_id = ?`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read status: %w", err)
	}

	cur := Status(current)
	if cur.Terminal() {
		return false, nil
	}
	if !status.Terminal() && status.rank() <= cur.rank() {
		return false, nil
	}

	// Log first: the transition message must be durable no later than the
	// status it describes.
	if logMsg != "" {
		if err := appendLogTx(ctx, tx, jobID, logMsg); err != nil {
			return false, err
		}
	}

	if status.Terminal() {
		et := time.Now().UTC()
		if endTime != nil {
			et = endTime.UTC()
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE build_jobs SET status = ?, end_time = ? WHERE job_id = ?`,
			string(status), et.Format(timeLayout), jobID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE build_jobs SET status = ? WHERE job_id = ?`,
			string(status), jobID)
	}
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit status update: %w", err)
	}
	return true, nil
}

// SetForkInfo records the fork identity. It is written exactly once; a
// second call is rejected.
func (s *Store) SetForkInfo(ctx context.Context, jobID string, fi ForkInfo) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE build_jobs
		 SET fork_owner = ?, fork_repo = ?, fork_url = ?, fork_branch = ?
		 WHERE job_id = ? AND fork_owner IS NULL`,
		fi.Owner, fi.Repo, fi.URL, fi.Branch, jobID)
	if err != nil {
		return fmt.Errorf("set fork info: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if err := s.exists(ctx, jobID); err != nil {
			return err
		}
		return errors.New("fork info already set")
	}
	return nil
}

// SetForkCleaned marks the fork as deleted (or confirmed absent).
func (s *Store) SetForkCleaned(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE build_jobs SET fork_cleaned = 1 WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("set fork cleaned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteWithArtifact commits the completed terminal transition together
// with the artifact reference and extracted metadata in one transaction,
// so a job record never carries an artifact_ref its status did not earn.
// A job that is already terminal is left untouched, artifact columns
// included. The returned bool reports whether the completion applied.
func (s *Store) CompleteWithArtifact(ctx context.Context, jobID, ref, filename string, info *AppInfo, logMsg string) (bool, error) {
	if info == nil {
		info = &AppInfo{}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM build_jobs WHERE job_id = ?`, jobID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read status: %w", err)
	}
	if Status(current).Terminal() {
		return false, nil
	}

	if logMsg != "" {
		if err := appendLogTx(ctx, tx, jobID, logMsg); err != nil {
			return false, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE build_jobs
		 SET status = ?, end_time = ?,
		     artifact_ref = ?, output_filename = ?,
		     app_display_name = ?, app_version = ?, app_build_number = ?, app_bundle_id = ?
		 WHERE job_id = ?`,
		string(StatusCompleted), time.Now().UTC().Format(timeLayout),
		ref, filename, info.Name, info.Version, info.BuildNumber, info.BundleID, jobID)
	if err != nil {
		return false, fmt.Errorf("complete with artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit completion: %w", err)
	}
	return true, nil
}

// ListNonterminal returns jobs still in flight, oldest first. The reaper
// sweeps this set.
func (s *Store) ListNonterminal(ctx context.Context) ([]BuildJob, error) {
	return s.list(ctx,
		`SELECT job_id, repo_url, branch, app_name, build_config, requested_by,
		        status, start_time, end_time,
		        fork_owner, fork_repo, fork_url, fork_branch, fork_cleaned,
		        artifact_ref, output_filename,
		        app_display_name, app_version, app_build_number, app_bundle_id
		 FROM build_jobs
		 WHERE status NOT IN ('completed', 'failed', 'cancelled')
		 ORDER BY start_time`)
}

// List returns all jobs, newest first. Logs are not loaded.
func (s *Store) List(ctx context.Context) ([]BuildJob, error) {
	return s.list(ctx,
		`SELECT job_id, repo_url, branch, app_name, build_config, requested_by,
		        status, start_time, end_time,
		        fork_owner, fork_repo, fork_url, fork_branch, fork_cleaned,
		        artifact_ref, output_filename,
		        app_display_name, app_version, app_build_number, app_bundle_id
		 FROM build_jobs ORDER BY start_time DESC`)
}

// Delete removes a job and its log. Deletion is an explicit
// administrative action; associated artifacts and forks are the caller's
// responsibility.
func (s *Store) Delete(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM build_log WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete job log: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM build_jobs WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) list(ctx context.Context, query string) ([]BuildJob, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BuildJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	return out, nil
}

func (s *Store) exists(ctx context.Context, jobID string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM build_jobs WHERE job_id = ?`, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func appendLogTx(ctx context.Context, tx *sql.Tx, jobID, message string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO build_log (job_id, at, message) VALUES (?, ?, ?)`,
		jobID, time.Now().UTC().Format(timeLayout), message)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*BuildJob, error) {
	var (
		job                                    BuildJob
		requestedBy, endTime                   sql.NullString
		forkOwner, forkRepo, forkURL, forkBr   sql.NullString
		forkCleaned                            int
		artifactRef, outputFilename            sql.NullString
		appName, appVersion, appBuild, bundle  sql.NullString
		startTime                              string
	)

	err := row.Scan(&job.ID, &job.Source.RepoURL, &job.Source.Branch,
		&job.Source.AppName, &job.Source.BuildConfig, &requestedBy,
		&job.Status, &startTime, &endTime,
		&forkOwner, &forkRepo, &forkURL, &forkBr, &forkCleaned,
		&artifactRef, &outputFilename,
		&appName, &appVersion, &appBuild, &bundle)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.RequestedBy = requestedBy.String
	job.StartTime, _ = time.Parse(timeLayout, startTime)
	if endTime.Valid {
		t, err := time.Parse(timeLayout, endTime.String)
		if err == nil {
			job.EndTime = &t
		}
	}
	if forkOwner.Valid {
		job.ForkInfo = &ForkInfo{
			Owner:  forkOwner.String,
			Repo:   forkRepo.String,
			URL:    forkURL.String,
			Branch: forkBr.String,
		}
	}
	job.ForkCleaned = forkCleaned != 0
	job.ArtifactRef = artifactRef.String
	job.OutputFilename = outputFilename.String
	if appName.Valid && (appName.String != "" || appVersion.String != "" || appBuild.String != "" || bundle.String != "") {
		job.AppInfo = &AppInfo{
			Name:        appName.String,
			Version:     appVersion.String,
			BuildNumber: appBuild.String,
			BundleID:    bundle.String,
		}
	}
	return &job, nil
}
