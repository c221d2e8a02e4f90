// Package jobstore persists build jobs and their append-only logs.
//
// The store is the single unit of mutation shared by the fork setup,
// the run monitor, the completion webhook and the reaper. Status and
// end-time writes use conditional updates so concurrent finalizers
// commit at most one terminal transition per job.
package jobstore

import "time"

// Status is the lifecycle state of a build job.
//
// NOTE: These values are persisted and are part of the stable on-disk
// contract.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusForking    Status = "forking"
	StatusSettingUp  Status = "setting_up"
	StatusTriggered  Status = "triggered"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// rank orders the non-terminal pipeline states so status never moves
// backward. Terminal states sit above everything.
func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusForking:
		return 1
	case StatusSettingUp:
		return 2
	case StatusTriggered:
		return 3
	case StatusInProgress:
		return 4
	default:
		return 5
	}
}

// Source is the immutable build request a job was created from.
type Source struct {
	RepoURL     string `json:"repo_url"`
	Branch      string `json:"branch"`
	AppName     string `json:"app_name"`
	BuildConfig string `json:"build_config"`
}

// ForkInfo identifies the ephemeral fork hosting the injected workflow.
// Set exactly once during setup; only the cleaned flag changes afterward.
type ForkInfo struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

// LogEntry is one timestamped chunk of the append-only job log.
type LogEntry struct {
	Seq     int64     `json:"seq"`
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// AppInfo is descriptive metadata extracted from a produced package.
// Extraction is best-effort; fields may hold filename-derived defaults.
type AppInfo struct {
	Name        string `json:"name,omitempty"`
	Version     string `json:"version,omitempty"`
	BuildNumber string `json:"build_number,omitempty"`
	BundleID    string `json:"bundle_id,omitempty"`
}

// BuildJob is one build request and everything observed about it.
type BuildJob struct {
	ID          string     `json:"id"`
	Source      Source     `json:"source"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Status      Status     `json:"status"`
	Log         []LogEntry `json:"log"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`

	ForkInfo    *ForkInfo `json:"fork_info,omitempty"`
	ForkCleaned bool      `json:"fork_cleaned"`

	ArtifactRef    string   `json:"artifact_ref,omitempty"`
	OutputFilename string   `json:"output_filename,omitempty"`
	AppInfo        *AppInfo `json:"app_info,omitempty"`
}

// LogText concatenates the log for display.
func (j *BuildJob) LogText() string {
	out := ""
	for i, e := range j.Log {
		if i > 0 {
			out += "\n"
		}
		out += e.At.UTC().Format(time.RFC3339) + " " + e.Message
	}
	return out
}
