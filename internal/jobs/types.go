package jobs

import (
	"context"
	"time"
)

// Target is where an export job sends a session's ledger.
type Target string

const (
	// TargetGCS writes the session feed as a JSON object to a bucket.
	TargetGCS Target = "gcs"
	// TargetNotion mirrors the session's modifications into a Notion database.
	TargetNotion Target = "notion"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// ExportJob copies one session's ledger to an external target.
type ExportJob struct {
	JobID     string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	Target    Target    `json:"target"`
	Status    JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the last failure message.
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

// Publisher enqueues export jobs.
type Publisher interface {
	PublishExport(ctx context.Context, job *ExportJob) error
	Close() error
}

// Consumer runs queued jobs through a handler.
type Consumer interface {
	// Start launches workers and returns immediately.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes one job. A returned error schedules a retry until
// MaxRetries is reached.
type JobHandler func(ctx context.Context, job *ExportJob) error

// JobStore tracks job state for the status endpoints.
type JobStore interface {
	SaveJob(ctx context.Context, job *ExportJob) error
	GetJob(ctx context.Context, jobID string) (*ExportJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ExportJob, error)
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	SessionID string
	Target    Target
	Status    JobStatus
	Limit     int
	Offset    int
}
