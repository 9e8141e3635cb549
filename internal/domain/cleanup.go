package domain

import (
	"context"
	"time"
)

// CleanupStatus represents the status of a deferred cleanup job
type CleanupStatus string

const (
	// CleanupStatusPending indicates the job is waiting for its run time
	CleanupStatusPending CleanupStatus = "pending"

	// CleanupStatusRunning indicates the callback was dispatched
	CleanupStatusRunning CleanupStatus = "running"

	// CleanupStatusDone indicates the media was removed
	CleanupStatusDone CleanupStatus = "done"

	// CleanupStatusFailed indicates the job gave up after the maximum attempts
	CleanupStatusFailed CleanupStatus = "failed"
)

// CleanupJob is a scheduled removal of a post's media
type CleanupJob struct {
	// ID is the unique identifier for the job
	ID string

	// PostID is the post owning the media
	PostID string

	// Media lists the media to remove
	Media []MediaRef

	// RunAt is the earliest time the callback may fire
	RunAt time.Time

	// Attempts is the number of dispatch attempts so far
	Attempts int

	// Status is the job status
	Status CleanupStatus

	// LastError holds the last dispatch error
	LastError string

	// CreatedAt is the timestamp when the job was created
	CreatedAt time.Time

	// UpdatedAt is the timestamp when the job was last updated
	UpdatedAt time.Time
}

// CleanupRepository defines the interface for cleanup job operations
type CleanupRepository interface {
	// Save creates or updates a job
	Save(ctx context.Context, job *CleanupJob) error

	// GetByID returns a job by its ID, or nil if it does not exist
	GetByID(ctx context.Context, id string) (*CleanupJob, error)

	// ClaimDue moves up to limit pending jobs with RunAt <= now to running and returns them
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*CleanupJob, error)

	// MarkDone marks a job as done
	MarkDone(ctx context.Context, id string) error

	// Reschedule records a failed attempt and sets the job back to pending at runAt
	Reschedule(ctx context.Context, id string, runAt time.Time, lastError string) error

	// MarkFailed records a failed attempt and gives up on the job
	MarkFailed(ctx context.Context, id string, lastError string) error
}
