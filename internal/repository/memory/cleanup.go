package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crosspost/internal/domain"
)

// CleanupRepository is an in-memory implementation of CleanupRepository
type CleanupRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.CleanupJob
}

// NewCleanupRepository creates a new in-memory cleanup job repository
func NewCleanupRepository() *CleanupRepository {
	return &CleanupRepository{
		jobs: make(map[string]*domain.CleanupJob),
	}
}

// Save creates or updates a job
func (r *CleanupRepository) Save(_ context.Context, job *domain.CleanupJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = generateID()
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = domain.CleanupStatusPending
	}
	job.UpdatedAt = time.Now()

	r.jobs[job.ID] = copyJob(job)
	return nil
}

// GetByID returns a job by its ID
func (r *CleanupRepository) GetByID(_ context.Context, id string) (*domain.CleanupJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return nil, nil
	}
	return copyJob(job), nil
}

// ClaimDue moves due pending jobs to running and returns them, oldest run time first
func (r *CleanupRepository) ClaimDue(_ context.Context, now time.Time, limit int) ([]*domain.CleanupJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*domain.CleanupJob
	for _, job := range r.jobs {
		if job.Status == domain.CleanupStatusPending && !job.RunAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.CleanupJob, 0, len(due))
	for _, job := range due {
		job.Status = domain.CleanupStatusRunning
		job.UpdatedAt = time.Now()
		claimed = append(claimed, copyJob(job))
	}
	return claimed, nil
}

// MarkDone marks a job as done
func (r *CleanupRepository) MarkDone(_ context.Context, id string) error {
	return r.update(id, func(job *domain.CleanupJob) {
		job.Status = domain.CleanupStatusDone
		job.LastError = ""
	})
}

// Reschedule records a failed attempt and puts the job back to pending
func (r *CleanupRepository) Reschedule(_ context.Context, id string, runAt time.Time, lastError string) error {
	return r.update(id, func(job *domain.CleanupJob) {
		job.Status = domain.CleanupStatusPending
		job.RunAt = runAt
		job.Attempts++
		job.LastError = lastError
	})
}

// MarkFailed records a failed attempt and gives up on the job
func (r *CleanupRepository) MarkFailed(_ context.Context, id string, lastError string) error {
	return r.update(id, func(job *domain.CleanupJob) {
		job.Status = domain.CleanupStatusFailed
		job.Attempts++
		job.LastError = lastError
	})
}

func (r *CleanupRepository) update(id string, fn func(job *domain.CleanupJob)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, exists := r.jobs[id]
	if !exists {
		return domain.ErrCleanupJobNotFound
	}
	fn(job)
	job.UpdatedAt = time.Now()
	return nil
}

func copyJob(job *domain.CleanupJob) *domain.CleanupJob {
	clone := *job
	clone.Media = append([]domain.MediaRef(nil), job.Media...)
	return &clone
}
