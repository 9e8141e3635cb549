package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"crosspost/config"
	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/logger"
	"crosspost/internal/metrics"
)

// CallbackSender delivers a signed cleanup callback
type CallbackSender interface {
	Send(req *http.Request) (*httpclient.Response, error)
}

// CleanupService schedules deferred media removal, dispatches due callbacks and
// handles them once they come back verified.
type CleanupService struct {
	jobs   domain.CleanupRepository
	posts  domain.PostRepository
	store  domain.MediaStore
	signer *CallbackSigner
	sender CallbackSender

	callbackURL string
	delay       time.Duration
	maxAttempts int
	batchSize   int
	workers     int

	clock   domain.Clock
	metrics *metrics.Collector
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(
	cfg *config.Config,
	jobs domain.CleanupRepository,
	posts domain.PostRepository,
	store domain.MediaStore,
	signer *CallbackSigner,
	sender CallbackSender,
	collector *metrics.Collector,
) *CleanupService {
	return &CleanupService{
		jobs:        jobs,
		posts:       posts,
		store:       store,
		signer:      signer,
		sender:      sender,
		callbackURL: cfg.CleanupCallbackURL,
		delay:       cfg.CleanupDelay,
		maxAttempts: cfg.CleanupMaxAttempts,
		batchSize:   cfg.CleanupBatchSize,
		workers:     cfg.WorkerPoolSize,
		clock:       domain.SystemClock{},
		metrics:     collector,
	}
}

// SetClock overrides the clock used for run times
func (s *CleanupService) SetClock(clock domain.Clock) {
	s.clock = clock
}

// ScheduleCleanup stores a job that fires after the configured delay
func (s *CleanupService) ScheduleCleanup(ctx context.Context, postID string, media []domain.MediaRef) error {
	if len(media) == 0 {
		return nil
	}
	job := &domain.CleanupJob{
		PostID: postID,
		Media:  append([]domain.MediaRef(nil), media...),
		RunAt:  s.clock.Now().Add(s.delay),
		Status: domain.CleanupStatusPending,
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to save cleanup job: %w", err)
	}

	logger.WithFields(logger.Fields{
		"job_id":  job.ID,
		"post_id": postID,
		"media":   len(media),
		"run_at":  job.RunAt,
	}).Info("media cleanup scheduled")
	return nil
}

// DispatchDue claims due jobs and sends their signed callbacks. It returns the number
// of callbacks that were accepted.
func (s *CleanupService) DispatchDue(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ClaimDue(ctx, s.clock.Now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim cleanup jobs: %w", err)
	}

	var accepted atomic.Int64
	var g errgroup.Group
	if s.workers > 0 {
		g.SetLimit(s.workers)
	}
	for _, job := range jobs {
		g.Go(func() error {
			if err := s.dispatch(ctx, job); err != nil {
				s.retry(ctx, job, err)
				return nil
			}
			accepted.Add(1)
			s.metrics.CleanupJob("done")
			return nil
		})
	}
	_ = g.Wait()
	return int(accepted.Load()), nil
}

func (s *CleanupService) dispatch(ctx context.Context, job *domain.CleanupJob) error {
	token, err := s.signer.Sign(job)
	if err != nil {
		return fmt.Errorf("sign callback: %w", err)
	}

	req, err := httpclient.NewJSONRequest(ctx, http.MethodPost, s.callbackURL, map[string]string{"job_id": job.ID}, token)
	if err != nil {
		return err
	}
	resp, err := s.sender.Send(req)
	if err != nil {
		return err
	}

	switch {
	case resp.OK():
		return nil
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrPostNotTerminal
	default:
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, httpclient.PreviewBody(resp.Body))
	}
}

func (s *CleanupService) retry(ctx context.Context, job *domain.CleanupJob, cause error) {
	fields := logger.Fields{
		"job_id":   job.ID,
		"post_id":  job.PostID,
		"attempts": job.Attempts + 1,
	}

	if job.Attempts+1 >= s.maxAttempts {
		s.metrics.CleanupJob("failed")
		logger.WithFields(fields).WithError(cause).Error("media cleanup gave up")
		if err := s.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
			logger.WithFields(fields).WithError(err).Error("failed to mark cleanup job failed")
		}
		return
	}

	s.metrics.CleanupJob("rescheduled")
	logger.WithFields(fields).WithError(cause).Warn("media cleanup rescheduled")
	if err := s.jobs.Reschedule(ctx, job.ID, s.clock.Now().Add(s.delay), cause.Error()); err != nil {
		logger.WithFields(fields).WithError(err).Error("failed to reschedule cleanup job")
	}
}

// HandleCallback verifies a callback token and removes the media of its job once the
// post is terminal. It returns domain.ErrPostNotTerminal while a publish is still running.
func (s *CleanupService) HandleCallback(ctx context.Context, token string) error {
	claims, err := s.signer.Verify(token)
	if err != nil {
		return err
	}

	job, err := s.jobs.GetByID(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("failed to get cleanup job: %w", err)
	}
	if job == nil {
		return domain.ErrCleanupJobNotFound
	}
	if job.PostID != claims.PostID || MediaHash(job.Media) != claims.MediaHash {
		return fmt.Errorf("%w: token does not match job %s", domain.ErrInvalidCallback, job.ID)
	}
	if job.Status == domain.CleanupStatusDone {
		return nil
	}

	post, err := s.posts.GetByID(ctx, job.PostID)
	if err != nil {
		return fmt.Errorf("failed to get post: %w", err)
	}
	if post != nil && !post.Status.IsTerminal() {
		return fmt.Errorf("%w: post %s is %s", domain.ErrPostNotTerminal, post.ID, post.Status)
	}

	var errs []error
	for _, ref := range job.Media {
		if err := s.store.Delete(ctx, ref); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}

	if err := s.jobs.MarkDone(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark cleanup job done: %w", err)
	}
	logger.WithFields(logger.Fields{
		"job_id":  job.ID,
		"post_id": job.PostID,
		"media":   len(job.Media),
	}).Info("media cleaned up")
	return nil
}
