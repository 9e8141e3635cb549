package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	cron "github.com/robfig/cron/v3"

	"crosspost/config"
	"crosspost/internal/logger"
	"crosspost/internal/usecase"
)

// AccountChecker runs the proactive credential refresh sweep
type AccountChecker interface {
	CheckAllAccounts(ctx context.Context) (usecase.SweepReport, error)
}

// CleanupDispatcher fires the callbacks of due cleanup jobs
type CleanupDispatcher interface {
	DispatchDue(ctx context.Context) (int, error)
}

// Scheduler manages cron jobs for the application
type Scheduler struct {
	cron     *cron.Cron
	config   *config.Config
	accounts AccountChecker
	cleanup  CleanupDispatcher
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewScheduler creates a new cron scheduler
func NewScheduler(cfg *config.Config, accounts AccountChecker, cleanup CleanupDispatcher) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	// a run that outlasts its interval is skipped rather than stacked
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	return &Scheduler{
		cron:     c,
		config:   cfg,
		accounts: accounts,
		cleanup:  cleanup,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the jobs and starts the cron scheduler
func (s *Scheduler) Start() error {
	refreshSchedule := normalizeSchedule(s.config.RefreshSchedule)
	refreshJobID, err := s.cron.AddFunc(refreshSchedule, s.refreshCredentialsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule credential refresh job: %w", err)
	}
	logger.Infof("Scheduled credential refresh job with ID: %d, schedule: %s", refreshJobID, refreshSchedule)

	cleanupSchedule := normalizeSchedule(s.config.CleanupSchedule)
	cleanupJobID, err := s.cron.AddFunc(cleanupSchedule, s.dispatchCleanupJob)
	if err != nil {
		return fmt.Errorf("failed to schedule cleanup job: %w", err)
	}
	logger.Infof("Scheduled media cleanup job with ID: %d, schedule: %s", cleanupJobID, cleanupSchedule)

	s.cron.Start()
	logger.Info("Cron scheduler started")

	// tokens that expired while the process was down are renewed right away
	go s.refreshCredentialsJob()

	return nil
}

// Stop stops the cron scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	logger.Info("Stopping cron scheduler...")
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Info("Cron scheduler stopped")
}

func (s *Scheduler) refreshCredentialsJob() {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	report, err := s.accounts.CheckAllAccounts(ctx)
	if err != nil {
		logger.WithError(err).Error("Credential refresh job failed")
		return
	}

	logger.WithFields(logger.Fields{
		"duration":  time.Since(startTime).String(),
		"checked":   report.Checked,
		"refreshed": report.Refreshed,
		"failed":    report.Failed,
	}).Info("Credential refresh job completed")
}

func (s *Scheduler) dispatchCleanupJob() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()

	n, err := s.cleanup.DispatchDue(ctx)
	if err != nil {
		logger.WithError(err).Error("Media cleanup job failed")
		return
	}
	if n > 0 {
		logger.WithFields(logger.Fields{"dispatched": n}).Info("Media cleanup callbacks accepted")
	}
}

// normalizeSchedule ensures cron expressions are compatible with cron.WithSeconds
func normalizeSchedule(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) == 5 {
		return "0 " + expr
	}
	return expr
}
