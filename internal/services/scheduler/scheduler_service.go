package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/queue"
)

// Service runs the periodic job-retention sweep. Completed jobs older than
// the retention window are removed in bounded batches.
type Service struct {
	queue  *queue.JobQueue
	config common.CleanupConfig
	cron   *cron.Cron
	logger arbor.ILogger
}

// NewService creates a new cleanup scheduler
func NewService(jobQueue *queue.JobQueue, config common.CleanupConfig, logger arbor.ILogger) *Service {
	return &Service{
		queue:  jobQueue,
		config: config,
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
	}
}

// Start begins the scheduled cleanup
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.logger.Info().Msg("Job cleanup scheduler disabled")
		return nil
	}

	schedule := s.config.Schedule
	if schedule == "" {
		// Default: daily at 03:00
		schedule = "0 0 3 * * *"
	}

	_, err := s.cron.AddFunc(schedule, func() {
		s.runCleanup()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", schedule).
		Int("retention_days", s.config.RetentionDays).
		Msg("Job cleanup scheduler started")

	return nil
}

// Stop stops the scheduler
func (s *Service) Stop() {
	s.cron.Stop()
	s.logger.Info().Msg("Job cleanup scheduler stopped")
}

// RunNow triggers an immediate cleanup run
func (s *Service) RunNow() {
	s.logger.Info().Msg("Triggering immediate cleanup run")
	go s.runCleanup()
}

func (s *Service) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	s.logger.Info().Msg("Starting scheduled job cleanup")

	deleted, err := s.queue.Cleanup(ctx, s.config.RetentionDays, s.config.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled job cleanup failed")
		return
	}

	s.logger.Info().
		Int("deleted", deleted).
		Msg("Scheduled job cleanup completed")
}
