package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/leadflowhq/leadflow/internal/common"
	"github.com/leadflowhq/leadflow/internal/models"
)

// JobHandler executes one claimed job and returns result data to merge into
// the job payload
type JobHandler func(ctx context.Context, job *models.CampaignJob) (map[string]interface{}, error)

// WorkerPool manages a pool of workers that poll the job queue
type WorkerPool struct {
	queue       *JobQueue
	handlers    map[models.JobType]JobHandler
	logger      arbor.ILogger
	concurrency int
	poll        time.Duration
	maxPerPoll  int
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *JobQueue, config *common.QueueConfig, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	concurrency := 4
	maxPerPoll := 1
	poll := time.Second
	if config != nil {
		if config.Concurrency > 0 {
			concurrency = config.Concurrency
		}
		if config.MaxJobsPerPoll > 0 {
			maxPerPoll = config.MaxJobsPerPoll
		}
		if d, err := time.ParseDuration(config.PollInterval); err == nil && d > 0 {
			poll = d
		}
	}

	return &WorkerPool{
		queue:       queue,
		handlers:    make(map[models.JobType]JobHandler),
		logger:      logger,
		concurrency: concurrency,
		poll:        poll,
		maxPerPoll:  maxPerPoll,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterHandler registers a job type handler. Workers only claim job types
// that have a handler.
func (wp *WorkerPool) RegisterHandler(jobType models.JobType, handler JobHandler) {
	wp.handlers[jobType] = handler
	wp.logger.Debug().
		Str("job_type", string(jobType)).
		Msg("Job handler registered")
}

// Start starts the worker pool
func (wp *WorkerPool) Start() error {
	if len(wp.handlers) == 0 {
		return fmt.Errorf("no job handlers registered")
	}

	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}

	return nil
}

// Stop gracefully stops the worker pool
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	return nil
}

func (wp *WorkerPool) handledTypes() []models.JobType {
	types := make([]models.JobType, 0, len(wp.handlers))
	for t := range wp.handlers {
		types = append(types, t)
	}
	return types
}

// worker is the main worker loop that claims and runs jobs
func (wp *WorkerPool) worker(index int) {
	// Stagger worker starts to reduce claim contention
	staggerDelay := (wp.poll / time.Duration(wp.concurrency)) * time.Duration(index)
	if staggerDelay > 0 {
		time.Sleep(staggerDelay)
	}

	workerID := common.NewWorkerID()
	wp.logger.Debug().
		Str("worker_id", workerID).
		Int("index", index).
		Msg("Worker started")

	ticker := time.NewTicker(wp.poll)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Str("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processOnce(workerID); err != nil {
				wp.logger.Warn().
					Err(err).
					Str("worker_id", workerID).
					Msg("Error processing jobs")
			}
		}
	}
}

// processOnce claims a batch of jobs and runs each through its handler
func (wp *WorkerPool) processOnce(workerID string) error {
	jobs, err := wp.queue.Dequeue(wp.ctx, workerID, wp.handledTypes(), wp.maxPerPoll)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		wp.runJob(workerID, job)
	}
	return nil
}

func (wp *WorkerPool) runJob(workerID string, job *models.CampaignJob) {
	handler, exists := wp.handlers[job.JobType]
	if !exists {
		// Should not happen: Dequeue filters on handled types
		wp.logger.Error().
			Str("job_id", job.ID.String()).
			Str("job_type", string(job.JobType)).
			Msg("No handler registered for claimed job")
		if _, err := wp.queue.Complete(wp.ctx, job.ID, false, nil, "no handler for job type"); err != nil {
			wp.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Failed to fail unhandled job")
		}
		return
	}

	wp.logger.Debug().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.JobType)).
		Str("worker_id", workerID).
		Int("attempt", job.Attempts).
		Msg("Processing job")

	startTime := time.Now()
	resultData, handlerErr := handler(wp.ctx, job)
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", job.ID.String()).
			Str("job_type", string(job.JobType)).
			Dur("duration", duration).
			Msg("Job handler failed")

		if _, err := wp.queue.Complete(wp.ctx, job.ID, false, resultData, handlerErr.Error()); err != nil {
			wp.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Failed to record job failure")
		}
		return
	}

	wp.logger.Info().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.JobType)).
		Dur("duration", duration).
		Str("worker_id", workerID).
		Msg("Job completed successfully")

	if _, err := wp.queue.Complete(wp.ctx, job.ID, true, resultData, ""); err != nil {
		wp.logger.Warn().Err(err).Str("job_id", job.ID.String()).Msg("Failed to record job success")
	}
}
