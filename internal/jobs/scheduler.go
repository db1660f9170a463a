package jobs

import (
	"context"
	"fmt"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is a named periodic task
type Job interface {
	Name() string
	Definition() gocron.JobDefinition
	Execute()
}

// Scheduler runs the settlement background jobs. Every job is a singleton: a run
// still in progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// NewScheduler creates a new job scheduler
func NewScheduler(logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// Register adds jobs to the scheduler
func (s *Scheduler) Register(jobs ...Job) error {
	for _, job := range jobs {
		_, err := s.scheduler.NewJob(
			job.Definition(),
			gocron.NewTask(job.Execute),
			gocron.WithName(job.Name()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.Name(), err)
		}
		s.logger.Info("Job registered", zap.String("job", job.Name()))
	}
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("Job scheduler started", zap.Int("jobs", len(s.scheduler.Jobs())))
}

// Shutdown waits for running jobs and stops the scheduler
func (s *Scheduler) Shutdown(_ context.Context) error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	s.logger.Info("Job scheduler stopped")
	return nil
}
