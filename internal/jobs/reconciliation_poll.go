package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/pkg/resilience"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// BatchPoller finds PROCESSING gateway batches and polls the network for their outcome
type BatchPoller interface {
	ProcessingBatches(ctx context.Context, minAge time.Duration, limit int) ([]*domain.SettlementBatch, error)
	PollBatch(ctx context.Context, batch *domain.SettlementBatch) (*domain.SettlementBatch, error)
}

// PollSummary reports one poll run
type PollSummary struct {
	Checked  int
	Resolved int
	Failed   int
}

// ReconciliationPollJob asks the network for the final status of batches whose
// callback has not arrived, for networks that drop or delay callbacks
type ReconciliationPollJob struct {
	poller   BatchPoller
	pool     *ants.Pool
	timeouts *resilience.TimeoutConfig
	logger   *zap.Logger
	interval time.Duration
	minAge   time.Duration
	limit    int
}

// NewReconciliationPollJob creates the poll job with a worker pool of the given size
func NewReconciliationPollJob(
	poller BatchPoller,
	timeouts *resilience.TimeoutConfig,
	interval, minAge time.Duration,
	workers, limit int,
	logger *zap.Logger,
) (*ReconciliationPollJob, error) {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll worker pool: %w", err)
	}

	return &ReconciliationPollJob{
		poller:   poller,
		pool:     pool,
		timeouts: timeouts,
		logger:   logger,
		interval: interval,
		minAge:   minAge,
		limit:    limit,
	}, nil
}

// Name implements Job
func (j *ReconciliationPollJob) Name() string { return "reconciliation-poll" }

// Definition implements Job
func (j *ReconciliationPollJob) Definition() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute implements Job
func (j *ReconciliationPollJob) Execute() {
	ctx, cancel := j.timeouts.JobContext(context.Background())
	defer cancel()

	summary, err := j.Run(ctx)
	if err != nil {
		j.logger.Error("Reconciliation poll failed", zap.Error(err))
		return
	}
	if summary.Checked > 0 {
		j.logger.Info("Reconciliation poll completed",
			zap.Int("checked", summary.Checked),
			zap.Int("resolved", summary.Resolved),
			zap.Int("failed", summary.Failed))
	}
}

// Run polls every due batch on the worker pool and waits for all of them
func (j *ReconciliationPollJob) Run(ctx context.Context) (PollSummary, error) {
	batches, err := j.poller.ProcessingBatches(ctx, j.minAge, j.limit)
	if err != nil {
		return PollSummary{}, fmt.Errorf("list processing batches: %w", err)
	}

	var (
		wg       sync.WaitGroup
		resolved atomic.Int64
		failed   atomic.Int64
	)

	for _, batch := range batches {
		wg.Add(1)
		err := j.pool.Submit(func() {
			defer wg.Done()

			updated, err := j.poller.PollBatch(ctx, batch)
			if err != nil {
				failed.Add(1)
				j.logger.Warn("Failed to poll settlement batch",
					zap.String("batch_id", batch.ID),
					zap.Error(err))
				return
			}
			if updated != nil && updated.Status != domain.BatchStatusProcessing {
				resolved.Add(1)
			}
		})
		if err != nil {
			wg.Done()
			failed.Add(1)
			j.logger.Error("Failed to schedule batch poll",
				zap.String("batch_id", batch.ID),
				zap.Error(err))
		}
	}
	wg.Wait()

	return PollSummary{
		Checked:  len(batches),
		Resolved: int(resolved.Load()),
		Failed:   int(failed.Load()),
	}, nil
}

// Release frees the worker pool
func (j *ReconciliationPollJob) Release() {
	j.pool.Release()
}
