package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/kevin07696/harvest-settlement/internal/services/settlement"
	"github.com/kevin07696/harvest-settlement/pkg/observability"
	"github.com/kevin07696/harvest-settlement/pkg/resilience"
	"go.uber.org/zap"
)

// StaleLister lists CREATED batches whose submission lease expired
type StaleLister interface {
	StaleBatches(ctx context.Context, limit int) ([]*settlement.StaleBatch, error)
}

// StaleLeaseSweepJob reports batches that need an operator to retry or cancel.
// It never changes them.
type StaleLeaseSweepJob struct {
	lister   StaleLister
	timeouts *resilience.TimeoutConfig
	logger   *zap.Logger
	interval time.Duration
	limit    int
}

// NewStaleLeaseSweepJob creates the sweep job
func NewStaleLeaseSweepJob(lister StaleLister, timeouts *resilience.TimeoutConfig, interval time.Duration, limit int, logger *zap.Logger) *StaleLeaseSweepJob {
	return &StaleLeaseSweepJob{
		lister:   lister,
		timeouts: timeouts,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}
}

// Name implements Job
func (j *StaleLeaseSweepJob) Name() string { return "stale-lease-sweep" }

// Definition implements Job
func (j *StaleLeaseSweepJob) Definition() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute implements Job
func (j *StaleLeaseSweepJob) Execute() {
	ctx, cancel := j.timeouts.JobContext(context.Background())
	defer cancel()

	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("Stale lease sweep failed", zap.Error(err))
	}
}

// Run lists stale batches, logs each one and publishes the count
func (j *StaleLeaseSweepJob) Run(ctx context.Context) (int, error) {
	stale, err := j.lister.StaleBatches(ctx, j.limit)
	if err != nil {
		return 0, err
	}

	for _, s := range stale {
		j.logger.Warn("Settlement batch needs operator follow-up",
			zap.String("batch_id", s.Batch.ID),
			zap.String("payee_id", s.Batch.PayeeID),
			zap.String("payment_method", string(s.Batch.PaymentMethod)),
			zap.Time("lease_expired_at", s.Lease.LeaseExpiresAt))
	}
	observability.SetStaleBatches(len(stale))
	return len(stale), nil
}
