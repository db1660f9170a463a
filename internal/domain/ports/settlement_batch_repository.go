package ports

import (
	"context"
	"time"

	"github.com/kevin07696/harvest-settlement/internal/domain"
)

// SettlementBatchRepository persists settlement batches and reconciliation conflicts
type SettlementBatchRepository interface {
	Create(ctx context.Context, tx DBTX, batch *domain.SettlementBatch) error
	GetByID(ctx context.Context, db DBTX, id string) (*domain.SettlementBatch, error)
	GetByExternalReference(ctx context.Context, db DBTX, reference string) (*domain.SettlementBatch, error)

	// CompareAndSwapStatus moves the batch from one status to another, writing the non-nil
	// fields of update. Returns domain.ErrStateConflict when the stored status is not from.
	CompareAndSwapStatus(ctx context.Context, tx DBTX, id string, from, to domain.BatchStatus, update domain.BatchUpdate) error

	// ListByStatus returns batches in status last updated before updatedBefore, oldest first
	ListByStatus(ctx context.Context, db DBTX, status domain.BatchStatus, updatedBefore time.Time, limit int) ([]*domain.SettlementBatch, error)

	RecordConflict(ctx context.Context, tx DBTX, conflict *domain.ReconciliationConflict) error
	ListConflicts(ctx context.Context, db DBTX, batchID string) ([]*domain.ReconciliationConflict, error)
}
