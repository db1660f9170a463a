package ports

import (
	"context"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// HarvestRecordStore is the read/write contract the settlement engine needs over harvest records.
// State-changing methods are compare-and-swap: they return domain.ErrStateConflict when the
// stored payment state is not one of the expected states.
type HarvestRecordStore interface {
	GetByID(ctx context.Context, db DBTX, id string) (*domain.HarvestRecord, error)

	// GetByIDs returns the records ordered by id. A missing id yields domain.ErrRecordNotFound.
	GetByIDs(ctx context.Context, db DBTX, ids []string) ([]*domain.HarvestRecord, error)

	// FindEligible returns the payee's PENDING_PAYMENT records with a positive total value
	FindEligible(ctx context.Context, db DBTX, payeeID string) ([]*domain.HarvestRecord, error)

	ListByBatch(ctx context.Context, db DBTX, batchID string) ([]*domain.HarvestRecord, error)

	// ApplyPriceAndState sets pricing fields and state, clearing any batch link
	ApplyPriceAndState(ctx context.Context, tx DBTX, id string, unitPrice, totalValue decimal.Decimal, expected []domain.PaymentState, newState domain.PaymentState) error

	// ApplyBatchAssignment sets the batch link (nil clears it) and moves the state from expected to newState
	ApplyBatchAssignment(ctx context.Context, tx DBTX, id string, batchID *string, expected, newState domain.PaymentState) error
}
