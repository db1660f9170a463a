package ports

import (
	"context"
	"time"

	"github.com/kevin07696/harvest-settlement/internal/domain"
)

// IdempotencyStore is the durable insert-if-absent table behind the idempotency guard
type IdempotencyStore interface {
	// InsertIfAbsent stores lock atomically. Returns domain.ErrKeyExists if the key is present.
	InsertIfAbsent(ctx context.Context, tx DBTX, lock *domain.IdempotencyLock) error

	// Get returns domain.ErrLockNotFound when the key is absent
	Get(ctx context.Context, db DBTX, key domain.IdempotencyKey) (*domain.IdempotencyLock, error)
	GetByBatch(ctx context.Context, db DBTX, batchID string) (*domain.IdempotencyLock, error)

	Delete(ctx context.Context, tx DBTX, key domain.IdempotencyKey) error

	// RenewLease swaps token and lease only if the current lease has expired at now.
	// Returns domain.ErrLeaseActive otherwise.
	RenewLease(ctx context.Context, tx DBTX, key domain.IdempotencyKey, newToken string, now, expiresAt time.Time) error

	// ExpireLease ends the lease held by token immediately
	ExpireLease(ctx context.Context, tx DBTX, key domain.IdempotencyKey, token string, at time.Time) error

	// ListStale returns locks whose lease ended at or before now and whose batch is
	// still CREATED, oldest first
	ListStale(ctx context.Context, db DBTX, now time.Time, limit int) ([]*domain.IdempotencyLock, error)
}
