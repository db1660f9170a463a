package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
)

// IdempotencyGuard allows at most one unresolved batch per idempotency key, system wide.
// The lock is a durable row: it is inserted with the batch and deleted only when the batch
// reaches a terminal status or is cancelled. Its lease bounds a single submission attempt.
type IdempotencyGuard struct {
	store ports.IdempotencyStore
	now   func() time.Time
	ttl   time.Duration
}

// NewIdempotencyGuard creates a guard whose submission leases last ttl
func NewIdempotencyGuard(store ports.IdempotencyStore, ttl time.Duration, now func() time.Time) *IdempotencyGuard {
	return &IdempotencyGuard{store: store, ttl: ttl, now: now}
}

// Check returns AlreadyInFlightError if key is currently held
func (g *IdempotencyGuard) Check(ctx context.Context, db ports.DBTX, key domain.IdempotencyKey) error {
	lock, err := g.store.Get(ctx, db, key)
	if errors.Is(err, domain.ErrLockNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check idempotency key: %w", err)
	}
	return domain.AlreadyInFlightError(key.String(), lock.BatchID)
}

// Acquire inserts the lock for batchID inside tx. A concurrent holder of the same key
// yields AlreadyInFlightError.
func (g *IdempotencyGuard) Acquire(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey, batchID string) (*domain.IdempotencyLock, error) {
	now := g.now()
	lock := &domain.IdempotencyLock{
		Key:            key,
		BatchID:        batchID,
		Token:          uuid.New().String(),
		AcquiredAt:     now,
		LeaseExpiresAt: now.Add(g.ttl),
	}

	err := g.store.InsertIfAbsent(ctx, tx, lock)
	if errors.Is(err, domain.ErrKeyExists) {
		holder := ""
		if existing, getErr := g.store.Get(ctx, tx, key); getErr == nil {
			holder = existing.BatchID
		}
		return nil, domain.AlreadyInFlightError(key.String(), holder)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	return lock, nil
}

// Release deletes the lock so a new batch for the same description may be created
func (g *IdempotencyGuard) Release(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey) error {
	if err := g.store.Delete(ctx, tx, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Expire ends the submission lease now. Used when a request provably never left the process.
func (g *IdempotencyGuard) Expire(ctx context.Context, tx ports.DBTX, lock *domain.IdempotencyLock) error {
	if err := g.store.ExpireLease(ctx, tx, lock.Key, lock.Token, g.now()); err != nil {
		return fmt.Errorf("expire idempotency lease: %w", err)
	}
	return nil
}

// Renew starts a new submission lease for a retry of the same logical submission.
// Only an expired lease can be renewed; a live one yields AlreadyInFlightError.
func (g *IdempotencyGuard) Renew(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey) (*domain.IdempotencyLock, error) {
	now := g.now()
	token := uuid.New().String()

	err := g.store.RenewLease(ctx, tx, key, token, now, now.Add(g.ttl))
	if errors.Is(err, domain.ErrLeaseActive) {
		holder := ""
		if existing, getErr := g.store.Get(ctx, tx, key); getErr == nil {
			holder = existing.BatchID
		}
		return nil, domain.AlreadyInFlightError(key.String(), holder)
	}
	if err != nil {
		return nil, fmt.Errorf("renew idempotency lease: %w", err)
	}

	return g.store.Get(ctx, tx, key)
}

// LeaseFor returns the lock held for batchID, or domain.ErrLockNotFound
func (g *IdempotencyGuard) LeaseFor(ctx context.Context, db ports.DBTX, batchID string) (*domain.IdempotencyLock, error) {
	return g.store.GetByBatch(ctx, db, batchID)
}

// LeaseLive reports whether lock still covers a submission attempt
func (g *IdempotencyGuard) LeaseLive(lock *domain.IdempotencyLock) bool {
	return !lock.LeaseExpired(g.now())
}

// Stale lists locks whose submission lease lapsed while their batch is still CREATED
func (g *IdempotencyGuard) Stale(ctx context.Context, db ports.DBTX, limit int) ([]*domain.IdempotencyLock, error) {
	return g.store.ListStale(ctx, db, g.now(), limit)
}
