package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
)

const idempotencyLockColumns = `key, batch_id::text, lock_token::text, acquired_at, lease_expires_at`

// IdempotencyStore implements ports.IdempotencyStore on the idempotency_locks table
type IdempotencyStore struct {
	pool ports.DBTX
}

// NewIdempotencyStore creates a new idempotency lock store
func NewIdempotencyStore(db ports.DBPort) *IdempotencyStore {
	return &IdempotencyStore{pool: db.GetDB()}
}

// InsertIfAbsent relies on the primary key: a second writer of the same key inserts nothing
func (s *IdempotencyStore) InsertIfAbsent(ctx context.Context, tx ports.DBTX, lock *domain.IdempotencyLock) error {
	tag, err := executor(tx, s.pool).Exec(ctx,
		`INSERT INTO idempotency_locks (key, batch_id, lock_token, acquired_at, lease_expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO NOTHING`,
		lock.Key.String(), lock.BatchID, lock.Token, lock.AcquiredAt, lock.LeaseExpiresAt)
	if err != nil {
		return fmt.Errorf("insert idempotency lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrKeyExists
	}
	return nil
}

// Get retrieves the lock for key
func (s *IdempotencyStore) Get(ctx context.Context, db ports.DBTX, key domain.IdempotencyKey) (*domain.IdempotencyLock, error) {
	return s.getOne(ctx, db, `SELECT `+idempotencyLockColumns+` FROM idempotency_locks WHERE key = $1`, key.String())
}

// GetByBatch retrieves the lock held for a batch
func (s *IdempotencyStore) GetByBatch(ctx context.Context, db ports.DBTX, batchID string) (*domain.IdempotencyLock, error) {
	return s.getOne(ctx, db, `SELECT `+idempotencyLockColumns+` FROM idempotency_locks WHERE batch_id::text = $1`, batchID)
}

// Delete releases the lock
func (s *IdempotencyStore) Delete(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey) error {
	if _, err := executor(tx, s.pool).Exec(ctx, `DELETE FROM idempotency_locks WHERE key = $1`, key.String()); err != nil {
		return fmt.Errorf("delete idempotency lock: %w", err)
	}
	return nil
}

// RenewLease hands the lock to a new token only after the current lease has lapsed
func (s *IdempotencyStore) RenewLease(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey, newToken string, now, expiresAt time.Time) error {
	tag, err := executor(tx, s.pool).Exec(ctx,
		`UPDATE idempotency_locks
		 SET lock_token = $2, acquired_at = $3, lease_expires_at = $4
		 WHERE key = $1 AND lease_expires_at <= $3`,
		key.String(), newToken, now, expiresAt)
	if err != nil {
		return fmt.Errorf("renew idempotency lease: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.Get(ctx, tx, key); err != nil {
		return err
	}
	return domain.ErrLeaseActive
}

// ExpireLease ends the lease held by token. A lease already handed to another token is left alone.
func (s *IdempotencyStore) ExpireLease(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey, token string, at time.Time) error {
	_, err := executor(tx, s.pool).Exec(ctx,
		`UPDATE idempotency_locks SET lease_expires_at = $3 WHERE key = $1 AND lock_token::text = $2`,
		key.String(), token, at)
	if err != nil {
		return fmt.Errorf("expire idempotency lease: %w", err)
	}
	return nil
}

// ListStale returns expired locks of CREATED batches, oldest first. Locks of batches
// that already left CREATED keep their key reserved but are not stale.
func (s *IdempotencyStore) ListStale(ctx context.Context, db ports.DBTX, now time.Time, limit int) ([]*domain.IdempotencyLock, error) {
	rows, err := executor(db, s.pool).Query(ctx,
		`SELECT l.key, l.batch_id::text, l.lock_token::text, l.acquired_at, l.lease_expires_at
		 FROM idempotency_locks l
		 JOIN settlement_batches b ON b.id = l.batch_id
		 WHERE l.lease_expires_at <= $1 AND b.status = 'CREATED'
		 ORDER BY l.lease_expires_at
		 LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale idempotency locks: %w", err)
	}
	defer rows.Close()

	locks := make([]*domain.IdempotencyLock, 0)
	for rows.Next() {
		lock, err := scanIdempotencyLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idempotency lock: %w", err)
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

func (s *IdempotencyStore) getOne(ctx context.Context, db ports.DBTX, sql string, arg string) (*domain.IdempotencyLock, error) {
	lock, err := scanIdempotencyLock(executor(db, s.pool).QueryRow(ctx, sql, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrLockNotFound
		}
		return nil, fmt.Errorf("get idempotency lock: %w", err)
	}
	return lock, nil
}

func scanIdempotencyLock(row pgx.Row) (*domain.IdempotencyLock, error) {
	var (
		lock domain.IdempotencyLock
		key  string
	)
	if err := row.Scan(&key, &lock.BatchID, &lock.Token, &lock.AcquiredAt, &lock.LeaseExpiresAt); err != nil {
		return nil, err
	}
	lock.Key = domain.IdempotencyKey(key)
	return &lock, nil
}
