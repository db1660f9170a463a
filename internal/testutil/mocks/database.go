// Package mocks provides shared in-memory implementations of the settlement ports for testing.
package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/shopspring/decimal"
)

type txKey struct{}

// Store is an in-memory database behind every settlement repository port.
// Transactions are serialized and roll back every write when fn returns an error,
// which is enough to exercise all-or-nothing and compare-and-swap behavior.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	records   map[string]domain.HarvestRecord
	batches   map[string]domain.SettlementBatch
	locks     map[domain.IdempotencyKey]domain.IdempotencyLock
	payees    map[string]domain.PayoutAccount
	conflicts []domain.ReconciliationConflict

	failures map[string]error

	// Clock stamps UpdatedAt on writes
	Clock func() time.Time
}

type snapshot struct {
	records   map[string]domain.HarvestRecord
	batches   map[string]domain.SettlementBatch
	locks     map[domain.IdempotencyKey]domain.IdempotencyLock
	conflicts []domain.ReconciliationConflict
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		records:  make(map[string]domain.HarvestRecord),
		batches:  make(map[string]domain.SettlementBatch),
		locks:    make(map[domain.IdempotencyKey]domain.IdempotencyLock),
		payees:   make(map[string]domain.PayoutAccount),
		failures: make(map[string]error),
		Clock:    func() time.Time { return time.Now().UTC() },
	}
}

// HarvestRecords is the HarvestRecordStore view of a Store
type HarvestRecords struct{ s *Store }

// SettlementBatches is the SettlementBatchRepository view of a Store
type SettlementBatches struct{ s *Store }

// Records returns the harvest record repository backed by s
func (s *Store) Records() *HarvestRecords { return &HarvestRecords{s: s} }

// BatchRepo returns the settlement batch repository backed by s
func (s *Store) BatchRepo() *SettlementBatches { return &SettlementBatches{s: s} }

var (
	_ ports.DBPort                    = (*Store)(nil)
	_ ports.HarvestRecordStore        = (*HarvestRecords)(nil)
	_ ports.SettlementBatchRepository = (*SettlementBatches)(nil)
	_ ports.IdempotencyStore          = (*Store)(nil)
	_ ports.PayeeDirectory            = (*Store)(nil)
)

// Seeding and inspection

// PutRecord inserts or replaces a harvest record
func (s *Store) PutRecord(r *domain.HarvestRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = cloneRecord(*r)
}

// PutPayee registers a payout account
func (s *Store) PutPayee(a *domain.PayoutAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payees[a.PayeeID] = *a
}

// Record returns a copy of the stored record, or nil
func (s *Store) Record(id string) *domain.HarvestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil
	}
	c := cloneRecord(r)
	return &c
}

// AllBatches returns copies of every stored batch ordered by creation time then id
func (s *Store) AllBatches() []*domain.SettlementBatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.SettlementBatch, 0, len(s.batches))
	for _, b := range s.batches {
		c := cloneBatch(b)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Locks returns copies of every held idempotency lock
func (s *Store) Locks() []domain.IdempotencyLock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.IdempotencyLock, 0, len(s.locks))
	for _, l := range s.locks {
		out = append(out, l)
	}
	return out
}

// Conflicts returns every recorded reconciliation conflict
func (s *Store) Conflicts() []domain.ReconciliationConflict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ReconciliationConflict, len(s.conflicts))
	copy(out, s.conflicts)
	return out
}

// FailOn makes the next call of the named method return err
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

func (s *Store) injected(method string) error {
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

// DBPort

func (s *Store) GetDB() *pgxpool.Pool {
	return nil
}

// WithTransaction runs fn with a nil pgx.Tx and restores the previous state if fn fails
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx, nil)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, true), nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	s.mu.Lock()
	err := s.injected("WithReadOnlyTransaction")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx, nil)
}

// write runs fn under the write lock, serialized against transactions when called outside one
func (s *Store) write(ctx context.Context, fn func() error) error {
	if ctx.Value(txKey{}) == nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{
		records:   make(map[string]domain.HarvestRecord, len(s.records)),
		batches:   make(map[string]domain.SettlementBatch, len(s.batches)),
		locks:     make(map[domain.IdempotencyKey]domain.IdempotencyLock, len(s.locks)),
		conflicts: make([]domain.ReconciliationConflict, len(s.conflicts)),
	}
	for k, v := range s.records {
		snap.records[k] = cloneRecord(v)
	}
	for k, v := range s.batches {
		snap.batches[k] = cloneBatch(v)
	}
	for k, v := range s.locks {
		snap.locks[k] = v
	}
	copy(snap.conflicts, s.conflicts)
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = snap.records
	s.batches = snap.batches
	s.locks = snap.locks
	s.conflicts = snap.conflicts
}

// HarvestRecordStore

func (h *HarvestRecords) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.HarvestRecord, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	r, ok := h.s.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	c := cloneRecord(r)
	return &c, nil
}

func (h *HarvestRecords) GetByIDs(ctx context.Context, db ports.DBTX, ids []string) ([]*domain.HarvestRecord, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	out := make([]*domain.HarvestRecord, 0, len(ids))
	for _, id := range ids {
		r, ok := h.s.records[id]
		if !ok {
			return nil, domain.ErrRecordNotFound
		}
		c := cloneRecord(r)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *HarvestRecords) FindEligible(ctx context.Context, db ports.DBTX, payeeID string) ([]*domain.HarvestRecord, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	var out []*domain.HarvestRecord
	for _, r := range h.s.records {
		if r.PayeeID == payeeID && r.PaymentState == domain.PaymentStatePendingPayment && r.HasPositiveValue() {
			c := cloneRecord(r)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *HarvestRecords) ListByBatch(ctx context.Context, db ports.DBTX, batchID string) ([]*domain.HarvestRecord, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	var out []*domain.HarvestRecord
	for _, r := range h.s.records {
		if r.GetSettlementBatchID() == batchID {
			c := cloneRecord(r)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (h *HarvestRecords) ApplyPriceAndState(ctx context.Context, tx ports.DBTX, id string, unitPrice, totalValue decimal.Decimal, expected []domain.PaymentState, newState domain.PaymentState) error {
	return h.s.write(ctx, func() error {
		if err := h.s.injected("ApplyPriceAndState"); err != nil {
			return err
		}
		r, ok := h.s.records[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		matched := false
		for _, st := range expected {
			if r.PaymentState == st {
				matched = true
				break
			}
		}
		if !matched {
			return domain.ErrStateConflict
		}
		r.UnitPrice = &unitPrice
		r.TotalValue = &totalValue
		r.PaymentState = newState
		r.SettlementBatchID = nil
		r.UpdatedAt = h.s.Clock()
		h.s.records[id] = r
		return nil
	})
}

func (h *HarvestRecords) ApplyBatchAssignment(ctx context.Context, tx ports.DBTX, id string, batchID *string, expected, newState domain.PaymentState) error {
	return h.s.write(ctx, func() error {
		if err := h.s.injected("ApplyBatchAssignment"); err != nil {
			return err
		}
		r, ok := h.s.records[id]
		if !ok {
			return domain.ErrRecordNotFound
		}
		if r.PaymentState != expected {
			return domain.ErrStateConflict
		}
		if batchID != nil {
			link := *batchID
			r.SettlementBatchID = &link
		} else {
			r.SettlementBatchID = nil
		}
		r.PaymentState = newState
		r.UpdatedAt = h.s.Clock()
		h.s.records[id] = r
		return nil
	})
}

// SettlementBatchRepository

func (sb *SettlementBatches) Create(ctx context.Context, tx ports.DBTX, batch *domain.SettlementBatch) error {
	return sb.s.write(ctx, func() error {
		if err := sb.s.injected("Create"); err != nil {
			return err
		}
		sb.s.batches[batch.ID] = cloneBatch(*batch)
		return nil
	})
}

func (sb *SettlementBatches) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.SettlementBatch, error) {
	sb.s.mu.RLock()
	defer sb.s.mu.RUnlock()
	b, ok := sb.s.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	c := cloneBatch(b)
	return &c, nil
}

func (sb *SettlementBatches) GetByExternalReference(ctx context.Context, db ports.DBTX, reference string) (*domain.SettlementBatch, error) {
	sb.s.mu.RLock()
	defer sb.s.mu.RUnlock()
	for _, b := range sb.s.batches {
		if b.GetExternalReference() == reference {
			c := cloneBatch(b)
			return &c, nil
		}
	}
	return nil, domain.ErrBatchNotFound
}

func (sb *SettlementBatches) CompareAndSwapStatus(ctx context.Context, tx ports.DBTX, id string, from, to domain.BatchStatus, update domain.BatchUpdate) error {
	return sb.s.write(ctx, func() error {
		if err := sb.s.injected("CompareAndSwapStatus"); err != nil {
			return err
		}
		b, ok := sb.s.batches[id]
		if !ok {
			return domain.ErrBatchNotFound
		}
		if b.Status != from {
			return domain.ErrStateConflict
		}
		b.Status = to
		b.UpdatedAt = sb.s.Clock()
		if update.SettledAt != nil {
			at := *update.SettledAt
			b.SettledAt = &at
		}
		if update.ExternalReference != nil {
			ref := *update.ExternalReference
			b.ExternalReference = &ref
		}
		if update.Notes != nil {
			notes := *update.Notes
			b.Notes = &notes
		}
		if update.LineRejections != nil {
			b.LineRejections = append([]domain.LineRejection(nil), update.LineRejections...)
		}
		sb.s.batches[id] = b
		return nil
	})
}

func (sb *SettlementBatches) ListByStatus(ctx context.Context, db ports.DBTX, status domain.BatchStatus, updatedBefore time.Time, limit int) ([]*domain.SettlementBatch, error) {
	sb.s.mu.RLock()
	defer sb.s.mu.RUnlock()
	var out []*domain.SettlementBatch
	for _, b := range sb.s.batches {
		if b.Status == status && !b.UpdatedAt.After(updatedBefore) {
			c := cloneBatch(b)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (sb *SettlementBatches) RecordConflict(ctx context.Context, tx ports.DBTX, conflict *domain.ReconciliationConflict) error {
	return sb.s.write(ctx, func() error {
		sb.s.conflicts = append(sb.s.conflicts, *conflict)
		return nil
	})
}

func (sb *SettlementBatches) ListConflicts(ctx context.Context, db ports.DBTX, batchID string) ([]*domain.ReconciliationConflict, error) {
	sb.s.mu.RLock()
	defer sb.s.mu.RUnlock()
	out := make([]*domain.ReconciliationConflict, 0)
	for i := range sb.s.conflicts {
		if sb.s.conflicts[i].BatchID == batchID {
			c := sb.s.conflicts[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// IdempotencyStore

func (s *Store) InsertIfAbsent(ctx context.Context, tx ports.DBTX, lock *domain.IdempotencyLock) error {
	return s.write(ctx, func() error {
		if err := s.injected("InsertIfAbsent"); err != nil {
			return err
		}
		if _, ok := s.locks[lock.Key]; ok {
			return domain.ErrKeyExists
		}
		s.locks[lock.Key] = *lock
		return nil
	})
}

func (s *Store) Get(ctx context.Context, db ports.DBTX, key domain.IdempotencyKey) (*domain.IdempotencyLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locks[key]
	if !ok {
		return nil, domain.ErrLockNotFound
	}
	return &l, nil
}

func (s *Store) GetByBatch(ctx context.Context, db ports.DBTX, batchID string) (*domain.IdempotencyLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.locks {
		if l.BatchID == batchID {
			c := l
			return &c, nil
		}
	}
	return nil, domain.ErrLockNotFound
}

func (s *Store) Delete(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey) error {
	return s.write(ctx, func() error {
		delete(s.locks, key)
		return nil
	})
}

func (s *Store) RenewLease(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey, newToken string, now, expiresAt time.Time) error {
	return s.write(ctx, func() error {
		l, ok := s.locks[key]
		if !ok {
			return domain.ErrLockNotFound
		}
		if !l.LeaseExpired(now) {
			return domain.ErrLeaseActive
		}
		l.Token = newToken
		l.LeaseExpiresAt = expiresAt
		s.locks[key] = l
		return nil
	})
}

func (s *Store) ExpireLease(ctx context.Context, tx ports.DBTX, key domain.IdempotencyKey, token string, at time.Time) error {
	return s.write(ctx, func() error {
		l, ok := s.locks[key]
		if !ok || l.Token != token {
			return nil
		}
		l.LeaseExpiresAt = at
		s.locks[key] = l
		return nil
	})
}

func (s *Store) ListStale(ctx context.Context, db ports.DBTX, now time.Time, limit int) ([]*domain.IdempotencyLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.IdempotencyLock
	for _, l := range s.locks {
		b, ok := s.batches[l.BatchID]
		if !ok || b.Status != domain.BatchStatusCreated {
			continue
		}
		if l.LeaseExpired(now) {
			c := l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaseExpiresAt.Before(out[j].LeaseExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PayeeDirectory

func (s *Store) GetPayoutAccount(ctx context.Context, db ports.DBTX, payeeID string) (*domain.PayoutAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.payees[payeeID]
	if !ok {
		return nil, domain.ErrPayeeNotFound
	}
	return &a, nil
}

func cloneRecord(r domain.HarvestRecord) domain.HarvestRecord {
	if r.UnitPrice != nil {
		v := *r.UnitPrice
		r.UnitPrice = &v
	}
	if r.TotalValue != nil {
		v := *r.TotalValue
		r.TotalValue = &v
	}
	if r.SettlementBatchID != nil {
		v := *r.SettlementBatchID
		r.SettlementBatchID = &v
	}
	return r
}

func cloneBatch(b domain.SettlementBatch) domain.SettlementBatch {
	b.MemberRecordIDs = append([]string(nil), b.MemberRecordIDs...)
	if b.LineRejections != nil {
		b.LineRejections = append([]domain.LineRejection(nil), b.LineRejections...)
	}
	if b.SettledAt != nil {
		v := *b.SettledAt
		b.SettledAt = &v
	}
	if b.ExternalReference != nil {
		v := *b.ExternalReference
		b.ExternalReference = &v
	}
	if b.Notes != nil {
		v := *b.Notes
		b.Notes = &v
	}
	return b
}
