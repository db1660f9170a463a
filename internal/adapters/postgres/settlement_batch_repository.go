package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
)

const settlementBatchColumns = `id::text, payee_id, payment_method, total_amount, member_record_ids, payment_date,
	external_reference, status, idempotency_key, notes, line_rejections, settled_at, created_at, updated_at`

// SettlementBatchRepository implements ports.SettlementBatchRepository
type SettlementBatchRepository struct {
	pool ports.DBTX
}

// NewSettlementBatchRepository creates a new settlement batch repository
func NewSettlementBatchRepository(db ports.DBPort) *SettlementBatchRepository {
	return &SettlementBatchRepository{pool: db.GetDB()}
}

// Create inserts a new settlement batch
func (r *SettlementBatchRepository) Create(ctx context.Context, tx ports.DBTX, batch *domain.SettlementBatch) error {
	batchID, err := uuid.Parse(batch.ID)
	if err != nil {
		return fmt.Errorf("invalid batch ID: %w", err)
	}

	total, err := toNumeric(batch.TotalAmount)
	if err != nil {
		return err
	}

	rejections, err := marshalRejections(batch.LineRejections)
	if err != nil {
		return err
	}

	_, err = executor(tx, r.pool).Exec(ctx,
		`INSERT INTO settlement_batches (
			id, payee_id, payment_method, total_amount, member_record_ids, payment_date,
			external_reference, status, idempotency_key, notes, line_rejections, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		batchID,
		batch.PayeeID,
		string(batch.PaymentMethod),
		total,
		batch.MemberRecordIDs,
		pgtype.Date{Time: batch.PaymentDate, Valid: true},
		batch.ExternalReference,
		string(batch.Status),
		batch.IdempotencyKey.String(),
		batch.Notes,
		rejections,
		batch.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("create settlement batch: %w", err)
	}
	return nil
}

// GetByID retrieves a settlement batch by its ID
func (r *SettlementBatchRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.SettlementBatch, error) {
	batchID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrBatchNotFound
	}

	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+settlementBatchColumns+` FROM settlement_batches WHERE id = $1`, batchID)
	batch, err := scanSettlementBatch(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("get settlement batch %s: %w", id, err)
	}
	return batch, nil
}

// GetByExternalReference retrieves the batch the network knows by reference
func (r *SettlementBatchRepository) GetByExternalReference(ctx context.Context, db ports.DBTX, reference string) (*domain.SettlementBatch, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+settlementBatchColumns+` FROM settlement_batches WHERE external_reference = $1`, reference)
	batch, err := scanSettlementBatch(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("get settlement batch by reference: %w", err)
	}
	return batch, nil
}

// CompareAndSwapStatus moves the batch from one status to another.
// Nil fields of update keep their stored value.
func (r *SettlementBatchRepository) CompareAndSwapStatus(ctx context.Context, tx ports.DBTX, id string, from, to domain.BatchStatus, update domain.BatchUpdate) error {
	batchID, err := uuid.Parse(id)
	if err != nil {
		return domain.ErrBatchNotFound
	}

	var rejections []byte
	if update.LineRejections != nil {
		if rejections, err = marshalRejections(update.LineRejections); err != nil {
			return err
		}
	}

	tag, err := executor(tx, r.pool).Exec(ctx,
		`UPDATE settlement_batches
		 SET status = $3,
		     settled_at = COALESCE($4, settled_at),
		     external_reference = COALESCE($5, external_reference),
		     notes = COALESCE($6, notes),
		     line_rejections = COALESCE($7::jsonb, line_rejections),
		     updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		batchID, string(from), string(to),
		update.SettledAt, update.ExternalReference, update.Notes, rejections)
	if err != nil {
		return fmt.Errorf("update settlement batch %s status: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := executor(tx, r.pool).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM settlement_batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
		return fmt.Errorf("check settlement batch %s: %w", id, err)
	}
	if !exists {
		return domain.ErrBatchNotFound
	}
	return domain.ErrStateConflict
}

// ListByStatus returns batches in status not updated since updatedBefore, oldest first
func (r *SettlementBatchRepository) ListByStatus(ctx context.Context, db ports.DBTX, status domain.BatchStatus, updatedBefore time.Time, limit int) ([]*domain.SettlementBatch, error) {
	rows, err := executor(db, r.pool).Query(ctx,
		`SELECT `+settlementBatchColumns+` FROM settlement_batches
		 WHERE status = $1 AND updated_at <= $2
		 ORDER BY updated_at
		 LIMIT $3`,
		string(status), updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list settlement batches: %w", err)
	}
	defer rows.Close()

	batches := make([]*domain.SettlementBatch, 0)
	for rows.Next() {
		batch, err := scanSettlementBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settlement batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// RecordConflict stores a disagreeing terminal outcome for manual review
func (r *SettlementBatchRepository) RecordConflict(ctx context.Context, tx ports.DBTX, conflict *domain.ReconciliationConflict) error {
	_, err := executor(tx, r.pool).Exec(ctx,
		`INSERT INTO reconciliation_conflicts (id, batch_id, network_reference, stored_status, reported_outcome, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		conflict.ID, conflict.BatchID, conflict.NetworkReference,
		string(conflict.StoredStatus), string(conflict.ReportedOutcome), conflict.DetectedAt)
	if err != nil {
		return fmt.Errorf("record reconciliation conflict: %w", err)
	}
	return nil
}

// ListConflicts returns the conflicts recorded for a batch, oldest first
func (r *SettlementBatchRepository) ListConflicts(ctx context.Context, db ports.DBTX, batchID string) ([]*domain.ReconciliationConflict, error) {
	rows, err := executor(db, r.pool).Query(ctx,
		`SELECT id::text, batch_id::text, network_reference, stored_status, reported_outcome, detected_at
		 FROM reconciliation_conflicts WHERE batch_id = $1 ORDER BY detected_at`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := make([]*domain.ReconciliationConflict, 0)
	for rows.Next() {
		var (
			c                domain.ReconciliationConflict
			stored, reported string
		)
		if err := rows.Scan(&c.ID, &c.BatchID, &c.NetworkReference, &stored, &reported, &c.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation conflict: %w", err)
		}
		c.StoredStatus = domain.BatchStatus(stored)
		c.ReportedOutcome = domain.SettlementOutcome(reported)
		conflicts = append(conflicts, &c)
	}
	return conflicts, rows.Err()
}

func marshalRejections(lines []domain.LineRejection) ([]byte, error) {
	if lines == nil {
		lines = []domain.LineRejection{}
	}
	b, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("marshal line rejections: %w", err)
	}
	return b, nil
}

func scanSettlementBatch(row pgx.Row) (*domain.SettlementBatch, error) {
	var (
		b                    domain.SettlementBatch
		method, status, key  string
		total                pgtype.Numeric
		paymentDate          pgtype.Date
		reference, notes     pgtype.Text
		rejections           []byte
		settledAt            pgtype.Timestamptz
		createdAt, updatedAt pgtype.Timestamptz
	)

	if err := row.Scan(
		&b.ID, &b.PayeeID, &method, &total, &b.MemberRecordIDs, &paymentDate,
		&reference, &status, &key, &notes, &rejections, &settledAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	amount, err := pgNumericToDecimal(total)
	if err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}
	if len(rejections) > 0 {
		if err := json.Unmarshal(rejections, &b.LineRejections); err != nil {
			return nil, fmt.Errorf("unmarshal line rejections: %w", err)
		}
	}

	b.TotalAmount = amount
	b.PaymentMethod = domain.PaymentMethod(method)
	b.Status = domain.BatchStatus(status)
	b.IdempotencyKey = domain.IdempotencyKey(key)
	b.PaymentDate = paymentDate.Time
	b.ExternalReference = textPtr(reference)
	b.Notes = textPtr(notes)
	b.SettledAt = timestampPtr(settledAt)
	b.CreatedAt = createdAt.Time
	b.UpdatedAt = updatedAt.Time
	return &b, nil
}
