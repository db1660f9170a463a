package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/shopspring/decimal"
)

const harvestRecordColumns = `id, payee_id, source_order_id, quantity, unit, unit_price, total_value,
	payment_state, settlement_batch_id::text, harvest_date, created_at, updated_at`

// HarvestRecordStore implements ports.HarvestRecordStore on the harvest_records table
type HarvestRecordStore struct {
	pool ports.DBTX
}

// NewHarvestRecordStore creates a new harvest record store
func NewHarvestRecordStore(db ports.DBPort) *HarvestRecordStore {
	return &HarvestRecordStore{pool: db.GetDB()}
}

// GetByID retrieves a harvest record by its ID
func (s *HarvestRecordStore) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.HarvestRecord, error) {
	row := executor(db, s.pool).QueryRow(ctx,
		`SELECT `+harvestRecordColumns+` FROM harvest_records WHERE id = $1`, id)

	record, err := scanHarvestRecord(row)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get harvest record %s: %w", id, err)
	}
	return record, nil
}

// GetByIDs retrieves the records ordered by id, failing if any id is unknown
func (s *HarvestRecordStore) GetByIDs(ctx context.Context, db ports.DBTX, ids []string) ([]*domain.HarvestRecord, error) {
	records, err := s.list(ctx, db,
		`SELECT `+harvestRecordColumns+` FROM harvest_records WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("get harvest records: %w", err)
	}

	if len(records) != len(ids) {
		found := make(map[string]bool, len(records))
		for _, r := range records {
			found[r.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, domain.WrapError(domain.ErrorCodeRecordNotFound, "harvest record not found", domain.ErrRecordNotFound).
					WithDetail("record_id", id)
			}
		}
	}
	return records, nil
}

// FindEligible returns the payee's records that can join a new batch
func (s *HarvestRecordStore) FindEligible(ctx context.Context, db ports.DBTX, payeeID string) ([]*domain.HarvestRecord, error) {
	records, err := s.list(ctx, db,
		`SELECT `+harvestRecordColumns+` FROM harvest_records
		 WHERE payee_id = $1 AND payment_state = $2 AND total_value > 0
		 ORDER BY harvest_date, id`,
		payeeID, string(domain.PaymentStatePendingPayment))
	if err != nil {
		return nil, fmt.Errorf("find eligible harvest records: %w", err)
	}
	return records, nil
}

// ListByBatch returns the records linked to a settlement batch
func (s *HarvestRecordStore) ListByBatch(ctx context.Context, db ports.DBTX, batchID string) ([]*domain.HarvestRecord, error) {
	records, err := s.list(ctx, db,
		`SELECT `+harvestRecordColumns+` FROM harvest_records WHERE settlement_batch_id = $1 ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list harvest records by batch: %w", err)
	}
	return records, nil
}

// ApplyPriceAndState writes pricing and state when the stored state is one of expected
func (s *HarvestRecordStore) ApplyPriceAndState(ctx context.Context, tx ports.DBTX, id string, unitPrice, totalValue decimal.Decimal, expected []domain.PaymentState, newState domain.PaymentState) error {
	price, err := toNumeric(unitPrice)
	if err != nil {
		return err
	}
	total, err := toNumeric(totalValue)
	if err != nil {
		return err
	}

	states := make([]string, len(expected))
	for i, st := range expected {
		states[i] = string(st)
	}

	tag, err := executor(tx, s.pool).Exec(ctx,
		`UPDATE harvest_records
		 SET unit_price = $2, total_value = $3, payment_state = $4, settlement_batch_id = NULL, updated_at = NOW()
		 WHERE id = $1 AND payment_state = ANY($5)`,
		id, price, total, string(newState), states)
	if err != nil {
		return fmt.Errorf("apply price to harvest record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, tx, id)
	}
	return nil
}

// ApplyBatchAssignment moves the record between states and sets or clears its batch link
func (s *HarvestRecordStore) ApplyBatchAssignment(ctx context.Context, tx ports.DBTX, id string, batchID *string, expected, newState domain.PaymentState) error {
	tag, err := executor(tx, s.pool).Exec(ctx,
		`UPDATE harvest_records
		 SET settlement_batch_id = $2, payment_state = $3, updated_at = NOW()
		 WHERE id = $1 AND payment_state = $4`,
		id, batchID, string(newState), string(expected))
	if err != nil {
		return fmt.Errorf("assign harvest record %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, tx, id)
	}
	return nil
}

// missOrConflict distinguishes an unknown id from a failed compare-and-swap
func (s *HarvestRecordStore) missOrConflict(ctx context.Context, db ports.DBTX, id string) error {
	var exists bool
	err := executor(db, s.pool).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM harvest_records WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check harvest record %s: %w", id, err)
	}
	if !exists {
		return domain.ErrRecordNotFound
	}
	return domain.ErrStateConflict
}

func (s *HarvestRecordStore) list(ctx context.Context, db ports.DBTX, sql string, args ...interface{}) ([]*domain.HarvestRecord, error) {
	rows, err := executor(db, s.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*domain.HarvestRecord, 0)
	for rows.Next() {
		record, err := scanHarvestRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanHarvestRecord(row pgx.Row) (*domain.HarvestRecord, error) {
	var (
		r                      domain.HarvestRecord
		unit, state            string
		quantity, price, total pgtype.Numeric
		batchID                pgtype.Text
		harvestDate            pgtype.Date
		createdAt, updatedAt   pgtype.Timestamptz
	)

	if err := row.Scan(
		&r.ID, &r.PayeeID, &r.SourceOrderID, &quantity, &unit, &price, &total,
		&state, &batchID, &harvestDate, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if r.Quantity, err = pgNumericToDecimal(quantity); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if r.UnitPrice, err = pgNumericToDecimalPtr(price); err != nil {
		return nil, fmt.Errorf("parse unit price: %w", err)
	}
	if r.TotalValue, err = pgNumericToDecimalPtr(total); err != nil {
		return nil, fmt.Errorf("parse total value: %w", err)
	}

	r.Unit = domain.Unit(unit)
	r.PaymentState = domain.PaymentState(state)
	r.SettlementBatchID = textPtr(batchID)
	r.HarvestDate = harvestDate.Time
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time
	return &r, nil
}
