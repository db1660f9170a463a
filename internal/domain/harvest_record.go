package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState is the settlement lifecycle position of a single harvest record
type PaymentState string

const (
	PaymentStateUnpriced       PaymentState = "UNPRICED"
	PaymentStatePendingPayment PaymentState = "PENDING_PAYMENT"
	PaymentStateSubmitted      PaymentState = "SUBMITTED"
	PaymentStateProcessing     PaymentState = "PROCESSING"
	PaymentStatePaid           PaymentState = "PAID"
	PaymentStateFailed         PaymentState = "FAILED"
)

// recordTransitions lists every allowed paymentState move.
// FAILED -> PENDING_PAYMENT is the reprice-after-correction path and
// SUBMITTED -> PENDING_PAYMENT is the cancellation of a CREATED batch.
var recordTransitions = map[PaymentState][]PaymentState{
	PaymentStateUnpriced:       {PaymentStatePendingPayment},
	PaymentStatePendingPayment: {PaymentStatePendingPayment, PaymentStateSubmitted},
	PaymentStateSubmitted:      {PaymentStateProcessing, PaymentStatePaid, PaymentStateFailed, PaymentStatePendingPayment},
	PaymentStateProcessing:     {PaymentStatePaid, PaymentStateFailed},
	PaymentStateFailed:         {PaymentStatePendingPayment},
}

// CanTransition reports whether a record may move from one payment state to another
func (s PaymentState) CanTransition(to PaymentState) bool {
	for _, next := range recordTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsLocked reports whether pricing fields are frozen in this state
func (s PaymentState) IsLocked() bool {
	return s == PaymentStateSubmitted || s == PaymentStateProcessing || s == PaymentStatePaid
}

// IsValid reports whether s is a known payment state
func (s PaymentState) IsValid() bool {
	switch s {
	case PaymentStateUnpriced, PaymentStatePendingPayment, PaymentStateSubmitted,
		PaymentStateProcessing, PaymentStatePaid, PaymentStateFailed:
		return true
	}
	return false
}

// RepriceableStates are the states from which a pricing edit is accepted
var RepriceableStates = []PaymentState{
	PaymentStateUnpriced,
	PaymentStatePendingPayment,
	PaymentStateFailed,
}

// Unit is the measure a harvested quantity is expressed in
type Unit string

const (
	UnitWeight Unit = "weight"
	UnitBox    Unit = "box"
	UnitUnit   Unit = "unit"
	UnitVolume Unit = "volume"
)

// IsValid reports whether u is a known unit
func (u Unit) IsValid() bool {
	switch u {
	case UnitWeight, UnitBox, UnitUnit, UnitVolume:
		return true
	}
	return false
}

// HarvestRecord is one harvested quantity of one product, owed to one payee
type HarvestRecord struct {
	HarvestDate       time.Time        `json:"harvest_date"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	UnitPrice         *decimal.Decimal `json:"unit_price"`
	TotalValue        *decimal.Decimal `json:"total_value"`
	SettlementBatchID *string          `json:"settlement_batch_id"`
	ID                string           `json:"id"`
	PayeeID           string           `json:"payee_id"`
	SourceOrderID     string           `json:"source_order_id"`
	Unit              Unit             `json:"unit"`
	PaymentState      PaymentState     `json:"payment_state"`
	Quantity          decimal.Decimal  `json:"quantity"`
}

// IsPriced returns true once a unit price and total value have been set
func (r *HarvestRecord) IsPriced() bool {
	return r.UnitPrice != nil && r.TotalValue != nil
}

// HasPositiveValue returns true if the record carries a total value above zero
func (r *HarvestRecord) HasPositiveValue() bool {
	return r.TotalValue != nil && r.TotalValue.IsPositive()
}

// Value returns the total value or zero when unpriced
func (r *HarvestRecord) Value() decimal.Decimal {
	if r.TotalValue == nil {
		return decimal.Zero
	}
	return *r.TotalValue
}

// GetSettlementBatchID safely retrieves the batch link
func (r *HarvestRecord) GetSettlementBatchID() string {
	if r.SettlementBatchID != nil {
		return *r.SettlementBatchID
	}
	return ""
}

// CheckEligible returns an IneligibleRecordError when the record cannot be aggregated for payeeID
func (r *HarvestRecord) CheckEligible(payeeID string) error {
	if r.PayeeID != payeeID {
		return IneligibleRecordError(r.ID, "belongs to a different payee")
	}
	if r.PaymentState != PaymentStatePendingPayment {
		return IneligibleRecordError(r.ID, "payment state is "+string(r.PaymentState))
	}
	if !r.HasPositiveValue() {
		return IneligibleRecordError(r.ID, "total value is missing or not positive")
	}
	return nil
}
