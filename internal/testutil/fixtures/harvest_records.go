package fixtures

import (
	"time"

	"github.com/google/uuid"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// HarvestRecordBuilder provides fluent API for building test harvest records.
type HarvestRecordBuilder struct {
	record *domain.HarvestRecord
}

// NewHarvestRecord creates an unpriced record of 10 weight units harvested yesterday.
func NewHarvestRecord() *HarvestRecordBuilder {
	now := time.Now().UTC()
	return &HarvestRecordBuilder{
		record: &domain.HarvestRecord{
			ID:            uuid.New().String(),
			PayeeID:       "payee-1",
			SourceOrderID: "order-" + uuid.New().String()[:8],
			HarvestDate:   now.AddDate(0, 0, -1).Truncate(24 * time.Hour),
			Quantity:      decimal.NewFromInt(10),
			Unit:          domain.UnitWeight,
			PaymentState:  domain.PaymentStateUnpriced,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
}

func (b *HarvestRecordBuilder) WithID(id string) *HarvestRecordBuilder {
	b.record.ID = id
	return b
}

func (b *HarvestRecordBuilder) WithPayee(payeeID string) *HarvestRecordBuilder {
	b.record.PayeeID = payeeID
	return b
}

func (b *HarvestRecordBuilder) WithQuantity(q string) *HarvestRecordBuilder {
	b.record.Quantity = Dec(q)
	return b
}

func (b *HarvestRecordBuilder) WithSourceOrder(orderID string) *HarvestRecordBuilder {
	b.record.SourceOrderID = orderID
	return b
}

// Priced sets the unit price and the matching total and moves the record to PENDING_PAYMENT.
func (b *HarvestRecordBuilder) Priced(unitPrice string) *HarvestRecordBuilder {
	price := Dec(unitPrice)
	total := b.record.Quantity.Mul(price).Round(2)
	b.record.UnitPrice = &price
	b.record.TotalValue = &total
	b.record.PaymentState = domain.PaymentStatePendingPayment
	return b
}

// WithTotal overrides the total value without touching the unit price.
func (b *HarvestRecordBuilder) WithTotal(total string) *HarvestRecordBuilder {
	t := Dec(total)
	b.record.TotalValue = &t
	return b
}

func (b *HarvestRecordBuilder) WithState(state domain.PaymentState) *HarvestRecordBuilder {
	b.record.PaymentState = state
	return b
}

func (b *HarvestRecordBuilder) WithBatch(batchID string) *HarvestRecordBuilder {
	b.record.SettlementBatchID = &batchID
	return b
}

func (b *HarvestRecordBuilder) Build() *domain.HarvestRecord {
	return b.record
}

// PayoutAccount returns a random-key payout account for payeeID.
func PayoutAccount(payeeID string) *domain.PayoutAccount {
	return &domain.PayoutAccount{
		PayeeID: payeeID,
		Name:    "Grower " + payeeID,
		KeyType: domain.PayoutKeyTypeRandom,
		Key:     "key-" + payeeID,
	}
}
