package settlement

import (
	"sort"
	"time"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/services/pricing"
	"github.com/shopspring/decimal"
)

// PlannedBatch is one batch the aggregator intends to create. Nothing is persisted yet.
type PlannedBatch struct {
	PaymentDate    time.Time               `json:"payment_date"`
	PayeeID        string                  `json:"payee_id"`
	IdempotencyKey domain.IdempotencyKey   `json:"idempotency_key"`
	Method         domain.PaymentMethod    `json:"payment_method"`
	Records        []*domain.HarvestRecord `json:"records"`
	TotalAmount    decimal.Decimal         `json:"total_amount"`
}

// MemberIDs returns the planned member record ids in ascending order
func (p *PlannedBatch) MemberIDs() []string {
	ids := make([]string, len(p.Records))
	for i, r := range p.Records {
		ids[i] = r.ID
	}
	return ids
}

// Aggregator turns one payee's selected records into one or more planned batches.
// The default is a single consolidated batch; maxRecordsPerBatch > 0 splits the id-sorted
// selection into ordered sub-batches of at most that many members.
type Aggregator struct {
	maxRecordsPerBatch int
}

// NewAggregator creates an aggregator. maxRecordsPerBatch <= 0 disables splitting.
func NewAggregator(maxRecordsPerBatch int) *Aggregator {
	return &Aggregator{maxRecordsPerBatch: maxRecordsPerBatch}
}

// Partition splits sorted ids the same way Aggregate splits records, so idempotency keys
// can be derived before any record is loaded.
func (a *Aggregator) Partition(ids []string) [][]string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	size := a.maxRecordsPerBatch
	if size <= 0 || size >= len(sorted) {
		return [][]string{sorted}
	}

	groups := make([][]string, 0, (len(sorted)+size-1)/size)
	for start := 0; start < len(sorted); start += size {
		end := start + size
		if end > len(sorted) {
			end = len(sorted)
		}
		groups = append(groups, sorted[start:end])
	}
	return groups
}

// Aggregate validates every record before planning anything. Any record that is not
// PENDING_PAYMENT, belongs to another payee, or lacks a positive total value fails the
// whole call with an IneligibleRecordError naming it.
func (a *Aggregator) Aggregate(records []*domain.HarvestRecord, method domain.PaymentMethod, paymentDate time.Time) ([]PlannedBatch, error) {
	if len(records) == 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "at least one harvest record is required")
	}
	if !method.IsValid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown payment method").
			WithDetail("payment_method", string(method))
	}
	if paymentDate.IsZero() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "payment date is required")
	}

	sorted := make([]*domain.HarvestRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	payeeID := sorted[0].PayeeID
	for i, r := range sorted {
		if i > 0 && r.ID == sorted[i-1].ID {
			return nil, domain.IneligibleRecordError(r.ID, "selected more than once")
		}
		if err := r.CheckEligible(payeeID); err != nil {
			return nil, err
		}
	}

	ids := make([]string, len(sorted))
	byID := make(map[string]*domain.HarvestRecord, len(sorted))
	for i, r := range sorted {
		ids[i] = r.ID
		byID[r.ID] = r
	}

	groups := a.Partition(ids)
	plans := make([]PlannedBatch, 0, len(groups))
	for _, group := range groups {
		members := make([]*domain.HarvestRecord, len(group))
		values := make([]decimal.Decimal, len(group))
		for i, id := range group {
			members[i] = byID[id]
			values[i] = byID[id].Value()
		}

		plans = append(plans, PlannedBatch{
			PayeeID:        payeeID,
			Method:         method,
			PaymentDate:    paymentDate,
			Records:        members,
			TotalAmount:    pricing.Sum(values),
			IdempotencyKey: domain.NewIdempotencyKey(payeeID, group, method, paymentDate),
		})
	}

	return plans, nil
}
