package settlement_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/services/pricing"
	"github.com/kevin07696/harvest-settlement/internal/services/settlement"
	"github.com/kevin07696/harvest-settlement/internal/testutil/fixtures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRecords(prices ...string) []*domain.HarvestRecord {
	records := make([]*domain.HarvestRecord, len(prices))
	for i, p := range prices {
		records[i] = fixtures.NewHarvestRecord().
			WithID(fmt.Sprintf("rec-%02d", i)).
			WithPayee(testPayee).
			Priced(p).
			Build()
	}
	return records
}

func TestAggregate_SingleConsolidatedBatch(t *testing.T) {
	agg := settlement.NewAggregator(0)
	records := pendingRecords("1.10", "2.20", "3.30")
	// out of order input
	records[0], records[2] = records[2], records[0]

	plans, err := agg.Aggregate(records, domain.PaymentMethodInstantTransferGateway, paymentDate)
	require.NoError(t, err)
	require.Len(t, plans, 1)

	assert.Equal(t, []string{"rec-00", "rec-01", "rec-02"}, plans[0].MemberIDs())
	assert.True(t, plans[0].TotalAmount.Equal(fixtures.Dec("66.00")))
	assert.Equal(t, testPayee, plans[0].PayeeID)
	assert.Equal(t,
		domain.NewIdempotencyKey(testPayee, []string{"rec-02", "rec-01", "rec-00"}, domain.PaymentMethodInstantTransferGateway, paymentDate),
		plans[0].IdempotencyKey)
}

func TestAggregate_SplitsIntoOrderedSubBatches(t *testing.T) {
	agg := settlement.NewAggregator(2)
	plans, err := agg.Aggregate(pendingRecords("1", "2", "3", "4", "5"), domain.PaymentMethodCash, paymentDate)
	require.NoError(t, err)
	require.Len(t, plans, 3)

	assert.Equal(t, []string{"rec-00", "rec-01"}, plans[0].MemberIDs())
	assert.Equal(t, []string{"rec-02", "rec-03"}, plans[1].MemberIDs())
	assert.Equal(t, []string{"rec-04"}, plans[2].MemberIDs())

	keys := map[domain.IdempotencyKey]bool{}
	for _, p := range plans {
		keys[p.IdempotencyKey] = true
	}
	assert.Len(t, keys, 3)

	assert.Equal(t, [][]string{{"rec-00", "rec-01"}, {"rec-02", "rec-03"}, {"rec-04"}},
		agg.Partition([]string{"rec-04", "rec-03", "rec-02", "rec-01", "rec-00"}))
}

func TestAggregate_Ineligible(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(records []*domain.HarvestRecord)
		offender string
	}{
		{"not pending", func(r []*domain.HarvestRecord) { r[1].PaymentState = domain.PaymentStateProcessing }, "rec-01"},
		{"other payee", func(r []*domain.HarvestRecord) { r[2].PayeeID = "payee-Z" }, "rec-02"},
		{"null total", func(r []*domain.HarvestRecord) { r[1].TotalValue = nil }, "rec-01"},
		{"zero total", func(r []*domain.HarvestRecord) { r[0].TotalValue = fixtures.DecimalPtr(decimal.Zero) }, "rec-00"},
		{"duplicate", func(r []*domain.HarvestRecord) { r[2].ID = "rec-01" }, "rec-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := pendingRecords("1", "2", "3")
			tt.mutate(records)

			plans, err := settlement.NewAggregator(0).Aggregate(records, domain.PaymentMethodCash, paymentDate)
			require.Error(t, err)
			assert.Nil(t, plans)
			assert.True(t, domain.IsDomainError(err, domain.ErrorCodeRecordIneligible))

			var domErr *domain.DomainError
			require.ErrorAs(t, err, &domErr)
			assert.Equal(t, tt.offender, domErr.Details["record_id"])
		})
	}
}

func TestAggregate_InvalidArguments(t *testing.T) {
	agg := settlement.NewAggregator(0)

	_, err := agg.Aggregate(nil, domain.PaymentMethodCash, paymentDate)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationMissingField))

	_, err = agg.Aggregate(pendingRecords("1"), "barter", paymentDate)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationFailed))

	_, err = agg.Aggregate(pendingRecords("1"), domain.PaymentMethodCash, time.Time{})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationMissingField))
}

// Batch total equals the exact sum of member totals for random quantity/price sets
func TestAggregate_TotalIsExactSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	agg := settlement.NewAggregator(0)

	for run := 0; run < 200; run++ {
		n := 1 + rng.Intn(25)
		records := make([]*domain.HarvestRecord, n)
		expected := decimal.Zero
		for i := 0; i < n; i++ {
			qty := decimal.New(rng.Int63n(1_000_000), -int32(rng.Intn(4)))
			price := decimal.New(1+rng.Int63n(100_000), -int32(rng.Intn(5)))
			total, err := pricing.Price(qty, price)
			require.NoError(t, err)
			if !total.IsPositive() {
				total = decimal.New(1, -2)
			}
			expected = expected.Add(total)

			records[i] = fixtures.NewHarvestRecord().WithID(fmt.Sprintf("r%03d", i)).WithPayee(testPayee).Build()
			records[i].PaymentState = domain.PaymentStatePendingPayment
			records[i].UnitPrice = fixtures.DecimalPtr(price)
			records[i].TotalValue = fixtures.DecimalPtr(total)
		}

		plans, err := agg.Aggregate(records, domain.PaymentMethodCash, paymentDate)
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.True(t, plans[0].TotalAmount.Equal(expected), "run %d: %s != %s", run, plans[0].TotalAmount, expected)
	}
}
