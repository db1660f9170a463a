package settlement_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/services/settlement"
	"github.com/kevin07696/harvest-settlement/internal/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statusRank orders batch statuses along the lifecycle; terminal statuses share the top rank
var statusRank = map[domain.BatchStatus]int{
	domain.BatchStatusCreated:    0,
	domain.BatchStatusSubmitted:  1,
	domain.BatchStatusProcessing: 2,
	domain.BatchStatusPaid:       3,
	domain.BatchStatusFailed:     3,
	domain.BatchStatusRejected:   3,
	domain.BatchStatusCancelled:  3,
}

func processingBatch(t *testing.T, h *harness) *domain.SettlementBatch {
	t.Helper()
	ids := h.seedScenario()
	h.priceAll(t, ids, "2.50")
	result, err := h.submit(domain.PaymentMethodInstantTransferGateway, ids...)
	require.NoError(t, err)
	require.Equal(t, domain.BatchStatusProcessing, result.Batches[0].Batch.Status)
	return result.Batches[0].Batch
}

func TestReconcile_Monotonic(t *testing.T) {
	outcomes := []domain.SettlementOutcome{domain.OutcomeSettled, domain.OutcomeRejected}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		h := newHarness(t, settlement.Config{})
		batch := processingBatch(t, h)

		first := outcomes[rng.Intn(2)]
		deliveries := 1 + rng.Intn(8)
		rank := statusRank[domain.BatchStatusProcessing]

		for i := 0; i < deliveries; i++ {
			outcome := first
			if i > 0 {
				outcome = outcomes[rng.Intn(2)]
			}
			_, err := h.svc.Reconcile(context.Background(), batch.ID, outcome, nil, settlement.SourceWebhook)
			if err != nil {
				require.True(t, domain.IsDomainError(err, domain.ErrorCodeReconciliationConflict), "run %d: %v", run, err)
			}

			details, err := h.svc.GetBatch(context.Background(), batch.ID)
			require.NoError(t, err)
			current := details.Batch.Status

			assert.GreaterOrEqual(t, statusRank[current], rank, "run %d: status moved backwards", run)
			rank = statusRank[current]
			assert.Equal(t, first.BatchStatus(), current, "run %d: first terminal status must stick", run)
		}
	}
}

func TestReconcile_ConcurrentDeliveries(t *testing.T) {
	h := newHarness(t, settlement.Config{})
	batch := processingBatch(t, h)

	const deliveries = 16
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, deliveries)
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.svc.Reconcile(context.Background(), batch.ID, domain.OutcomeSettled, nil, settlement.SourceWebhook)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	details, err := h.svc.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusPaid, details.Batch.Status)
	assert.Empty(t, details.Conflicts)
	for _, m := range details.Members {
		assert.Equal(t, domain.PaymentStatePaid, m.PaymentState)
	}
}

func TestReconcile_InvalidTargets(t *testing.T) {
	t.Run("created batch", func(t *testing.T) {
		h := newHarness(t, settlement.Config{})
		ids := h.seedScenario()
		h.priceAll(t, ids, "2.50")
		h.gateway.SubmitFunc = mocks.Timeout()
		result, err := h.submit(domain.PaymentMethodInstantTransferGateway, ids...)
		require.NoError(t, err)

		_, err = h.svc.Reconcile(context.Background(), result.Batches[0].Batch.ID, domain.OutcomeSettled, nil, settlement.SourceWebhook)
		assert.True(t, domain.IsDomainError(err, domain.ErrorCodeBatchInvalidState))
	})

	t.Run("manual batch", func(t *testing.T) {
		h := newHarness(t, settlement.Config{})
		ids := h.seedScenario()
		h.priceAll(t, ids, "2.50")
		result, err := h.submit(domain.PaymentMethodWire, ids...)
		require.NoError(t, err)

		_, err = h.svc.Reconcile(context.Background(), result.Batches[0].Batch.ID, domain.OutcomeSettled, nil, settlement.SourceWebhook)
		assert.True(t, domain.IsDomainError(err, domain.ErrorCodeBatchInvalidState))
	})

	t.Run("unknown outcome", func(t *testing.T) {
		h := newHarness(t, settlement.Config{})
		batch := processingBatch(t, h)

		_, err := h.svc.Reconcile(context.Background(), batch.ID, "LOST", nil, settlement.SourceWebhook)
		assert.True(t, domain.IsValidationError(err))
	})
}
