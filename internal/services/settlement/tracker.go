package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/kevin07696/harvest-settlement/pkg/observability"
)

// maxCASAttempts bounds how often a transition is re-read after losing a compare-and-swap
const maxCASAttempts = 3

// ReconcileResult says what a reconcile delivery did
type ReconcileResult string

const (
	ReconcileApplied   ReconcileResult = "applied"
	ReconcileDuplicate ReconcileResult = "duplicate"
	ReconcileConflict  ReconcileResult = "conflict"
)

// Tracker owns every batch status and member payment state change. Each transition is a
// compare-and-swap on the stored value, so concurrent deliveries for one batch serialize
// without a coarse lock and a status can never move backwards.
type Tracker struct {
	db      ports.DBPort
	records ports.HarvestRecordStore
	batches ports.SettlementBatchRepository
	guard   *IdempotencyGuard
	logger  ports.Logger
	now     func() time.Time
}

// NewTracker creates a settlement tracker
func NewTracker(
	db ports.DBPort,
	records ports.HarvestRecordStore,
	batches ports.SettlementBatchRepository,
	guard *IdempotencyGuard,
	logger ports.Logger,
	now func() time.Time,
) *Tracker {
	return &Tracker{
		db:      db,
		records: records,
		batches: batches,
		guard:   guard,
		logger:  logger,
		now:     now,
	}
}

// ApplySubmitResult records the network's synchronous answer for a CREATED batch.
// lines maps each externalLineId sent to the member records it carried.
//
// Rejected request: CREATED -> REJECTED, members FAILED, lock released.
// Accepted request: CREATED -> SUBMITTED -> PROCESSING; members on rejected lines go
// straight to FAILED, the rest to PROCESSING. If every line was rejected the batch
// continues to FAILED at once.
func (t *Tracker) ApplySubmitResult(ctx context.Context, batchID string, resp *ports.SubmitResponse, lines map[string][]string) (*domain.SettlementBatch, error) {
	var result *domain.SettlementBatch

	err := t.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch, err := t.batches.GetByID(ctx, tx, batchID)
		if err != nil {
			return err
		}

		if batch.Status != domain.BatchStatusCreated {
			if resp.RequestAccepted && batch.GetExternalReference() == resp.NetworkReference {
				t.logger.Info("Submit result already applied",
					ports.String("batch_id", batch.ID),
					ports.String("status", string(batch.Status)))
				result = batch
				return nil
			}
			return domain.InvalidBatchStateError(batch.ID, batch.Status, "apply submit result to")
		}

		if !resp.RequestAccepted {
			rejections := make([]domain.LineRejection, 0, len(batch.MemberRecordIDs))
			for lineID, recordIDs := range lines {
				for _, recordID := range recordIDs {
					rejections = append(rejections, domain.LineRejection{
						RecordID:       recordID,
						ExternalLineID: lineID,
						ErrorCode:      resp.ErrorCode,
					})
				}
			}
			sortRejections(rejections)

			if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusRejected, domain.BatchUpdate{LineRejections: rejections}); err != nil {
				return err
			}
			if err := t.moveMembers(ctx, tx, batch, domain.PaymentStateSubmitted, domain.PaymentStateFailed, true, nil); err != nil {
				return err
			}
			if err := t.guard.Release(ctx, tx, batch.IdempotencyKey); err != nil {
				return err
			}
			result = batch
			return nil
		}

		rejections := make([]domain.LineRejection, 0)
		rejected := make(map[string]bool)
		for _, line := range resp.Lines {
			if line.LineAccepted {
				continue
			}
			recordIDs, ok := lines[line.ExternalLineID]
			if !ok {
				t.logger.Warn("Network rejected a line that was not sent",
					ports.String("batch_id", batch.ID),
					ports.String("external_line_id", line.ExternalLineID))
				continue
			}
			for _, recordID := range recordIDs {
				rejected[recordID] = true
				rejections = append(rejections, domain.LineRejection{
					RecordID:       recordID,
					ExternalLineID: line.ExternalLineID,
					ErrorCode:      line.ErrorCode,
				})
			}
		}
		sortRejections(rejections)

		reference := resp.NetworkReference
		if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusSubmitted, domain.BatchUpdate{
			ExternalReference: &reference,
			LineRejections:    rejections,
		}); err != nil {
			return err
		}

		isRejected := func(r *domain.HarvestRecord) bool { return rejected[r.ID] }
		isAccepted := func(r *domain.HarvestRecord) bool { return !rejected[r.ID] }

		if err := t.moveMembers(ctx, tx, batch, domain.PaymentStateSubmitted, domain.PaymentStateFailed, true, isRejected); err != nil {
			return err
		}
		if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusProcessing, domain.BatchUpdate{}); err != nil {
			return err
		}
		if err := t.moveMembers(ctx, tx, batch, domain.PaymentStateSubmitted, domain.PaymentStateProcessing, true, isAccepted); err != nil {
			return err
		}

		if len(rejected) == len(batch.MemberRecordIDs) {
			if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusFailed, domain.BatchUpdate{}); err != nil {
				return err
			}
			if err := t.guard.Release(ctx, tx, batch.IdempotencyKey); err != nil {
				return err
			}
		}

		result = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.recordTransition(result)
	return result, nil
}

// MarkSubmitted moves a manual-method batch awaiting operator confirmation to SUBMITTED
func (t *Tracker) MarkSubmitted(ctx context.Context, batchID string, notes *string) (*domain.SettlementBatch, error) {
	var result *domain.SettlementBatch

	err := t.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch, err := t.batches.GetByID(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch.PaymentMethod.UsesGateway() {
			return domain.InvalidBatchStateError(batch.ID, batch.Status, "mark submitted")
		}
		if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusSubmitted, domain.BatchUpdate{Notes: notes}); err != nil {
			return err
		}
		result = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.recordTransition(result)
	return result, nil
}

// MarkPaid confirms a manual-method batch. It goes CREATED|SUBMITTED -> PAID through the
// same compare-and-swap as reconciliation and never passes through PROCESSING.
// Marking an already PAID batch again is a no-op.
func (t *Tracker) MarkPaid(ctx context.Context, batchID string, paymentDate time.Time, method domain.PaymentMethod, notes *string) (*domain.SettlementBatch, error) {
	var result *domain.SettlementBatch
	changed := false

	err := t.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch, err := t.batches.GetByID(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch.PaymentMethod.UsesGateway() {
			return domain.InvalidBatchStateError(batch.ID, batch.Status, "mark paid")
		}
		if method != batch.PaymentMethod {
			return domain.NewDomainError(domain.ErrorCodeValidationFailed, "payment method does not match the batch").
				WithDetail("batch_method", string(batch.PaymentMethod)).
				WithDetail("method", string(method))
		}

		if batch.Status == domain.BatchStatusPaid {
			t.logger.Info("Batch already marked paid", ports.String("batch_id", batch.ID))
			result = batch
			return nil
		}

		if batch.Status == domain.BatchStatusCreated {
			if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusSubmitted, domain.BatchUpdate{}); err != nil {
				return err
			}
		}

		settledAt := paymentDate
		if settledAt.IsZero() {
			settledAt = t.now()
		}
		if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusPaid, domain.BatchUpdate{
			SettledAt: &settledAt,
			Notes:     notes,
		}); err != nil {
			return err
		}
		if err := t.moveMembers(ctx, tx, batch, domain.PaymentStateSubmitted, domain.PaymentStatePaid, true, nil); err != nil {
			return err
		}
		if err := t.guard.Release(ctx, tx, batch.IdempotencyKey); err != nil {
			return err
		}

		changed = true
		result = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		t.recordTransition(result)
	}
	return result, nil
}

// Reconcile applies an authoritative network outcome to a gateway batch.
//
// PROCESSING -> PAID|FAILED, members still PROCESSING follow, line-rejected members stay FAILED.
// A terminal batch receiving the same outcome again is a logged no-op. A terminal batch
// receiving a different outcome keeps its first status; the disagreement is persisted and
// returned as a ReconciliationConflict error.
func (t *Tracker) Reconcile(ctx context.Context, batchID string, outcome domain.SettlementOutcome, settledAt *time.Time) (*domain.SettlementBatch, ReconcileResult, error) {
	if !outcome.IsValid() {
		return nil, "", domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown settlement outcome").
			WithDetail("outcome", string(outcome))
	}

	for attempt := 1; ; attempt++ {
		batch, result, err := t.reconcileOnce(ctx, batchID, outcome, settledAt)
		if errors.Is(err, domain.ErrStateConflict) && attempt < maxCASAttempts {
			t.logger.Debug("Reconcile lost a status race, re-reading",
				ports.String("batch_id", batchID),
				ports.Int("attempt", attempt))
			continue
		}
		return batch, result, err
	}
}

func (t *Tracker) reconcileOnce(ctx context.Context, batchID string, outcome domain.SettlementOutcome, settledAt *time.Time) (*domain.SettlementBatch, ReconcileResult, error) {
	var (
		result      *domain.SettlementBatch
		kind        ReconcileResult
		conflictErr error
	)

	err := t.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch, err := t.batches.GetByID(ctx, tx, batchID)
		if err != nil {
			return err
		}
		result = batch

		if !batch.PaymentMethod.UsesGateway() {
			return domain.InvalidBatchStateError(batch.ID, batch.Status, "reconcile")
		}

		if batch.Status.IsTerminal() {
			if sameOutcome(batch.Status, outcome) {
				t.logger.Info("Duplicate settlement outcome ignored",
					ports.String("batch_id", batch.ID),
					ports.String("status", string(batch.Status)),
					ports.String("outcome", string(outcome)))
				kind = ReconcileDuplicate
				return nil
			}

			conflict := &domain.ReconciliationConflict{
				ID:               uuid.New().String(),
				BatchID:          batch.ID,
				NetworkReference: batch.GetExternalReference(),
				StoredStatus:     batch.Status,
				ReportedOutcome:  outcome,
				DetectedAt:       t.now(),
			}
			if err := t.batches.RecordConflict(ctx, tx, conflict); err != nil {
				return fmt.Errorf("record reconciliation conflict: %w", err)
			}

			t.logger.Error("Conflicting settlement outcome, keeping first terminal status",
				ports.String("batch_id", batch.ID),
				ports.String("stored_status", string(batch.Status)),
				ports.String("reported_outcome", string(outcome)))
			conflictErr = domain.ReconciliationConflictError(batch.ID, batch.Status, outcome)
			kind = ReconcileConflict
			return nil
		}

		rejected := batch.RejectedRecordIDs()
		notRejected := func(r *domain.HarvestRecord) bool { return !rejected[r.ID] }

		switch batch.Status {
		case domain.BatchStatusCreated:
			return domain.InvalidBatchStateError(batch.ID, batch.Status, "reconcile")
		case domain.BatchStatusSubmitted:
			if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusProcessing, domain.BatchUpdate{}); err != nil {
				return err
			}
			if err := t.moveMembers(ctx, tx, batch, domain.PaymentStateSubmitted, domain.PaymentStateProcessing, true, notRejected); err != nil {
				return err
			}
		}

		target := outcome.BatchStatus()
		update := domain.BatchUpdate{}
		if target == domain.BatchStatusPaid {
			at := t.now()
			if settledAt != nil {
				at = settledAt.UTC()
			}
			update.SettledAt = &at
		}

		if err := t.moveBatch(ctx, tx, batch, target, update); err != nil {
			return err
		}
		if err := t.moveMembers(ctx, tx, batch, domain.PaymentStateProcessing, target.MemberState(), true, notRejected); err != nil {
			return err
		}
		if err := t.guard.Release(ctx, tx, batch.IdempotencyKey); err != nil {
			return err
		}

		kind = ReconcileApplied
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	switch kind {
	case ReconcileApplied:
		t.recordTransition(result)
	case ReconcileConflict:
		observability.RecordReconciliationConflict()
		return result, kind, conflictErr
	}
	return result, kind, nil
}

// Cancel voids a CREATED batch whose submission lease has lapsed. Members return to
// PENDING_PAYMENT without a batch link and the idempotency key is released.
func (t *Tracker) Cancel(ctx context.Context, batchID string) (*domain.SettlementBatch, error) {
	var result *domain.SettlementBatch

	err := t.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch, err := t.batches.GetByID(ctx, tx, batchID)
		if err != nil {
			return err
		}
		if batch.Status != domain.BatchStatusCreated {
			return domain.InvalidBatchStateError(batch.ID, batch.Status, "cancel")
		}

		lock, err := t.guard.LeaseFor(ctx, tx, batch.ID)
		switch {
		case err == nil && t.guard.LeaseLive(lock):
			return domain.AlreadyInFlightError(batch.IdempotencyKey.String(), batch.ID).
				WithDetail("lease_expires_at", lock.LeaseExpiresAt.Format(time.RFC3339))
		case err != nil && !errors.Is(err, domain.ErrLockNotFound):
			return fmt.Errorf("load submission lease: %w", err)
		}

		if err := t.moveBatch(ctx, tx, batch, domain.BatchStatusCancelled, domain.BatchUpdate{}); err != nil {
			return err
		}
		if err := t.moveMembers(ctx, tx, batch, domain.PaymentStateSubmitted, domain.PaymentStatePendingPayment, false, nil); err != nil {
			return err
		}
		if err := t.guard.Release(ctx, tx, batch.IdempotencyKey); err != nil {
			return err
		}

		result = batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.recordTransition(result)
	return result, nil
}

// moveBatch performs one status compare-and-swap and mirrors it onto batch
func (t *Tracker) moveBatch(ctx context.Context, tx ports.DBTX, batch *domain.SettlementBatch, to domain.BatchStatus, update domain.BatchUpdate) error {
	if !batch.Status.CanTransition(to) {
		return domain.InvalidBatchStateError(batch.ID, batch.Status, "move to "+string(to)+" the")
	}

	if err := t.batches.CompareAndSwapStatus(ctx, tx, batch.ID, batch.Status, to, update); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			return err
		}
		return fmt.Errorf("update batch status: %w", err)
	}

	t.logger.Info("Settlement batch status changed",
		ports.String("batch_id", batch.ID),
		ports.String("from", string(batch.Status)),
		ports.String("to", string(to)))

	batch.Status = to
	batch.UpdatedAt = t.now()
	if update.ExternalReference != nil {
		batch.ExternalReference = update.ExternalReference
	}
	if update.SettledAt != nil {
		batch.SettledAt = update.SettledAt
	}
	if update.Notes != nil {
		batch.Notes = update.Notes
	}
	if update.LineRejections != nil {
		batch.LineRejections = update.LineRejections
	}
	return nil
}

// moveMembers moves the batch's linked records that are in from (and pass include) to to.
// keepLink false clears the batch link, which is how cancelled batches free their members.
func (t *Tracker) moveMembers(
	ctx context.Context,
	tx ports.DBTX,
	batch *domain.SettlementBatch,
	from, to domain.PaymentState,
	keepLink bool,
	include func(*domain.HarvestRecord) bool,
) error {
	members, err := t.records.ListByBatch(ctx, tx, batch.ID)
	if err != nil {
		return fmt.Errorf("list batch members: %w", err)
	}

	var link *string
	if keepLink {
		id := batch.ID
		link = &id
	}

	for _, r := range members {
		if include != nil && !include(r) {
			continue
		}
		if r.PaymentState != from {
			if r.PaymentState != to {
				t.logger.Warn("Batch member not in expected state, left unchanged",
					ports.String("batch_id", batch.ID),
					ports.String("record_id", r.ID),
					ports.String("state", string(r.PaymentState)),
					ports.String("expected", string(from)))
			}
			continue
		}
		if err := t.records.ApplyBatchAssignment(ctx, tx, r.ID, link, from, to); err != nil {
			if errors.Is(err, domain.ErrStateConflict) {
				return err
			}
			return fmt.Errorf("update record %s state: %w", r.ID, err)
		}
	}
	return nil
}

func (t *Tracker) recordTransition(batch *domain.SettlementBatch) {
	if batch == nil {
		return
	}
	observability.RecordBatchTransition(string(batch.PaymentMethod), string(batch.Status), batch.TotalAmount, batch.Status.IsTerminal())
}

// sameOutcome reports whether a terminal status already reflects the reported outcome
func sameOutcome(status domain.BatchStatus, outcome domain.SettlementOutcome) bool {
	switch status {
	case domain.BatchStatusPaid:
		return outcome == domain.OutcomeSettled
	case domain.BatchStatusFailed, domain.BatchStatusRejected:
		return outcome == domain.OutcomeRejected
	}
	return false
}
