package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/kevin07696/harvest-settlement/internal/services/pricing"
	pkgerrors "github.com/kevin07696/harvest-settlement/pkg/errors"
	"github.com/kevin07696/harvest-settlement/pkg/observability"
	"github.com/kevin07696/harvest-settlement/pkg/resilience"
	"github.com/kevin07696/harvest-settlement/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Reconciliation sources
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

// Config holds the settlement engine's business settings
type Config struct {
	DebitAccount       string
	ReferencePrefix    string
	LineMode           LineMode
	MaxRecordsPerBatch int
	LockTTL            time.Duration
}

// SubmitSettlementRequest asks to pay a payee's selected records with one method on one date
type SubmitSettlementRequest struct {
	PaymentDate time.Time
	Notes       *string
	PayeeID     string
	Method      domain.PaymentMethod
	RecordIDs   []string
}

// BatchSubmission is the outcome for one created batch. Err carries a gateway timeout or
// unavailability; the batch is then still CREATED.
type BatchSubmission struct {
	Batch *domain.SettlementBatch
	Err   error
}

// SubmitSettlementResult lists every batch the call created, in member id order
type SubmitSettlementResult struct {
	Batches []BatchSubmission
}

// MarkPaidRequest confirms a manual payment
type MarkPaidRequest struct {
	PaymentDate time.Time
	Notes       *string
	BatchID     string
	Method      domain.PaymentMethod
}

// BatchDetails is a batch with everything an operator needs to follow it up
type BatchDetails struct {
	Batch     *domain.SettlementBatch          `json:"batch"`
	Lease     *domain.IdempotencyLock          `json:"lease,omitempty"`
	Members   []*domain.HarvestRecord          `json:"members"`
	Conflicts []*domain.ReconciliationConflict `json:"conflicts"`
}

// StaleBatch is a CREATED batch whose submission lease lapsed without a definitive outcome
type StaleBatch struct {
	Batch *domain.SettlementBatch `json:"batch"`
	Lease *domain.IdempotencyLock `json:"lease"`
}

// Service orchestrates pricing, aggregation, locking, submission and tracking
type Service struct {
	db         ports.DBPort
	records    ports.HarvestRecordStore
	batches    ports.SettlementBatchRepository
	payees     ports.PayeeDirectory
	gateway    ports.SettlementGateway
	guard      *IdempotencyGuard
	tracker    *Tracker
	aggregator *Aggregator
	timeouts   *resilience.TimeoutConfig
	logger     ports.Logger
	now        func() time.Time
	cfg        Config
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the wall clock, used for lease arithmetic and timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTimeouts replaces the default timeout hierarchy
func WithTimeouts(tc *resilience.TimeoutConfig) Option {
	return func(s *Service) { s.timeouts = tc }
}

// NewService creates a new settlement service
func NewService(
	db ports.DBPort,
	records ports.HarvestRecordStore,
	batches ports.SettlementBatchRepository,
	locks ports.IdempotencyStore,
	payees ports.PayeeDirectory,
	gateway ports.SettlementGateway,
	cfg Config,
	logger ports.Logger,
	opts ...Option,
) *Service {
	if !cfg.LineMode.IsValid() {
		cfg.LineMode = LineModePerRecord
	}

	s := &Service{
		db:         db,
		records:    records,
		batches:    batches,
		payees:     payees,
		gateway:    gateway,
		aggregator: NewAggregator(cfg.MaxRecordsPerBatch),
		timeouts:   resilience.DefaultTimeoutConfig(),
		logger:     logger,
		now:        timeutil.Now,
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	clock := func() time.Time { return s.now() }
	s.guard = NewIdempotencyGuard(locks, cfg.LockTTL, clock)
	s.tracker = NewTracker(db, records, batches, s.guard, logger, clock)
	return s
}

// PriceRecord sets a record's unit price and moves it to PENDING_PAYMENT.
// Records in SUBMITTED, PROCESSING or PAID are immutable. A FAILED record is repriced
// after correction and loses its old batch link.
func (s *Service) PriceRecord(ctx context.Context, recordID string, unitPrice decimal.Decimal) (*domain.HarvestRecord, error) {
	record, err := s.records.GetByID(ctx, nil, recordID)
	if err != nil {
		return nil, err
	}
	if record.PaymentState.IsLocked() {
		return nil, domain.NewDomainError(domain.ErrorCodeRecordImmutable, "harvest record is part of a settlement and cannot be repriced").
			WithDetail("record_id", record.ID).
			WithDetail("payment_state", string(record.PaymentState))
	}

	total, err := pricing.Price(record.Quantity, unitPrice)
	if err != nil {
		return nil, err
	}
	if !total.IsPositive() {
		return nil, domain.InvalidPricingInput("total value must be greater than zero").
			WithDetail("record_id", record.ID)
	}

	err = s.records.ApplyPriceAndState(ctx, nil, record.ID, unitPrice, total, domain.RepriceableStates, domain.PaymentStatePendingPayment)
	if errors.Is(err, domain.ErrStateConflict) {
		return nil, domain.NewDomainError(domain.ErrorCodeRecordImmutable, "harvest record changed state while pricing").
			WithDetail("record_id", record.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("apply price: %w", err)
	}

	observability.RecordRecordPriced()
	s.logger.Info("Harvest record priced",
		ports.String("record_id", record.ID),
		ports.String("unit_price", unitPrice.String()),
		ports.String("total_value", total.String()))

	return s.records.GetByID(ctx, nil, record.ID)
}

// EligibleRecords lists the payee's records that can be paid with method
func (s *Service) EligibleRecords(ctx context.Context, payeeID string, method domain.PaymentMethod) ([]*domain.HarvestRecord, error) {
	if payeeID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "payee_id is required")
	}
	if !method.IsValid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown payment method").
			WithDetail("payment_method", string(method))
	}
	if method.UsesGateway() {
		if _, err := s.payoutAccount(ctx, payeeID); err != nil {
			return nil, err
		}
	}
	return s.records.FindEligible(ctx, nil, payeeID)
}

// PreviewSettlement plans the batches a submission would create without changing anything
func (s *Service) PreviewSettlement(ctx context.Context, req SubmitSettlementRequest) ([]PlannedBatch, error) {
	ids, err := validateSubmitRequest(req)
	if err != nil {
		return nil, err
	}
	records, err := s.loadSelection(ctx, req.PayeeID, ids)
	if err != nil {
		return nil, err
	}
	return s.aggregator.Aggregate(records, req.Method, req.PaymentDate)
}

// SubmitSettlement aggregates the selection into batches and pays them.
//
// Locks, record assignment and batch creation happen in one transaction for every
// planned batch, so a failure leaves no record changed. The gateway is called only
// after that transaction commits, one batch at a time.
func (s *Service) SubmitSettlement(ctx context.Context, req SubmitSettlementRequest) (*SubmitSettlementResult, error) {
	ids, err := validateSubmitRequest(req)
	if err != nil {
		return nil, err
	}

	records, err := s.loadSelection(ctx, req.PayeeID, ids)
	if err != nil {
		return nil, err
	}

	// Checked after loading so a concurrent submission of the same selection reports
	// in-flight instead of the SUBMITTED state it left behind.
	for _, group := range s.aggregator.Partition(ids) {
		key := domain.NewIdempotencyKey(req.PayeeID, group, req.Method, req.PaymentDate)
		if err := s.guard.Check(ctx, nil, key); err != nil {
			return nil, err
		}
	}

	var account *domain.PayoutAccount
	if req.Method.UsesGateway() {
		if account, err = s.payoutAccount(ctx, req.PayeeID); err != nil {
			return nil, err
		}
	}

	plans, err := s.aggregator.Aggregate(records, req.Method, req.PaymentDate)
	if err != nil {
		return nil, err
	}

	type created struct {
		batch   *domain.SettlementBatch
		lock    *domain.IdempotencyLock
		members []*domain.HarvestRecord
	}
	var pending []created

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		pending = pending[:0]
		now := s.now()

		for i := range plans {
			plan := &plans[i]
			batchID := uuid.New().String()

			lock, err := s.guard.Acquire(ctx, tx, plan.IdempotencyKey, batchID)
			if err != nil {
				return err
			}

			for _, r := range plan.Records {
				err := s.records.ApplyBatchAssignment(ctx, tx, r.ID, &batchID, domain.PaymentStatePendingPayment, domain.PaymentStateSubmitted)
				if errors.Is(err, domain.ErrStateConflict) {
					return domain.IneligibleRecordError(r.ID, "payment state changed concurrently")
				}
				if err != nil {
					return fmt.Errorf("assign record %s: %w", r.ID, err)
				}
			}

			batch := &domain.SettlementBatch{
				ID:              batchID,
				PayeeID:         plan.PayeeID,
				PaymentMethod:   plan.Method,
				TotalAmount:     plan.TotalAmount,
				MemberRecordIDs: plan.MemberIDs(),
				PaymentDate:     timeutil.StartOfDay(plan.PaymentDate),
				Status:          domain.BatchStatusCreated,
				IdempotencyKey:  plan.IdempotencyKey,
				Notes:           req.Notes,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.batches.Create(ctx, tx, batch); err != nil {
				return fmt.Errorf("create settlement batch: %w", err)
			}

			pending = append(pending, created{batch: batch, lock: lock, members: plan.Records})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &SubmitSettlementResult{Batches: make([]BatchSubmission, 0, len(pending))}
	for _, p := range pending {
		observability.RecordBatchTransition(string(p.batch.PaymentMethod), string(p.batch.Status), p.batch.TotalAmount, false)
		s.logger.Info("Settlement batch created",
			ports.String("batch_id", p.batch.ID),
			ports.String("payee_id", p.batch.PayeeID),
			ports.String("payment_method", string(p.batch.PaymentMethod)),
			ports.String("total_amount", p.batch.TotalAmount.String()),
			ports.Int("members", len(p.batch.MemberRecordIDs)))

		var (
			batch *domain.SettlementBatch
			err   error
		)
		switch {
		case p.batch.PaymentMethod.UsesGateway():
			batch, err = s.submitToGateway(ctx, p.batch, p.lock, p.members, account)
		case p.batch.PaymentMethod.PaidOnSubmit():
			batch, err = s.tracker.MarkPaid(ctx, p.batch.ID, p.batch.PaymentDate, p.batch.PaymentMethod, req.Notes)
		default:
			batch, err = s.tracker.MarkSubmitted(ctx, p.batch.ID, req.Notes)
		}
		if batch == nil {
			batch = p.batch
		}
		result.Batches = append(result.Batches, BatchSubmission{Batch: batch, Err: err})
	}

	return result, nil
}

// RetrySubmission resends a CREATED gateway batch whose lease has lapsed. The request
// is identical to the first attempt, including its request id, so the network can
// recognize a duplicate.
func (s *Service) RetrySubmission(ctx context.Context, batchID string) (*domain.SettlementBatch, error) {
	batch, err := s.batches.GetByID(ctx, nil, batchID)
	if err != nil {
		return nil, err
	}
	if !batch.PaymentMethod.UsesGateway() || batch.Status != domain.BatchStatusCreated {
		return nil, domain.InvalidBatchStateError(batch.ID, batch.Status, "retry submission of")
	}

	members, err := s.records.GetByIDs(ctx, nil, batch.MemberRecordIDs)
	if err != nil {
		return nil, err
	}
	account, err := s.payoutAccount(ctx, batch.PayeeID)
	if err != nil {
		return nil, err
	}

	lock, err := s.guard.Renew(ctx, nil, batch.IdempotencyKey)
	if errors.Is(err, domain.ErrLockNotFound) {
		return nil, domain.InvalidBatchStateError(batch.ID, batch.Status, "retry submission without a lock for")
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Retrying settlement submission",
		ports.String("batch_id", batch.ID),
		ports.String("idempotency_key", batch.IdempotencyKey.String()))

	updated, err := s.submitToGateway(ctx, batch, lock, members, account)
	if err != nil {
		return batch, err
	}
	return updated, nil
}

// CancelBatch voids a CREATED batch whose lease has lapsed and frees its members
func (s *Service) CancelBatch(ctx context.Context, batchID string) (*domain.SettlementBatch, error) {
	batch, err := s.tracker.Cancel(ctx, batchID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Settlement batch cancelled", ports.String("batch_id", batch.ID))
	return batch, nil
}

// MarkPaid confirms a manual-method batch
func (s *Service) MarkPaid(ctx context.Context, req MarkPaidRequest) (*domain.SettlementBatch, error) {
	if req.BatchID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "batch_id is required")
	}
	if !req.Method.IsValid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown payment method").
			WithDetail("payment_method", string(req.Method))
	}
	return s.tracker.MarkPaid(ctx, req.BatchID, req.PaymentDate, req.Method, req.Notes)
}

// Reconcile applies a network outcome to a batch by id
func (s *Service) Reconcile(ctx context.Context, batchID string, outcome domain.SettlementOutcome, settledAt *time.Time, source string) (*domain.SettlementBatch, error) {
	batch, result, err := s.tracker.Reconcile(ctx, batchID, outcome, settledAt)
	switch {
	case err == nil:
		observability.RecordReconciliation(source, string(result))
	case result == ReconcileConflict:
		observability.RecordReconciliation(source, string(result))
	default:
		observability.RecordReconciliation(source, "error")
	}
	return batch, err
}

// ApplyNetworkStatus reconciles the batch identified by the network reference. A status
// without a final outcome leaves the batch untouched.
func (s *Service) ApplyNetworkStatus(ctx context.Context, status *ports.SettlementStatus, source string) (*domain.SettlementBatch, error) {
	if status == nil || status.NetworkReference == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "networkReference is required")
	}

	batch, err := s.batches.GetByExternalReference(ctx, nil, status.NetworkReference)
	if err != nil {
		return nil, err
	}

	if status.FinalStatus == "" {
		observability.RecordReconciliation(source, "pending")
		return batch, nil
	}

	outcome := domain.SettlementOutcome(status.FinalStatus)
	if !outcome.IsValid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown finalStatus").
			WithDetail("final_status", status.FinalStatus)
	}

	return s.Reconcile(ctx, batch.ID, outcome, status.SettledAt, source)
}

// PollBatch asks the network for the final status of a PROCESSING batch
func (s *Service) PollBatch(ctx context.Context, batch *domain.SettlementBatch) (*domain.SettlementBatch, error) {
	reference := batch.GetExternalReference()
	if reference == "" {
		return batch, nil
	}

	pctx, cancel := s.timeouts.GatewayPollContext(ctx)
	status, err := s.gateway.FetchStatus(pctx, reference)
	cancel()
	if err != nil {
		observability.RecordReconciliation(SourcePoll, "error")
		return nil, fmt.Errorf("fetch settlement status: %w", err)
	}
	if status.NetworkReference == "" {
		status.NetworkReference = reference
	}

	return s.ApplyNetworkStatus(ctx, status, SourcePoll)
}

// ProcessingBatches lists PROCESSING batches that have not changed for at least minAge
func (s *Service) ProcessingBatches(ctx context.Context, minAge time.Duration, limit int) ([]*domain.SettlementBatch, error) {
	return s.batches.ListByStatus(ctx, nil, domain.BatchStatusProcessing, s.now().Add(-minAge), limit)
}

// GetBatch returns a batch with its members, conflicts and current lease, read from
// one snapshot
func (s *Service) GetBatch(ctx context.Context, batchID string) (*BatchDetails, error) {
	var details *BatchDetails
	err := s.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch, err := s.batches.GetByID(ctx, tx, batchID)
		if err != nil {
			return err
		}

		members, err := s.records.GetByIDs(ctx, tx, batch.MemberRecordIDs)
		if err != nil {
			return err
		}

		conflicts, err := s.batches.ListConflicts(ctx, tx, batch.ID)
		if err != nil {
			return fmt.Errorf("list conflicts: %w", err)
		}

		details = &BatchDetails{Batch: batch, Members: members, Conflicts: conflicts}

		lease, err := s.guard.LeaseFor(ctx, tx, batch.ID)
		switch {
		case err == nil:
			details.Lease = lease
		case !errors.Is(err, domain.ErrLockNotFound):
			return fmt.Errorf("load lease: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// StaleBatches lists CREATED batches whose submission lease expired. They need an
// operator to retry with the same key or cancel; the engine never resubmits on its own.
func (s *Service) StaleBatches(ctx context.Context, limit int) ([]*StaleBatch, error) {
	locks, err := s.guard.Stale(ctx, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale leases: %w", err)
	}

	stale := make([]*StaleBatch, 0, len(locks))
	for _, lock := range locks {
		batch, err := s.batches.GetByID(ctx, nil, lock.BatchID)
		if domain.IsNotFoundError(err) {
			s.logger.Warn("Idempotency lock without batch", ports.String("batch_id", lock.BatchID))
			continue
		}
		if err != nil {
			return nil, err
		}
		if batch.Status == domain.BatchStatusCreated {
			stale = append(stale, &StaleBatch{Batch: batch, Lease: lock})
		}
	}
	return stale, nil
}

// submitToGateway sends batch and applies the answer. Only a request that provably never
// left the process ends its lease early; an unknown outcome keeps the batch CREATED and
// the lease live until it expires.
func (s *Service) submitToGateway(
	ctx context.Context,
	batch *domain.SettlementBatch,
	lock *domain.IdempotencyLock,
	members []*domain.HarvestRecord,
	account *domain.PayoutAccount,
) (*domain.SettlementBatch, error) {
	req, lines := buildSubmitRequest(batch, members, account, s.cfg.DebitAccount, s.cfg.ReferencePrefix, s.cfg.LineMode)

	gctx, cancel := s.timeouts.GatewaySubmitContext(ctx)
	start := time.Now()
	resp, err := s.gateway.Submit(gctx, req)
	elapsed := time.Since(start).Seconds()
	cancel()

	// The network may have acted on the request, so its answer is persisted even if the
	// caller has gone away.
	persistCtx, cancelPersist := s.timeouts.ServiceContext(context.WithoutCancel(ctx))
	defer cancelPersist()

	if err != nil {
		switch pkgerrors.CategoryOf(err) {
		case pkgerrors.CategoryNotSent:
			observability.RecordGatewaySubmission("not_sent", elapsed)
			if expErr := s.guard.Expire(persistCtx, nil, lock); expErr != nil {
				s.logger.Warn("Failed to expire submission lease",
					ports.String("batch_id", batch.ID),
					ports.Err(expErr))
			}
			s.logger.Warn("Settlement network unavailable, request not sent",
				ports.String("batch_id", batch.ID),
				ports.Err(err))
			return batch, domain.GatewayUnavailableError(batch.ID, err)

		case pkgerrors.CategoryInvalidRequest:
			observability.RecordGatewaySubmission("rejected", elapsed)
			code := "INVALID_REQUEST"
			var gwErr *pkgerrors.GatewayError
			if errors.As(err, &gwErr) && gwErr.Code != "" {
				code = gwErr.Code
			}
			resp = &ports.SubmitResponse{RequestAccepted: false, ErrorCode: code}

		default:
			observability.RecordGatewaySubmission("unknown_outcome", elapsed)
			s.logger.Error("Settlement network outcome unknown, batch left CREATED for follow-up",
				ports.String("batch_id", batch.ID),
				ports.String("idempotency_key", batch.IdempotencyKey.String()),
				ports.String("lease_expires_at", lock.LeaseExpiresAt.Format(time.RFC3339)),
				ports.Err(err))
			return batch, domain.GatewayTimeoutError(batch.ID, err)
		}
	} else if resp.RequestAccepted {
		observability.RecordGatewaySubmission("accepted", elapsed)
	} else {
		observability.RecordGatewaySubmission("rejected", elapsed)
	}

	updated, err := s.tracker.ApplySubmitResult(persistCtx, batch.ID, resp, lines)
	if err != nil {
		s.logger.Error("Failed to record settlement network answer",
			ports.String("batch_id", batch.ID),
			ports.Bool("request_accepted", resp.RequestAccepted),
			ports.String("network_reference", resp.NetworkReference),
			ports.Err(err))
		return batch, err
	}

	for _, lr := range updated.LineRejections {
		observability.RecordLineRejection(lr.ErrorCode)
	}

	s.logger.Info("Settlement batch submitted",
		ports.String("batch_id", updated.ID),
		ports.String("status", string(updated.Status)),
		ports.String("network_reference", updated.GetExternalReference()),
		ports.Int("line_rejections", len(updated.LineRejections)))

	return updated, nil
}

// loadSelection loads the selected records and checks they all belong to payeeID
func (s *Service) loadSelection(ctx context.Context, payeeID string, ids []string) ([]*domain.HarvestRecord, error) {
	records, err := s.records.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.PayeeID != payeeID {
			return nil, domain.IneligibleRecordError(r.ID, "belongs to a different payee")
		}
	}
	return records, nil
}

func (s *Service) payoutAccount(ctx context.Context, payeeID string) (*domain.PayoutAccount, error) {
	account, err := s.payees.GetPayoutAccount(ctx, nil, payeeID)
	if domain.IsNotFoundError(err) {
		return nil, domain.NewDomainError(domain.ErrorCodePayeeNoPayoutAccount, "payee has no payout account for gateway transfers").
			WithDetail("payee_id", payeeID)
	}
	if err != nil {
		return nil, err
	}
	if account.Key == "" {
		return nil, domain.NewDomainError(domain.ErrorCodePayeeNoPayoutAccount, "payee payout key is empty").
			WithDetail("payee_id", payeeID)
	}
	return account, nil
}

// validateSubmitRequest checks request shape and returns the sorted record ids
func validateSubmitRequest(req SubmitSettlementRequest) ([]string, error) {
	if req.PayeeID == "" {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "payee_id is required")
	}
	if len(req.RecordIDs) == 0 {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "record_ids must not be empty")
	}
	if !req.Method.IsValid() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "unknown payment method").
			WithDetail("payment_method", string(req.Method))
	}
	if req.PaymentDate.IsZero() {
		return nil, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "payment_date is required")
	}

	ids := make([]string, len(req.RecordIDs))
	copy(ids, req.RecordIDs)
	sort.Strings(ids)
	for i := 1; i < len(ids); i++ {
		if ids[i] == ids[i-1] {
			return nil, domain.NewDomainError(domain.ErrorCodeValidationFailed, "record id listed more than once").
				WithDetail("record_id", ids[i])
		}
	}
	return ids, nil
}
