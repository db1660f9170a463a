package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BatchStatus is the lifecycle state of a settlement batch
type BatchStatus string

const (
	BatchStatusCreated    BatchStatus = "CREATED"
	BatchStatusSubmitted  BatchStatus = "SUBMITTED"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusPaid       BatchStatus = "PAID"
	BatchStatusFailed     BatchStatus = "FAILED"
	BatchStatusRejected   BatchStatus = "REJECTED"
	BatchStatusCancelled  BatchStatus = "CANCELLED"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusCreated:    {BatchStatusSubmitted, BatchStatusRejected, BatchStatusCancelled},
	BatchStatusSubmitted:  {BatchStatusProcessing, BatchStatusPaid},
	BatchStatusProcessing: {BatchStatusPaid, BatchStatusFailed},
}

// CanTransition reports whether a batch may move from s to the given status
func (s BatchStatus) CanTransition(to BatchStatus) bool {
	for _, next := range batchTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses that never change again
func (s BatchStatus) IsTerminal() bool {
	return len(batchTransitions[s]) == 0
}

// MemberState is the payment state member records carry while the batch is in s
func (s BatchStatus) MemberState() PaymentState {
	switch s {
	case BatchStatusSubmitted, BatchStatusCreated:
		return PaymentStateSubmitted
	case BatchStatusProcessing:
		return PaymentStateProcessing
	case BatchStatusPaid:
		return PaymentStatePaid
	case BatchStatusFailed, BatchStatusRejected:
		return PaymentStateFailed
	default:
		return PaymentStatePendingPayment
	}
}

// PaymentMethod is how a batch is paid out
type PaymentMethod string

const (
	PaymentMethodInstantTransferGateway PaymentMethod = "instant_transfer_gateway"
	PaymentMethodManualInstantTransfer  PaymentMethod = "manual_instant_transfer"
	PaymentMethodBankSlip               PaymentMethod = "bank_slip"
	PaymentMethodWire                   PaymentMethod = "wire"
	PaymentMethodCash                   PaymentMethod = "cash"
	PaymentMethodCheck                  PaymentMethod = "check"
)

// IsValid reports whether m is a known payment method
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodInstantTransferGateway, PaymentMethodManualInstantTransfer,
		PaymentMethodBankSlip, PaymentMethodWire, PaymentMethodCash, PaymentMethodCheck:
		return true
	}
	return false
}

// UsesGateway returns true when the batch is submitted to the settlement network
func (m PaymentMethod) UsesGateway() bool {
	return m == PaymentMethodInstantTransferGateway
}

// PaidOnSubmit returns true for manual methods confirmed by the submitting call itself
func (m PaymentMethod) PaidOnSubmit() bool {
	return m == PaymentMethodCash || m == PaymentMethodCheck || m == PaymentMethodManualInstantTransfer
}

// SettlementOutcome is the final status the network reports for a transfer
type SettlementOutcome string

const (
	OutcomeSettled  SettlementOutcome = "SETTLED"
	OutcomeRejected SettlementOutcome = "REJECTED"
)

// IsValid reports whether o is a known outcome
func (o SettlementOutcome) IsValid() bool {
	return o == OutcomeSettled || o == OutcomeRejected
}

// BatchStatus maps the outcome to the terminal batch status it drives
func (o SettlementOutcome) BatchStatus() BatchStatus {
	if o == OutcomeSettled {
		return BatchStatusPaid
	}
	return BatchStatusFailed
}

// LineRejection records why the network refused one transfer line
type LineRejection struct {
	RecordID       string `json:"record_id"`
	ExternalLineID string `json:"external_line_id"`
	ErrorCode      string `json:"error_code"`
}

// SettlementBatch is one consolidated outbound payment for one payee, method and date
type SettlementBatch struct {
	PaymentDate       time.Time       `json:"payment_date"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	SettledAt         *time.Time      `json:"settled_at"`
	ExternalReference *string         `json:"external_reference"`
	Notes             *string         `json:"notes"`
	ID                string          `json:"id"`
	PayeeID           string          `json:"payee_id"`
	IdempotencyKey    IdempotencyKey  `json:"idempotency_key"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	Status            BatchStatus     `json:"status"`
	MemberRecordIDs   []string        `json:"member_record_ids"`
	LineRejections    []LineRejection `json:"line_rejections"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
}

// GetExternalReference safely retrieves the network reference
func (b *SettlementBatch) GetExternalReference() string {
	if b.ExternalReference != nil {
		return *b.ExternalReference
	}
	return ""
}

// IsMember reports whether recordID belongs to the batch
func (b *SettlementBatch) IsMember(recordID string) bool {
	for _, id := range b.MemberRecordIDs {
		if id == recordID {
			return true
		}
	}
	return false
}

// RejectedRecordIDs returns the members the network refused line by line
func (b *SettlementBatch) RejectedRecordIDs() map[string]bool {
	rejected := make(map[string]bool, len(b.LineRejections))
	for _, lr := range b.LineRejections {
		rejected[lr.RecordID] = true
	}
	return rejected
}

// BatchUpdate carries the fields written alongside a status compare-and-swap
type BatchUpdate struct {
	SettledAt         *time.Time
	ExternalReference *string
	Notes             *string
	LineRejections    []LineRejection
}

// ReconciliationConflict is persisted when the network reports a second, different final outcome
type ReconciliationConflict struct {
	DetectedAt       time.Time         `json:"detected_at"`
	ID               string            `json:"id"`
	BatchID          string            `json:"batch_id"`
	NetworkReference string            `json:"network_reference"`
	StoredStatus     BatchStatus       `json:"stored_status"`
	ReportedOutcome  SettlementOutcome `json:"reported_outcome"`
}
