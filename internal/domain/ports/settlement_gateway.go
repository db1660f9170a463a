package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is one credit line in a settlement request
type Transfer struct {
	Amount         decimal.Decimal `json:"amount"`
	PayeeKeyType   string          `json:"payeeKeyType"`
	PayeeKey       string          `json:"payeeKey"`
	ReferenceText  string          `json:"referenceText"`
	ExternalLineID string          `json:"externalLineId"`
}

// SubmitRequest is the body sent to the settlement network.
// RequestID is the batch idempotency key; the network deduplicates on it.
type SubmitRequest struct {
	RequestID    string     `json:"requestId"`
	DebitAccount string     `json:"debitAccount"`
	PaymentDate  string     `json:"paymentDate"`
	Transfers    []Transfer `json:"transfers"`
}

// LineResult is the network's verdict on a single transfer line
type LineResult struct {
	ExternalLineID string `json:"externalLineId"`
	ErrorCode      string `json:"errorCode,omitempty"`
	LineAccepted   bool   `json:"lineAccepted"`
}

// SubmitResponse is the network's synchronous answer to a SubmitRequest
type SubmitResponse struct {
	NetworkReference string       `json:"networkReference,omitempty"`
	ErrorCode        string       `json:"errorCode,omitempty"`
	Lines            []LineResult `json:"lines"`
	RequestAccepted  bool         `json:"requestAccepted"`
}

// SettlementStatus is the asynchronous final status of a request, delivered by callback
// or returned by a status poll. FinalStatus is empty while the network is still settling.
type SettlementStatus struct {
	SettledAt        *time.Time `json:"settledAt,omitempty"`
	NetworkReference string     `json:"networkReference"`
	FinalStatus      string     `json:"finalStatus"`
}

// SettlementGateway is the boundary to the external real-time payment network.
// Errors are *pkg/errors.GatewayError values that classify whether the request was sent.
type SettlementGateway interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
	FetchStatus(ctx context.Context, networkReference string) (*SettlementStatus, error)
}
