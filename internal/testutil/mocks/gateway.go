package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	pkgerrors "github.com/kevin07696/harvest-settlement/pkg/errors"
)

// MockGateway is a scriptable settlement network. Without a SubmitFunc it accepts every line.
type MockGateway struct {
	mu       sync.Mutex
	requests []ports.SubmitRequest
	statuses map[string]*ports.SettlementStatus

	SubmitFunc func(ctx context.Context, req *ports.SubmitRequest) (*ports.SubmitResponse, error)
	Reference  string
}

var _ ports.SettlementGateway = (*MockGateway)(nil)

// NewMockGateway creates a gateway that answers with reference
func NewMockGateway(reference string) *MockGateway {
	return &MockGateway{
		Reference: reference,
		statuses:  make(map[string]*ports.SettlementStatus),
	}
}

// Submit records req and answers through SubmitFunc
func (g *MockGateway) Submit(ctx context.Context, req *ports.SubmitRequest) (*ports.SubmitResponse, error) {
	g.mu.Lock()
	copied := *req
	copied.Transfers = append([]ports.Transfer(nil), req.Transfers...)
	g.requests = append(g.requests, copied)
	fn := g.SubmitFunc
	g.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return AcceptAll(req, g.Reference), nil
}

// FetchStatus returns the status set with SetStatus, or a pending status
func (g *MockGateway) FetchStatus(ctx context.Context, networkReference string) (*ports.SettlementStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.statuses[networkReference]; ok {
		c := *st
		return &c, nil
	}
	return &ports.SettlementStatus{NetworkReference: networkReference}, nil
}

// SetStatus scripts the final status returned for reference
func (g *MockGateway) SetStatus(st *ports.SettlementStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[st.NetworkReference] = st
}

// Requests returns every request submitted so far
func (g *MockGateway) Requests() []ports.SubmitRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ports.SubmitRequest(nil), g.requests...)
}

// AcceptAll builds a response accepting every line of req
func AcceptAll(req *ports.SubmitRequest, reference string) *ports.SubmitResponse {
	return RejectLines(req, reference, nil)
}

// RejectLines builds an accepted response that rejects the given line ids with their codes
func RejectLines(req *ports.SubmitRequest, reference string, rejected map[string]string) *ports.SubmitResponse {
	resp := &ports.SubmitResponse{RequestAccepted: true, NetworkReference: reference}
	for _, t := range req.Transfers {
		code, bad := rejected[t.ExternalLineID]
		resp.Lines = append(resp.Lines, ports.LineResult{
			ExternalLineID: t.ExternalLineID,
			LineAccepted:   !bad,
			ErrorCode:      code,
		})
	}
	return resp
}

// Timeout returns a submit function that fails with an unknown outcome
func Timeout() func(ctx context.Context, req *ports.SubmitRequest) (*ports.SubmitResponse, error) {
	return func(ctx context.Context, req *ports.SubmitRequest) (*ports.SubmitResponse, error) {
		return nil, pkgerrors.NewGatewayError("TIMEOUT", "no response from settlement network", pkgerrors.CategoryUnknownOutcome, context.DeadlineExceeded)
	}
}

// Unreachable returns a submit function that fails before sending
func Unreachable() func(ctx context.Context, req *ports.SubmitRequest) (*ports.SubmitResponse, error) {
	return func(ctx context.Context, req *ports.SubmitRequest) (*ports.SubmitResponse, error) {
		return nil, pkgerrors.NewGatewayError("CONNECTION_REFUSED", "settlement network unreachable", pkgerrors.CategoryNotSent, nil)
	}
}
