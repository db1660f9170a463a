package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/services/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockService is a mock implementation of Service
type MockService struct {
	mock.Mock
}

func (m *MockService) EligibleRecords(ctx context.Context, payeeID string, method domain.PaymentMethod) ([]*domain.HarvestRecord, error) {
	args := m.Called(ctx, payeeID, method)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.HarvestRecord), args.Error(1)
}

func (m *MockService) PriceRecord(ctx context.Context, recordID string, unitPrice decimal.Decimal) (*domain.HarvestRecord, error) {
	args := m.Called(ctx, recordID, unitPrice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.HarvestRecord), args.Error(1)
}

func (m *MockService) PreviewSettlement(ctx context.Context, req settlement.SubmitSettlementRequest) ([]settlement.PlannedBatch, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]settlement.PlannedBatch), args.Error(1)
}

func (m *MockService) SubmitSettlement(ctx context.Context, req settlement.SubmitSettlementRequest) (*settlement.SubmitSettlementResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.SubmitSettlementResult), args.Error(1)
}

func (m *MockService) GetBatch(ctx context.Context, batchID string) (*settlement.BatchDetails, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settlement.BatchDetails), args.Error(1)
}

func (m *MockService) CancelBatch(ctx context.Context, batchID string) (*domain.SettlementBatch, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementBatch), args.Error(1)
}

func (m *MockService) RetrySubmission(ctx context.Context, batchID string) (*domain.SettlementBatch, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementBatch), args.Error(1)
}

func (m *MockService) MarkPaid(ctx context.Context, req settlement.MarkPaidRequest) (*domain.SettlementBatch, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementBatch), args.Error(1)
}

func (m *MockService) StaleBatches(ctx context.Context, limit int) ([]*settlement.StaleBatch, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*settlement.StaleBatch), args.Error(1)
}

func newTestRouter(svc *MockService) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", NewHandler(svc, zap.NewNop()).Routes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "response has an error envelope")
	return e["code"].(string)
}

func TestSubmitSettlement_Created(t *testing.T) {
	svc := new(MockService)
	router := newTestRouter(svc)

	want := settlement.SubmitSettlementRequest{
		PayeeID:     "payee-1",
		Method:      domain.PaymentMethodInstantTransferGateway,
		RecordIDs:   []string{"r1", "r2"},
		PaymentDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	created := &domain.SettlementBatch{ID: "b1", Status: domain.BatchStatusProcessing, TotalAmount: decimal.RequireFromString("85.50")}
	timedOut := &domain.SettlementBatch{ID: "b2", Status: domain.BatchStatusCreated}
	svc.On("SubmitSettlement", mock.Anything, want).Return(&settlement.SubmitSettlementResult{
		Batches: []settlement.BatchSubmission{
			{Batch: created},
			{Batch: timedOut, Err: domain.GatewayTimeoutError("b2", context.DeadlineExceeded)},
		},
	}, nil)

	rec, body := do(t, router, http.MethodPost, "/api/v1/settlements",
		`{"payee_id":"payee-1","method":"instant_transfer_gateway","record_ids":["r1","r2"],"payment_date":"2026-03-02"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	batches := body["batches"].([]interface{})
	require.Len(t, batches, 2)
	first := batches[0].(map[string]interface{})
	assert.Equal(t, "PROCESSING", first["batch"].(map[string]interface{})["status"])
	assert.Nil(t, first["error"])
	second := batches[1].(map[string]interface{})
	assert.Equal(t, "GATEWAY_TIMEOUT", second["error"].(map[string]interface{})["code"])
	svc.AssertExpectations(t)
}

func TestSubmitSettlement_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"ineligible record", domain.IneligibleRecordError("r1", "not priced"), http.StatusUnprocessableEntity, "RECORD_INELIGIBLE"},
		{"missing field", domain.NewDomainError(domain.ErrorCodeValidationMissingField, "payee_id is required"), http.StatusBadRequest, "VALIDATION_MISSING_FIELD"},
		{"already in flight", domain.AlreadyInFlightError("k", "b1"), http.StatusConflict, "BATCH_ALREADY_IN_FLIGHT"},
		{"record not found", domain.ErrRecordNotFound, http.StatusNotFound, "RECORD_NOT_FOUND"},
		{"no payout account", domain.NewDomainError(domain.ErrorCodePayeeNoPayoutAccount, "payee payout key is empty"), http.StatusUnprocessableEntity, "PAYEE_NO_PAYOUT_ACCOUNT"},
		{"unclassified", context.Canceled, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			svc.On("SubmitSettlement", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec, body := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/settlements",
				`{"payee_id":"payee-1","method":"cash","record_ids":["r1"],"payment_date":"2026-03-02"}`)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, body))
		})
	}
}

func TestSubmitSettlement_BadBody(t *testing.T) {
	svc := new(MockService)
	router := newTestRouter(svc)

	rec, body := do(t, router, http.MethodPost, "/api/v1/settlements", `{"payee_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(t, body))

	rec, _ = do(t, router, http.MethodPost, "/api/v1/settlements",
		`{"payee_id":"p","method":"cash","record_ids":["r1"],"payment_date":"02/03/2026"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.AssertNotCalled(t, "SubmitSettlement", mock.Anything, mock.Anything)
}

func TestPreviewSettlement(t *testing.T) {
	svc := new(MockService)
	svc.On("PreviewSettlement", mock.Anything, mock.MatchedBy(func(req settlement.SubmitSettlementRequest) bool {
		return req.PayeeID == "payee-1" && req.Method == domain.PaymentMethodCheck
	})).Return([]settlement.PlannedBatch{{PayeeID: "payee-1", TotalAmount: decimal.RequireFromString("10.00")}}, nil)

	rec, body := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/settlements/preview",
		`{"payee_id":"payee-1","method":"check","record_ids":["r1"],"payment_date":"2026-03-02"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["batches"], 1)
}

func TestPriceRecord(t *testing.T) {
	svc := new(MockService)
	price := decimal.RequireFromString("2.35")
	svc.On("PriceRecord", mock.Anything, "rec-1", mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(price) })).
		Return(&domain.HarvestRecord{ID: "rec-1", PaymentState: domain.PaymentStatePendingPayment}, nil)
	svc.On("PriceRecord", mock.Anything, "rec-paid", mock.Anything).
		Return(nil, domain.NewDomainError(domain.ErrorCodeRecordImmutable, "record is paid"))

	router := newTestRouter(svc)

	rec, body := do(t, router, http.MethodPost, "/api/v1/harvest-records/rec-1/price", `{"unit_price":"2.35"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PENDING_PAYMENT", body["payment_state"])

	rec, body = do(t, router, http.MethodPost, "/api/v1/harvest-records/rec-paid/price", `{"unit_price":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "RECORD_IMMUTABLE", errorCode(t, body))

	rec, _ = do(t, router, http.MethodPost, "/api/v1/harvest-records/rec-1/price", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, raw := range []string{`"1e3"`, `1e3`, `"2.5E-1"`} {
		rec, body = do(t, router, http.MethodPost, "/api/v1/harvest-records/rec-1/price", `{"unit_price":`+raw+`}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, raw)
		assert.Equal(t, "PRICING_INVALID_INPUT", errorCode(t, body), raw)
	}
	svc.AssertNumberOfCalls(t, "PriceRecord", 2)
}

func TestEligibleRecords(t *testing.T) {
	svc := new(MockService)
	svc.On("EligibleRecords", mock.Anything, "payee-1", domain.PaymentMethodInstantTransferGateway).
		Return([]*domain.HarvestRecord{{ID: "r1"}}, nil)
	router := newTestRouter(svc)

	rec, body := do(t, router, http.MethodGet, "/api/v1/payees/payee-1/eligible-records?method=instant_transfer_gateway", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["records"], 1)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/payees/payee-1/eligible-records?method=barter", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchOperations(t *testing.T) {
	svc := new(MockService)
	svc.On("GetBatch", mock.Anything, "b1").Return(&settlement.BatchDetails{Batch: &domain.SettlementBatch{ID: "b1"}}, nil)
	svc.On("GetBatch", mock.Anything, "missing").Return(nil, domain.ErrBatchNotFound)
	svc.On("CancelBatch", mock.Anything, "b1").
		Return(nil, domain.InvalidBatchStateError("b1", domain.BatchStatusProcessing, "cancel"))
	svc.On("RetrySubmission", mock.Anything, "b2").
		Return(nil, domain.GatewayUnavailableError("b2", context.DeadlineExceeded))
	svc.On("MarkPaid", mock.Anything, settlement.MarkPaidRequest{
		BatchID:     "b3",
		PaymentDate: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		Method:      domain.PaymentMethodWire,
	}).Return(&domain.SettlementBatch{ID: "b3", Status: domain.BatchStatusPaid}, nil)

	router := newTestRouter(svc)

	rec, _ := do(t, router, http.MethodGet, "/api/v1/settlements/b1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, router, http.MethodGet, "/api/v1/settlements/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BATCH_NOT_FOUND", errorCode(t, body))

	rec, body = do(t, router, http.MethodPost, "/api/v1/settlements/b1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BATCH_INVALID_STATE", errorCode(t, body))

	rec, _ = do(t, router, http.MethodPost, "/api/v1/settlements/b2/retry", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body = do(t, router, http.MethodPost, "/api/v1/settlements/b3/mark-paid", `{"payment_date":"2026-03-04","method":"wire"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAID", body["status"])

	svc.AssertExpectations(t)
}

func TestStaleBatches(t *testing.T) {
	svc := new(MockService)
	svc.On("StaleBatches", mock.Anything, 100).Return([]*settlement.StaleBatch{}, nil)
	svc.On("StaleBatches", mock.Anything, 5).Return([]*settlement.StaleBatch{{Batch: &domain.SettlementBatch{ID: "b1"}}}, nil)
	router := newTestRouter(svc)

	rec, _ := do(t, router, http.MethodGet, "/api/v1/settlements/stale", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, router, http.MethodGet, "/api/v1/settlements/stale?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["batches"], 1)

	rec, _ = do(t, router, http.MethodGet, "/api/v1/settlements/stale?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
