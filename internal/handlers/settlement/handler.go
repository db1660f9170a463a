package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/services/pricing"
	"github.com/kevin07696/harvest-settlement/internal/services/settlement"
	"github.com/kevin07696/harvest-settlement/pkg/timeutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service is the subset of the settlement service the HTTP API calls
type Service interface {
	EligibleRecords(ctx context.Context, payeeID string, method domain.PaymentMethod) ([]*domain.HarvestRecord, error)
	PriceRecord(ctx context.Context, recordID string, unitPrice decimal.Decimal) (*domain.HarvestRecord, error)
	PreviewSettlement(ctx context.Context, req settlement.SubmitSettlementRequest) ([]settlement.PlannedBatch, error)
	SubmitSettlement(ctx context.Context, req settlement.SubmitSettlementRequest) (*settlement.SubmitSettlementResult, error)
	GetBatch(ctx context.Context, batchID string) (*settlement.BatchDetails, error)
	CancelBatch(ctx context.Context, batchID string) (*domain.SettlementBatch, error)
	RetrySubmission(ctx context.Context, batchID string) (*domain.SettlementBatch, error)
	MarkPaid(ctx context.Context, req settlement.MarkPaidRequest) (*domain.SettlementBatch, error)
	StaleBatches(ctx context.Context, limit int) ([]*settlement.StaleBatch, error)
}

// Handler serves the settlement REST API
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new settlement handler
func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Routes mounts the settlement API on r
func (h *Handler) Routes(r chi.Router) {
	r.Get("/payees/{payeeID}/eligible-records", h.EligibleRecords)
	r.Post("/harvest-records/{recordID}/price", h.PriceRecord)

	r.Route("/settlements", func(r chi.Router) {
		r.Post("/", h.SubmitSettlement)
		r.Post("/preview", h.PreviewSettlement)
		r.Get("/stale", h.StaleBatches)
		r.Get("/{batchID}", h.GetBatch)
		r.Post("/{batchID}/cancel", h.CancelBatch)
		r.Post("/{batchID}/retry", h.RetrySubmission)
		r.Post("/{batchID}/mark-paid", h.MarkPaid)
	})
}

// PriceRecordRequest sets a record's unit price. unit_price may be a JSON number or
// string; either way it must be a plain decimal.
type PriceRecordRequest struct {
	UnitPrice *json.Number `json:"unit_price"`
}

// SettlementRequest selects records of one payee to pay with one method on one date
type SettlementRequest struct {
	Notes       *string  `json:"notes,omitempty"`
	PayeeID     string   `json:"payee_id"`
	Method      string   `json:"method"`
	PaymentDate string   `json:"payment_date"`
	RecordIDs   []string `json:"record_ids"`
}

// MarkPaidBody confirms a manual payment
type MarkPaidBody struct {
	Notes       *string `json:"notes,omitempty"`
	PaymentDate string  `json:"payment_date"`
	Method      string  `json:"method"`
}

// BatchResult is one created batch with its submission error, if any
type BatchResult struct {
	Batch *domain.SettlementBatch `json:"batch"`
	Error *ErrorBody              `json:"error,omitempty"`
}

// SubmitSettlementResponse lists every batch a submission created
type SubmitSettlementResponse struct {
	Batches []BatchResult `json:"batches"`
}

// EligibleRecords handles GET /payees/{payeeID}/eligible-records?method=
func (h *Handler) EligibleRecords(w http.ResponseWriter, r *http.Request) {
	method := domain.PaymentMethod(r.URL.Query().Get("method"))
	if !method.IsValid() {
		h.respondError(w, http.StatusBadRequest, string(domain.ErrorCodeValidationFailed), "method query parameter must be a known payment method")
		return
	}

	records, err := h.service.EligibleRecords(r.Context(), chi.URLParam(r, "payeeID"), method)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// PriceRecord handles POST /harvest-records/{recordID}/price
func (h *Handler) PriceRecord(w http.ResponseWriter, r *http.Request) {
	var body PriceRecordRequest
	if !h.decode(w, r, &body) {
		return
	}
	if body.UnitPrice == nil {
		h.respondError(w, http.StatusBadRequest, string(domain.ErrorCodeValidationMissingField), "unit_price is required")
		return
	}

	unitPrice, err := pricing.ParseAmount("unit_price", body.UnitPrice.String())
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	record, err := h.service.PriceRecord(r.Context(), chi.URLParam(r, "recordID"), unitPrice)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, record)
}

// PreviewSettlement handles POST /settlements/preview
func (h *Handler) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSettlementRequest(w, r)
	if !ok {
		return
	}

	plans, err := h.service.PreviewSettlement(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"batches": plans})
}

// SubmitSettlement handles POST /settlements. Batches left CREATED by a gateway
// timeout are still returned, with the error attached.
func (h *Handler) SubmitSettlement(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSettlementRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.SubmitSettlement(r.Context(), req)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}

	resp := SubmitSettlementResponse{Batches: make([]BatchResult, 0, len(result.Batches))}
	for _, b := range result.Batches {
		item := BatchResult{Batch: b.Batch}
		if b.Err != nil {
			h.logger.Warn("Settlement batch not resolved",
				zap.String("batch_id", b.Batch.ID),
				zap.Error(b.Err))
			_, body := errorBody(b.Err)
			item.Error = &body
		}
		resp.Batches = append(resp.Batches, item)
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

// GetBatch handles GET /settlements/{batchID}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, details)
}

// CancelBatch handles POST /settlements/{batchID}/cancel
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.CancelBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, batch)
}

// RetrySubmission handles POST /settlements/{batchID}/retry
func (h *Handler) RetrySubmission(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.RetrySubmission(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, batch)
}

// MarkPaid handles POST /settlements/{batchID}/mark-paid
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var body MarkPaidBody
	if !h.decode(w, r, &body) {
		return
	}

	paymentDate, err := timeutil.ParseDate(body.PaymentDate)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, string(domain.ErrorCodeValidationFailed), "payment_date must be YYYY-MM-DD")
		return
	}

	batch, err := h.service.MarkPaid(r.Context(), settlement.MarkPaidRequest{
		BatchID:     chi.URLParam(r, "batchID"),
		PaymentDate: paymentDate,
		Method:      domain.PaymentMethod(body.Method),
		Notes:       body.Notes,
	})
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, batch)
}

// StaleBatches handles GET /settlements/stale?limit=
func (h *Handler) StaleBatches(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > 1000 {
			h.respondError(w, http.StatusBadRequest, string(domain.ErrorCodeValidationFailed), "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	stale, err := h.service.StaleBatches(r.Context(), limit)
	if err != nil {
		h.respondDomainError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"batches": stale})
}

func (h *Handler) decodeSettlementRequest(w http.ResponseWriter, r *http.Request) (settlement.SubmitSettlementRequest, bool) {
	var body SettlementRequest
	if !h.decode(w, r, &body) {
		return settlement.SubmitSettlementRequest{}, false
	}

	req := settlement.SubmitSettlementRequest{
		PayeeID:   body.PayeeID,
		Method:    domain.PaymentMethod(body.Method),
		RecordIDs: body.RecordIDs,
		Notes:     body.Notes,
	}
	if body.PaymentDate != "" {
		d, err := timeutil.ParseDate(body.PaymentDate)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, string(domain.ErrorCodeValidationFailed), "payment_date must be YYYY-MM-DD")
			return settlement.SubmitSettlementRequest{}, false
		}
		req.PaymentDate = d
	}
	return req, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, string(domain.ErrorCodeValidationFailed), "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
