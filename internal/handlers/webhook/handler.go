package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/kevin07696/harvest-settlement/internal/services/settlement"
	"go.uber.org/zap"
)

// StatusApplier reconciles a batch from a network status report
type StatusApplier interface {
	ApplyNetworkStatus(ctx context.Context, status *ports.SettlementStatus, source string) (*domain.SettlementBatch, error)
}

// Handler receives asynchronous settlement outcomes from the network.
// Signature verification happens in middleware before this handler runs.
type Handler struct {
	applier StatusApplier
	logger  *zap.Logger
}

// NewHandler creates a new settlement network callback handler
func NewHandler(applier StatusApplier, logger *zap.Logger) *Handler {
	return &Handler{
		applier: applier,
		logger:  logger,
	}
}

// CallbackResponse acknowledges a callback
type CallbackResponse struct {
	BatchID string `json:"batch_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Result  string `json:"result"`
}

// HandleSettlementCallback handles POST /webhooks/settlement-network.
// Any 2xx tells the network to stop redelivering, so permanent outcomes (applied,
// duplicate, conflict) are acknowledged and only transient failures return 5xx.
// An unknown reference is transient: a batch whose submission timed out learns its
// reference only when the operator retry is answered.
func (h *Handler) HandleSettlementCallback(w http.ResponseWriter, r *http.Request) {
	var status ports.SettlementStatus
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&status); err != nil {
		h.logger.Warn("Failed to parse settlement callback", zap.Error(err))
		h.respond(w, http.StatusBadRequest, CallbackResponse{Result: "invalid_body"})
		return
	}

	h.logger.Info("Settlement callback received",
		zap.String("network_reference", status.NetworkReference),
		zap.String("final_status", status.FinalStatus))

	batch, err := h.applier.ApplyNetworkStatus(r.Context(), &status, settlement.SourceWebhook)
	switch {
	case err == nil:
		h.respond(w, http.StatusOK, CallbackResponse{Result: "applied", BatchID: batch.ID, Status: string(batch.Status)})

	case domain.IsDomainError(err, domain.ErrorCodeReconciliationConflict):
		h.logger.Error("Settlement callback conflicts with stored outcome",
			zap.String("network_reference", status.NetworkReference),
			zap.Error(err))
		h.respond(w, http.StatusOK, CallbackResponse{Result: "conflict_recorded"})

	case domain.IsNotFoundError(err):
		h.logger.Warn("Settlement callback for unknown reference, asking for redelivery",
			zap.String("network_reference", status.NetworkReference))
		h.respond(w, http.StatusServiceUnavailable, CallbackResponse{Result: "unknown_reference"})

	case domain.IsValidationError(err):
		h.respond(w, http.StatusBadRequest, CallbackResponse{Result: "invalid_status"})

	default:
		h.logger.Error("Failed to apply settlement callback",
			zap.String("network_reference", status.NetworkReference),
			zap.Error(err))
		h.respond(w, http.StatusInternalServerError, CallbackResponse{Result: "retry"})
	}
}

func (h *Handler) respond(w http.ResponseWriter, statusCode int, resp CallbackResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode callback response", zap.Error(err))
	}
}
