package settlement

import (
	"errors"
	"net/http"

	"github.com/kevin07696/harvest-settlement/internal/domain"
	"go.uber.org/zap"
)

// ErrorBody is the JSON error envelope
type ErrorBody struct {
	Details map[string]interface{} `json:"details,omitempty"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
}

// statusFor maps a domain error code to an HTTP status
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeValidationFailed, domain.ErrorCodeValidationMissingField:
		return http.StatusBadRequest
	case domain.ErrorCodePricingInvalidInput, domain.ErrorCodeRecordIneligible,
		domain.ErrorCodeRecordImmutable, domain.ErrorCodePayeeNoPayoutAccount:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeRecordNotFound, domain.ErrorCodeBatchNotFound, domain.ErrorCodePayeeNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeBatchAlreadyInFlight, domain.ErrorCodeBatchInvalidState, domain.ErrorCodeReconciliationConflict:
		return http.StatusConflict
	case domain.ErrorCodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrorCodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case domain.ErrorCodeGatewayError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody converts err into a status and envelope. Errors without a domain code
// are reported as internal without leaking their text.
func errorBody(err error) (int, ErrorBody) {
	code := domain.GetErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		return status, ErrorBody{Code: string(domain.ErrorCodeInternalError), Message: "internal error"}
	}

	var de *domain.DomainError
	body := ErrorBody{Code: string(code), Message: err.Error()}
	if errors.As(err, &de) {
		body.Message = de.Message
		if len(de.Details) > 0 {
			body.Details = de.Details
		}
	}
	return status, body
}

func (h *Handler) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Settlement request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	h.respondJSON(w, status, map[string]interface{}{"error": body})
}

func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, map[string]interface{}{"error": ErrorBody{Code: code, Message: message}})
}
