package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	pkgerrors "github.com/kevin07696/harvest-settlement/pkg/errors"
	pkghttp "github.com/kevin07696/harvest-settlement/pkg/http"
	"github.com/kevin07696/harvest-settlement/pkg/observability"
	"github.com/kevin07696/harvest-settlement/pkg/resilience"
	"go.uber.org/zap"
)

const (
	submitPath = "/v1/settlements"
	statusPath = "/v1/settlements/"

	maxResponseBytes = 1 << 20
	dependencyName   = "settlement_network"
)

// Config contains configuration for the settlement network adapter
type Config struct {
	// Backoff between re-dials after a not-sent failure. nil uses resilience.DefaultExponentialBackoff.
	Backoff resilience.BackoffStrategy

	// Sandbox: https://sandbox.rtp-network.example
	BaseURL string
	APIKey  string

	// HTTP client timeout for a single attempt
	Timeout time.Duration

	InsecureSkipVerify bool

	// MaxRetries bounds re-dials of a request that never left the process
	MaxRetries int

	CircuitBreaker resilience.CircuitBreakerConfig
}

// DefaultConfig returns default configuration for the settlement network adapter
func DefaultConfig(baseURL, apiKey string) *Config {
	return &Config{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		Timeout:        20 * time.Second,
		MaxRetries:     3,
		CircuitBreaker: resilience.DefaultCircuitBreakerConfig(),
	}
}

// wireTransfer carries amounts as fixed two-decimal strings
type wireTransfer struct {
	Amount         string `json:"amount"`
	PayeeKeyType   string `json:"payeeKeyType"`
	PayeeKey       string `json:"payeeKey"`
	ReferenceText  string `json:"referenceText"`
	ExternalLineID string `json:"externalLineId"`
}

type wireSubmitRequest struct {
	RequestID    string         `json:"requestId"`
	DebitAccount string         `json:"debitAccount"`
	PaymentDate  string         `json:"paymentDate"`
	Transfers    []wireTransfer `json:"transfers"`
}

type wireError struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// SettlementNetworkAdapter implements ports.SettlementGateway over HTTP/JSON
type SettlementNetworkAdapter struct {
	config         *Config
	httpClient     *http.Client
	logger         *zap.Logger
	circuitBreaker *resilience.CircuitBreaker
	backoff        resilience.BackoffStrategy
}

// NewSettlementNetworkAdapter creates a new settlement network adapter
func NewSettlementNetworkAdapter(config *Config, logger *zap.Logger) *SettlementNetworkAdapter {
	clientConfig := pkghttp.SettlementNetworkClientConfig()
	clientConfig.InsecureSkipVerify = config.InsecureSkipVerify

	cbConfig := config.CircuitBreaker
	if cbConfig.MaxFailures == 0 {
		cbConfig = resilience.DefaultCircuitBreakerConfig()
	}
	// A refused request proves the network is up.
	cbConfig.IsFailure = func(err error) bool {
		return pkgerrors.CategoryOf(err) != pkgerrors.CategoryInvalidRequest
	}
	cbConfig.OnStateChange = func(from, to resilience.CircuitState) {
		observability.SetCircuitBreakerState(dependencyName, int(to))
		logger.Warn("Settlement network circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	backoff := config.Backoff
	if backoff == nil {
		backoff = resilience.DefaultExponentialBackoff()
	}

	return &SettlementNetworkAdapter{
		config:         config,
		httpClient:     pkghttp.NewHTTPClient(clientConfig, config.Timeout),
		logger:         logger,
		circuitBreaker: resilience.NewCircuitBreaker(cbConfig),
		backoff:        backoff,
	}
}

// Submit sends one settlement request. A request that may have reached the network is never resent.
func (a *SettlementNetworkAdapter) Submit(ctx context.Context, req *ports.SubmitRequest) (*ports.SubmitResponse, error) {
	if err := validateSubmitRequest(req); err != nil {
		return nil, pkgerrors.NewGatewayError("INVALID_REQUEST", err.Error(), pkgerrors.CategoryNotSent, err)
	}

	body, err := json.Marshal(toWire(req))
	if err != nil {
		return nil, pkgerrors.NewGatewayError("ENCODE_FAILED", "failed to encode settlement request", pkgerrors.CategoryNotSent, err)
	}

	a.logger.Info("Submitting settlement request",
		zap.String("request_id", req.RequestID),
		zap.Int("transfers", len(req.Transfers)),
		zap.String("payment_date", req.PaymentDate),
	)

	var resp ports.SubmitResponse
	err = a.do(ctx, http.MethodPost, submitPath, body, req.RequestID, &resp)
	if err != nil {
		return nil, err
	}

	if err := validateSubmitResponse(req, &resp); err != nil {
		a.logger.Error("Settlement network returned an inconsistent answer",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return nil, pkgerrors.NewGatewayError("INVALID_RESPONSE", err.Error(), pkgerrors.CategoryInvalidResponse, err)
	}

	a.logger.Info("Settlement request answered",
		zap.String("request_id", req.RequestID),
		zap.Bool("request_accepted", resp.RequestAccepted),
		zap.String("network_reference", resp.NetworkReference),
	)
	return &resp, nil
}

// FetchStatus asks the network for the final status of a previously accepted request
func (a *SettlementNetworkAdapter) FetchStatus(ctx context.Context, networkReference string) (*ports.SettlementStatus, error) {
	if networkReference == "" {
		return nil, pkgerrors.NewGatewayError("INVALID_REQUEST", "network reference is required", pkgerrors.CategoryNotSent, nil)
	}

	var status ports.SettlementStatus
	if err := a.do(ctx, http.MethodGet, statusPath+url.PathEscape(networkReference), nil, "", &status); err != nil {
		return nil, err
	}

	if status.NetworkReference != networkReference {
		return nil, pkgerrors.NewGatewayError("INVALID_RESPONSE",
			fmt.Sprintf("status for %q answered with reference %q", networkReference, status.NetworkReference),
			pkgerrors.CategoryInvalidResponse, nil)
	}
	switch status.FinalStatus {
	case "", "SETTLED", "REJECTED":
	default:
		return nil, pkgerrors.NewGatewayError("INVALID_RESPONSE",
			fmt.Sprintf("unknown final status %q", status.FinalStatus), pkgerrors.CategoryInvalidResponse, nil)
	}
	return &status, nil
}

// do performs one logical call. Only not-sent failures are re-dialed.
func (a *SettlementNetworkAdapter) do(ctx context.Context, method, path string, body []byte, idempotencyKey string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.backoff.NextDelay(attempt - 1)
			a.logger.Info("Re-dialing settlement network",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", a.config.MaxRetries),
				zap.Duration("backoff_delay", delay),
			)
			select {
			case <-ctx.Done():
				return pkgerrors.NewGatewayError("CANCELLED", "retry cancelled", pkgerrors.CategoryNotSent, ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = a.circuitBreaker.Call(func() error {
			return a.attempt(ctx, method, path, body, idempotencyKey, out)
		})
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, resilience.ErrCircuitOpen) || errors.Is(lastErr, resilience.ErrTooManyRequests) {
			lastErr = pkgerrors.NewGatewayError("CIRCUIT_OPEN", "settlement network circuit open", pkgerrors.CategoryNotSent, lastErr)
		}
		if !pkgerrors.IsNotSent(lastErr) || isAuthRefusal(lastErr) {
			return lastErr
		}
		a.logger.Warn("Settlement network request not sent",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

func (a *SettlementNetworkAdapter) attempt(ctx context.Context, method, path string, body []byte, idempotencyKey string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.config.BaseURL, "/")+path, reader)
	if err != nil {
		return pkgerrors.NewGatewayError("REQUEST_BUILD_FAILED", "failed to create request", pkgerrors.CategoryNotSent, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if a.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
	}
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	startTime := time.Now()
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if isDialFailure(err) {
			return pkgerrors.NewGatewayError("CONNECTION_FAILED", "settlement network unreachable", pkgerrors.CategoryNotSent, err)
		}
		return pkgerrors.NewGatewayError("NO_RESPONSE", "no response from settlement network", pkgerrors.CategoryUnknownOutcome, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return pkgerrors.NewGatewayError("READ_FAILED", "failed to read response", pkgerrors.CategoryUnknownOutcome, err)
	}

	a.logger.Debug("Received settlement network response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(startTime)),
		zap.Int("body_length", len(respBody)),
	)

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		if err := json.Unmarshal(respBody, out); err != nil {
			return pkgerrors.NewGatewayError("INVALID_RESPONSE", "failed to decode response", pkgerrors.CategoryInvalidResponse, err)
		}
		return nil

	case httpResp.StatusCode == http.StatusBadRequest || httpResp.StatusCode == http.StatusUnprocessableEntity:
		var we wireError
		_ = json.Unmarshal(respBody, &we)
		if we.ErrorCode == "" {
			// A bare 400 may come from a proxy in front of the network.
			gwErr := pkgerrors.NewGatewayError(fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
				"settlement network answer carried no error code", pkgerrors.CategoryUnknownOutcome, nil)
			gwErr.StatusCode = httpResp.StatusCode
			return gwErr
		}
		gwErr := pkgerrors.NewGatewayError(we.ErrorCode, "settlement network refused the request", pkgerrors.CategoryInvalidRequest, nil)
		gwErr.GatewayMessage = we.Message
		gwErr.StatusCode = httpResp.StatusCode
		return gwErr

	case httpResp.StatusCode == http.StatusUnauthorized ||
		httpResp.StatusCode == http.StatusForbidden ||
		httpResp.StatusCode == http.StatusTooManyRequests:
		var we wireError
		_ = json.Unmarshal(respBody, &we)
		gwErr := pkgerrors.NewGatewayError(fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
			"settlement network turned the request away before processing", pkgerrors.CategoryNotSent, nil)
		gwErr.GatewayMessage = we.Message
		gwErr.StatusCode = httpResp.StatusCode
		return gwErr

	default:
		// 409 (same key still processing) and every other answer leave the outcome open.
		var we wireError
		_ = json.Unmarshal(respBody, &we)
		code := we.ErrorCode
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", httpResp.StatusCode)
		}
		gwErr := pkgerrors.NewGatewayError(code,
			"settlement network failed while handling the request", pkgerrors.CategoryUnknownOutcome, nil)
		gwErr.GatewayMessage = we.Message
		gwErr.StatusCode = httpResp.StatusCode
		return gwErr
	}
}

// isAuthRefusal reports answers that re-dialing cannot change
func isAuthRefusal(err error) bool {
	var gwErr *pkgerrors.GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	return gwErr.StatusCode == http.StatusUnauthorized || gwErr.StatusCode == http.StatusForbidden
}

// isDialFailure reports errors raised before any request byte was written
func isDialFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func toWire(req *ports.SubmitRequest) *wireSubmitRequest {
	w := &wireSubmitRequest{
		RequestID:    req.RequestID,
		DebitAccount: req.DebitAccount,
		PaymentDate:  req.PaymentDate,
		Transfers:    make([]wireTransfer, len(req.Transfers)),
	}
	for i, t := range req.Transfers {
		w.Transfers[i] = wireTransfer{
			Amount:         t.Amount.StringFixed(2),
			PayeeKeyType:   t.PayeeKeyType,
			PayeeKey:       t.PayeeKey,
			ReferenceText:  t.ReferenceText,
			ExternalLineID: t.ExternalLineID,
		}
	}
	return w
}

func validateSubmitRequest(req *ports.SubmitRequest) error {
	if req == nil {
		return errors.New("request is nil")
	}
	if req.RequestID == "" {
		return errors.New("requestId is required")
	}
	if req.DebitAccount == "" {
		return errors.New("debitAccount is required")
	}
	if len(req.Transfers) == 0 {
		return errors.New("at least one transfer is required")
	}
	seen := make(map[string]bool, len(req.Transfers))
	for _, t := range req.Transfers {
		if t.ExternalLineID == "" || seen[t.ExternalLineID] {
			return fmt.Errorf("externalLineId %q is empty or repeated", t.ExternalLineID)
		}
		seen[t.ExternalLineID] = true
		if !t.Amount.IsPositive() {
			return fmt.Errorf("transfer %s amount must be positive", t.ExternalLineID)
		}
		if t.PayeeKey == "" {
			return fmt.Errorf("transfer %s has no payee key", t.ExternalLineID)
		}
	}
	return nil
}

// validateSubmitResponse checks that every line answer refers to a line that was sent
func validateSubmitResponse(req *ports.SubmitRequest, resp *ports.SubmitResponse) error {
	if resp.RequestAccepted && resp.NetworkReference == "" {
		return errors.New("accepted request without network reference")
	}

	sent := make(map[string]bool, len(req.Transfers))
	for _, t := range req.Transfers {
		sent[t.ExternalLineID] = true
	}
	answered := make(map[string]bool, len(resp.Lines))
	for _, l := range resp.Lines {
		if !sent[l.ExternalLineID] {
			return fmt.Errorf("answer for unknown line %q", l.ExternalLineID)
		}
		if answered[l.ExternalLineID] {
			return fmt.Errorf("line %q answered twice", l.ExternalLineID)
		}
		answered[l.ExternalLineID] = true
	}
	if resp.RequestAccepted && len(answered) != len(sent) {
		return fmt.Errorf("accepted request answered %d of %d lines", len(answered), len(sent))
	}
	return nil
}
