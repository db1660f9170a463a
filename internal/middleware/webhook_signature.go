package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw callback body
const SignatureHeader = "X-Network-Signature"

// maxCallbackBody bounds the callback body read for verification
const maxCallbackBody = 64 << 10

// WebhookSignatureAuth authenticates settlement network callbacks
type WebhookSignatureAuth struct {
	secrets    ports.SecretStore
	logger     *zap.Logger
	secretPath string
}

// NewWebhookSignatureAuth creates a callback authenticator that signs with the secret at secretPath
func NewWebhookSignatureAuth(secrets ports.SecretStore, secretPath string, logger *zap.Logger) *WebhookSignatureAuth {
	return &WebhookSignatureAuth{
		secrets:    secrets,
		secretPath: secretPath,
		logger:     logger,
	}
}

// Middleware rejects callbacks without a valid signature and restores the body for the next handler
func (a *WebhookSignatureAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			a.logger.Warn("Settlement callback missing signature",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("path", r.URL.Path))
			http.Error(w, "Missing signature", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody+1))
		if err != nil {
			a.logger.Error("Failed to read callback body", zap.Error(err))
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		if len(body) > maxCallbackBody {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		secret, err := a.secrets.GetSecret(r.Context(), a.secretPath)
		if err != nil {
			a.logger.Error("Failed to load webhook signing key",
				zap.String("secret_path", a.secretPath),
				zap.Error(err))
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		if !hmac.Equal([]byte(signature), []byte(Sign(secret.Value, body))) {
			a.logger.Warn("Settlement callback signature verification failed",
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("secret_version", secret.Version))
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Sign returns the hex HMAC-SHA256 of body under key
func Sign(key string, body []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
