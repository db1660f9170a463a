package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticSecrets struct {
	err   error
	value string
}

func (s *staticSecrets) GetSecret(_ context.Context, _ string) (*ports.Secret, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &ports.Secret{Value: s.value, Version: "v1"}, nil
}

func TestWebhookSignatureAuth(t *testing.T) {
	body := `{"networkReference":"NET-1","finalStatus":"SETTLED"}`

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(got), "body must be restored for the handler")
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		secrets    *staticSecrets
		signature  string
		wantStatus int
	}{
		{"valid signature", &staticSecrets{value: "k1"}, Sign("k1", []byte(body)), http.StatusNoContent},
		{"missing signature", &staticSecrets{value: "k1"}, "", http.StatusUnauthorized},
		{"wrong key", &staticSecrets{value: "k1"}, Sign("k2", []byte(body)), http.StatusUnauthorized},
		{"secret backend down", &staticSecrets{err: errors.New("vault sealed")}, Sign("k1", []byte(body)), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := NewWebhookSignatureAuth(tt.secrets, "webhook-key", zap.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/webhooks/settlement-network", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()

			auth.Middleware(echo).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rec := httptest.NewRecorder()
	NewSecurityHeaders(false).Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	NewSecurityHeaders(true).Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}
