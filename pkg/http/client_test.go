package http

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewHTTPClient_AppliesConfig(t *testing.T) {
	cfg := SettlementNetworkClientConfig()
	cfg.InsecureSkipVerify = true

	client := NewHTTPClient(cfg, 7*time.Second)

	assert.Equal(t, 7*time.Second, client.Timeout)
	transport := NewTransport(cfg)
	assert.Equal(t, 20, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 40, transport.MaxConnsPerHost)
	assert.Equal(t, 15*time.Second, transport.ResponseHeaderTimeout)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
	assert.True(t, transport.ForceAttemptHTTP2)
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()

	assert.False(t, cfg.DisableKeepAlives)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.Equal(t, 100, cfg.MaxIdleConns)
}
