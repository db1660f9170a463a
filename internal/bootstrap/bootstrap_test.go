package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kevin07696/harvest-settlement/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSecretStore_Local(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "network-api-key"), []byte("key-123"), 0o600))

	store, err := NewSecretStore(context.Background(), config.SecretsConfig{Manager: "local", LocalPath: dir}, zap.NewNop())
	require.NoError(t, err)

	secret, err := store.GetSecret(context.Background(), "network-api-key")
	require.NoError(t, err)
	assert.Equal(t, "key-123", secret.Value)
}

func TestNewSecretStore_Unknown(t *testing.T) {
	_, err := NewSecretStore(context.Background(), config.SecretsConfig{Manager: "gcp"}, zap.NewNop())
	assert.ErrorContains(t, err, "unknown secret manager")
}

func TestLogger(t *testing.T) {
	logger, err := Logger(config.LoggerConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = Logger(config.LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
