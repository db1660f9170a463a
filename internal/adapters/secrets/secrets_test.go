package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kevin07696/harvest-settlement/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalSecretManager_GetSecret(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "harvest-settlement"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "harvest-settlement", "webhook-signing-key"), []byte("s3cret\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "api-key.json"),
		[]byte(`{"value":"abc","tags":{"env":"dev"},"created_at":"2026-01-01T00:00:00Z"}`), 0o600))

	m := NewLocalSecretManager(dir, zap.NewNop())
	ctx := context.Background()

	t.Run("plain text is trimmed", func(t *testing.T) {
		s, err := m.GetSecret(ctx, "harvest-settlement/webhook-signing-key")
		require.NoError(t, err)
		assert.Equal(t, "s3cret", s.Value)
	})

	t.Run("json value and tags", func(t *testing.T) {
		s, err := m.GetSecret(ctx, "api-key.json")
		require.NoError(t, err)
		assert.Equal(t, "abc", s.Value)
		assert.Equal(t, "dev", s.Metadata["env"])
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := m.GetSecret(ctx, "nope")
		assert.ErrorContains(t, err, "secret not found")
	})

	t.Run("path cannot escape base directory", func(t *testing.T) {
		_, err := m.GetSecret(ctx, "../../etc/passwd")
		assert.Error(t, err)
	})
}

func TestSecretCache(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := newSecretCache(true, time.Minute)
	c.now = func() time.Time { return now }

	c.set("k", &ports.Secret{Value: "v"})
	require.NotNil(t, c.get("k"))

	now = now.Add(2 * time.Minute)
	assert.Nil(t, c.get("k"), "expired entries are dropped")

	disabled := newSecretCache(false, time.Minute)
	disabled.set("k", &ports.Secret{Value: "v"})
	assert.Nil(t, disabled.get("k"))
}
