package ports

import "context"

// Secret is a retrieved secret value with its version
type Secret struct {
	Metadata  map[string]string
	Value     string
	Version   string
	CreatedAt string
}

// SecretStore reads secrets (webhook signing key, network API key) from a secret backend.
// Implementations cache values with a TTL so a rotated secret is picked up without a restart.
type SecretStore interface {
	// GetSecret returns the current version of the secret at path
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
