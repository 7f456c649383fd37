package ports

import "context"

// SecretStore holds operator credentials the engine must not keep in
// plain config, currently the control-plane API key.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
