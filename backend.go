package bucketcache

import (
	"context"
	"time"
)

// Backend routes cache operations either straight into the owning process's
// Store or across the process boundary to it. The variant is selected once at
// startup based on process role, never re-checked per call.
type Backend interface {
	Get(ctx context.Context, bucket, identifier string) ([]byte, error)
	Add(ctx context.Context, bucket, identifier string, payload []byte, ttl time.Duration, expiresAt time.Time) error
	Delete(ctx context.Context, bucket, identifier string) error
	Clear(ctx context.Context, buckets []string, clearDurable bool) error
}

type localBackend struct {
	store *Store
}

// NewLocalBackend wraps the store for the process that owns cache state.
func NewLocalBackend(store *Store) Backend {
	return &localBackend{store: store}
}

func (b *localBackend) Get(ctx context.Context, bucket, identifier string) ([]byte, error) {
	return b.store.Get(ctx, bucket, identifier)
}

func (b *localBackend) Add(ctx context.Context, bucket, identifier string, payload []byte, ttl time.Duration, expiresAt time.Time) error {
	return b.store.Add(ctx, bucket, identifier, payload, ttl, expiresAt)
}

func (b *localBackend) Delete(ctx context.Context, bucket, identifier string) error {
	return b.store.Delete(ctx, bucket, identifier)
}

func (b *localBackend) Clear(ctx context.Context, buckets []string, clearDurable bool) error {
	return b.store.Clear(ctx, buckets, clearDurable)
}
