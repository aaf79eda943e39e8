package bucketcache

import (
	"context"
	"time"
)

// DurableRecord is one persisted cache entry as seen by durable backends.
type DurableRecord struct {
	Identifier string
	Payload    []byte
	ExpiresAt  time.Time
}

// DurableStore is the persistence collaborator backing persistent buckets.
// Implementations store the payload opaquely together with its absolute
// expiry; ListAll drives startup hydration.
type DurableStore interface {
	Put(ctx context.Context, bucket, identifier string, payload []byte, expiresAt time.Time) error
	Get(ctx context.Context, bucket, identifier string) (DurableRecord, bool, error)
	Delete(ctx context.Context, bucket, identifier string) error
	Clear(ctx context.Context, bucket string) error
	ListAll(ctx context.Context, bucket string) ([]DurableRecord, error)
}
