package bucketcache

import (
	"context"
	"time"
)

// Observer receives events for cache operations. It is called from Cache
// helpers after each operation completes.
type Observer interface {
	OnCacheOp(ctx context.Context, op, bucket, identifier string, hit bool, err error, dur time.Duration)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, op, bucket, identifier string, hit bool, err error, dur time.Duration)

// OnCacheOp implements Observer.
func (f ObserverFunc) OnCacheOp(ctx context.Context, op, bucket, identifier string, hit bool, err error, dur time.Duration) {
	if f == nil {
		return
	}
	f(ctx, op, bucket, identifier, hit, err, dur)
}
