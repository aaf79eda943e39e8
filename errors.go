package bucketcache

import "errors"

var (
	// ErrMiss signals "no valid entry" for a bucket/identifier pair. It covers
	// both never-written and expired entries and is the discriminator callers
	// use to decide whether to compute and populate. It is not a failure.
	ErrMiss = errors.New("bucketcache: cache miss")

	// ErrUnknownBucket reports an operation against a bucket that was never
	// registered. This is a programming error, not runtime state.
	ErrUnknownBucket = errors.New("bucketcache: unknown bucket")

	// ErrSerialization reports a value that could not be encoded for storage.
	ErrSerialization = errors.New("bucketcache: value not serializable")

	// ErrCorruptPayload reports stored bytes that fail frame validation or
	// decoding. It is never converted into a miss; masking corruption as a
	// miss would silently recompute over bad state.
	ErrCorruptPayload = errors.New("bucketcache: corrupt payload")

	// ErrValueTooLarge reports a payload exceeding the configured size cap.
	ErrValueTooLarge = errors.New("bucketcache: value exceeds max size")

	// ErrTransport reports a failed cross-process cache call. The core does
	// not retry; callers decide.
	ErrTransport = errors.New("bucketcache: transport failure")

	// ErrDurable reports a durable-mirror failure. It only surfaces to
	// callers when strict durability is enabled; otherwise mirror failures
	// are logged and the in-memory write stands.
	ErrDurable = errors.New("bucketcache: durable storage failure")
)

// Wire error kinds used when re-raising signals across the process boundary.
const (
	kindMiss          = "miss"
	kindUnknownBucket = "unknown_bucket"
	kindCorrupt       = "corrupt_payload"
	kindSerialization = "serialization"
	kindTooLarge      = "value_too_large"
	kindInternal      = "internal"
)

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrMiss):
		return kindMiss
	case errors.Is(err, ErrUnknownBucket):
		return kindUnknownBucket
	case errors.Is(err, ErrCorruptPayload):
		return kindCorrupt
	case errors.Is(err, ErrSerialization):
		return kindSerialization
	case errors.Is(err, ErrValueTooLarge):
		return kindTooLarge
	default:
		return kindInternal
	}
}

func errorForKind(kind string) error {
	switch kind {
	case kindMiss:
		return ErrMiss
	case kindUnknownBucket:
		return ErrUnknownBucket
	case kindCorrupt:
		return ErrCorruptPayload
	case kindSerialization:
		return ErrSerialization
	case kindTooLarge:
		return ErrValueTooLarge
	default:
		return nil
	}
}
