package bucketcache

import (
	"time"

	"github.com/charmbracelet/log"
)

type storeConfig struct {
	durable       DurableStore
	logger        *log.Logger
	sweepInterval time.Duration
	strict        bool
}

// StoreOption mutates store construction.
type StoreOption func(*storeConfig)

// WithDurableStore attaches the persistence backend used by persistent
// buckets for write-through mirroring and startup hydration.
func WithDurableStore(d DurableStore) StoreOption {
	return func(cfg *storeConfig) {
		cfg.durable = d
	}
}

// WithStoreLogger overrides the logger used for durable-mirror failures.
func WithStoreLogger(logger *log.Logger) StoreOption {
	return func(cfg *storeConfig) {
		cfg.logger = logger
	}
}

// WithSweepInterval overrides the background eviction sweep interval for the
// in-memory bucket maps.
func WithSweepInterval(interval time.Duration) StoreOption {
	return func(cfg *storeConfig) {
		if interval > 0 {
			cfg.sweepInterval = interval
		}
	}
}

// WithStrictDurability makes durable-mirror failures surface to the caller
// instead of being logged and absorbed. The in-memory write still happens
// first either way.
func WithStrictDurability() StoreOption {
	return func(cfg *storeConfig) {
		cfg.strict = true
	}
}
