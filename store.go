package bucketcache

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultBucketTTL     = 30 * time.Minute
	defaultSweepInterval = 10 * time.Minute
)

type entry struct {
	payload   []byte
	createdAt time.Time
	expiresAt time.Time
}

// Store is the authoritative cache engine owned by a single process. Each
// bucket gets its own in-memory map; persistent buckets additionally mirror
// writes to a DurableStore. Memory is the fast path for reads, durable
// storage is the recovery path across restarts.
type Store struct {
	registry *Registry
	buckets  map[string]*gocache.Cache
	durable  DurableStore
	logger   *log.Logger
	strict   bool
}

// NewStore builds the store and, when a durable backend is configured,
// hydrates persistent buckets from it, discarding rows that already expired.
func NewStore(ctx context.Context, registry *Registry, opts ...StoreOption) (*Store, error) {
	if registry == nil {
		return nil, fmt.Errorf("bucketcache: registry is required")
	}
	cfg := storeConfig{sweepInterval: defaultSweepInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Store{
		registry: registry,
		buckets:  make(map[string]*gocache.Cache, len(registry.Names())),
		durable:  cfg.durable,
		logger:   logger,
		strict:   cfg.strict,
	}
	for _, b := range registry.Buckets() {
		s.buckets[b.Name] = gocache.New(b.DefaultTTL, cfg.sweepInterval)
	}
	if s.durable != nil {
		s.hydrate(ctx)
	}
	return s, nil
}

// Get returns the stored payload for bucket/identifier, or ErrMiss when the
// entry is absent or expired. Expiry is compared against the current time at
// lookup; an expired entry is evicted on the way out.
func (s *Store) Get(_ context.Context, bucket, identifier string) ([]byte, error) {
	m, err := s.bucketMap(bucket)
	if err != nil {
		return nil, err
	}
	item, ok := m.Get(identifier)
	if !ok {
		return nil, ErrMiss
	}
	e := item.(entry)
	if time.Now().After(e.expiresAt) {
		m.Delete(identifier)
		return nil, ErrMiss
	}
	return cloneBytes(e.payload), nil
}

// Add writes or overwrites the entry at bucket/identifier. Effective expiry
// resolution: explicit expiresAt beats ttl beats the bucket default. For
// persistent buckets the entry is also upserted into durable storage;
// mirror failures are logged and do not fail the in-memory write unless
// strict durability is enabled.
func (s *Store) Add(ctx context.Context, bucket, identifier string, payload []byte, ttl time.Duration, expiresAt time.Time) error {
	b, err := s.registry.Lookup(bucket)
	if err != nil {
		return err
	}
	m := s.buckets[b.Name]
	exp := resolveExpiry(b, ttl, expiresAt)
	if remaining := time.Until(exp); remaining > 0 {
		m.Set(identifier, entry{
			payload:   cloneBytes(payload),
			createdAt: time.Now(),
			expiresAt: exp,
		}, remaining)
	} else {
		// An already-expired write is logically absent from the moment it
		// lands; drop any previous entry instead of storing a dead one.
		m.Delete(identifier)
	}
	if !b.Persistent || s.durable == nil {
		return nil
	}
	if err := s.durable.Put(ctx, b.Name, identifier, payload, exp); err != nil {
		s.logger.Error("durable cache write failed",
			"bucket", b.Name, "identifier", identifier, "err", err)
		if s.strict {
			return fmt.Errorf("%w: %v", ErrDurable, err)
		}
	}
	return nil
}

// Delete removes the entry from memory and, for persistent buckets, from
// durable storage. Deleting an absent entry is a no-op.
func (s *Store) Delete(ctx context.Context, bucket, identifier string) error {
	b, err := s.registry.Lookup(bucket)
	if err != nil {
		return err
	}
	s.buckets[b.Name].Delete(identifier)
	if !b.Persistent || s.durable == nil {
		return nil
	}
	if err := s.durable.Delete(ctx, b.Name, identifier); err != nil {
		s.logger.Error("durable cache delete failed",
			"bucket", b.Name, "identifier", identifier, "err", err)
		if s.strict {
			return fmt.Errorf("%w: %v", ErrDurable, err)
		}
	}
	return nil
}

// Clear empties the given buckets (all registered buckets when none are
// named). When clearDurable is set, the durable mirror of every persistent
// bucket in the cleared set is purged as well.
func (s *Store) Clear(ctx context.Context, buckets []string, clearDurable bool) error {
	if len(buckets) == 0 {
		buckets = s.registry.Names()
	}
	// Validate the whole set first so a typo cannot half-clear the cache.
	resolved := make([]Bucket, 0, len(buckets))
	for _, name := range buckets {
		b, err := s.registry.Lookup(name)
		if err != nil {
			return err
		}
		resolved = append(resolved, b)
	}
	for _, b := range resolved {
		s.buckets[b.Name].Flush()
		if !clearDurable || !b.Persistent || s.durable == nil {
			continue
		}
		if err := s.durable.Clear(ctx, b.Name); err != nil {
			s.logger.Error("durable cache clear failed", "bucket", b.Name, "err", err)
			if s.strict {
				return fmt.Errorf("%w: %v", ErrDurable, err)
			}
		}
	}
	return nil
}

// Registry returns the bucket catalog this store was built with.
func (s *Store) Registry() *Registry {
	return s.registry
}

func (s *Store) bucketMap(name string) (*gocache.Cache, error) {
	m, ok := s.buckets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBucket, name)
	}
	return m, nil
}

func (s *Store) hydrate(ctx context.Context) {
	now := time.Now()
	for _, b := range s.registry.Buckets() {
		if !b.Persistent {
			continue
		}
		records, err := s.durable.ListAll(ctx, b.Name)
		if err != nil {
			s.logger.Error("durable cache hydration failed", "bucket", b.Name, "err", err)
			continue
		}
		m := s.buckets[b.Name]
		restored := 0
		for _, rec := range records {
			if !rec.ExpiresAt.After(now) {
				if err := s.durable.Delete(ctx, b.Name, rec.Identifier); err != nil {
					s.logger.Debug("expired durable row cleanup failed",
						"bucket", b.Name, "identifier", rec.Identifier, "err", err)
				}
				continue
			}
			m.Set(rec.Identifier, entry{
				payload:   cloneBytes(rec.Payload),
				createdAt: now,
				expiresAt: rec.ExpiresAt,
			}, time.Until(rec.ExpiresAt))
			restored++
		}
		if restored > 0 {
			s.logger.Debug("hydrated persistent bucket", "bucket", b.Name, "entries", restored)
		}
	}
}

func resolveExpiry(b Bucket, ttl time.Duration, expiresAt time.Time) time.Time {
	if !expiresAt.IsZero() {
		return expiresAt
	}
	if ttl > 0 {
		return time.Now().Add(ttl)
	}
	return time.Now().Add(b.DefaultTTL)
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone
}
