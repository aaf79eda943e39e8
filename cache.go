package bucketcache

import (
	"context"
	"errors"
	"time"
)

// Cache is the API surface all callers use, including the memoization
// wrapper. It validates buckets, applies the payload codec, and hands the
// operation to its backend; whether that backend is local or remote was
// decided once at construction.
type Cache struct {
	backend       Backend
	registry      *Registry
	profile       ProfileProvider
	codec         CompressionCodec
	maxValueBytes int
	observer      Observer
}

// Option mutates Cache construction.
type Option func(*Cache)

// WithCompression selects the payload compression codec.
func WithCompression(codec CompressionCodec) Option {
	return func(c *Cache) {
		c.codec = codec
	}
}

// WithMaxValueBytes caps the encoded payload size; larger writes fail with
// ErrValueTooLarge.
func WithMaxValueBytes(max int) Option {
	return func(c *Cache) {
		c.maxValueBytes = max
	}
}

// WithObserver attaches an observer receiving operation events.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		c.observer = o
	}
}

// WithProfile sets the provider used to scope identifiers per user profile.
func WithProfile(p ProfileProvider) Option {
	return func(c *Cache) {
		c.profile = p
	}
}

// New builds a cache facade bound to a backend and a bucket catalog.
//
// Example: in-process cache
//
//	reg := bucketcache.MustRegistry(bucketcache.Bucket{Name: "common", DefaultTTL: 10 * time.Minute})
//	store, _ := bucketcache.NewStore(ctx, reg)
//	c := bucketcache.New(bucketcache.NewLocalBackend(store), reg)
func New(backend Backend, registry *Registry, opts ...Option) *Cache {
	c := &Cache{
		backend:  backend,
		registry: registry,
		profile:  StaticProfile("default"),
		codec:    CompressionNone,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identifier prefixes a partial identifier with the active profile GUID.
// Cache state must stay distinct per profile to avoid mixing data.
func (c *Cache) Identifier(partial string) string {
	return c.profile.ActiveProfileGUID() + "_" + partial
}

// Registry returns the bucket catalog.
func (c *Cache) Registry() *Registry {
	return c.registry
}

// addConfig carries per-write expiry overrides.
type addConfig struct {
	ttl       time.Duration
	expiresAt time.Time
}

// AddOption mutates a single Add call.
type AddOption func(*addConfig)

// WithTTL overrides the bucket's default TTL for this write.
func WithTTL(ttl time.Duration) AddOption {
	return func(cfg *addConfig) {
		cfg.ttl = ttl
	}
}

// WithExpiresAt pins an absolute expiry for this write. It takes precedence
// over any TTL, explicit or default.
func WithExpiresAt(at time.Time) AddOption {
	return func(cfg *addConfig) {
		cfg.expiresAt = at
	}
}

// Get returns the stored JSON body for bucket/identifier, or ErrMiss.
func (c *Cache) Get(bucket, identifier string) ([]byte, error) {
	return c.GetCtx(context.Background(), bucket, identifier)
}

// GetCtx is the context-aware variant of Get.
func (c *Cache) GetCtx(ctx context.Context, bucket, identifier string) ([]byte, error) {
	start := time.Now()
	body, err := c.getBody(ctx, bucket, identifier)
	c.observe(ctx, "get", bucket, identifier, err == nil, err, start)
	return body, err
}

func (c *Cache) getBody(ctx context.Context, bucket, identifier string) ([]byte, error) {
	if _, err := c.registry.Lookup(bucket); err != nil {
		return nil, err
	}
	payload, err := c.backend.Get(ctx, bucket, identifier)
	if err != nil {
		return nil, err
	}
	return decodePayloadBody(payload)
}

// GetValue decodes the entry at bucket/identifier into T.
//
// Example: typed read
//
//	info, err := bucketcache.GetValue[ShowInfo](c, "common", id)
//	if errors.Is(err, bucketcache.ErrMiss) { ... compute and Add ... }
func GetValue[T any](c *Cache, bucket, identifier string) (T, error) {
	return GetValueCtx[T](context.Background(), c, bucket, identifier)
}

// GetValueCtx is the context-aware variant of GetValue.
func GetValueCtx[T any](ctx context.Context, c *Cache, bucket, identifier string) (T, error) {
	var zero T
	start := time.Now()
	if _, err := c.registry.Lookup(bucket); err != nil {
		c.observe(ctx, "get", bucket, identifier, false, err, start)
		return zero, err
	}
	payload, err := c.backend.Get(ctx, bucket, identifier)
	if err != nil {
		c.observe(ctx, "get", bucket, identifier, false, err, start)
		return zero, err
	}
	var out T
	if err := decodePayload(payload, &out); err != nil {
		c.observe(ctx, "get", bucket, identifier, false, err, start)
		return zero, err
	}
	c.observe(ctx, "get", bucket, identifier, true, nil, start)
	return out, nil
}

// Add serializes value and writes (or overwrites) the entry at
// bucket/identifier. Expiry resolution: WithExpiresAt beats WithTTL beats
// the bucket default.
func (c *Cache) Add(bucket, identifier string, value any, opts ...AddOption) error {
	return c.AddCtx(context.Background(), bucket, identifier, value, opts...)
}

// AddCtx is the context-aware variant of Add.
func (c *Cache) AddCtx(ctx context.Context, bucket, identifier string, value any, opts ...AddOption) error {
	start := time.Now()
	err := c.add(ctx, bucket, identifier, value, opts...)
	c.observe(ctx, "add", bucket, identifier, false, err, start)
	return err
}

func (c *Cache) add(ctx context.Context, bucket, identifier string, value any, opts ...AddOption) error {
	if _, err := c.registry.Lookup(bucket); err != nil {
		return err
	}
	var cfg addConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	payload, err := encodePayload(value, c.codec, c.maxValueBytes)
	if err != nil {
		return err
	}
	return c.backend.Add(ctx, bucket, identifier, payload, cfg.ttl, cfg.expiresAt)
}

// Delete removes the entry at bucket/identifier; absent entries are a no-op.
func (c *Cache) Delete(bucket, identifier string) error {
	return c.DeleteCtx(context.Background(), bucket, identifier)
}

// DeleteCtx is the context-aware variant of Delete.
func (c *Cache) DeleteCtx(ctx context.Context, bucket, identifier string) error {
	start := time.Now()
	var err error
	if _, err = c.registry.Lookup(bucket); err == nil {
		err = c.backend.Delete(ctx, bucket, identifier)
	}
	c.observe(ctx, "delete", bucket, identifier, err == nil, err, start)
	return err
}

// Clear empties the named buckets (all buckets when none given), including
// their durable mirrors.
func (c *Cache) Clear(buckets ...string) error {
	return c.ClearCtx(context.Background(), buckets, true)
}

// ClearCtx empties the named buckets; clearDurable controls whether the
// durable mirror of persistent buckets is purged too.
func (c *Cache) ClearCtx(ctx context.Context, buckets []string, clearDurable bool) error {
	start := time.Now()
	err := c.backend.Clear(ctx, buckets, clearDurable)
	c.observe(ctx, "clear", "", "", err == nil, err, start)
	return err
}

func (c *Cache) observe(ctx context.Context, op, bucket, identifier string, hit bool, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	if errors.Is(err, ErrMiss) {
		// A miss is the designed signal, not a failure.
		err = nil
	}
	c.observer.OnCacheOp(ctx, op, bucket, identifier, hit, err, time.Since(start))
}
