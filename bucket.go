package bucketcache

import (
	"fmt"
	"time"
)

// Bucket is a named cache namespace with its own persistence and TTL policy.
// Identifiers are unique only within a bucket, not globally.
type Bucket struct {
	Name string

	// Persistent buckets mirror their entries to durable storage so they
	// survive process restarts.
	Persistent bool

	// DefaultTTL applies when a write provides neither a ttl nor an
	// absolute expiry.
	DefaultTTL time.Duration
}

// Registry is the fixed catalog of buckets known to a process. It is built
// once at startup and never mutated; buckets are configuration, not state.
type Registry struct {
	buckets map[string]Bucket
	names   []string
}

// NewRegistry builds a registry from the given buckets. Bucket names must be
// non-empty and unique; a bucket with DefaultTTL <= 0 falls back to
// defaultBucketTTL.
func NewRegistry(buckets ...Bucket) (*Registry, error) {
	r := &Registry{
		buckets: make(map[string]Bucket, len(buckets)),
		names:   make([]string, 0, len(buckets)),
	}
	for _, b := range buckets {
		if b.Name == "" {
			return nil, fmt.Errorf("bucketcache: bucket name is required")
		}
		if _, exists := r.buckets[b.Name]; exists {
			return nil, fmt.Errorf("bucketcache: duplicate bucket %q", b.Name)
		}
		if b.DefaultTTL <= 0 {
			b.DefaultTTL = defaultBucketTTL
		}
		r.buckets[b.Name] = b
		r.names = append(r.names, b.Name)
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error; intended for static
// catalogs declared at package init.
func MustRegistry(buckets ...Bucket) *Registry {
	r, err := NewRegistry(buckets...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the bucket registered under name.
// It fails with ErrUnknownBucket when the bucket was never registered.
func (r *Registry) Lookup(name string) (Bucket, error) {
	b, ok := r.buckets[name]
	if !ok {
		return Bucket{}, fmt.Errorf("%w: %q", ErrUnknownBucket, name)
	}
	return b, nil
}

// Has reports whether name is a registered bucket.
func (r *Registry) Has(name string) bool {
	_, ok := r.buckets[name]
	return ok
}

// Names returns the bucket names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Buckets returns the registered buckets in registration order.
func (r *Registry) Buckets() []Bucket {
	out := make([]Bucket, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.buckets[name])
	}
	return out
}
