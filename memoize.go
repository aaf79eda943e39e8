package bucketcache

import (
	"context"
	"errors"
	"time"
)

// DefaultIdentifyKwarg is the keyword argument the memoizer derives cache
// identifiers from unless configured otherwise.
const DefaultIdentifyKwarg = "videoid"

// Identifiers equal to the my-list token get their TTL capped: the list is
// mutated from other devices, so a long bucket TTL would pin stale content
// until a forced refresh.
const (
	myListToken  = "mylist"
	myListTTLMax = 2 * time.Hour
)

// CallArgs carries a wrapped function's arguments in a form the identifier
// derivation can inspect: positional values and named values.
type CallArgs struct {
	Positional []string
	Keyword    map[string]string
}

func (a CallArgs) kwarg(name string) string {
	if a.Keyword == nil {
		return ""
	}
	return a.Keyword[name]
}

// MemoConfig configures a memoized function.
type MemoConfig struct {
	// Bucket the memoized results live in. Required.
	Bucket string

	// FixedIdentifier bypasses derivation entirely; all other derivation
	// settings are ignored when it is set.
	FixedIdentifier string

	// IdentifyFromKwarg names the keyword argument holding the identifier.
	// Defaults to DefaultIdentifyKwarg.
	IdentifyFromKwarg string

	// IdentifyAppendFromKwarg, when set and present in the call, appends its
	// value to the derived identifier for a more specific key.
	IdentifyAppendFromKwarg string

	// IdentifyFallbackArgIndex selects the positional argument used when the
	// keyword argument is absent. Defaults to 0.
	IdentifyFallbackArgIndex int

	// TTL overrides the bucket default for stored results.
	TTL time.Duration
}

// Memoize wraps fn so repeated calls with an equivalent derived identifier
// return the cached result instead of recomputing. Calls whose identifier
// cannot be derived execute fn directly and are not cached; that is not an
// error.
//
// Example: memoized metadata fetch
//
//	fetch := bucketcache.Memoize(c, bucketcache.MemoConfig{Bucket: "metadata"},
//		func(ctx context.Context, args bucketcache.CallArgs) (ShowInfo, error) {
//			return lookupShow(ctx, args.Positional[0])
//		})
//	info, err := fetch(ctx, bucketcache.CallArgs{Positional: []string{"show1"}})
func Memoize[T any](c *Cache, cfg MemoConfig, fn func(ctx context.Context, args CallArgs) (T, error)) func(ctx context.Context, args CallArgs) (T, error) {
	return func(ctx context.Context, args CallArgs) (T, error) {
		var zero T
		argValue, partial, ok := deriveIdentifier(cfg, args)
		if !ok {
			// No derivable identifier: call through, skip caching.
			return fn(ctx, args)
		}
		identifier := c.Identifier(partial)

		out, err := GetValueCtx[T](ctx, c, cfg.Bucket, identifier)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrMiss) {
			return zero, err
		}

		out, err = fn(ctx, args)
		if err != nil {
			return zero, err
		}
		ttl := cfg.TTL
		if ttl <= 0 && argValue == myListToken {
			ttl = c.myListTTL(cfg.Bucket)
		}
		opts := []AddOption{}
		if ttl > 0 {
			opts = append(opts, WithTTL(ttl))
		}
		if err := c.AddCtx(ctx, cfg.Bucket, identifier, out, opts...); err != nil {
			return zero, err
		}
		return out, nil
	}
}

func (c *Cache) myListTTL(bucket string) time.Duration {
	ttl := myListTTLMax
	if b, err := c.registry.Lookup(bucket); err == nil && b.DefaultTTL < ttl {
		ttl = b.DefaultTTL
	}
	return ttl
}

// deriveIdentifier reproduces the identifier derivation order: fixed
// identifier first, then the configured keyword argument, then the fallback
// positional argument. The returned argValue is set only when the positional
// fallback supplied the identifier; the my-list TTL cap keys off it.
func deriveIdentifier(cfg MemoConfig, args CallArgs) (argValue, identifier string, ok bool) {
	if cfg.FixedIdentifier != "" {
		return "", cfg.FixedIdentifier, true
	}
	kwargName := cfg.IdentifyFromKwarg
	if kwargName == "" {
		kwargName = DefaultIdentifyKwarg
	}
	identifier = args.kwarg(kwargName)
	if identifier == "" {
		idx := cfg.IdentifyFallbackArgIndex
		if idx >= 0 && idx < len(args.Positional) {
			argValue = args.Positional[idx]
			identifier = argValue
		}
	}
	if identifier == "" {
		return "", "", false
	}
	if cfg.IdentifyAppendFromKwarg != "" {
		if suffix := args.kwarg(cfg.IdentifyAppendFromKwarg); suffix != "" {
			identifier += "_" + suffix
		}
	}
	return argValue, identifier, true
}
