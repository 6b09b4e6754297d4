// Package cache stores catalog lookups between calls. Values are msgpack
// encoded so every backend returns copies, never shared pointers.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache is a keyed store with per-entry expiry.
type Cache interface {
	// Get decodes the entry for key into dst and reports whether it was present.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores v under key for ttl; a zero ttl never expires.
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New builds the configured cache backend.
func New(backend, redisURL, prefix string) (Cache, error) {
	switch strings.ToLower(backend) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(redisURL, prefix)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", backend)
	}
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
