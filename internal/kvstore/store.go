// Package kvstore holds the small key-value surface the lock and dedup
// services need: atomic set-if-absent with TTL, get, delete and
// compare-and-delete.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var ErrNil = errors.New("kvstore: key not found")

type Store interface {
	// SetNX stores value under key only if key is absent. It reports whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns ErrNil when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	Ping(ctx context.Context) error
}

// Open returns the Redis store at addr. An empty addr selects a MemoryStore,
// which only serializes work inside this process. A configured Redis that
// cannot be reached is an error, never a fallback to memory.
func Open(addr, password string, db int, prefix string) (Store, func() error, error) {
	if addr == "" {
		return NewMemoryStore(), func() error { return nil }, nil
	}
	s, err := NewRedisStore(addr, password, db, prefix)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}
