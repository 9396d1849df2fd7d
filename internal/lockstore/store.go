package lockstore

import (
	"context"
	"time"
)

// Store is a key-value store with per-key expiry.
// Keys are independent; there are no cross-key transactions.
// A ttl of zero means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	// PutIfAbsent writes the key only when no live value exists and reports whether it did.
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	GetList(ctx context.Context, key string) ([]string, bool, error)
	PutList(ctx context.Context, key string, values []string, ttl time.Duration) error
	Close() error
}
