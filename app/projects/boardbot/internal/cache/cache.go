// Package cache is the key/value store shared by the dispatcher, the bot status map and envelope
// dedupe. Two backends share one contract: an embedded SQLite table and Redis.
package cache

import (
	"context"
	"time"

	"github.com/grand-thief-cash/chaos/app/projects/boardbot/internal/codec"
)

// MutateFunc receives the current raw value (exists=false when absent) and returns the value to
// store. Returning nil deletes the key.
type MutateFunc func(raw []byte, exists bool) ([]byte, error)

// Cache is implemented by SQLiteCache and RedisCache. A ttl <= 0 stores the value without expiry.
type Cache interface {
	// Get decodes the value into dst. Missing keys and decode failures both report false.
	Get(ctx context.Context, key string, dst any) bool
	GetRaw(ctx context.Context, key string) ([]byte, bool)
	Has(ctx context.Context, key string) bool
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetRaw(ctx context.Context, key string, raw []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Mutate is an atomic read-modify-write of one key.
	Mutate(ctx context.Context, key string, ttl time.Duration, fn MutateFunc) error
	Close() error
}

func decodeInto(raw []byte, dst any) bool {
	if dst == nil {
		return true
	}
	return codec.Unmarshal(raw, dst) == nil
}

// IsEmbedded reports whether c keeps entries in the local SQLite file.
func IsEmbedded(c Cache) bool {
	switch v := c.(type) {
	case *SQLiteCache:
		return true
	case interface{ Embedded() bool }:
		return v.Embedded()
	}
	return false
}
