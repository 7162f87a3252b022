package globelogix

import (
	"context"
	"time"
)

// ScoredMember is a sorted set member together with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// The ScoreStore is the persistent key-value store every system reads and writes. It exposes plain values,
// hashes and sorted sets. Get and HashGet return ErrStoreKeyNotFound when nothing is stored.
//
// Implementations must safely handle concurrent calls.
type ScoreStore interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores a value. A zero ttl stores it without expiration.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent stores a value only if the key does not exist and reports whether it did.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HashGet(ctx context.Context, key, field string) (string, error)
	HashGetAll(ctx context.Context, key string) (map[string]string, error)
	// HashMultiGet returns the requested fields that exist; missing fields are absent from the result.
	HashMultiGet(ctx context.Context, key string, fields ...string) (map[string]string, error)
	HashSet(ctx context.Context, key string, values map[string]string) error
	HashDelete(ctx context.Context, key string, fields ...string) error

	SortedSetAdd(ctx context.Context, key string, score float64, member string) error
	// SortedSetRange returns members by position, ascending by score or descending when rev is set.
	// A stop of -1 means the last member.
	SortedSetRange(ctx context.Context, key string, start, stop int64, rev bool) ([]ScoredMember, error)
	// SortedSetRangeByScore returns the members whose score lies in [min, max].
	SortedSetRangeByScore(ctx context.Context, key string, min, max float64, rev bool) ([]ScoredMember, error)
	SortedSetRemove(ctx context.Context, key string, members ...string) error

	Close() error
}
