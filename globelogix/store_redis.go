package globelogix

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisScoreStore implements the ScoreStore interface on top of Redis. Every key is namespaced with a prefix so
// several deployments can share one Redis database.
type RedisScoreStore struct {
	client *redis.Client
	prefix string
}

// NewRedisScoreStore connects to Redis using the base system configuration and verifies the connection.
func NewRedisScoreStore(ctx context.Context, config *BaseSystemConfig) (*RedisScoreStore, error) {
	if config == nil || config.RedisAddr == "" {
		return nil, fmt.Errorf("redis address not configured")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", config.RedisAddr, err)
	}

	return NewRedisScoreStoreFromClient(client, config.KeyPrefix), nil
}

// NewRedisScoreStoreFromClient wraps an existing Redis client.
func NewRedisScoreStoreFromClient(client *redis.Client, prefix string) *RedisScoreStore {
	return &RedisScoreStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisScoreStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisScoreStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStoreKeyNotFound
	}
	return value, err
}

func (s *RedisScoreStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *RedisScoreStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), value, ttl).Result()
}

func (s *RedisScoreStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, s.key(key))
	}
	return s.client.Del(ctx, prefixed...).Err()
}

func (s *RedisScoreStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *RedisScoreStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, s.key(key), ttl).Err()
}

func (s *RedisScoreStore) HashGet(ctx context.Context, key, field string) (string, error) {
	value, err := s.client.HGet(ctx, s.key(key), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStoreKeyNotFound
	}
	return value, err
}

func (s *RedisScoreStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key(key)).Result()
}

func (s *RedisScoreStore) HashMultiGet(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	result := make(map[string]string, len(fields))
	if len(fields) == 0 {
		return result, nil
	}

	values, err := s.client.HMGet(ctx, s.key(key), fields...).Result()
	if err != nil {
		return nil, err
	}
	for i, value := range values {
		if str, ok := value.(string); ok {
			result[fields[i]] = str
		}
	}
	return result, nil
}

func (s *RedisScoreStore) HashSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make(map[string]interface{}, len(values))
	for field, value := range values {
		args[field] = value
	}
	return s.client.HSet(ctx, s.key(key), args).Err()
}

func (s *RedisScoreStore) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.client.HDel(ctx, s.key(key), fields...).Err()
}

func (s *RedisScoreStore) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, s.key(key), &redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisScoreStore) SortedSetRange(ctx context.Context, key string, start, stop int64, rev bool) ([]ScoredMember, error) {
	var (
		zs  []redis.Z
		err error
	)
	if rev {
		zs, err = s.client.ZRevRangeWithScores(ctx, s.key(key), start, stop).Result()
	} else {
		zs, err = s.client.ZRangeWithScores(ctx, s.key(key), start, stop).Result()
	}
	if err != nil {
		return nil, err
	}
	return scoredMembers(zs), nil
}

func (s *RedisScoreStore) SortedSetRangeByScore(ctx context.Context, key string, min, max float64, rev bool) ([]ScoredMember, error) {
	by := &redis.ZRangeBy{
		Min: strconv.FormatFloat(min, 'f', -1, 64),
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}

	var (
		zs  []redis.Z
		err error
	)
	if rev {
		zs, err = s.client.ZRevRangeByScoreWithScores(ctx, s.key(key), by).Result()
	} else {
		zs, err = s.client.ZRangeByScoreWithScores(ctx, s.key(key), by).Result()
	}
	if err != nil {
		return nil, err
	}
	return scoredMembers(zs), nil
}

func (s *RedisScoreStore) SortedSetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(members))
	for _, member := range members {
		args = append(args, member)
	}
	return s.client.ZRem(ctx, s.key(key), args...).Err()
}

func (s *RedisScoreStore) Close() error {
	return s.client.Close()
}

func scoredMembers(zs []redis.Z) []ScoredMember {
	members := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		members = append(members, ScoredMember{Member: member, Score: z.Score})
	}
	return members
}
