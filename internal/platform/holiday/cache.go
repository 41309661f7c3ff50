package holiday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the key/value store behind CachedStore.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// RedisCache stores JSON values in Redis.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) DeleteByPattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}
	return nil
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Recorder receives cache hit/miss outcomes.
type Recorder interface {
	HolidayCacheLookup(result string)
}

// CachedStore is a read-through cache in front of a Store. Reads fall back
// to the store whenever the cache errors; writes invalidate the hospital's
// keys.
type CachedStore struct {
	next    Store
	cache   Cache
	ttl     time.Duration
	logger  zerolog.Logger
	metrics Recorder
}

func NewCachedStore(next Store, cache Cache, ttl time.Duration, logger zerolog.Logger, metrics Recorder) *CachedStore {
	return &CachedStore{next: next, cache: cache, ttl: ttl, logger: logger, metrics: metrics}
}

func dayKey(hospitalID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("holiday:%s:%s", hospitalID, date.Format("2006-01-02"))
}

func rangeKey(hospitalID uuid.UUID, from, to time.Time) string {
	return fmt.Sprintf("holidays:%s:%s:%s", hospitalID, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

type cachedName struct {
	Name string `json:"name"`
}

func (s *CachedStore) HolidayName(ctx context.Context, hospitalID uuid.UUID, date time.Time) (string, error) {
	key := dayKey(hospitalID, date)
	var hit cachedName
	if s.lookup(ctx, key, &hit) {
		return hit.Name, nil
	}

	name, err := s.next.HolidayName(ctx, hospitalID, date)
	if err != nil {
		return "", err
	}
	// Open days are cached too; they are the common case.
	s.store(ctx, key, cachedName{Name: name})
	return name, nil
}

func (s *CachedStore) HolidaysInRange(ctx context.Context, hospitalID uuid.UUID, from, to time.Time) ([]Holiday, error) {
	key := rangeKey(hospitalID, from, to)
	var hit []Holiday
	if s.lookup(ctx, key, &hit) {
		return hit, nil
	}

	list, err := s.next.HolidaysInRange(ctx, hospitalID, from, to)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []Holiday{}
	}
	s.store(ctx, key, list)
	return list, nil
}

func (s *CachedStore) Create(ctx context.Context, h *Holiday) error {
	if err := s.next.Create(ctx, h); err != nil {
		return err
	}
	s.invalidate(ctx, h.HospitalID)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, hospitalID, id uuid.UUID) error {
	if err := s.next.Delete(ctx, hospitalID, id); err != nil {
		return err
	}
	s.invalidate(ctx, hospitalID)
	return nil
}

func (s *CachedStore) lookup(ctx context.Context, key string, dest interface{}) bool {
	err := s.cache.Get(ctx, key, dest)
	switch {
	case err == nil:
		s.record("hit")
		return true
	case errors.Is(err, ErrCacheMiss):
		s.record("miss")
	default:
		s.record("error")
		s.logger.Warn().Err(err).Str("key", key).Msg("holiday cache read failed")
	}
	return false
}

func (s *CachedStore) store(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("holiday cache write failed")
	}
}

func (s *CachedStore) invalidate(ctx context.Context, hospitalID uuid.UUID) {
	for _, pattern := range []string{
		fmt.Sprintf("holiday:%s:*", hospitalID),
		fmt.Sprintf("holidays:%s:*", hospitalID),
	} {
		if err := s.cache.DeleteByPattern(ctx, pattern); err != nil {
			s.logger.Error().Err(err).Str("pattern", pattern).Msg("holiday cache invalidation failed")
		}
	}
}

func (s *CachedStore) record(result string) {
	if s.metrics != nil {
		s.metrics.HolidayCacheLookup(result)
	}
}
