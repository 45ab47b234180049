package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var _ Store = (*RedisStore)(nil)

// RedisConfig holds the configuration for the Redis-backed store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the keys of one session.
	Prefix string
	// SessionTTL bounds how long an idle session's keys survive. Zero keeps
	// them until Reset is called.
	SessionTTL time.Duration
}

// RedisStore is a Store shared through Redis, so several processes taking
// part in one session see the same cache. Each resource is a hash of
// id -> record JSON plus a string key holding the metadata JSON.
type RedisStore struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	prefix      string
	ttl         time.Duration
}

// NewRedisStore creates and connects a new RedisStore.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "customercache"
	}
	logger.Info().Str("redis_address", cfg.Addr).Str("prefix", prefix).Msg("Successfully connected to Redis.")

	return &RedisStore{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
		prefix:      prefix,
		ttl:         cfg.SessionTTL,
	}, nil
}

func (s *RedisStore) itemsKey(resource string) string {
	return s.prefix + ":" + resource + ":items"
}

func (s *RedisStore) metaKey(resource string) string {
	return s.prefix + ":" + resource + ":meta"
}

// SetResource deletes and rewrites the resource hash in one transaction.
func (s *RedisStore) SetResource(ctx context.Context, resource string, value Collection) error {
	key := s.itemsKey(resource)
	fields := make(map[string]interface{}, len(value))
	for id, item := range value {
		fields[string(id)] = []byte(item.Raw)
	}

	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
			s.expire(ctx, pipe, key)
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("resource", resource).Msg("Failed to replace resource in Redis.")
		return fmt.Errorf("redis replace of %s: %w", resource, err)
	}
	s.logger.Debug().Str("resource", resource).Int("items", len(fields)).Msg("Resource replaced.")
	return nil
}

// SetItem writes a single hash field.
func (s *RedisStore) SetItem(ctx context.Context, resource string, id ID, item Record) error {
	key := s.itemsKey(resource)
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, string(id), []byte(item.Raw))
		s.expire(ctx, pipe, key)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("resource", resource).Str("id", string(id)).Msg("Failed to set item in Redis.")
		return fmt.Errorf("redis hset %s/%s: %w", resource, id, err)
	}
	return nil
}

// SetMeta stores the metadata as JSON.
func (s *RedisStore) SetMeta(ctx context.Context, resource string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta for %s: %w", resource, err)
	}
	if err := s.redisClient.Set(ctx, s.metaKey(resource), data, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("resource", resource).Msg("Failed to set meta in Redis.")
		return fmt.Errorf("redis set meta %s: %w", resource, err)
	}
	return nil
}

// ReplacePage rewrites the resource hash and its metadata in one MULTI/EXEC.
func (s *RedisStore) ReplacePage(ctx context.Context, resource string, value Collection, meta Meta) error {
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal meta for %s: %w", resource, err)
	}
	key := s.itemsKey(resource)
	fields := make(map[string]interface{}, len(value))
	for id, item := range value {
		fields[string(id)] = []byte(item.Raw)
	}

	_, err = s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
			s.expire(ctx, pipe, key)
		}
		pipe.Set(ctx, s.metaKey(resource), metaData, s.ttl)
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("resource", resource).Msg("Failed to replace page in Redis.")
		return fmt.Errorf("redis replace page of %s: %w", resource, err)
	}
	s.logger.Debug().Str("resource", resource).Int("items", len(fields)).Msg("Page replaced.")
	return nil
}

// Item fetches one record. A missing field is reported as absent, not as an error.
func (s *RedisStore) Item(ctx context.Context, resource string, id ID) (Record, bool, error) {
	data, err := s.redisClient.HGet(ctx, s.itemsKey(resource), string(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("redis hget %s/%s: %w", resource, id, err)
	}
	rec, err := decodeStored(id, data)
	if err != nil {
		return Record{}, false, err
	}
	s.logger.Debug().Str("resource", resource).Str("id", string(id)).Msg("Redis cache hit.")
	return rec, true, nil
}

// Collection reads the whole resource hash.
func (s *RedisStore) Collection(ctx context.Context, resource string) (Collection, error) {
	all, err := s.redisClient.HGetAll(ctx, s.itemsKey(resource)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", resource, err)
	}
	coll := make(Collection, len(all))
	for field, data := range all {
		rec, err := decodeStored(ID(field), []byte(data))
		if err != nil {
			return nil, err
		}
		coll[rec.ID] = rec
	}
	return coll, nil
}

// Meta reads the stored metadata.
func (s *RedisStore) Meta(ctx context.Context, resource string) (Meta, bool, error) {
	data, err := s.redisClient.Get(ctx, s.metaKey(resource)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Meta{}, false, nil
		}
		return Meta{}, false, fmt.Errorf("redis get meta %s: %w", resource, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, false, fmt.Errorf("failed to unmarshal meta for %s: %w", resource, err)
	}
	return meta, true, nil
}

// Reset removes every key belonging to this session.
func (s *RedisStore) Reset(ctx context.Context) error {
	iter := s.redisClient.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", s.prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del session keys: %w", err)
	}
	s.logger.Info().Int("keys", len(keys)).Msg("Session keys removed.")
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}

func (s *RedisStore) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

// decodeStored rebuilds a record from its stored bytes; the hash field is the
// authoritative id.
func decodeStored(id ID, data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal cached record %s: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}
