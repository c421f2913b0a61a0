package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps the session in Redis under "hms:<clientID>:<key>", which
// lets several console instances on one host share a login.
type RedisStore struct {
	client   redis.Cmdable
	clientID string
}

func NewRedisStore(client redis.Cmdable, clientID string) *RedisStore {
	if clientID == "" {
		clientID = "default"
	}
	return &RedisStore{client: client, clientID: clientID}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (string, bool, error) {
	v, err := s.client.Get(ctx, s.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("[RedisStore] get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("[RedisStore] set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("[RedisStore] delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) redisKey(key Key) string {
	return "hms:" + s.clientID + ":" + string(key)
}
