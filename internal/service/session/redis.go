package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisStorage 将会话状态保存在 Redis 中，过期即视为会话结束。
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStorage 通过 redis:// URL 连接并 ping 校验
func NewRedisStorage(ctx context.Context, rawURL, prefix string, ttl time.Duration) (*RedisStorage, error) {
	if rawURL == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisStorageFromClient(client, prefix, ttl), nil
}

// NewRedisStorageFromClient 包装已有客户端
func NewRedisStorageFromClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix, ttl: ttl}
}

var _ Storage = (*RedisStorage)(nil)

func (s *RedisStorage) key(key string) string {
	return s.prefix + key
}

// Load 实现 Storage 接口
func (s *RedisStorage) Load(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return value, nil
}

// Save 实现 Storage 接口，每次保存都会刷新过期时间。
func (s *RedisStorage) Save(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Delete 实现 Storage 接口
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}

// Close 释放客户端
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
