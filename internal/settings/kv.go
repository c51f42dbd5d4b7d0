package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/go-redis/redis/v8"

	"doorguard/internal/storage"
)

// StorageKV keeps the record in the reading store's settings table.
type StorageKV struct {
	Store storage.Store
}

func (k StorageKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return k.Store.GetSetting(ctx, key)
}

func (k StorageKV) Set(ctx context.Context, key string, value []byte) error {
	return k.Store.PutSetting(ctx, key, value)
}

type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (k *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := k.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (k *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	return k.client.Set(ctx, key, value, 0).Err()
}

type MemoryKV struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string][]byte)}
}

func (k *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (k *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.items[key] = append([]byte(nil), value...)
	return nil
}
