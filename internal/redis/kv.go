package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/project-vector/internal/kv"
)

// KV stores every key under a namespace so one Redis database can hold
// several environments. Processes sharing a namespace share state with
// last-write-wins semantics.
type KV struct {
	client    *redis.Client
	namespace string
}

func NewKV(client *redis.Client, namespace string) *KV {
	if namespace != "" && !strings.HasSuffix(namespace, ":") {
		namespace += ":"
	}
	return &KV{client: client, namespace: namespace}
}

var _ kv.Store = (*KV)(nil)

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (s *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.namespace+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.namespace + k
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	match := s.namespace + prefix + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.namespace))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *KV) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
