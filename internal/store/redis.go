package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig configures RedisBackend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Namespace is prepended to every key so several installs can share a
	// database.
	Namespace string
}

// RedisBackend stores each entry as a Redis string.
type RedisBackend struct {
	rdb       *goredis.Client
	namespace string
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBackend{rdb: rdb, namespace: cfg.Namespace}, nil
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.rdb.Get(ctx, r.namespace+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// redisBatch bounds the keys sent in one MGET.
const redisBatch = 500

func (r *RedisBackend) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for start := 0; start < len(keys); start += redisBatch {
		chunk := keys[start:min(start+redisBatch, len(keys))]
		full := make([]string, len(chunk))
		for i, k := range chunk {
			full[i] = r.namespace + k
		}
		vals, err := r.rdb.MGet(ctx, full...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			if s, ok := v.(string); ok {
				out[chunk[i]] = []byte(s)
			}
		}
	}
	return out, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return r.rdb.Set(ctx, r.namespace+key, value, 0).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.namespace + k
	}
	return r.rdb.Del(ctx, full...).Err()
}

func (r *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, escapeGlob(r.namespace+prefix)+"*", 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
