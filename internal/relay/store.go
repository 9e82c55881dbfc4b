package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// FrameStore persists the latest frame only.
type FrameStore interface {
	Load(ctx context.Context) (string, bool, error)
	Save(ctx context.Context, image string) error
	Close() error
}

// MemoryStore keeps the frame in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	image string
	set   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements FrameStore.
func (m *MemoryStore) Load(context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.image, m.set, nil
}

// Save implements FrameStore.
func (m *MemoryStore) Save(_ context.Context, image string) error {
	m.mu.Lock()
	m.image, m.set = image, true
	m.mu.Unlock()
	return nil
}

// Close implements FrameStore.
func (m *MemoryStore) Close() error { return nil }

// DefaultRedisKey holds the latest frame when no key is configured.
const DefaultRedisKey = "edgerelay:latest"

// RedisStoreConfig configures a Redis-backed frame store.
type RedisStoreConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	Key          string
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore keeps the latest frame under a single key so a restarted relay
// can replay it.
type RedisStore struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		key = DefaultRedisKey
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        []string{addr},
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisStore{client: client, key: key, ttl: cfg.TTL}, nil
}

// Load implements FrameStore.
func (r *RedisStore) Load(ctx context.Context) (string, bool, error) {
	image, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	return image, true, nil
}

// Save implements FrameStore.
func (r *RedisStore) Save(ctx context.Context, image string) error {
	if err := r.client.Set(ctx, r.key, image, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

// Close implements FrameStore.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
