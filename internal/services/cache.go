package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/web3-frozen/defi-lending-api/internal/config"
)

// Cache stores rendered responses. Keys embed the snapshot version, so an
// entry never outlives the data it was rendered from in meaning.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Backend() string
}

type RedisCache struct {
	client *redis.Client
	prefix string
}

// DefaultMemoryCacheEntries bounds the in-process cache when no size is
// configured.
const DefaultMemoryCacheEntries = 1024

// MemoryCache is a size-bounded LRU with per-entry expiry. Once full, the
// least recently used entry is evicted.
type MemoryCache struct {
	mu        sync.Mutex
	items     *lru.Cache[string, memItem]
	now       func() time.Time
	lastSweep time.Time
}

type memItem struct {
	val []byte
	exp time.Time
}

// NewCache connects to cfg.RedisURL and falls back to an in-process cache
// when Redis is unset or unreachable.
func NewCache(cfg config.Config, log *logrus.Entry) Cache {
	if cfg.RedisURL == "" {
		return NewMemoryCacheSize(cfg.ResponseCacheMaxEntries)
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("invalid REDIS_URL, using memory cache")
		return NewMemoryCacheSize(cfg.ResponseCacheMaxEntries)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable, using memory cache")
		_ = client.Close()
		return NewMemoryCacheSize(cfg.ResponseCacheMaxEntries)
	}
	return NewRedisCache(client)
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "lending:"}
}

func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheSize(DefaultMemoryCacheEntries)
}

// NewMemoryCacheSize holds at most size entries; non-positive sizes use
// DefaultMemoryCacheEntries.
func NewMemoryCacheSize(size int) *MemoryCache {
	if size <= 0 {
		size = DefaultMemoryCacheEntries
	}
	items, _ := lru.New[string, memItem](size)
	return &MemoryCache{items: items, now: time.Now}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (r *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, val, ttl).Err()
}

func (r *RedisCache) Backend() string { return "redis" }

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	it, ok := m.items.Get(key)
	if !ok {
		return nil, false
	}
	if !it.exp.IsZero() && m.now().After(it.exp) {
		m.items.Remove(key)
		return nil, false
	}
	return it.val, true
}

func (m *MemoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	now := m.now()
	m.sweep(now)
	exp := time.Time{}
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.items.Add(key, memItem{val: val, exp: exp})
	return nil
}

// sweep drops expired entries at most once a minute.
func (m *MemoryCache) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastSweep) <= time.Minute {
		return
	}
	for _, k := range m.items.Keys() {
		if it, ok := m.items.Peek(k); ok && !it.exp.IsZero() && now.After(it.exp) {
			m.items.Remove(k)
		}
	}
	m.lastSweep = now
}

func (m *MemoryCache) Backend() string { return "memory" }

func (m *MemoryCache) Len() int { return m.items.Len() }

func MarshalCache(v any) ([]byte, error) {
	return json.Marshal(v)
}
