package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aerodocs/techpubs-backend/internal/platform/logger"
)

// SearchCache memoizes similarity-search responses. Entries expire on a
// short TTL rather than being invalidated when new chunks are embedded;
// slightly stale results are acceptable for this window.
type SearchCache interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Close() error
}

type searchCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewSearchCache(log *logger.Logger) (SearchCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    os.Getenv("REDIS_PASSWORD"),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &searchCache{
		log: log.With("service", "SearchCache"),
		rdb: rdb,
		ttl: 5 * time.Minute,
	}, nil
}

// CacheKey derives a stable key from the full query shape so any change in
// filters or limits misses the cache.
func CacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "search:" + hex.EncodeToString(h.Sum(nil))
}

func (c *searchCache) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		// A corrupt entry behaves like a miss and gets overwritten.
		c.log.Warn("Dropping undecodable cache entry", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

func (c *searchCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, c.ttl).Err()
}

func (c *searchCache) Close() error { return c.rdb.Close() }
