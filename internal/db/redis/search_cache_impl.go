package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "rag:cache:"

// SearchCache 检索结果 Redis 缓存
type SearchCache struct {
	redis *redis.Client
}

var _ rag.SearchCacheStore = (*SearchCache)(nil)

// NewSearchCache 创建检索缓存
func NewSearchCache(rdb *redis.Client) *SearchCache {
	return &SearchCache{redis: rdb}
}

// Get 从缓存获取检索结果，任何读取或解码失败都按未命中处理
func (c *SearchCache) Get(ctx context.Context, key rag.SearchKey) ([]rag.RetrievalResult, bool) {
	data, err := c.redis.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			applog.Warn("[RAG/Cache] Get failed", "collection", key.Collection, "error", err)
		}
		return nil, false
	}

	var results []rag.RetrievalResult
	if err := json.Unmarshal(data, &results); err != nil {
		applog.Warn("[RAG/Cache] Failed to unmarshal cached result", "error", err)
		return nil, false
	}

	applog.Debug("[RAG/Cache] Hit", "collection", key.Collection, "k", key.K)
	return results, true
}

// Set 写入检索结果
func (c *SearchCache) Set(ctx context.Context, key rag.SearchKey, results []rag.RetrievalResult, ttl time.Duration) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return c.redis.Set(ctx, cacheKey(key), data, ttl).Err()
}

// InvalidateCollection 按集合前缀 SCAN 后批量删除
func (c *SearchCache) InvalidateCollection(ctx context.Context, collection string) error {
	iter := c.redis.Scan(ctx, 0, collectionPattern(collection), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	applog.Info("[RAG/Cache] Invalidated", "collection", collection, "keys_deleted", len(keys))
	return nil
}

// cacheKey = prefix + collection + ":" + hash(namespace|k|query)
func cacheKey(key rag.SearchKey) string {
	raw := fmt.Sprintf("%s|%d|%s", key.Namespace, key.K, key.Query)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%s:%x", cachePrefix, key.Collection, hash[:12])
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func collectionPattern(collection string) string {
	return cachePrefix + globEscaper.Replace(collection) + ":*"
}
