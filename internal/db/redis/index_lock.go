package redisdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript 仅删除本进程持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IndexLock 基于 Redis SETNX 的集合级入库锁
type IndexLock struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string // collection -> 持有令牌
}

var _ rag.IndexLock = (*IndexLock)(nil)

// NewIndexLock 创建分布式入库锁；ttl 需覆盖一次全量重建的耗时
func NewIndexLock(client *redis.Client, ttl time.Duration) *IndexLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &IndexLock{client: client, ttl: ttl, tokens: make(map[string]string)}
}

func lockKey(collection string) string {
	return fmt.Sprintf("rag:lock:index:%s", collection)
}

// Acquire 获取入库锁，已被占用时返回 false
func (l *IndexLock) Acquire(ctx context.Context, collection string) (bool, error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, lockKey(collection), token, l.ttl).Result()
	if err != nil {
		applog.Warn("[IndexLock] Failed to acquire lock", "collection", collection, "error", err)
		return false, err
	}

	if !acquired {
		applog.Debug("[IndexLock] Lock already held", "collection", collection)
		return false, nil
	}

	l.mu.Lock()
	l.tokens[collection] = token
	l.mu.Unlock()
	applog.Debug("[IndexLock] Lock acquired", "collection", collection)
	return true, nil
}

// Release 释放入库锁
func (l *IndexLock) Release(ctx context.Context, collection string) error {
	l.mu.Lock()
	token, ok := l.tokens[collection]
	delete(l.tokens, collection)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := releaseScript.Run(ctx, l.client, []string{lockKey(collection)}, token).Err(); err != nil {
		applog.Warn("[IndexLock] Failed to release lock", "collection", collection, "error", err)
		return err
	}

	applog.Debug("[IndexLock] Lock released", "collection", collection)
	return nil
}
