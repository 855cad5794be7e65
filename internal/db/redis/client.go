// Package redisdb 检索缓存与分布式入库锁。
package redisdb

import (
	"context"
	"fmt"

	applog "ragcore/internal/platform/log"

	"github.com/redis/go-redis/v9"
)

// Connect 解析 redis:// URL 并 Ping
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	applog.Info("[Redis] Connected", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}
