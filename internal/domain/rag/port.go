package rag

import (
	"context"
	"time"
)

// BackendKind 向量后端类型，进程启动时选定一次。
type BackendKind string

const (
	BackendLocal      BackendKind = "local"
	BackendManaged    BackendKind = "managed"
	BackendServerless BackendKind = "serverless"
)

// Valid 是否为已知后端类型
func (k BackendKind) Valid() bool {
	switch k {
	case BackendLocal, BackendManaged, BackendServerless:
		return true
	}
	return false
}

// Backend 向量存储后端。所有实现遵循同一契约：
//   - EnsureCollection 不存在则按维度创建；已存在且维度不同则重建或返回 consistency 错误
//   - Write 以 Record.ID 覆盖写入
//   - Query 返回按相似度降序的最多 K 条
//   - DeleteAll 清空集合或命名空间，不支持时返回 ErrUnsupported
type Backend interface {
	Name() string
	EnsureCollection(ctx context.Context, collection string, dims int) error
	Write(ctx context.Context, collection string, records []Record) error
	Query(ctx context.Context, collection string, req QueryRequest) ([]Match, error)
	DeleteAll(ctx context.Context, collection, namespace string) error
	Close(ctx context.Context) error
}

// SearchKey 检索缓存键
type SearchKey struct {
	Collection string
	Namespace  string
	Query      string
	K          int
}

// SearchCacheStore 检索结果缓存。Set 同步写入，失败只影响缓存命中率。
type SearchCacheStore interface {
	Get(ctx context.Context, key SearchKey) ([]RetrievalResult, bool)
	Set(ctx context.Context, key SearchKey, results []RetrievalResult, ttl time.Duration) error
	InvalidateCollection(ctx context.Context, collection string) error
}

// IndexLock 集合级入库互斥锁，抢占失败返回 false 而不排队。
type IndexLock interface {
	Acquire(ctx context.Context, collection string) (bool, error)
	Release(ctx context.Context, collection string) error
}

// RunStore 入库审计存储
type RunStore interface {
	CreateRun(ctx context.Context, run *IndexingRun) error
	UpdateRun(ctx context.Context, run *IndexingRun) error
	GetRun(ctx context.Context, id string) (*IndexingRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*IndexingRun, error)
}

// QueryLogStore 问答日志存储
type QueryLogStore interface {
	CreateQueryLog(ctx context.Context, entry *QueryLog) error
}

// AuditStore 审计存储（入库记录 + 问答日志）
type AuditStore interface {
	RunStore
	QueryLogStore
}
