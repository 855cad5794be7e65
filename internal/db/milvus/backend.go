// Package milvus Managed-Cloud 后端：Milvus / Zilliz Cloud 集合。
package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"
)

var logger = applog.Component("Milvus")

const backendName = "milvus"

// Config 连接配置
type Config struct {
	Address  string // host:port 或 Zilliz Cloud endpoint
	Token    string // user:password 或 API key
	Database string
}

// Backend Milvus 后端
type Backend struct {
	api collectionAPI

	mu   sync.RWMutex
	dims map[string]int // 已确认的集合维度
}

var _ rag.Backend = (*Backend)(nil)

// New 连接 Milvus
func New(ctx context.Context, cfg Config) (*Backend, error) {
	cli, err := dial(ctx, cfg)
	if err != nil {
		return nil, rag.NewError("", backendName, "", "connect", err)
	}
	logger.Info("Connected", "address", cfg.Address, "database", cfg.Database)
	return newBackend(cli), nil
}

func newBackend(api collectionAPI) *Backend {
	return &Backend{api: api, dims: make(map[string]int)}
}

// Name 后端名
func (b *Backend) Name() string { return backendName }

// EnsureCollection 列出集合，缺失则创建；已存在则读取 schema 维度，不一致时删除重建。
func (b *Backend) EnsureCollection(ctx context.Context, collection string, dims int) error {
	names, err := b.api.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}

	if slices.Contains(names, collection) {
		current, err := b.api.CollectionDims(ctx, collection)
		if err != nil {
			return fmt.Errorf("describe collection %s: %w", collection, err)
		}
		if current == dims {
			// 重启后集合可能处于 released 状态，检索前必须加载
			if err := b.api.LoadCollection(ctx, collection); err != nil {
				return fmt.Errorf("load collection %s: %w", collection, err)
			}
			b.remember(collection, dims)
			return nil
		}
		logger.Warn("Dimension mismatch, recreating collection",
			"collection", collection, "existing_dims", current, "dims", dims)
		if err := b.api.DropCollection(ctx, collection); err != nil {
			return fmt.Errorf("drop collection %s: %w", collection, err)
		}
	}

	if err := b.api.CreateCollection(ctx, collection, dims); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	b.remember(collection, dims)
	logger.Info("Collection created", "collection", collection, "dims", dims)
	return nil
}

// Write Upsert 按主键覆盖
func (b *Backend) Write(ctx context.Context, collection string, records []rag.Record) error {
	if len(records) == 0 {
		return nil
	}
	dims, ok := b.dimsOf(collection)
	if !ok {
		return rag.NewError(rag.KindConfiguration, backendName, collection, "write", fmt.Errorf("collection %s not ensured", collection))
	}

	data := rows{
		IDs:        make([]string, len(records)),
		Namespaces: make([]string, len(records)),
		Contents:   make([]string, len(records)),
		Metadata:   make([]string, len(records)),
		Vectors:    make([][]float32, len(records)),
	}
	for i, r := range records {
		if len(r.Vector) != dims {
			return rag.NewError(rag.KindConsistency, backendName, collection, "write",
				fmt.Errorf("%w: record %s has %d dims, collection has %d", rag.ErrDimensionMismatch, r.ID, len(r.Vector), dims))
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return rag.DataError("write", fmt.Errorf("marshal metadata for %s: %w", r.ID, err))
		}
		data.IDs[i] = r.ID
		data.Namespaces[i] = r.Namespace
		data.Contents[i] = r.Content
		data.Metadata[i] = string(meta)
		data.Vectors[i] = r.Vector
	}

	if err := b.api.Upsert(ctx, collection, dims, data); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// Query ANN 检索，COSINE 度量下得分即余弦相似度
func (b *Backend) Query(ctx context.Context, collection string, req rag.QueryRequest) ([]rag.Match, error) {
	filter := ""
	if req.Namespace != "" {
		filter = namespaceExpr(req.Namespace)
	}
	hits, err := b.api.Search(ctx, collection, filter, req.Vector, req.K)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	matches := make([]rag.Match, 0, len(hits))
	for _, h := range hits {
		m := rag.Match{ID: h.ID, Content: h.Content, Score: float64(h.Score)}
		if h.Metadata != "" {
			if err := json.Unmarshal([]byte(h.Metadata), &m.Metadata); err != nil {
				logger.Warn("Failed to decode metadata", "id", h.ID, "error", err)
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteAll 指定命名空间时按表达式删除；否则删除并按原维度重建集合
func (b *Backend) DeleteAll(ctx context.Context, collection, namespace string) error {
	if namespace != "" {
		if err := b.api.Delete(ctx, collection, namespaceExpr(namespace)); err != nil {
			return fmt.Errorf("delete namespace %s: %w", namespace, err)
		}
		return nil
	}

	dims, ok := b.dimsOf(collection)
	if !ok {
		var err error
		if dims, err = b.api.CollectionDims(ctx, collection); err != nil {
			return fmt.Errorf("describe collection %s: %w", collection, err)
		}
	}
	if err := b.api.DropCollection(ctx, collection); err != nil {
		return fmt.Errorf("drop collection %s: %w", collection, err)
	}
	if err := b.api.CreateCollection(ctx, collection, dims); err != nil {
		return fmt.Errorf("recreate collection %s: %w", collection, err)
	}
	b.remember(collection, dims)
	return nil
}

// Close 关闭连接
func (b *Backend) Close(ctx context.Context) error {
	return b.api.Close(ctx)
}

func (b *Backend) remember(collection string, dims int) {
	b.mu.Lock()
	b.dims[collection] = dims
	b.mu.Unlock()
}

func (b *Backend) dimsOf(collection string) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.dims[collection]
	return d, ok
}

func namespaceExpr(namespace string) string {
	return fieldNamespace + " == " + strconv.Quote(namespace)
}
