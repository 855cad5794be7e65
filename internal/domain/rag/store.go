package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	applog "ragcore/internal/platform/log"
	"ragcore/internal/platform/metrics"
)

// chunkNamespace 派生分块 ID 的 UUIDv5 命名空间
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragcore/chunk"))

// ChunkID 分块 ID：有文档 ID 时由 (docID, index) 确定性派生，否则随机生成。
func ChunkID(docID string, index int) string {
	if docID == "" {
		return uuid.New().String()
	}
	return uuid.NewSHA1(chunkNamespace, []byte(docID+"#"+strconv.Itoa(index))).String()
}

// writeBatchSize 单次后端写入的最大条数
const writeBatchSize = 100

// StoreOptions VectorStore 可选参数
type StoreOptions struct {
	Namespace      string
	DefaultTopK    int
	Cache          SearchCacheStore
	CacheTTL       time.Duration
	RequestTimeout time.Duration // 单次外部调用超时，0 = 不限
	RetryAttempts  int           // transient 错误的最大尝试次数，<=1 不重试
}

// VectorStore 与后端无关的向量存储门面。
// 负责分块 ID 派生、维度约束、缓存失效；进程内对同一后端只构造一次。
type VectorStore struct {
	backend    Backend
	embedder   Embedder
	collection string
	opts       StoreOptions

	mu    sync.Mutex
	ready bool

	// gen 每次失效缓存时递增；检索期间发生变化则结果不回写缓存
	gen atomic.Uint64
}

// NewVectorStore 创建门面
func NewVectorStore(backend Backend, embedder Embedder, collection string, opts StoreOptions) *VectorStore {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	return &VectorStore{
		backend:    backend,
		embedder:   embedder,
		collection: collection,
		opts:       opts,
	}
}

// Collection 返回集合名
func (s *VectorStore) Collection() string { return s.collection }

// BackendName 返回后端名
func (s *VectorStore) BackendName() string { return s.backend.Name() }

// Dims 返回集合维度
func (s *VectorStore) Dims() int { return s.embedder.Dims() }

// Namespace 返回默认命名空间
func (s *VectorStore) Namespace() string { return s.opts.Namespace }

// Ensure 确保集合存在且维度与 Embedder 一致。
func (s *VectorStore) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	dims := s.embedder.Dims()
	if dims <= 0 {
		return s.wrap("ensure_collection", ConfigError("ensure_collection", fmt.Errorf("embedding dimension must be positive, got %d", dims)))
	}
	err := s.call(ctx, func(ctx context.Context) error {
		return s.backend.EnsureCollection(ctx, s.collection, dims)
	})
	if err != nil {
		return s.wrap("ensure_collection", err)
	}
	s.ready = true
	applog.Info("[RAG] Collection ready", "backend", s.backend.Name(), "collection", s.collection, "dims", dims)
	return nil
}

// Upsert 为分块派生 ID、生成向量并写入后端，返回写入条数。
// 同一文档重复入库时 ID 相同，后端覆盖写入而不是追加。
func (s *VectorStore) Upsert(ctx context.Context, chunks []Chunk) (int, error) {
	return s.UpsertNamespace(ctx, s.opts.Namespace, chunks)
}

// UpsertNamespace 写入指定命名空间
func (s *VectorStore) UpsertNamespace(ctx context.Context, namespace string, chunks []Chunk) (int, error) {
	records, err := s.prepare(ctx, namespace, chunks)
	if err != nil {
		return 0, err
	}
	return s.write(ctx, namespace, records)
}

// prepare 派生 ID 并生成向量，不触碰后端数据。
// 调用方可以在向量全部就绪后再执行破坏性操作。
func (s *VectorStore) prepare(ctx context.Context, namespace string, chunks []Chunk) ([]Record, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, s.wrap("upsert", err)
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:        ChunkID(c.DocumentID, c.Index),
			Namespace: namespace,
			Content:   c.Content,
			Metadata:  c.Metadata,
			Vector:    vectors[i],
		}
	}
	return records, nil
}

// write 分批写入已准备好的记录
func (s *VectorStore) write(ctx context.Context, namespace string, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	written := 0
	defer func() {
		if written > 0 {
			s.invalidate(ctx)
		}
	}()
	for i := 0; i < len(records); i += writeBatchSize {
		batch := records[i:min(i+writeBatchSize, len(records))]
		err := s.call(ctx, func(ctx context.Context) error {
			return s.backend.Write(ctx, s.collection, batch)
		})
		if err != nil {
			return written, s.wrap("upsert", err)
		}
		written += len(batch)
	}

	metrics.ChunksUpserted.WithLabelValues(s.backend.Name(), s.collection).Add(float64(written))
	applog.Info("[RAG] Chunks upserted",
		"backend", s.backend.Name(),
		"collection", s.collection,
		"namespace", namespace,
		"count", written,
	)
	return written, nil
}

// Search 相似度检索，结果按分数降序，同分保持后端返回顺序，长度不超过 k。
func (s *VectorStore) Search(ctx context.Context, query string, k int) ([]RetrievalResult, error) {
	return s.SearchNamespace(ctx, s.opts.Namespace, query, k)
}

// SearchNamespace 在指定命名空间检索
func (s *VectorStore) SearchNamespace(ctx context.Context, namespace, query string, k int) ([]RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, DataError("similarity_search", fmt.Errorf("%w: query is blank", ErrEmptyInput))
	}
	if k <= 0 {
		k = s.opts.DefaultTopK
	}
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues(s.backend.Name()).Observe(time.Since(start).Seconds())
	}()

	key := SearchKey{Collection: s.collection, Namespace: namespace, Query: query, K: k}
	gen := s.gen.Load()
	if s.opts.Cache != nil {
		if cached, ok := s.opts.Cache.Get(ctx, key); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	if err := s.Ensure(ctx); err != nil {
		return nil, err
	}
	vectors, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, s.wrap("similarity_search", err)
	}

	var matches []Match
	err = s.call(ctx, func(ctx context.Context) error {
		var qerr error
		matches, qerr = s.backend.Query(ctx, s.collection, QueryRequest{Vector: vectors[0], K: k, Namespace: namespace})
		return qerr
	})
	if err != nil {
		return nil, s.wrap("similarity_search", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	results := make([]RetrievalResult, len(matches))
	for i, m := range matches {
		results[i] = RetrievalResult{ID: m.ID, Text: m.Content, Metadata: m.Metadata, Score: m.Score}
	}

	if s.opts.Cache != nil && s.opts.CacheTTL > 0 && s.gen.Load() == gen {
		if err := s.opts.Cache.Set(ctx, key, results, s.opts.CacheTTL); err != nil {
			applog.Warn("[RAG/Cache] Set failed", "collection", s.collection, "error", err)
		}
	}

	applog.Debug("[RAG] Search",
		"backend", s.backend.Name(),
		"collection", s.collection,
		"k", k,
		"hits", len(results),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// DeleteAll 清空集合（namespace 为空）或命名空间。后端不支持时返回 ErrUnsupported，不静默忽略。
func (s *VectorStore) DeleteAll(ctx context.Context, namespace string) error {
	if err := s.Ensure(ctx); err != nil {
		return err
	}
	err := s.call(ctx, func(ctx context.Context) error {
		return s.backend.DeleteAll(ctx, s.collection, namespace)
	})
	if err != nil {
		return s.wrap("delete_all", err)
	}
	s.invalidate(ctx)
	applog.Info("[RAG] Collection cleared", "backend", s.backend.Name(), "collection", s.collection, "namespace", namespace)
	return nil
}

// Close 释放后端连接
func (s *VectorStore) Close(ctx context.Context) error {
	return s.backend.Close(ctx)
}

func (s *VectorStore) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := s.call(ctx, func(ctx context.Context) error {
		var eerr error
		vectors, eerr = s.embedder.Embed(ctx, texts)
		return eerr
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	dims := s.embedder.Dims()
	for i, v := range vectors {
		if len(v) != dims {
			return nil, &Error{
				Kind: KindConsistency,
				Op:   "embed",
				Err:  fmt.Errorf("%w: vector %d has %d dims, collection expects %d", ErrDimensionMismatch, i, len(v), dims),
			}
		}
	}
	return vectors, nil
}

// call 对单次外部调用施加超时与 transient 重试
func (s *VectorStore) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return Retry(ctx, s.opts.RetryAttempts, func() error {
		callCtx := ctx
		if s.opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
			defer cancel()
		}
		return fn(callCtx)
	})
}

func (s *VectorStore) invalidate(ctx context.Context) {
	s.gen.Add(1)
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.InvalidateCollection(context.WithoutCancel(ctx), s.collection); err != nil {
		applog.Warn("[RAG/Cache] Invalidate failed", "collection", s.collection, "error", err)
	}
}

// wrap 补全后端上下文并记录错误指标
func (s *VectorStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	e, ok := err.(*Error)
	if !ok {
		e = NewError("", s.backend.Name(), s.collection, op, err)
	} else {
		cp := *e
		if cp.Backend == "" {
			cp.Backend = s.backend.Name()
		}
		if cp.Collection == "" {
			cp.Collection = s.collection
		}
		if cp.Op == "" {
			cp.Op = op
		}
		e = &cp
	}
	kind := string(e.Kind)
	if kind == "" {
		kind = "unknown"
	}
	metrics.BackendErrors.WithLabelValues(s.backend.Name(), op, kind).Inc()
	return e
}
