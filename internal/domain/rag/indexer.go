package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	applog "ragcore/internal/platform/log"
	"ragcore/internal/platform/metrics"
)

// auditTimeout 终态写入的超时；与请求 ctx 解耦，客户端断开后审计记录仍能落库
const auditTimeout = 10 * time.Second

// IndexOptions 单次入库参数
type IndexOptions struct {
	Force     bool   // 先清空集合/命名空间再写入
	Namespace string // 为空使用门面默认命名空间
	Actor     string // 触发者（管理员用户 ID 等）
}

// IndexRequest 入库请求。Load 在审计记录创建之后执行，加载失败同样留痕。
type IndexRequest struct {
	Operation OperationType
	Load      func(ctx context.Context) ([]Document, error)
	IndexOptions
}

// Indexer 入库编排：创建审计记录 → 加载 → 分块 → 可选清空 → 写入 → 终态。
type Indexer struct {
	store   *VectorStore
	chunker *Chunker
	runs    RunStore
	loader  *Loader
	lock    IndexLock // 可选：force 入库的集合级互斥
}

// NewIndexer 创建入库编排器
func NewIndexer(store *VectorStore, chunker *Chunker, runs RunStore, loader *Loader) *Indexer {
	return &Indexer{
		store:   store,
		chunker: chunker,
		runs:    runs,
		loader:  loader,
	}
}

// SetLock 设置集合级入库锁
func (x *Indexer) SetLock(l IndexLock) {
	x.lock = l
}

// Store 返回向量门面
func (x *Indexer) Store() *VectorStore {
	return x.store
}

// Loader 返回文档加载器
func (x *Indexer) Loader() *Loader {
	return x.loader
}

// IndexDocuments 入库调用方直接提供的文档
func (x *Indexer) IndexDocuments(ctx context.Context, docs []Document, opts IndexOptions) (*IndexingRun, error) {
	return x.Run(ctx, IndexRequest{
		Operation:    OpDocumentIndexing,
		Load:         func(context.Context) ([]Document, error) { return docs, nil },
		IndexOptions: opts,
	})
}

// IndexURLs 抓取 URL 后入库
func (x *Indexer) IndexURLs(ctx context.Context, urls []string, opts IndexOptions) (*IndexingRun, error) {
	return x.Run(ctx, IndexRequest{
		Operation: OpURLIndexing,
		Load: func(ctx context.Context) ([]Document, error) {
			return x.loader.LoadURLs(ctx, urls)
		},
		IndexOptions: opts,
	})
}

// IndexDirectory 加载目录后入库
func (x *Indexer) IndexDirectory(ctx context.Context, dir string, opts IndexOptions) (*IndexingRun, error) {
	return x.Run(ctx, IndexRequest{
		Operation: OpDirectoryIndexing,
		Load: func(ctx context.Context) ([]Document, error) {
			return x.loader.LoadDirectory(ctx, dir)
		},
		IndexOptions: opts,
	})
}

// IndexUpload 解析上传文件后入库。空文件视为 data 错误。
func (x *Indexer) IndexUpload(ctx context.Context, r io.Reader, filename string, opts IndexOptions) (*IndexingRun, error) {
	return x.Run(ctx, IndexRequest{
		Operation: OpUploadIndexing,
		Load: func(ctx context.Context) ([]Document, error) {
			doc, err := x.loader.LoadReader(r, filename, "upload://"+filename)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(doc.Text) == "" {
				return nil, DataError("upload", fmt.Errorf("%w: %s has no extractable text", ErrEmptyInput, filename))
			}
			return []Document{doc}, nil
		},
		IndexOptions: opts,
	})
}

// Run 执行一次入库。审计记录在开始时以 in_progress 落库，结束时恰好更新一次为 success 或 failed；
// 失败时错误原样返回给调用方。
func (x *Indexer) Run(ctx context.Context, req IndexRequest) (*IndexingRun, error) {
	namespace := req.Namespace
	if namespace == "" {
		namespace = x.store.Namespace()
	}
	collection := x.store.Collection()

	if req.Force && x.lock != nil {
		ok, err := x.lock.Acquire(ctx, collection)
		if err != nil {
			return nil, NewError("", "lock", collection, "acquire", err)
		}
		if !ok {
			return nil, &Error{Kind: KindConsistency, Collection: collection, Op: "index", Err: ErrIndexBusy}
		}
		defer func() {
			if err := x.lock.Release(context.WithoutCancel(ctx), collection); err != nil {
				applog.Warn("[RAG/Indexer] Lock release failed", "collection", collection, "error", err)
			}
		}()
	}

	run := &IndexingRun{
		OperationType: req.Operation,
		Status:        RunStatusInProgress,
		Collection:    collection,
		Namespace:     namespace,
		Force:         req.Force,
		Actor:         req.Actor,
		StartedAt:     time.Now().UTC(),
	}
	if err := x.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create indexing run: %w", err)
	}
	applog.Info("[RAG/Indexer] Run started",
		"run_id", run.ID,
		"operation", run.OperationType,
		"collection", collection,
		"namespace", namespace,
		"force", req.Force,
	)

	docs, chunks, err := x.execute(ctx, req, namespace)
	run.DocumentsProcessed = docs
	run.ChunksCreated = chunks
	return run, x.finish(ctx, run, err)
}

func (x *Indexer) execute(ctx context.Context, req IndexRequest, namespace string) (int, int, error) {
	if req.Load == nil {
		return 0, 0, ConfigError("index", errors.New("index request has no loader"))
	}
	docs, err := req.Load(ctx)
	if err != nil {
		return 0, 0, err
	}

	seen := make(map[string]struct{}, len(docs))
	var chunks []Chunk
	for _, doc := range docs {
		if doc.ID != "" {
			if _, dup := seen[doc.ID]; dup {
				return len(docs), 0, DataError("chunk", fmt.Errorf("duplicate document id %q in one request", doc.ID))
			}
			seen[doc.ID] = struct{}{}
		}
		chunks = append(chunks, x.chunker.ChunkDocument(doc)...)
	}

	// 先生成全部向量，embedding 失败时旧数据保持不动
	records, err := x.store.prepare(ctx, namespace, chunks)
	if err != nil {
		return len(docs), 0, err
	}
	if req.Force {
		if err := x.store.DeleteAll(ctx, namespace); err != nil {
			return len(docs), 0, err
		}
	}

	n, err := x.store.write(ctx, namespace, records)
	if err != nil {
		return len(docs), n, err
	}
	return len(docs), n, nil
}

// finish 写入终态。返回值为原始错误；若仅审计更新失败，则返回更新错误。
func (x *Indexer) finish(ctx context.Context, run *IndexingRun, runErr error) error {
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if runErr != nil {
		run.Status = RunStatusFailed
		run.ErrorMessage = runErr.Error()
	} else {
		run.Status = RunStatusSuccess
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	updateErr := x.runs.UpdateRun(auditCtx, run)

	elapsed := completed.Sub(run.StartedAt)
	metrics.IndexingRuns.WithLabelValues(string(run.OperationType), string(run.Status)).Inc()
	metrics.IndexingDuration.WithLabelValues(string(run.OperationType)).Observe(elapsed.Seconds())

	if runErr != nil {
		applog.Error("[RAG/Indexer] Run failed",
			"run_id", run.ID,
			"operation", run.OperationType,
			"kind", KindOf(runErr),
			"error", runErr,
		)
	} else {
		applog.Info("[RAG/Indexer] Run succeeded",
			"run_id", run.ID,
			"operation", run.OperationType,
			"documents", run.DocumentsProcessed,
			"chunks", run.ChunksCreated,
			"elapsed_ms", elapsed.Milliseconds(),
		)
	}

	if updateErr != nil {
		applog.Error("[RAG/Indexer] Failed to persist run status", "run_id", run.ID, "error", updateErr)
		if runErr == nil {
			return fmt.Errorf("update indexing run: %w", updateErr)
		}
	}
	return runErr
}
