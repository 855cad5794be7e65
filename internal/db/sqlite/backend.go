package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"ragcore/internal/domain/rag"
)

const backendName = "local"

// Backend 本地向量后端：精确余弦相似度在进程内计算，同分按写入顺序（seq）排列。
// 集合维度在首次创建时固定，之后以不同维度打开视为 consistency 错误。
type Backend struct {
	store *Store
}

var _ rag.Backend = (*Backend)(nil)

// Name 后端名
func (b *Backend) Name() string { return backendName }

// EnsureCollection 不存在则创建；已存在则校验维度
func (b *Backend) EnsureCollection(ctx context.Context, collection string, dims int) error {
	var existing int
	err := b.store.db.QueryRowContext(ctx, "SELECT dims FROM collections WHERE name = ?", collection).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = b.store.db.ExecContext(ctx,
			"INSERT INTO collections (name, dims, metric, created_at) VALUES (?, ?, 'cosine', ?)",
			collection, dims, formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("create collection %s: %w", collection, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read collection %s: %w", collection, err)
	}

	if existing != dims {
		return rag.NewError(rag.KindConsistency, backendName, collection, "ensure_collection",
			fmt.Errorf("%w: collection has %d dims, embedder produces %d", rag.ErrDimensionMismatch, existing, dims))
	}
	return nil
}

// Write 以 (collection, id) 覆盖写入，覆盖时保留原 seq
func (b *Backend) Write(ctx context.Context, collection string, records []rag.Record) error {
	dims, err := b.dims(ctx, collection)
	if err != nil {
		return err
	}

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (collection, id, namespace, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			namespace = excluded.namespace,
			content   = excluded.content,
			metadata  = excluded.metadata,
			embedding = excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if len(r.Vector) != dims {
			return rag.NewError(rag.KindConsistency, backendName, collection, "write",
				fmt.Errorf("%w: record %s has %d dims, collection has %d", rag.ErrDimensionMismatch, r.ID, len(r.Vector), dims))
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return rag.DataError("write", fmt.Errorf("marshal metadata for %s: %w", r.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, collection, r.ID, r.Namespace, r.Content, string(meta), encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

type scored struct {
	match rag.Match
	seq   int64
}

// Query 全表扫描计算余弦相似度，返回前 K 条
func (b *Backend) Query(ctx context.Context, collection string, req rag.QueryRequest) ([]rag.Match, error) {
	query := "SELECT seq, id, content, metadata, embedding FROM chunks WHERE collection = ?"
	args := []any{collection}
	if req.Namespace != "" {
		query += " AND namespace = ?"
		args = append(args, req.Namespace)
	}
	rows, err := b.store.db.QueryContext(ctx, query+" ORDER BY seq", args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var hits []scored
	for rows.Next() {
		var (
			h        scored
			metaJSON string
			blob     []byte
		)
		if err := rows.Scan(&h.seq, &h.match.ID, &h.match.Content, &metaJSON, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		vec := decodeVector(blob)
		if len(vec) != len(req.Vector) {
			return nil, rag.NewError(rag.KindConsistency, backendName, collection, "query",
				fmt.Errorf("%w: stored %d dims, query %d", rag.ErrDimensionMismatch, len(vec), len(req.Vector)))
		}
		if err := json.Unmarshal([]byte(metaJSON), &h.match.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", h.match.ID, err)
		}
		h.match.Score = cosine(req.Vector, vec)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].match.Score != hits[j].match.Score {
			return hits[i].match.Score > hits[j].match.Score
		}
		return hits[i].seq < hits[j].seq
	})
	if req.K > 0 && len(hits) > req.K {
		hits = hits[:req.K]
	}
	out := make([]rag.Match, len(hits))
	for i, h := range hits {
		out[i] = h.match
	}
	return out, nil
}

// DeleteAll 清空集合或命名空间；集合定义（维度）保留
func (b *Backend) DeleteAll(ctx context.Context, collection, namespace string) error {
	var err error
	if namespace == "" {
		_, err = b.store.db.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ?", collection)
	} else {
		_, err = b.store.db.ExecContext(ctx, "DELETE FROM chunks WHERE collection = ? AND namespace = ?", collection, namespace)
	}
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// Close 连接由 Store 统一关闭
func (b *Backend) Close(context.Context) error { return nil }

// Count 集合内分块数量
func (b *Backend) Count(ctx context.Context, collection string) (int, error) {
	var n int
	if err := b.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE collection = ?", collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (b *Backend) dims(ctx context.Context, collection string) (int, error) {
	var dims int
	err := b.store.db.QueryRowContext(ctx, "SELECT dims FROM collections WHERE name = ?", collection).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, rag.NewError(rag.KindConfiguration, backendName, collection, "write", fmt.Errorf("collection %s does not exist", collection))
	}
	if err != nil {
		return 0, fmt.Errorf("read collection %s: %w", collection, err)
	}
	return dims, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
