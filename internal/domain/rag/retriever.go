package rag

import (
	"context"
	"fmt"
	"strings"
)

// Retriever 检索入口：门面相似度检索 + 可选 LLM 重排。
type Retriever struct {
	store    *VectorStore
	reranker Reranker // 可选
}

// NewRetriever 创建检索器
func NewRetriever(store *VectorStore) *Retriever {
	return &Retriever{store: store}
}

// SetReranker 设置 Reranker（启用重排序）
func (r *Retriever) SetReranker(rr Reranker) {
	r.reranker = rr
}

// Store 返回底层门面
func (r *Retriever) Store() *VectorStore {
	return r.store
}

// Retrieve 检索 k 条结果。启用重排时先多取候选再截断到 k。
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]RetrievalResult, error) {
	if r.reranker == nil {
		return r.store.Search(ctx, query, k)
	}
	if k <= 0 {
		k = r.store.opts.DefaultTopK
	}
	candidates, err := r.store.Search(ctx, query, k*3)
	if err != nil {
		return nil, err
	}
	return r.reranker.Rerank(ctx, query, candidates, k)
}

// FormatContext 将检索结果按顺序格式化为 LLM 上下文，编号即相关性顺序。
func FormatContext(results []RetrievalResult) string {
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] ", i+1)
		if title, ok := r.Metadata[MetaTitle].(string); ok && title != "" {
			sb.WriteString(title)
			sb.WriteString("\n")
		}
		sb.WriteString(r.Text)
		fmt.Fprintf(&sb, "\n(source: %s)", r.Source())
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// Preview 截断为最多 n 个字符，超出部分以 "..." 结尾
func Preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
