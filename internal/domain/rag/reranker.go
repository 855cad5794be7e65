package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	applog "ragcore/internal/platform/log"
	"ragcore/internal/provider"
)

// ── Reranker 接口 ─────────────────────────────────────────────

// Reranker 重排序接口
type Reranker interface {
	// Rerank 对候选结果按与 query 的相关性重新排序，返回不超过 topK 条
	Rerank(ctx context.Context, query string, results []RetrievalResult, topK int) ([]RetrievalResult, error)
}

// ── LLM Prompt-based Reranker 实现 ───────────────────────────

// LLMReranker 使用 LLM 做 prompt-based 相关性重排
type LLMReranker struct {
	llm   provider.LLMProvider
	model string
}

// NewLLMReranker 创建 LLM Reranker
func NewLLMReranker(llm provider.LLMProvider, model string) *LLMReranker {
	return &LLMReranker{llm: llm, model: model}
}

// Rerank 使用 LLM 打分并重排。打分写入 metadata 的 rerank_score，Score 不变。
// LLM 调用失败、解析失败或分数个数不符时保持原顺序，只截断到 topK。
func (r *LLMReranker) Rerank(ctx context.Context, query string, results []RetrievalResult, topK int) ([]RetrievalResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	start := time.Now()

	resp, err := r.llm.Complete(ctx, &provider.CompletionRequest{
		Model: r.model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "You score how relevant each passage is to the user's query. Reply with a JSON array of numbers between 0.0 and 1.0, one per passage, and nothing else."},
			{Role: provider.RoleUser, Content: buildRerankPrompt(query, results)},
		},
		Temperature: 0,
		MaxTokens:   512,
	})
	if err != nil {
		applog.Warn("[RAG/Reranker] LLM rerank failed, keeping retrieval order", "error", err)
		return results[:topK], nil
	}

	scores, err := parseScores(resp.Content, len(results))
	if err != nil {
		applog.Warn("[RAG/Reranker] Failed to parse scores, keeping retrieval order", "error", err, "response", resp.Content)
		return results[:topK], nil
	}

	type scored struct {
		result RetrievalResult
		score  float64
	}
	ranked := make([]scored, len(results))
	for i, res := range results {
		meta := make(map[string]any, len(res.Metadata)+1)
		for k, v := range res.Metadata {
			meta[k] = v
		}
		meta[MetaRerankScore] = scores[i]
		res.Metadata = meta
		ranked[i] = scored{result: res, score: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	reranked := make([]RetrievalResult, topK)
	for i := range reranked {
		reranked[i] = ranked[i].result
	}

	applog.Info("[RAG/Reranker] Reranked",
		"input", len(results),
		"output", topK,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return reranked, nil
}

func buildRerankPrompt(query string, results []RetrievalResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\nScore the following %d passages and return [score1, score2, ...]:\n\n", query, len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "[Passage %d]\n%s\n\n", i+1, Preview(r.Text, 300))
	}
	return sb.String()
}

// parseScores 解析评分数组，容忍 JSON 前后的多余文字
func parseScores(content string, expected int) ([]float64, error) {
	var scores []float64
	if err := json.Unmarshal([]byte(content), &scores); err != nil {
		start := strings.Index(content, "[")
		end := strings.LastIndex(content, "]")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("parse scores: %w", err)
		}
		if err := json.Unmarshal([]byte(content[start:end+1]), &scores); err != nil {
			return nil, fmt.Errorf("parse scores: %w", err)
		}
	}
	if len(scores) != expected {
		return nil, fmt.Errorf("parse scores: got %d scores for %d passages", len(scores), expected)
	}
	return scores, nil
}
