package ragtool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ragcore/internal/domain/rag"
	"ragcore/internal/tool"
)

// Name 检索工具名
const Name = "knowledge_search"

// noResults 无命中时回传给 LLM 的文本
const noResults = "No relevant documents were found for this query."

// RAGTool 知识库检索工具
type RAGTool struct {
	retriever *rag.Retriever
	topK      int
}

var _ tool.Tool = (*RAGTool)(nil)

// NewRAGTool 创建知识库检索工具，topK 为 LLM 未指定时的默认条数
func NewRAGTool(retriever *rag.Retriever, topK int) *RAGTool {
	if topK <= 0 {
		topK = 4
	}
	return &RAGTool{retriever: retriever, topK: topK}
}

func (t *RAGTool) Name() string {
	return Name
}

func (t *RAGTool) Description() string {
	return "Search the documentation knowledge base. Use it whenever the question may be answered by the indexed documents."
}

func (t *RAGTool) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query for the knowledge base",
			},
			"top_k": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum number of passages to return, default %d", t.topK),
			},
		},
		"required": []string{"query"},
	}
}

// ragToolArguments LLM 传入的动态参数
type ragToolArguments struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Execute 执行知识库检索
func (t *RAGTool) Execute(ctx context.Context, arguments string) (tool.Result, error) {
	var args ragToolArguments
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return tool.Result{}, rag.DataError("knowledge_search", fmt.Errorf("invalid arguments: %w", err))
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return tool.Result{}, rag.DataError("knowledge_search", fmt.Errorf("%w: query is required", rag.ErrEmptyInput))
	}

	// LLM 动态参数优先，其次为默认值
	topK := t.topK
	if args.TopK > 0 {
		topK = args.TopK
	}

	results, err := t.retriever.Retrieve(ctx, args.Query, topK)
	if err != nil {
		return tool.Result{}, fmt.Errorf("knowledge search failed: %w", err)
	}
	if len(results) == 0 {
		return tool.Result{Content: noResults}, nil
	}
	return tool.Result{Content: rag.FormatContext(results), Sources: results}, nil
}
