// Package tool 可供 LLM 调用的工具契约与注册表。
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ragcore/internal/domain/rag"
	"ragcore/internal/provider"
)

// Result 工具执行结果：Content 作为 tool message 回传给 LLM，Sources 为其依据的检索结果
type Result struct {
	Content string
	Sources []rag.RetrievalResult
}

// Tool 工具接口
type Tool interface {
	// Name 工具名称（唯一标识）
	Name() string

	// Description 工具描述（传给 LLM 作为 function description）
	Description() string

	// Parameters 参数的 JSON Schema（传给 LLM 作为 function parameters）
	Parameters() any

	// Execute 执行工具，arguments 为 LLM 传入的 JSON string
	Execute(ctx context.Context, arguments string) (Result, error)
}

// Registry 工具注册表
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建工具注册表
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register 注册工具
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get 获取工具
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions 将注册的工具转为 Provider ToolDefinition 列表（按名称排序）
// names 为空时返回所有工具；否则只返回指定名称的工具
func (r *Registry) Definitions(names ...string) []provider.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	var defs []provider.ToolDefinition
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Execute 执行指定名称的工具
func (r *Registry) Execute(ctx context.Context, name string, arguments string) (Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("tool not found: %s", name)
	}
	return t.Execute(ctx, arguments)
}
