// Package qa 检索增强问答：chain（检索 → 提示词 → 一次生成）与 agent（至多一次检索工具调用）。
package qa

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"
	"ragcore/internal/platform/metrics"
	"ragcore/internal/provider"
	"ragcore/internal/tool"
	ragtool "ragcore/internal/tool/rag"
)

// Mode 问答模式
type Mode string

const (
	ModeChain Mode = "chain"
	ModeAgent Mode = "agent"
)

// ParseMode 解析模式，空值为 chain
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeChain:
		return ModeChain, nil
	case ModeAgent:
		return ModeAgent, nil
	}
	return "", fmt.Errorf("unknown answer mode %q (want chain or agent)", s)
}

// Config 生成配置
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Mode        Mode
	DefaultK    int
	Prompt      Prompt
}

// Answer 问答结果：Citations 与模型实际看到的上下文一一对应且顺序一致
type Answer struct {
	Answer         string                `json:"answer"`
	Citations      []rag.RetrievalResult `json:"citations"`
	Mode           Mode                  `json:"mode"`
	Model          string                `json:"model,omitempty"`
	ToolCalled     bool                  `json:"tool_called,omitempty"`
	Usage          provider.Usage        `json:"usage"`
	ResponseTimeMs int64                 `json:"response_time_ms"`
}

// Answerer 检索/生成编排
type Answerer struct {
	retriever *rag.Retriever
	llm       provider.LLMProvider
	tools     *tool.Registry
	logs      rag.QueryLogStore // 可选
	cfg       Config
}

// NewAnswerer 创建编排器。agent 模式使用的 knowledge_search 工具在内部注册。
func NewAnswerer(retriever *rag.Retriever, llm provider.LLMProvider, logs rag.QueryLogStore, cfg Config) *Answerer {
	if cfg.Mode == "" {
		cfg.Mode = ModeChain
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 4
	}
	if cfg.Prompt.text == "" {
		cfg.Prompt = NewPrompt("")
	}
	tools := tool.NewRegistry()
	tools.Register(ragtool.NewRAGTool(retriever, cfg.DefaultK))
	return &Answerer{retriever: retriever, llm: llm, tools: tools, logs: logs, cfg: cfg}
}

// Mode 当前模式
func (a *Answerer) Mode() Mode { return a.cfg.Mode }

// Answer 回答问题。无论成功失败都写一条问答日志。
func (a *Answerer) Answer(ctx context.Context, question string, k int) (*Answer, error) {
	start := time.Now()
	if k <= 0 {
		k = a.cfg.DefaultK
	}

	var (
		ans *Answer
		err error
	)
	question = strings.TrimSpace(question)
	if question == "" {
		err = rag.DataError("answer", fmt.Errorf("%w: question is blank", rag.ErrEmptyInput))
	} else if a.cfg.Mode == ModeAgent {
		ans, err = a.agent(ctx, question, k)
	} else {
		ans, err = a.chain(ctx, question, k)
	}

	elapsed := time.Since(start)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.GenerationDuration.WithLabelValues(string(a.cfg.Mode), status).Observe(elapsed.Seconds())

	if ans != nil {
		ans.Mode = a.cfg.Mode
		ans.ResponseTimeMs = elapsed.Milliseconds()
	}
	a.logQuery(ctx, question, ans, err, elapsed)

	if err != nil {
		applog.Warn("[QA] Answer failed", "mode", a.cfg.Mode, "kind", rag.KindOf(err), "error", err)
		return nil, err
	}
	applog.Info("[QA] Answered",
		"mode", a.cfg.Mode,
		"citations", len(ans.Citations),
		"tool_called", ans.ToolCalled,
		"elapsed_ms", ans.ResponseTimeMs,
	)
	return ans, nil
}

// chain 检索 → 渲染提示词 → 一次生成
func (a *Answerer) chain(ctx context.Context, question string, k int) (*Answer, error) {
	results, err := a.retriever.Retrieve(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: a.cfg.Prompt.Render(rag.FormatContext(results), question)},
		{Role: provider.RoleUser, Content: question},
	}
	resp, err := a.complete(ctx, messages, nil)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Answer:    strings.TrimSpace(resp.Content),
		Citations: results,
		Model:     resp.Model,
		Usage:     resp.Usage,
	}, nil
}

// agent 第一次生成可选择调用 knowledge_search；若调用则执行一次后再生成，第二次不再提供工具
func (a *Answerer) agent(ctx context.Context, question string, k int) (*Answer, error) {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: DefaultAgentPrompt},
		{Role: provider.RoleUser, Content: question},
	}
	first, err := a.complete(ctx, messages, a.tools.Definitions(ragtool.Name))
	if err != nil {
		return nil, err
	}
	if len(first.ToolCalls) == 0 {
		return &Answer{
			Answer: strings.TrimSpace(first.Content),
			Model:  first.Model,
			Usage:  first.Usage,
		}, nil
	}

	messages = append(messages, provider.Message{
		Role:      provider.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})

	// 只执行第一个调用；其余调用也必须有 tool 回复
	var citations []rag.RetrievalResult
	for i, call := range first.ToolCalls {
		content := "Only one knowledge_search call is allowed per question."
		if i == 0 {
			result, err := a.executeTool(ctx, call, k)
			if err != nil {
				return nil, err
			}
			content = result.Content
			citations = result.Sources
		}
		messages = append(messages, provider.Message{
			Role:       provider.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Name:       call.Function.Name,
		})
	}

	final, err := a.complete(ctx, messages, nil)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Answer:     strings.TrimSpace(final.Content),
		Citations:  citations,
		Model:      final.Model,
		ToolCalled: true,
		Usage: provider.Usage{
			PromptTokens:     first.Usage.PromptTokens + final.Usage.PromptTokens,
			CompletionTokens: first.Usage.CompletionTokens + final.Usage.CompletionTokens,
			TotalTokens:      first.Usage.TotalTokens + final.Usage.TotalTokens,
		},
	}, nil
}

func (a *Answerer) executeTool(ctx context.Context, call provider.ToolCall, k int) (tool.Result, error) {
	if call.Function.Name != ragtool.Name {
		return tool.Result{}, rag.DataError("tool_call", fmt.Errorf("model requested unknown tool %q", call.Function.Name))
	}
	metrics.ToolCalls.WithLabelValues(call.Function.Name).Inc()

	args := call.Function.Arguments
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	result, err := a.tools.Execute(ctx, call.Function.Name, clampTopK(args, k))
	if err != nil {
		return tool.Result{}, fmt.Errorf("tool %s: %w", call.Function.Name, err)
	}
	return result, nil
}

func (a *Answerer) complete(ctx context.Context, messages []provider.Message, tools []provider.ToolDefinition) (*provider.CompletionResponse, error) {
	req := &provider.CompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		Tools:       tools,
	}
	if len(tools) > 0 {
		req.ToolChoice = "auto"
	}
	resp, err := a.llm.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm complete: %w", err)
	}
	return resp, nil
}

// logQuery 写问答日志，使用独立超时避免请求取消导致漏记
func (a *Answerer) logQuery(ctx context.Context, question string, ans *Answer, err error, elapsed time.Duration) {
	if a.logs == nil {
		return
	}
	info := rag.RequestInfoFrom(ctx)
	entry := &rag.QueryLog{
		Query:          question,
		Mode:           string(a.cfg.Mode),
		Collection:     a.retriever.Store().Collection(),
		ResponseTimeMs: elapsed.Milliseconds(),
		ClientIP:       info.ClientIP,
		UserAgent:      info.UserAgent,
		CreatedAt:      time.Now().UTC(),
	}
	if ans != nil {
		entry.Answer = ans.Answer
		entry.Sources = ans.Citations
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
	}

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if lerr := a.logs.CreateQueryLog(logCtx, entry); lerr != nil {
		applog.Warn("[QA] Failed to write query log", "error", lerr)
	}
}
