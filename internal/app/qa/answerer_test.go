package qa

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ragcore/internal/db/sqlite"
	"ragcore/internal/domain/rag"
	"ragcore/internal/provider"
)

// scriptedLLM 按顺序返回预设响应并记录请求
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*provider.CompletionResponse
	err       error
	requests  []*provider.CompletionRequest
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Complete(_ context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.requests) > len(s.responses) {
		return nil, errors.New("unexpected extra completion")
	}
	return s.responses[len(s.requests)-1], nil
}

// memLogs 内存问答日志
type memLogs struct {
	entries []*rag.QueryLog
}

func (m *memLogs) CreateQueryLog(_ context.Context, e *rag.QueryLog) error {
	m.entries = append(m.entries, e)
	return nil
}

func newRetriever(t *testing.T) *rag.Retriever {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "qa.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	store := rag.NewVectorStore(st.Backend(), rag.NewHashEmbedder(64), "docs", rag.StoreOptions{})
	_, err = store.Upsert(context.Background(), []rag.Chunk{
		{DocumentID: "shipping", Index: 0, Content: "We ship to Kenya and Uganda within five days.", Metadata: map[string]any{rag.MetaSource: "shipping.md"}},
		{DocumentID: "returns", Index: 0, Content: "Returns are accepted within thirty days of purchase.", Metadata: map[string]any{rag.MetaSource: "returns.md"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return rag.NewRetriever(store)
}

// TestAnswerer_Chain 检索结果进入提示词，引用与上下文顺序一致，写入问答日志
func TestAnswerer_Chain(t *testing.T) {
	llm := &scriptedLLM{responses: []*provider.CompletionResponse{{Content: " We ship to Kenya. ", Model: "m"}}}
	logs := &memLogs{}
	a := NewAnswerer(newRetriever(t), llm, logs, Config{Model: "m"})

	ctx := rag.WithRequestInfo(context.Background(), &rag.RequestInfo{ClientIP: "10.0.0.1", UserAgent: "test"})
	ans, err := a.Answer(ctx, "Where do you ship?", 2)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if ans.Answer != "We ship to Kenya." || ans.Mode != ModeChain {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if len(ans.Citations) != 2 || ans.Citations[0].Source() != "shipping.md" {
		t.Fatalf("unexpected citations: %+v", ans.Citations)
	}

	if len(llm.requests) != 1 {
		t.Fatalf("chain mode made %d completions, want 1", len(llm.requests))
	}
	system := llm.requests[0].Messages[0].Content
	if !strings.Contains(system, "[1] We ship to Kenya") || !strings.Contains(system, NoInformation) {
		t.Errorf("context not rendered into prompt:\n%s", system)
	}
	if len(llm.requests[0].Tools) != 0 {
		t.Error("chain mode must not offer tools")
	}

	if len(logs.entries) != 1 {
		t.Fatalf("query logs = %d, want 1", len(logs.entries))
	}
	entry := logs.entries[0]
	if entry.ClientIP != "10.0.0.1" || entry.Answer != ans.Answer || len(entry.Sources) != 2 || entry.Collection != "docs" {
		t.Errorf("unexpected query log: %+v", entry)
	}
}

// TestAnswerer_AgentToolCall 工具只执行一次，第二次生成不再提供工具
func TestAnswerer_AgentToolCall(t *testing.T) {
	llm := &scriptedLLM{responses: []*provider.CompletionResponse{
		{ToolCalls: []provider.ToolCall{
			{ID: "call_1", Type: "function", Function: provider.ToolCallFunction{Name: "knowledge_search", Arguments: `{"query":"returns policy"}`}},
			{ID: "call_2", Type: "function", Function: provider.ToolCallFunction{Name: "knowledge_search", Arguments: `{"query":"shipping"}`}},
		}, Usage: provider.Usage{TotalTokens: 10}},
		{Content: "Returns are accepted within thirty days.", Usage: provider.Usage{TotalTokens: 20}},
	}}
	a := NewAnswerer(newRetriever(t), llm, nil, Config{Mode: ModeAgent})

	ans, err := a.Answer(context.Background(), "What is the returns policy?", 1)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if !ans.ToolCalled || ans.Usage.TotalTokens != 30 {
		t.Errorf("unexpected answer: %+v", ans)
	}
	if len(ans.Citations) != 1 || ans.Citations[0].Source() != "returns.md" {
		t.Errorf("citations should come from the executed call: %+v", ans.Citations)
	}

	if len(llm.requests) != 2 {
		t.Fatalf("completions = %d, want 2", len(llm.requests))
	}
	if len(llm.requests[0].Tools) != 1 || llm.requests[0].ToolChoice != "auto" {
		t.Errorf("first completion should offer knowledge_search: %+v", llm.requests[0].Tools)
	}
	second := llm.requests[1]
	if len(second.Tools) != 0 {
		t.Error("second completion must not offer tools")
	}
	var toolMsgs []provider.Message
	for _, m := range second.Messages {
		if m.Role == provider.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 || !strings.Contains(toolMsgs[0].Content, "Returns are accepted") || !strings.Contains(toolMsgs[1].Content, "Only one") {
		t.Errorf("unexpected tool replies: %+v", toolMsgs)
	}
}

// TestAnswerer_AgentTopKClamped 模型请求的 top_k 不能超过调用方的 k
func TestAnswerer_AgentTopKClamped(t *testing.T) {
	llm := &scriptedLLM{responses: []*provider.CompletionResponse{
		{ToolCalls: []provider.ToolCall{
			{ID: "call_1", Type: "function", Function: provider.ToolCallFunction{Name: "knowledge_search", Arguments: `{"query":"returns","top_k":50}`}},
		}},
		{Content: "Returns are accepted within thirty days."},
	}}
	a := NewAnswerer(newRetriever(t), llm, nil, Config{Mode: ModeAgent})

	ans, err := a.Answer(context.Background(), "What is the returns policy?", 1)
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if len(ans.Citations) != 1 {
		t.Errorf("citations = %d, want at most k=1", len(ans.Citations))
	}
}

// TestAnswerer_AgentNoToolCall 模型直接作答时没有引用
func TestAnswerer_AgentNoToolCall(t *testing.T) {
	llm := &scriptedLLM{responses: []*provider.CompletionResponse{{Content: "Hello!"}}}
	a := NewAnswerer(newRetriever(t), llm, nil, Config{Mode: ModeAgent})

	ans, err := a.Answer(context.Background(), "hi", 0)
	if err != nil {
		t.Fatal(err)
	}
	if ans.Answer != "Hello!" || ans.ToolCalled || len(ans.Citations) != 0 {
		t.Errorf("unexpected answer: %+v", ans)
	}
}

// TestAnswerer_Failures 失败也写日志，错误分类保留
func TestAnswerer_Failures(t *testing.T) {
	logs := &memLogs{}
	llm := &scriptedLLM{err: &rag.StatusError{StatusCode: 503, Body: "overloaded"}}
	a := NewAnswerer(newRetriever(t), llm, logs, Config{})

	_, err := a.Answer(context.Background(), "Where do you ship?", 2)
	if rag.KindOf(err) != rag.KindTransient {
		t.Errorf("expected transient error, got %v", err)
	}

	_, err = a.Answer(context.Background(), "   ", 2)
	if rag.KindOf(err) != rag.KindData {
		t.Errorf("blank question should be a data error, got %v", err)
	}

	if len(logs.entries) != 2 {
		t.Fatalf("query logs = %d, want 2", len(logs.entries))
	}
	for _, e := range logs.entries {
		if e.ErrorMessage == "" || e.Answer != "" {
			t.Errorf("failed query log should carry error and empty answer: %+v", e)
		}
	}
}

// TestParseMode 模式解析
func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeChain, false},
		{"Chain", ModeChain, false},
		{" agent ", ModeAgent, false},
		{"react", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

// TestLoadPrompt 自定义模板必须包含 {context}
func TestLoadPrompt(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	bad := filepath.Join(dir, "bad.txt")
	writeFile(t, good, "Context: {context}\nQ: {question}")
	writeFile(t, bad, "no placeholder")

	p, err := LoadPrompt(good)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Render("C", "Q?"); got != "Context: C\nQ: Q?" {
		t.Errorf("Render = %q", got)
	}
	if _, err := LoadPrompt(bad); err == nil {
		t.Error("template without {context} should be rejected")
	}
	if p, _ := LoadPrompt(""); !strings.Contains(p.Render("x", "y"), NoInformation) {
		t.Error("default prompt missing fallback sentence")
	}
}

// TestClampTopK 模型未给 top_k 时补齐，超过请求 k 时截断
func TestClampTopK(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"query":"a"}`, `{"query":"a","top_k":3}`},
		{`{"query":"a","top_k":2}`, `{"query":"a","top_k":2}`},
		{`{"query":"a","top_k":3}`, `{"query":"a","top_k":3}`},
		{`{"query":"a","top_k":50}`, `{"query":"a","top_k":3}`},
		{`{"query":"a","top_k":0}`, `{"query":"a","top_k":3}`},
		{`null`, `null`},
		{`not json`, `not json`},
	}
	for _, tt := range tests {
		if got := clampTopK(tt.in, 3); got != tt.want {
			t.Errorf("clampTopK(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
