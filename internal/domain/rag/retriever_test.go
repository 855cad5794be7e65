package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ragcore/internal/provider"
)

// scriptedLLM 返回固定内容的 LLM
type scriptedLLM struct {
	content string
	err     error
	calls   int
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) Complete(context.Context, *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.CompletionResponse{Content: s.content}, nil
}

func sampleResults() []RetrievalResult {
	return []RetrievalResult{
		{ID: "1", Text: "first", Score: 0.9},
		{ID: "2", Text: "second", Score: 0.8},
		{ID: "3", Text: "third", Score: 0.7},
	}
}

// TestLLMReranker 测试按 LLM 评分重排
func TestLLMReranker(t *testing.T) {
	llm := &scriptedLLM{content: "Scores: [0.1, 0.95, 0.5]"}
	out, err := NewLLMReranker(llm, "m").Rerank(context.Background(), "q", sampleResults(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].ID != "2" || out[1].ID != "3" {
		t.Fatalf("unexpected order: %+v", out)
	}
	if out[0].Score != 0.8 || out[1].Score != 0.7 {
		t.Errorf("similarity scores overwritten: %v, %v", out[0].Score, out[1].Score)
	}
	if out[0].Metadata[MetaRerankScore] != 0.95 {
		t.Errorf("rerank_score = %v, want 0.95", out[0].Metadata[MetaRerankScore])
	}
}

// TestLLMReranker_Fallback LLM 失败时保持原顺序
func TestLLMReranker_Fallback(t *testing.T) {
	tests := []struct {
		name string
		llm  *scriptedLLM
	}{
		{"llm error", &scriptedLLM{err: errors.New("unavailable")}},
		{"unparseable", &scriptedLLM{content: "no idea"}},
		{"too few scores", &scriptedLLM{content: "[0.1]"}},
		{"too many scores", &scriptedLLM{content: "[0.1, 0.2, 0.3, 0.9]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewLLMReranker(tt.llm, "m").Rerank(context.Background(), "q", sampleResults(), 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(out) != 2 || out[0].ID != "1" || out[1].ID != "2" {
				t.Errorf("unexpected order: %+v", out)
			}
			for _, r := range out {
				if _, ok := r.Metadata[MetaRerankScore]; ok {
					t.Errorf("fallback result %s carries rerank_score", r.ID)
				}
			}
		})
	}
}

// TestRetriever_WithReranker 启用重排时候选数为 3k，输出截断到 k
func TestRetriever_WithReranker(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newMemBackend(), StoreOptions{})
	var chunks []Chunk
	for i, text := range []string{"alpha beta", "beta gamma", "gamma delta", "delta alpha"} {
		chunks = append(chunks, Chunk{DocumentID: string(rune('a' + i)), Content: text})
	}
	if _, err := store.Upsert(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	r := NewRetriever(store)
	r.SetReranker(NewLLMReranker(&scriptedLLM{content: "[0.1, 0.2, 0.9]"}, "m"))
	out, err := r.Retrieve(ctx, "alpha", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 result, got %d", len(out))
	}
	if out[0].Metadata[MetaRerankScore] != 0.9 {
		t.Errorf("rerank_score = %v, want 0.9", out[0].Metadata[MetaRerankScore])
	}
	if out[0].Score == 0.9 {
		t.Error("similarity score overwritten by rerank score")
	}
}

// TestFormatContext 编号、标题与来源
func TestFormatContext(t *testing.T) {
	got := FormatContext([]RetrievalResult{
		{ID: "x", Text: "Ships in Kenya.", Metadata: map[string]any{MetaTitle: "Shipping", MetaSource: "faq.md"}},
		{ID: "y", Text: "Pay with mobile money."},
	})
	want := "[1] Shipping\nShips in Kenya.\n(source: faq.md)\n\n[2] Pay with mobile money.\n(source: y)"
	if got != want {
		t.Errorf("FormatContext() =\n%s\nwant\n%s", got, want)
	}
	if FormatContext(nil) != "" {
		t.Error("empty results should format to empty string")
	}
}

// TestPreview 按字符截断
func TestPreview(t *testing.T) {
	if got := Preview("短文本", 10); got != "短文本" {
		t.Errorf("Preview = %q", got)
	}
	if got := Preview(strings.Repeat("知", 5), 3); got != "知知知..." {
		t.Errorf("Preview = %q", got)
	}
}
