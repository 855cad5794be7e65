package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ragcore/internal/domain/rag"
	"ragcore/internal/provider"
)

// TestProvider_Complete 请求字段映射与 tool_calls 解析
func TestProvider_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "c1", "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "knowledge_search", "arguments": "{\"query\":\"shipping\"}"}}]
			}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/"})
	resp, err := p.Complete(context.Background(), &provider.CompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "Where do you ship?"}},
		Tools: []provider.ToolDefinition{{
			Type:     "function",
			Function: provider.ToolFunction{Name: "knowledge_search", Parameters: map[string]any{"type": "object"}},
		}},
		ToolChoice: "auto",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	if got["model"] != "gpt-4o-mini" || got["tool_choice"] != "auto" {
		t.Errorf("request not mapped: %v", got)
	}
	if tools, _ := got["tools"].([]any); len(tools) != 1 {
		t.Errorf("tools not sent: %v", got["tools"])
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "knowledge_search" {
		t.Fatalf("tool calls not parsed: %+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 15 || resp.FinishReason != "tool_calls" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

// TestProvider_ErrorKinds 远端状态码映射为错误分类
func TestProvider_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   rag.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, rag.KindTransient},
		{"unauthorized", http.StatusUnauthorized, rag.KindConfiguration},
		{"bad request", http.StatusBadRequest, rag.KindData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			}))
			defer srv.Close()

			p := New(Config{APIKey: "k", BaseURL: srv.URL})
			_, err := p.Complete(context.Background(), &provider.CompletionRequest{
				Model:    "m",
				Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
			})
			if got := rag.KindOf(err); got != tt.want {
				t.Errorf("kind = %q, want %q (err=%v)", got, tt.want, err)
			}
		})
	}
}
