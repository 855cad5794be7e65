package rag

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestHashEmbedder 维度、归一化与确定性
func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(32)
	vecs, err := e.Embed(context.Background(), []string{"Ships to Kenya", "ships to kenya", ""})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 || len(vecs[0]) != 32 {
		t.Fatalf("unexpected shape: %d x %d", len(vecs), len(vecs[0]))
	}
	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("vector not unit length: %v", norm)
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatal("case should not change the embedding")
		}
	}
	for _, v := range vecs[2] {
		if v != 0 {
			t.Fatal("empty text should embed to the zero vector")
		}
	}
}

// embeddingServer 模拟 /embeddings 接口，逆序返回以检验按 index 重排
func embeddingServer(t *testing.T, dims int, status int) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream says no","type":"server_error"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float32, dims)
			vec[0] = float32(len(req.Input[i]))
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "text-embedding-3-small",
			"usage":  map[string]int{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// TestOpenAIEmbedder_Batches 分批请求且输出顺序与输入一致
func TestOpenAIEmbedder_Batches(t *testing.T) {
	srv, calls := embeddingServer(t, 4, http.StatusOK)
	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, APIKey: "test", Dims: 4, BatchSize: 2})

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if *calls != 3 {
		t.Errorf("expected 3 batch requests, got %d", *calls)
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
}

// TestOpenAIEmbedder_DimensionMismatch 模型返回维度与配置不符
func TestOpenAIEmbedder_DimensionMismatch(t *testing.T) {
	srv, _ := embeddingServer(t, 3, http.StatusOK)
	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, APIKey: "test", Dims: 4})

	_, err := e.Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrDimensionMismatch) || KindOf(err) != KindConsistency {
		t.Errorf("expected consistency error, got %v (kind %q)", err, KindOf(err))
	}
}

// TestOpenAIEmbedder_UpstreamError 上游 5xx 分类为 transient
func TestOpenAIEmbedder_UpstreamError(t *testing.T) {
	srv, _ := embeddingServer(t, 4, http.StatusBadGateway)
	e := NewOpenAIEmbedder(OpenAIEmbedderConfig{BaseURL: srv.URL, APIKey: "test", Dims: 4})

	_, err := e.Embed(context.Background(), []string{"x"})
	if !IsRetryable(err) {
		t.Errorf("502 should be transient, got %v (kind %q)", err, KindOf(err))
	}
}
