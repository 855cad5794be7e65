package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ragcore/internal/domain/rag"
)

type fakeVector struct {
	values   []float32
	metadata map[string]any
}

// fakePinecone 同一 httptest 服务同时承担控制面与数据面
type fakePinecone struct {
	mu         sync.Mutex
	url        string
	dims       map[string]int
	readyAfter int // describe 多少次之后才就绪
	describes  int
	created    int
	deleted    int
	vectors    map[string]map[string]fakeVector // namespace -> id -> vector
	headers    http.Header
}

func (f *fakePinecone) model(name string) map[string]any {
	ready := f.describes >= f.readyAfter
	return map[string]any{
		"name":      name,
		"dimension": f.dims[name],
		"metric":    "cosine",
		"host":      f.url,
		"status":    map[string]any{"ready": ready, "state": map[bool]string{true: "Ready", false: "Initializing"}[ready]},
	}
}

func (f *fakePinecone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = r.Header.Clone()

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	ns, _ := body["namespace"].(string)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/indexes":
		list := []map[string]any{}
		for name := range f.dims {
			list = append(list, f.model(name))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"indexes": list})

	case r.Method == http.MethodPost && r.URL.Path == "/indexes":
		name := body["name"].(string)
		f.dims[name] = int(body["dimension"].(float64))
		f.describes = 0
		f.created++
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(f.model(name))

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/indexes/"):
		f.describes++
		_ = json.NewEncoder(w).Encode(f.model(strings.TrimPrefix(r.URL.Path, "/indexes/")))

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/indexes/"):
		delete(f.dims, strings.TrimPrefix(r.URL.Path, "/indexes/"))
		f.deleted++
		w.WriteHeader(http.StatusAccepted)

	case r.URL.Path == "/vectors/upsert":
		if f.vectors[ns] == nil {
			f.vectors[ns] = map[string]fakeVector{}
		}
		items, _ := body["vectors"].([]any)
		for _, it := range items {
			v := it.(map[string]any)
			var values []float32
			for _, x := range v["values"].([]any) {
				values = append(values, float32(x.(float64)))
			}
			meta, _ := v["metadata"].(map[string]any)
			f.vectors[ns][v["id"].(string)] = fakeVector{values: values, metadata: meta}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"upsertedCount": len(items)})

	case r.URL.Path == "/query":
		matches := []map[string]any{}
		for id, v := range f.vectors[ns] {
			matches = append(matches, map[string]any{"id": id, "score": 0.9, "metadata": v.metadata})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"matches": matches})

	case r.URL.Path == "/describe_index_stats":
		stats := map[string]any{}
		for name, vs := range f.vectors {
			stats[name] = map[string]any{"vectorCount": len(vs)}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"namespaces": stats})

	case r.URL.Path == "/vectors/delete":
		if body["deleteAll"] == true {
			delete(f.vectors, ns)
		}
		_, _ = w.Write([]byte(`{}`))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, readyAfter int) (*Client, *fakePinecone) {
	t.Helper()
	fake := &fakePinecone{dims: map[string]int{}, vectors: map[string]map[string]fakeVector{}, readyAfter: readyAfter}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	fake.url = srv.URL
	c := NewClient(Config{
		APIKey:       "pc-test",
		ControlURL:   srv.URL,
		Cloud:        "aws",
		Region:       "us-east-1",
		ReadyPolls:   5,
		PollInterval: time.Millisecond,
	})
	return c, fake
}

// TestClient_EnsureCollection 创建后轮询就绪，维度不一致时删除重建
func TestClient_EnsureCollection(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t, 2)

	if err := c.EnsureCollection(ctx, "Support_Docs", 3); err != nil {
		t.Fatalf("EnsureCollection failed: %v", err)
	}
	if fake.dims["support-docs"] != 3 {
		t.Fatalf("index name not normalized: %v", fake.dims)
	}
	if fake.headers.Get("Api-Key") != "pc-test" || fake.headers.Get("X-Pinecone-API-Version") == "" {
		t.Errorf("missing auth headers: %v", fake.headers)
	}

	if err := c.EnsureCollection(ctx, "Support_Docs", 3); err != nil {
		t.Fatal(err)
	}
	if fake.created != 1 {
		t.Errorf("created %d times, want 1", fake.created)
	}

	if err := c.EnsureCollection(ctx, "Support_Docs", 6); err != nil {
		t.Fatal(err)
	}
	if fake.deleted != 1 || fake.dims["support-docs"] != 6 {
		t.Errorf("mismatch not resolved: deleted=%d dims=%d", fake.deleted, fake.dims["support-docs"])
	}
}

// TestClient_NotReady 超过轮询次数返回 transient 错误
func TestClient_NotReady(t *testing.T) {
	c, _ := newTestClient(t, 100)
	err := c.EnsureCollection(context.Background(), "docs", 3)
	if rag.KindOf(err) != rag.KindTransient {
		t.Errorf("expected transient error, got %v", err)
	}
}

// TestClient_WriteQueryDelete 命名空间写入、检索元数据还原、全量清空
func TestClient_WriteQueryDelete(t *testing.T) {
	ctx := context.Background()
	c, fake := newTestClient(t, 0)
	if err := c.EnsureCollection(ctx, "docs", 2); err != nil {
		t.Fatal(err)
	}

	err := c.Write(ctx, "docs", []rag.Record{
		{ID: "1", Namespace: "kenya", Content: "Ships in Kenya.", Vector: []float32{1, 0}, Metadata: map[string]any{"source": "faq.md", "tags": map[string]any{"a": 1}}},
		{ID: "2", Namespace: "uganda", Content: "Ships in Uganda.", Vector: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	matches, err := c.Query(ctx, "docs", rag.QueryRequest{Vector: []float32{1, 0}, K: 3, Namespace: "kenya"})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Content != "Ships in Kenya." || matches[0].Metadata["source"] != "faq.md" {
		t.Fatalf("unexpected matches: %+v", matches)
	}

	if err := c.DeleteAll(ctx, "docs", "kenya"); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.vectors["kenya"]; ok {
		t.Error("namespace not cleared")
	}
	if err := c.DeleteAll(ctx, "docs", ""); err != nil {
		t.Fatal(err)
	}
	if len(fake.vectors) != 0 {
		t.Errorf("full clear left namespaces: %v", fake.vectors)
	}
}

// TestClient_NotEnsured 未确认的索引无法解析数据面地址
func TestClient_NotEnsured(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	_, err := c.Query(context.Background(), "docs", rag.QueryRequest{Vector: []float32{1}, K: 1})
	if rag.KindOf(err) != rag.KindConfiguration {
		t.Errorf("expected configuration error, got %v", err)
	}
}
