package milvus

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"ragcore/internal/domain/rag"
)

type fakeRow struct {
	namespace, content, metadata string
	vector                       []float32
}

// fakeAPI 内存版 collectionAPI
type fakeAPI struct {
	dims       map[string]int
	data       map[string]map[string]fakeRow
	order      map[string][]string
	created    int
	dropped    int
	loaded     map[string]int
	lastFilter string
	searchErr  error
	closed     bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{dims: map[string]int{}, data: map[string]map[string]fakeRow{}, order: map[string][]string{}, loaded: map[string]int{}}
}

func (f *fakeAPI) ListCollections(context.Context) ([]string, error) {
	var names []string
	for n := range f.dims {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeAPI) CollectionDims(_ context.Context, name string) (int, error) {
	d, ok := f.dims[name]
	if !ok {
		return 0, errors.New("collection not found")
	}
	return d, nil
}

func (f *fakeAPI) CreateCollection(_ context.Context, name string, dims int) error {
	f.dims[name] = dims
	f.data[name] = map[string]fakeRow{}
	f.order[name] = nil
	f.created++
	return nil
}

func (f *fakeAPI) DropCollection(_ context.Context, name string) error {
	delete(f.dims, name)
	delete(f.data, name)
	delete(f.order, name)
	f.dropped++
	return nil
}

func (f *fakeAPI) LoadCollection(_ context.Context, name string) error {
	if _, ok := f.dims[name]; !ok {
		return errors.New("collection not found")
	}
	f.loaded[name]++
	return nil
}

func (f *fakeAPI) Upsert(_ context.Context, name string, dims int, d rows) error {
	if dims != f.dims[name] {
		return errors.New("dim mismatch")
	}
	for i, id := range d.IDs {
		if _, ok := f.data[name][id]; !ok {
			f.order[name] = append(f.order[name], id)
		}
		f.data[name][id] = fakeRow{namespace: d.Namespaces[i], content: d.Contents[i], metadata: d.Metadata[i], vector: d.Vectors[i]}
	}
	return nil
}

func (f *fakeAPI) Search(_ context.Context, name, filter string, vector []float32, k int) ([]hit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.lastFilter = filter
	var hits []hit
	for _, id := range f.order[name] {
		row, ok := f.data[name][id]
		if !ok {
			continue
		}
		if filter != "" && filter != namespaceExpr(row.namespace) {
			continue
		}
		var dot float32
		for i := range vector {
			dot += vector[i] * row.vector[i]
		}
		hits = append(hits, hit{ID: id, Content: row.content, Metadata: row.metadata, Score: dot})
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *fakeAPI) Delete(_ context.Context, name, expr string) error {
	for id, row := range f.data[name] {
		if expr == namespaceExpr(row.namespace) {
			delete(f.data[name], id)
		}
	}
	return nil
}

func (f *fakeAPI) Close(context.Context) error {
	f.closed = true
	return nil
}

// TestBackend_EnsureCollection 创建、复用、维度不一致时重建
func TestBackend_EnsureCollection(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	b := newBackend(api)

	if err := b.EnsureCollection(ctx, "docs", 4); err != nil {
		t.Fatal(err)
	}
	if err := b.EnsureCollection(ctx, "docs", 4); err != nil {
		t.Fatal(err)
	}
	if api.created != 1 {
		t.Errorf("created %d times, want 1", api.created)
	}
	if err := b.EnsureCollection(ctx, "docs", 8); err != nil {
		t.Fatal(err)
	}
	if api.dropped != 1 || api.dims["docs"] != 8 {
		t.Errorf("mismatch not resolved: dropped=%d dims=%d", api.dropped, api.dims["docs"])
	}
}

// TestBackend_EnsureCollectionLoadsExisting 进程重启后复用已有集合时会重新加载
func TestBackend_EnsureCollectionLoadsExisting(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	if err := api.CreateCollection(ctx, "docs", 4); err != nil {
		t.Fatal(err)
	}

	b := newBackend(api)
	if err := b.EnsureCollection(ctx, "docs", 4); err != nil {
		t.Fatal(err)
	}
	if api.loaded["docs"] != 1 {
		t.Errorf("existing collection loaded %d times, want 1", api.loaded["docs"])
	}
	if api.created != 1 || api.dropped != 0 {
		t.Errorf("existing collection touched: created=%d dropped=%d", api.created, api.dropped)
	}
}

// TestBackend_WriteQuery 写入、命名空间过滤与元数据解码
func TestBackend_WriteQuery(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	b := newBackend(api)
	if err := b.EnsureCollection(ctx, "docs", 2); err != nil {
		t.Fatal(err)
	}

	err := b.Write(ctx, "docs", []rag.Record{
		{ID: "1", Namespace: "kenya", Content: "Ships in Kenya.", Vector: []float32{1, 0}, Metadata: map[string]any{"source": "faq.md"}},
		{ID: "2", Namespace: "uganda", Content: "Ships in Uganda.", Vector: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	matches, err := b.Query(ctx, "docs", rag.QueryRequest{Vector: []float32{1, 0}, K: 5, Namespace: "kenya"})
	if err != nil {
		t.Fatal(err)
	}
	if api.lastFilter != `namespace == "kenya"` {
		t.Errorf("filter = %q", api.lastFilter)
	}
	if len(matches) != 1 || matches[0].ID != "1" || matches[0].Metadata["source"] != "faq.md" {
		t.Errorf("unexpected matches: %+v", matches)
	}

	err = b.Write(ctx, "docs", []rag.Record{{ID: "3", Vector: []float32{1, 0, 0}}})
	if !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

// TestBackend_DeleteAll 命名空间删除与整表重建
func TestBackend_DeleteAll(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	b := newBackend(api)
	if err := b.EnsureCollection(ctx, "docs", 2); err != nil {
		t.Fatal(err)
	}
	var records []rag.Record
	for i, ns := range []string{"a", "b", "a"} {
		records = append(records, rag.Record{ID: strconv.Itoa(i), Namespace: ns, Vector: []float32{1, 1}})
	}
	if err := b.Write(ctx, "docs", records); err != nil {
		t.Fatal(err)
	}

	if err := b.DeleteAll(ctx, "docs", "a"); err != nil {
		t.Fatal(err)
	}
	if len(api.data["docs"]) != 1 {
		t.Errorf("rows after namespace delete = %d, want 1", len(api.data["docs"]))
	}

	if err := b.DeleteAll(ctx, "docs", ""); err != nil {
		t.Fatal(err)
	}
	if len(api.data["docs"]) != 0 || api.dims["docs"] != 2 {
		t.Errorf("full clear should recreate empty collection with same dims: rows=%d dims=%d", len(api.data["docs"]), api.dims["docs"])
	}
}

// TestBackend_SearchErrorWrapped 检索失败原样向上返回
func TestBackend_SearchErrorWrapped(t *testing.T) {
	api := newFakeAPI()
	api.searchErr = errors.New("collection not loaded")
	_, err := newBackend(api).Query(context.Background(), "docs", rag.QueryRequest{Vector: []float32{1}, K: 1})
	if err == nil || !strings.Contains(err.Error(), "collection not loaded") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestNamespaceExpr 字符串字面量转义
func TestNamespaceExpr(t *testing.T) {
	if got := namespaceExpr(`we"ird`); got != `namespace == "we\"ird"` {
		t.Errorf("namespaceExpr = %s", got)
	}
}
