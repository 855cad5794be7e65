package redisdb

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"ragcore/internal/domain/rag"
)

// TestCacheKey 键按集合分区，参数变化产生不同键
func TestCacheKey(t *testing.T) {
	base := rag.SearchKey{Collection: "docs", Namespace: "kenya", Query: "shipping", K: 4}
	key := cacheKey(base)
	if !strings.HasPrefix(key, "rag:cache:docs:") {
		t.Fatalf("key %q not partitioned by collection", key)
	}
	if cacheKey(base) != key {
		t.Error("key not deterministic")
	}

	variants := []rag.SearchKey{
		{Collection: "docs", Namespace: "uganda", Query: "shipping", K: 4},
		{Collection: "docs", Namespace: "kenya", Query: "shipping", K: 5},
		{Collection: "docs", Namespace: "kenya", Query: "returns", K: 4},
		{Collection: "faq", Namespace: "kenya", Query: "shipping", K: 4},
	}
	for _, v := range variants {
		if cacheKey(v) == key {
			t.Errorf("variant %+v collides with base key", v)
		}
	}
}

// TestCollectionPattern glob 元字符被转义
func TestCollectionPattern(t *testing.T) {
	tests := []struct {
		collection string
		want       string
	}{
		{"docs", "rag:cache:docs:*"},
		{"a*b", `rag:cache:a\*b:*`},
		{"x[1]?", `rag:cache:x\[1\]\?:*`},
	}
	for _, tt := range tests {
		if got := collectionPattern(tt.collection); got != tt.want {
			t.Errorf("collectionPattern(%q) = %q, want %q", tt.collection, got, tt.want)
		}
	}
}

// TestRedis_Integration 需要 RAGCORE_TEST_REDIS_URL 指向可用的 Redis
func TestRedis_Integration(t *testing.T) {
	url := os.Getenv("RAGCORE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("RAGCORE_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	cache := NewSearchCache(client)
	key := rag.SearchKey{Collection: "it-docs", Query: "q", K: 1}
	if err := cache.Set(ctx, key, []rag.RetrievalResult{{ID: "1", Text: "hello", Score: 0.5}}, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok := cache.Get(ctx, key)
	if !ok || len(got) != 1 || got[0].Text != "hello" {
		t.Fatalf("cache get = %+v, %v", got, ok)
	}
	if err := cache.InvalidateCollection(ctx, "it-docs"); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.Get(ctx, key); ok {
		t.Error("entry survived invalidation")
	}

	first := NewIndexLock(client, time.Minute)
	second := NewIndexLock(client, time.Minute)
	if ok, err := first.Acquire(ctx, "it-docs"); err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := second.Acquire(ctx, "it-docs"); ok {
		t.Error("second holder acquired a held lock")
	}
	if err := second.Release(ctx, "it-docs"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := second.Acquire(ctx, "it-docs"); ok {
		t.Error("non-holder release freed the lock")
	}
	if err := first.Release(ctx, "it-docs"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := second.Acquire(ctx, "it-docs"); !ok {
		t.Error("lock not free after holder released")
	}
	_ = second.Release(ctx, "it-docs")
}
