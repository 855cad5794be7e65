package rag

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

// TestChunker_Split 测试递归分块边界与重叠
func TestChunker_Split(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{
			name:    "empty text",
			text:    "",
			size:    10,
			overlap: 2,
			want:    []string{},
		},
		{
			name:    "whitespace only",
			text:    " \n\n \t",
			size:    10,
			overlap: 2,
			want:    []string{},
		},
		{
			name:    "shorter than chunk size",
			text:    "Forever Living ships in Kenya.",
			size:    50,
			overlap: 10,
			want:    []string{"Forever Living ships in Kenya."},
		},
		{
			name:    "word overlap",
			text:    "aaaa bbbb cccc dddd",
			size:    10,
			overlap: 5,
			want:    []string{"aaaa bbbb", "bbbb cccc", "cccc dddd"},
		},
		{
			name:    "paragraphs fit separately",
			text:    "first para\n\nsecond para",
			size:    12,
			overlap: 0,
			want:    []string{"first para", "second para"},
		},
		{
			name:    "character fallback",
			text:    "abcdefghij",
			size:    4,
			overlap: 1,
			want:    []string{"abcd", "defg", "ghij"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChunker(tt.size, tt.overlap).Split(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestChunker_Deterministic 相同输入两次切分结果一致，且每块不超过 chunkSize
func TestChunker_Deterministic(t *testing.T) {
	text := strings.Repeat("Forever Living Products are sold through business owners. ", 40) +
		"\n\nShipping covers Kenya, Uganda and Tanzania.\nPrices are listed in local currency."
	c := NewChunker(120, 30)

	first := c.Split(text)
	second := c.Split(text)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("Split is not deterministic")
	}
	if len(first) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(first))
	}
	for i, chunk := range first {
		if n := utf8.RuneCountInString(chunk); n > 120 {
			t.Errorf("chunk %d has %d runes, want <= 120", i, n)
		}
		if chunk != strings.TrimSpace(chunk) {
			t.Errorf("chunk %d not trimmed: %q", i, chunk)
		}
	}
}

// TestChunker_RuneLength 长度按字符计，不按字节
func TestChunker_RuneLength(t *testing.T) {
	text := strings.Repeat("知识库", 10) // 30 个字符
	chunks := NewChunker(30, 0).Split(text)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for 30 runes, got %d", len(chunks))
	}
}

// TestChunker_ChunkDocument 元数据复制与连续序号
func TestChunker_ChunkDocument(t *testing.T) {
	doc := Document{
		ID:       "d1",
		Text:     "aaaa bbbb cccc dddd",
		Metadata: map[string]any{"lang": "en"},
	}
	chunks := NewChunker(10, 5).ChunkDocument(doc)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.Metadata[MetaChunk] != i {
			t.Errorf("chunk %d metadata chunk = %v", i, c.Metadata[MetaChunk])
		}
		if c.Metadata[MetaSource] != "d1" || c.Metadata[MetaDocID] != "d1" {
			t.Errorf("chunk %d source/id metadata = %v/%v", i, c.Metadata[MetaSource], c.Metadata[MetaDocID])
		}
		if c.Metadata["lang"] != "en" {
			t.Errorf("chunk %d lost parent metadata", i)
		}
	}
	if _, ok := doc.Metadata[MetaChunk]; ok {
		t.Error("parent metadata was mutated")
	}
}

// TestNewChunker_Defaults 非法参数回落默认值
func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(0, -1)
	if c.ChunkSize() != DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", c.ChunkSize(), DefaultChunkSize)
	}
	if c.Overlap() != DefaultChunkSize/4 {
		t.Errorf("Overlap = %d, want %d", c.Overlap(), DefaultChunkSize/4)
	}
	if c := NewChunker(10, 10); c.Overlap() != 2 {
		t.Errorf("overlap >= size should fall back to size/4, got %d", c.Overlap())
	}
}
