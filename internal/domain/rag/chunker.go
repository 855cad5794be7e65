package rag

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 200
)

// defaultSeparators 按优先级排列：段落、换行、句末、空格、逐字符
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker 递归字符分块器。
// 先用优先级最高且在文本中出现的分隔符切分，超长片段再用下一级分隔符递归切分，
// 最后把小片段合并为不超过 chunkSize 的块，相邻块共享约 overlap 个字符。
// 分隔符保留在下一片段开头，块首尾空白被裁掉。长度按 rune 计。
type Chunker struct {
	chunkSize  int // 每块最大字符数
	overlap    int // 块间重叠字符数
	separators []string
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}
}

// ChunkSize 返回块大小
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap 返回重叠大小
func (c *Chunker) Overlap() int { return c.overlap }

// Split 切分文本。相同输入与参数总是得到相同结果；空文本返回空切片。
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	out := c.splitRecursive(text, c.separators)
	if out == nil {
		return []string{}
	}
	return out
}

// ChunkDocument 切分文档并生成带元数据的 Chunk。
// 元数据复制自文档，并追加 source / id / chunk 序号。
func (c *Chunker) ChunkDocument(doc Document) []Chunk {
	pieces := c.Split(doc.Text)
	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		meta := cloneMetadata(doc.Metadata)
		if doc.ID != "" {
			meta[MetaDocID] = doc.ID
			if _, ok := meta[MetaSource]; !ok {
				meta[MetaSource] = doc.ID
			}
		}
		meta[MetaChunk] = i
		chunks = append(chunks, Chunk{
			DocumentID: doc.ID,
			Index:      i,
			Content:    piece,
			Metadata:   meta,
		})
	}
	return chunks
}

func (c *Chunker) splitRecursive(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			next = separators[i+1:]
			break
		}
	}

	var final []string
	var good []string
	for _, s := range splitKeepSeparator(text, separator) {
		if utf8.RuneCountInString(s) < c.chunkSize {
			good = append(good, s)
			continue
		}
		if len(good) > 0 {
			final = append(final, c.mergeSplits(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, s)
		} else {
			final = append(final, c.splitRecursive(s, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, c.mergeSplits(good)...)
	}
	return final
}

// splitKeepSeparator 按分隔符切分，分隔符并入后一段开头，丢弃空段。
func splitKeepSeparator(text, separator string) []string {
	if separator == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, separator)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, separator+p)
	}
	return out
}

// mergeSplits 将小片段合并为块；超出 chunkSize 时输出当前块，
// 再从头部弹出片段直到剩余长度不超过 overlap，作为下一块的开头。
func (c *Chunker) mergeSplits(splits []string) []string {
	var docs []string
	var current []string
	total := 0

	for _, s := range splits {
		n := utf8.RuneCountInString(s)
		if total+n > c.chunkSize && len(current) > 0 {
			if doc := joinChunk(current); doc != "" {
				docs = append(docs, doc)
			}
			for total > c.overlap || (total+n > c.chunkSize && total > 0) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, s)
		total += n
	}
	if doc := joinChunk(current); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func joinChunk(parts []string) string {
	return strings.TrimSpace(strings.Join(parts, ""))
}

func cloneMetadata(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+3)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
