package rag

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ParserRegistry 文档解析器注册表
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]Parser // key = ".ext"
}

// NewParserRegistry 创建解析器注册表并注册内置解析器
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{
		parsers: make(map[string]Parser),
	}
	r.Register(&MarkdownParser{})
	r.Register(&PlainTextParser{})
	r.Register(&HTMLParser{})
	r.Register(&PDFParser{})
	r.Register(&DOCXParser{})
	return r
}

// Register 注册解析器
func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.SupportedTypes() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Supports 是否有对应扩展名的解析器
func (r *ParserRegistry) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parsers[ext]
	return ok
}

// Get 根据文件名获取解析器
func (r *ParserRegistry) Get(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, DataError("parse", fmt.Errorf("no file extension in filename: %s", filename))
	}

	r.mu.RLock()
	p, ok := r.parsers[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, DataError("parse", fmt.Errorf("unsupported file type: %s (supported: %s)", ext, r.SupportedTypes()))
	}
	return p, nil
}

// ParseDocument 解析文件为 Document。docID 为空时使用 source。
// 解析失败为 data 错误；内容为空不报错，由分块阶段得到 0 个分块。
func (r *ParserRegistry) ParseDocument(reader io.Reader, filename, source, docID string) (Document, error) {
	p, err := r.Get(filename)
	if err != nil {
		return Document{}, err
	}
	res, err := p.Parse(reader, filename)
	if err != nil {
		return Document{}, DataError("parse", fmt.Errorf("%s: %w", filename, err))
	}

	meta := cloneMetadata(res.Metadata)
	meta[MetaSource] = source
	if res.Title != "" {
		meta[MetaTitle] = res.Title
	}
	if docID == "" {
		docID = source
	}
	return Document{ID: docID, Text: res.Content, Metadata: meta}, nil
}

// SupportedTypes 返回所有支持的文件扩展名
func (r *ParserRegistry) SupportedTypes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		types = append(types, ext)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}
