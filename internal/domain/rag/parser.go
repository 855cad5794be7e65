package rag

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	applog "ragcore/internal/platform/log"
)

// ── Parser 接口 ───────────────────────────────────────────────

// ParseResult 文档解析结果
type ParseResult struct {
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Parser 文档解析器接口
type Parser interface {
	// Parse 解析文档，返回纯文本内容
	Parse(reader io.Reader, filename string) (*ParseResult, error)
	// SupportedTypes 支持的文件扩展名
	SupportedTypes() []string
}

// ── Markdown Parser ──────────────────────────────────────────

// MarkdownParser 去除 Markdown 格式标记，保留段落结构
type MarkdownParser struct{}

var (
	reMarkdownHeader = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	reMarkdownBold   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reMarkdownItalic = regexp.MustCompile(`\*(.+?)\*`)
	reMarkdownCode   = regexp.MustCompile("```[\\s\\S]*?```")
	reMarkdownInline = regexp.MustCompile("`([^`]+)`")
	reMarkdownLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	reMarkdownImage  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	reMarkdownTitle  = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

func (p *MarkdownParser) SupportedTypes() []string {
	return []string{".md", ".markdown"}
}

func (p *MarkdownParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	text := string(data)

	title := ""
	if m := reMarkdownTitle.FindStringSubmatch(text); len(m) > 1 {
		title = strings.TrimSpace(m[1])
	}

	// 代码块保留内容，只去掉围栏和语言标记
	text = reMarkdownCode.ReplaceAllStringFunc(text, func(s string) string {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	})
	text = reMarkdownImage.ReplaceAllString(text, "$1")
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reMarkdownBold.ReplaceAllString(text, "$1")
	text = reMarkdownItalic.ReplaceAllString(text, "$1")
	text = reMarkdownInline.ReplaceAllString(text, "$1")
	text = reMarkdownHeader.ReplaceAllString(text, "")
	text = reAllTags.ReplaceAllString(text, "")

	return &ParseResult{
		Title:    title,
		Content:  strings.TrimSpace(cleanExtraNewlines(text)),
		Metadata: map[string]any{"format": "markdown"},
	}, nil
}

// ── Plain Text Parser ────────────────────────────────────────

// PlainTextParser 纯文本类文件原样读取
type PlainTextParser struct{}

func (p *PlainTextParser) SupportedTypes() []string {
	return []string{".txt", ".text", ".csv", ".log", ".json", ".xml", ".yaml", ".yml", ".rst"}
}

func (p *PlainTextParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read text: %w", err)
	}
	return &ParseResult{
		Content:  strings.TrimSpace(string(data)),
		Metadata: map[string]any{"format": strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")},
	}, nil
}

// ── HTML Parser ──────────────────────────────────────────────

// HTMLParser 去除脚本、样式与标签，块级元素转为换行
type HTMLParser struct{}

var (
	reHTMLTitle     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	reHTMLDrop      = regexp.MustCompile(`(?is)<(script|style|noscript|head|svg)[^>]*>.*?</(script|style|noscript|head|svg)>`)
	reHTMLComment   = regexp.MustCompile(`(?s)<!--.*?-->`)
	reHTMLBlockOpen = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	reHTMLBlockEnd  = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	reHTMLBreak     = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	reAllTags       = regexp.MustCompile(`<[^>]+>`)
	reMultiSpaces   = regexp.MustCompile(`[ \t]+`)
)

func (p *HTMLParser) SupportedTypes() []string {
	return []string{".html", ".htm"}
}

func (p *HTMLParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	raw := string(data)

	title := ""
	if m := reHTMLTitle.FindStringSubmatch(raw); len(m) > 1 {
		title = strings.TrimSpace(html.UnescapeString(m[1]))
	}

	return &ParseResult{
		Title:    title,
		Content:  StripHTML(raw),
		Metadata: map[string]any{"format": "html"},
	}, nil
}

// StripHTML 将 HTML 转为可读纯文本：段落之间空一行，行内空白折叠。
func StripHTML(content string) string {
	content = reHTMLDrop.ReplaceAllString(content, "")
	content = reHTMLComment.ReplaceAllString(content, "")
	content = reHTMLBlockOpen.ReplaceAllString(content, "\n\n")
	content = reHTMLBlockEnd.ReplaceAllString(content, "\n\n")
	content = reHTMLBreak.ReplaceAllString(content, "\n")
	content = reAllTags.ReplaceAllString(content, "")
	content = html.UnescapeString(content)
	content = reMultiSpaces.ReplaceAllString(content, " ")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(cleanExtraNewlines(strings.Join(lines, "\n")))
}

// ── PDF Parser ───────────────────────────────────────────────

// PDFParser 逐页提取 PDF 文本，页与页之间空一行
type PDFParser struct{}

func (p *PDFParser) SupportedTypes() []string {
	return []string{".pdf"}
}

func (p *PDFParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	// pdf 库需要 io.ReaderAt + size，先读到内存
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf data: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			applog.Warn("[RAG/PDF] Failed to extract page text", "file", filename, "page", i, "error", err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}

	return &ParseResult{
		Content:  strings.TrimSpace(cleanExtraNewlines(sb.String())),
		Metadata: map[string]any{"format": "pdf", "pages": pages},
	}, nil
}

// ── DOCX Parser ──────────────────────────────────────────────

// DOCXParser 提取 Word 文档文本：<w:p> 段落转为空行分隔
type DOCXParser struct{}

var reDocxParagraph = regexp.MustCompile(`</w:p>`)

func (p *DOCXParser) SupportedTypes() []string {
	return []string{".docx"}
}

func (p *DOCXParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read docx data: %w", err)
	}

	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	xml := r.Editable().GetContent()
	xml = reDocxParagraph.ReplaceAllString(xml, "\n\n")
	text := html.UnescapeString(reAllTags.ReplaceAllString(xml, ""))

	return &ParseResult{
		Content:  strings.TrimSpace(cleanExtraNewlines(text)),
		Metadata: map[string]any{"format": "docx"},
	}, nil
}

// ── 辅助函数 ─────────────────────────────────────────────────

var reMultiNewlines = regexp.MustCompile(`\n{3,}`)

func cleanExtraNewlines(text string) string {
	return reMultiNewlines.ReplaceAllString(text, "\n\n")
}
