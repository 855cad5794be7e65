package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	applog "ragcore/internal/platform/log"
)

// LoaderConfig 文档加载配置
type LoaderConfig struct {
	FetchTimeout        time.Duration
	MaxBytes            int64 // 单个文档最大字节数
	RewriteCodeHostURLs bool  // github blob 链接改写为 raw 内容地址
	UserAgent           string
}

// Loader 从 URL、目录、上传文件加载文档。
type Loader struct {
	client  *http.Client
	parsers *ParserRegistry
	cfg     LoaderConfig
}

// NewLoader 创建加载器
func NewLoader(parsers *ParserRegistry, cfg LoaderConfig) *Loader {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 50 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ragcore-loader/1.0"
	}
	if parsers == nil {
		parsers = NewParserRegistry()
	}
	return &Loader{
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		parsers: parsers,
		cfg:     cfg,
	}
}

// Parsers 返回解析器注册表
func (l *Loader) Parsers() *ParserRegistry {
	return l.parsers
}

// LoadURLs 逐个加载 URL，任一失败立即返回错误。
func (l *Loader) LoadURLs(ctx context.Context, urls []string) ([]Document, error) {
	if len(urls) == 0 {
		return nil, DataError("load_url", fmt.Errorf("%w: no urls given", ErrEmptyInput))
	}
	docs := make([]Document, 0, len(urls))
	for _, u := range urls {
		doc, err := l.LoadURL(ctx, u)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// LoadURL 抓取单个 URL。文档 ID 与 source 均为原始 URL，重复抓取得到相同分块 ID。
func (l *Loader) LoadURL(ctx context.Context, rawURL string) (Document, error) {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return Document{}, DataError("load_url", fmt.Errorf("invalid url %q", rawURL))
	}

	fetchURL := rawURL
	if l.cfg.RewriteCodeHostURLs {
		fetchURL = RewriteCodeHostURL(rawURL)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return Document{}, DataError("load_url", err)
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return Document{}, NewError("", "loader", "", "load_url", fmt.Errorf("fetch %s: %w", fetchURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Document{}, NewError("", "loader", "", "load_url",
			fmt.Errorf("fetch %s: %w", fetchURL, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}))
	}

	body := io.LimitReader(resp.Body, l.cfg.MaxBytes+1)
	data, err := io.ReadAll(body)
	if err != nil {
		return Document{}, NewError("", "loader", "", "load_url", fmt.Errorf("read %s: %w", fetchURL, err))
	}
	if int64(len(data)) > l.cfg.MaxBytes {
		return Document{}, DataError("load_url", fmt.Errorf("%s exceeds %d bytes", fetchURL, l.cfg.MaxBytes))
	}

	filename := l.filenameForResponse(parsed, resp.Header.Get("Content-Type"))
	doc, err := l.parsers.ParseDocument(bytes.NewReader(data), filename, rawURL, rawURL)
	if err != nil {
		return Document{}, err
	}
	doc.Metadata["url"] = fetchURL

	applog.Info("[RAG/Loader] URL loaded",
		"url", rawURL,
		"bytes", len(data),
		"chars", len([]rune(doc.Text)),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// LoadDirectory 递归加载目录下所有支持的文件；不支持的扩展名跳过，解析失败终止。
func (l *Loader) LoadDirectory(ctx context.Context, dir string) ([]Document, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, DataError("load_directory", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, DataError("load_directory", fmt.Errorf("directory does not exist: %s", dir))
	}
	if !info.IsDir() {
		return nil, DataError("load_directory", fmt.Errorf("not a directory: %s", dir))
	}

	var docs []Document
	skipped := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !l.parsers.Supports(d.Name()) {
			skipped++
			applog.Warn("[RAG/Loader] Unsupported file skipped", "path", p)
			return nil
		}
		doc, err := l.LoadFile(p)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			return nil, DataError("load_directory", err)
		}
		return nil, err
	}

	applog.Info("[RAG/Loader] Directory loaded", "dir", root, "documents", len(docs), "skipped", skipped)
	return docs, nil
}

// LoadFile 加载单个本地文件，文档 ID 与 source 为文件绝对路径。
func (l *Loader) LoadFile(p string) (Document, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return Document{}, DataError("load_file", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return Document{}, DataError("load_file", err)
	}
	defer f.Close()

	return l.LoadReader(f, filepath.Base(abs), abs)
}

// LoadReader 从上传流等来源加载，source 同时作为文档 ID。
func (l *Loader) LoadReader(r io.Reader, filename, source string) (Document, error) {
	limited := io.LimitReader(r, l.cfg.MaxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Document{}, DataError("load_file", err)
	}
	if int64(len(data)) > l.cfg.MaxBytes {
		return Document{}, DataError("load_file", fmt.Errorf("%s exceeds %d bytes", filename, l.cfg.MaxBytes))
	}
	doc, err := l.parsers.ParseDocument(bytes.NewReader(data), filename, source, source)
	if err != nil {
		return Document{}, err
	}
	doc.Metadata["filename"] = filename
	return doc, nil
}

// RewriteCodeHostURL 将 github.com/{owner}/{repo}/blob/{ref}/{path} 改写为 raw.githubusercontent.com 地址，
// 其余 URL 原样返回。
func RewriteCodeHostURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !strings.EqualFold(u.Host, "github.com") {
		return rawURL
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 5 || parts[2] != "blob" {
		return rawURL
	}
	rewritten := url.URL{
		Scheme: "https",
		Host:   "raw.githubusercontent.com",
		Path:   "/" + strings.Join(append(parts[:2:2], parts[3:]...), "/"),
	}
	return rewritten.String()
}

// filenameForResponse 根据 Content-Type 与 URL 路径推断解析器使用的文件名
func (l *Loader) filenameForResponse(u *url.URL, contentType string) string {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return "page.html"
	case "application/pdf":
		return "document.pdf"
	case "text/markdown", "text/x-markdown":
		return "document.md"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "document.docx"
	}
	if base := path.Base(u.Path); l.parsers.Supports(base) {
		return base
	}
	return "document.txt"
}
