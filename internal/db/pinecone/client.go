// Package pinecone Serverless 后端：按 cloud/region 托管的向量索引（Pinecone REST API）。
//
// 数据面为最终一致：写入后立即检索可能读不到刚写入的向量。调用方不应为此做轮询重试。
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"
)

var logger = applog.Component("Pinecone")

const (
	backendName = "serverless"
	apiVersion  = "2024-07"

	// 向量 metadata 中的保留字段
	metaContent = "content"
	metaPayload = "metadata_json"
)

// Config 连接配置
type Config struct {
	APIKey       string
	ControlURL   string // 默认 https://api.pinecone.io
	Cloud        string // aws | gcp | azure
	Region       string
	Metric       string // cosine | dotproduct | euclidean
	Timeout      time.Duration
	ReadyPolls   int           // 建索引后轮询就绪的最大次数
	PollInterval time.Duration // 轮询间隔
}

// Client Serverless 后端
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu    sync.RWMutex
	hosts map[string]string // index -> data plane host
}

var _ rag.Backend = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config) *Client {
	if cfg.ControlURL == "" {
		cfg.ControlURL = "https://api.pinecone.io"
	}
	cfg.ControlURL = strings.TrimRight(cfg.ControlURL, "/")
	if cfg.Metric == "" {
		cfg.Metric = "cosine"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadyPolls <= 0 {
		cfg.ReadyPolls = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		hosts:      make(map[string]string),
	}
}

// Name 后端名
func (c *Client) Name() string { return backendName }

// indexName 索引名只允许小写字母、数字与连字符
func indexName(collection string) string {
	return strings.ReplaceAll(strings.ToLower(collection), "_", "-")
}

type indexModel struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// EnsureCollection 列出索引；缺失则按 cloud/region 创建，维度不一致则删除重建，并等待就绪。
func (c *Client) EnsureCollection(ctx context.Context, collection string, dims int) error {
	name := indexName(collection)

	var list struct {
		Indexes []indexModel `json:"indexes"`
	}
	if err := c.control(ctx, http.MethodGet, "/indexes", nil, &list); err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}

	for _, idx := range list.Indexes {
		if idx.Name != name {
			continue
		}
		if idx.Dimension == dims {
			if idx.Status.Ready {
				c.setHost(name, idx.Host)
				return nil
			}
			return c.waitReady(ctx, name)
		}
		logger.Warn("Dimension mismatch, recreating index", "index", name, "existing_dims", idx.Dimension, "dims", dims)
		if err := c.control(ctx, http.MethodDelete, "/indexes/"+name, nil, nil); err != nil {
			return fmt.Errorf("delete index %s: %w", name, err)
		}
		break
	}

	body := map[string]any{
		"name":      name,
		"dimension": dims,
		"metric":    c.cfg.Metric,
		"spec": map[string]any{
			"serverless": map[string]string{"cloud": c.cfg.Cloud, "region": c.cfg.Region},
		},
	}
	if err := c.control(ctx, http.MethodPost, "/indexes", body, nil); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	logger.Info("Index created", "index", name, "dims", dims, "cloud", c.cfg.Cloud, "region", c.cfg.Region)
	return c.waitReady(ctx, name)
}

// waitReady 有限次轮询索引状态
func (c *Client) waitReady(ctx context.Context, name string) error {
	for i := 0; i < c.cfg.ReadyPolls; i++ {
		var idx indexModel
		if err := c.control(ctx, http.MethodGet, "/indexes/"+name, nil, &idx); err != nil {
			return fmt.Errorf("describe index %s: %w", name, err)
		}
		if idx.Status.Ready && idx.Host != "" {
			c.setHost(name, idx.Host)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
	return rag.NewError(rag.KindTransient, backendName, name, "ensure_collection",
		fmt.Errorf("index %s not ready after %d polls", name, c.cfg.ReadyPolls))
}

type vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Write 按命名空间 upsert；原始 metadata 以 JSON 文本存放，避免嵌套值被拒绝
func (c *Client) Write(ctx context.Context, collection string, records []rag.Record) error {
	byNamespace := make(map[string][]vector)
	var order []string
	for _, r := range records {
		payload, err := json.Marshal(r.Metadata)
		if err != nil {
			return rag.DataError("write", fmt.Errorf("marshal metadata for %s: %w", r.ID, err))
		}
		if _, ok := byNamespace[r.Namespace]; !ok {
			order = append(order, r.Namespace)
		}
		byNamespace[r.Namespace] = append(byNamespace[r.Namespace], vector{
			ID:       r.ID,
			Values:   r.Vector,
			Metadata: map[string]any{metaContent: r.Content, metaPayload: string(payload)},
		})
	}

	for _, ns := range order {
		body := map[string]any{"vectors": byNamespace[ns], "namespace": ns}
		if err := c.data(ctx, collection, "/vectors/upsert", body, nil); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}
	return nil
}

// Query 检索命名空间内最相近的 K 条
func (c *Client) Query(ctx context.Context, collection string, req rag.QueryRequest) ([]rag.Match, error) {
	body := map[string]any{
		"vector":          req.Vector,
		"topK":            req.K,
		"namespace":       req.Namespace,
		"includeMetadata": true,
	}
	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}
	if err := c.data(ctx, collection, "/query", body, &resp); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	matches := make([]rag.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		match := rag.Match{ID: m.ID, Score: m.Score}
		match.Content, _ = m.Metadata[metaContent].(string)
		if payload, ok := m.Metadata[metaPayload].(string); ok && payload != "" {
			if err := json.Unmarshal([]byte(payload), &match.Metadata); err != nil {
				logger.Warn("Failed to decode metadata", "id", m.ID, "error", err)
			}
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// DeleteAll 清空命名空间；namespace 为空时逐个清空索引统计中的全部命名空间
func (c *Client) DeleteAll(ctx context.Context, collection, namespace string) error {
	namespaces := []string{namespace}
	if namespace == "" {
		var stats struct {
			Namespaces map[string]struct {
				VectorCount int `json:"vectorCount"`
			} `json:"namespaces"`
		}
		if err := c.data(ctx, collection, "/describe_index_stats", map[string]any{}, &stats); err != nil {
			return fmt.Errorf("describe index stats: %w", err)
		}
		namespaces = namespaces[:0]
		for ns := range stats.Namespaces {
			namespaces = append(namespaces, ns)
		}
	}

	for _, ns := range namespaces {
		body := map[string]any{"deleteAll": true, "namespace": ns}
		if err := c.data(ctx, collection, "/vectors/delete", body, nil); err != nil {
			return fmt.Errorf("delete namespace %q: %w", ns, err)
		}
	}
	return nil
}

// Close 释放空闲连接
func (c *Client) Close(context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) setHost(name, host string) {
	c.mu.Lock()
	c.hosts[name] = host
	c.mu.Unlock()
}

func (c *Client) host(collection string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hosts[indexName(collection)]
	if !ok || h == "" {
		return "", rag.NewError(rag.KindConfiguration, backendName, collection, "resolve_host",
			fmt.Errorf("index %s not ensured", indexName(collection)))
	}
	if !strings.HasPrefix(h, "http://") && !strings.HasPrefix(h, "https://") {
		h = "https://" + h
	}
	return strings.TrimRight(h, "/"), nil
}

func (c *Client) control(ctx context.Context, method, path string, body, out any) error {
	return c.do(ctx, method, c.cfg.ControlURL+path, body, out)
}

func (c *Client) data(ctx context.Context, collection, path string, body, out any) error {
	h, err := c.host(collection)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, h+path, body, out)
}

// do 非 2xx 返回 StatusError
func (c *Client) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("X-Pinecone-API-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &rag.StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
