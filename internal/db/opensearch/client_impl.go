package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"
)

var logger = applog.Component("OpenSearch")

const backendName = "opensearch"

// Config OpenSearch 连接配置
type Config struct {
	URL                string
	Username           string
	Password           string
	InsecureSkipVerify bool          // 自签名证书的开发集群
	Timeout            time.Duration // 单次 HTTP 请求超时
}

// Client OpenSearch k-NN 后端：集合映射为同名（小写）索引。
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

var _ rag.Backend = (*Client)(nil)

// NewClient 创建 OpenSearch 客户端
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // 开发环境
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Name 后端名
func (c *Client) Name() string { return backendName }

func indexName(collection string) string {
	return strings.ToLower(collection)
}

// EnsureCollection 列出索引，缺失则创建；已存在时读取映射维度，不一致则删除重建。
func (c *Client) EnsureCollection(ctx context.Context, collection string, dims int) error {
	index := indexName(collection)
	exists, err := c.indexExists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		current, err := c.mappingDims(ctx, index)
		if err != nil {
			return err
		}
		if current == dims {
			logger.Debug("Index already exists", "index", index, "dims", dims)
			return nil
		}
		logger.Warn("Dimension mismatch, recreating index",
			"index", index, "existing_dims", current, "dims", dims)
		if err := c.expectOK(ctx, http.MethodDelete, "/"+index, nil); err != nil {
			return fmt.Errorf("delete index %s: %w", index, err)
		}
	}
	return c.createIndex(ctx, index, dims)
}

func (c *Client) indexExists(ctx context.Context, index string) (bool, error) {
	var rows []struct {
		Index string `json:"index"`
	}
	if err := c.getJSON(ctx, "/_cat/indices?format=json&h=index", &rows); err != nil {
		return false, fmt.Errorf("list indices: %w", err)
	}
	for _, r := range rows {
		if r.Index == index {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) mappingDims(ctx context.Context, index string) (int, error) {
	var resp map[string]struct {
		Mappings struct {
			Properties struct {
				Vector struct {
					Dimension int `json:"dimension"`
				} `json:"vector"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := c.getJSON(ctx, "/"+index+"/_mapping", &resp); err != nil {
		return 0, fmt.Errorf("read mapping of %s: %w", index, err)
	}
	m, ok := resp[index]
	if !ok {
		return 0, fmt.Errorf("mapping of %s missing from response", index)
	}
	return m.Mappings.Properties.Vector.Dimension, nil
}

func (c *Client) createIndex(ctx context.Context, index string, dims int) error {
	mapping := map[string]any{
		"settings": map[string]any{
			"index.knn": true,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"content":   map[string]string{"type": "text"},
				"namespace": map[string]string{"type": "keyword"},
				// 任意元数据原样存储，不参与索引
				"metadata": map[string]any{"type": "object", "enabled": false},
				"vector": map[string]any{
					"type":      "knn_vector",
					"dimension": dims,
					"method": map[string]any{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "lucene",
					},
				},
			},
		},
	}
	body, _ := json.Marshal(mapping)
	if err := c.expectOK(ctx, http.MethodPut, "/"+index, body); err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	logger.Info("Index created", "index", index, "dims", dims)
	return nil
}

type chunkSource struct {
	Content   string         `json:"content"`
	Namespace string         `json:"namespace"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Vector    []float32      `json:"vector"`
}

// Write 批量写入，按 _id 覆盖；refresh=wait_for 保证写后可读
func (c *Client) Write(ctx context.Context, collection string, records []rag.Record) error {
	if len(records) == 0 {
		return nil
	}
	index := indexName(collection)

	var buf bytes.Buffer
	for _, r := range records {
		action, _ := json.Marshal(map[string]any{
			"index": map[string]any{"_index": index, "_id": r.ID},
		})
		buf.Write(action)
		buf.WriteByte('\n')

		doc, err := json.Marshal(chunkSource{Content: r.Content, Namespace: r.Namespace, Metadata: r.Metadata, Vector: r.Vector})
		if err != nil {
			return rag.DataError("write", fmt.Errorf("marshal chunk %s: %w", r.ID, err))
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	var resp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/_bulk?refresh=wait_for", "application/x-ndjson", buf.Bytes(), &resp); err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	if resp.Errors {
		for _, item := range resp.Items {
			for _, res := range item {
				if res.Error != nil {
					return fmt.Errorf("bulk index %s: %w", res.ID,
						&rag.StatusError{StatusCode: res.Status, Body: res.Error.Type + ": " + res.Error.Reason})
				}
			}
		}
		return errors.New("bulk index reported errors")
	}

	logger.Debug("Bulk indexed", "index", index, "count", len(records))
	return nil
}

// Query kNN 检索。lucene cosinesimil 得分为 (1+cos)/2，此处还原为余弦相似度。
func (c *Client) Query(ctx context.Context, collection string, req rag.QueryRequest) ([]rag.Match, error) {
	knn := map[string]any{
		"vector": req.Vector,
		"k":      req.K,
	}
	if req.Namespace != "" {
		knn["filter"] = map[string]any{
			"term": map[string]string{"namespace": req.Namespace},
		}
	}
	query := map[string]any{
		"size":    req.K,
		"_source": map[string]any{"excludes": []string{"vector"}},
		"query": map[string]any{
			"knn": map[string]any{"vector": knn},
		},
	}
	body, _ := json.Marshal(query)

	var resp struct {
		Hits struct {
			Hits []struct {
				ID     string      `json:"_id"`
				Score  float64     `json:"_score"`
				Source chunkSource `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/"+indexName(collection)+"/_search", "application/json", body, &resp); err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	matches := make([]rag.Match, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		matches = append(matches, rag.Match{
			ID:       hit.ID,
			Content:  hit.Source.Content,
			Metadata: hit.Source.Metadata,
			Score:    2*hit.Score - 1,
		})
	}
	return matches, nil
}

// DeleteAll 按命名空间或全部删除文档，索引与映射保留
func (c *Client) DeleteAll(ctx context.Context, collection, namespace string) error {
	q := map[string]any{"match_all": map[string]any{}}
	if namespace != "" {
		q = map[string]any{"term": map[string]string{"namespace": namespace}}
	}
	body, _ := json.Marshal(map[string]any{"query": q})

	err := c.expectOK(ctx, http.MethodPost, "/"+indexName(collection)+"/_delete_by_query?refresh=true&conflicts=proceed", body)
	var se *rag.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete by query: %w", err)
	}
	return nil
}

// Close 释放空闲连接
func (c *Client) Close(context.Context) error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Ping 检查 OpenSearch 连通性
func (c *Client) Ping(ctx context.Context) error {
	return c.expectOK(ctx, http.MethodGet, "/", nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, "", nil, out)
}

func (c *Client) expectOK(ctx context.Context, method, path string, body []byte) error {
	return c.doJSON(ctx, method, path, "application/json", body, nil)
}

// doJSON 执行请求；非 2xx 返回 StatusError，out 非空时解析响应体
func (c *Client) doJSON(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
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
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
