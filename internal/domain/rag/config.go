package rag

import (
	"fmt"
	"strings"
	"time"
)

// ManagedEngine managed 后端的引擎
type ManagedEngine string

const (
	EngineOpenSearch ManagedEngine = "opensearch"
	EngineMilvus     ManagedEngine = "milvus"
)

// EmbeddingProvider 选择
const (
	EmbeddingOpenAI = "openai"
	EmbeddingHash   = "hash"
)

// Config RAG 模块配置
type Config struct {
	// 后端选择（进程生命周期内固定）
	Backend       BackendKind   `json:"backend" yaml:"backend"`
	ManagedEngine ManagedEngine `json:"managed_engine" yaml:"managed_engine"`
	Collection    string        `json:"collection" yaml:"collection"`
	Namespace     string        `json:"namespace" yaml:"namespace"`

	// Local（SQLite 文件）
	LocalPath string `json:"local_path" yaml:"local_path"`

	// Managed: OpenSearch 连接
	OpenSearchURL      string `json:"opensearch_url" yaml:"opensearch_url"`
	OpenSearchUsername string `json:"opensearch_username" yaml:"opensearch_username"`
	OpenSearchPassword string `json:"opensearch_password" yaml:"opensearch_password"`

	// Managed: Milvus / Zilliz Cloud 连接
	MilvusAddress  string `json:"milvus_address" yaml:"milvus_address"`
	MilvusToken    string `json:"milvus_token" yaml:"milvus_token"`
	MilvusDatabase string `json:"milvus_database" yaml:"milvus_database"`

	// Serverless 向量库
	ServerlessAPIKey     string `json:"serverless_api_key" yaml:"serverless_api_key"`
	ServerlessControlURL string `json:"serverless_control_url" yaml:"serverless_control_url"`
	ServerlessCloud      string `json:"serverless_cloud" yaml:"serverless_cloud"`
	ServerlessRegion     string `json:"serverless_region" yaml:"serverless_region"`
	ServerlessMetric     string `json:"serverless_metric" yaml:"serverless_metric"`

	// Embedding
	EmbeddingProvider string  `json:"embedding_provider" yaml:"embedding_provider"` // openai | hash
	EmbeddingModel    string  `json:"embedding_model" yaml:"embedding_model"`
	EmbeddingDims     int     `json:"embedding_dims" yaml:"embedding_dims"`
	EmbeddingBatch    int     `json:"embedding_batch_size" yaml:"embedding_batch_size"`
	EmbeddingRPS      float64 `json:"embedding_requests_per_second" yaml:"embedding_requests_per_second"`

	// 检索配置
	DefaultTopK    int    `json:"default_top_k" yaml:"default_top_k"`
	EnableRerank   bool   `json:"enable_rerank" yaml:"enable_rerank"`
	RerankProvider string `json:"rerank_provider,omitempty" yaml:"rerank_provider"`
	RerankModel    string `json:"rerank_model,omitempty" yaml:"rerank_model"`

	// Chunker 配置
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// 外部调用
	RequestTimeoutSeconds int `json:"request_timeout_seconds" yaml:"request_timeout_seconds"` // 0 = 不限
	RetryAttempts         int `json:"retry_attempts" yaml:"retry_attempts"`                   // <=1 不重试

	// 加载
	FetchTimeoutSeconds int  `json:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds"`
	RewriteCodeHostURLs bool `json:"rewrite_code_host_urls" yaml:"rewrite_code_host_urls"`

	// 缓存配置
	CacheTTL    int `json:"cache_ttl" yaml:"cache_ttl"`         // 缓存 TTL（秒），0=禁用
	MaxFileSize int `json:"max_file_size" yaml:"max_file_size"` // 最大文件大小（MB）
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Backend:              BackendLocal,
		ManagedEngine:        EngineOpenSearch,
		Collection:           "ragcore",
		LocalPath:            "./data/ragcore.db",
		OpenSearchURL:        "https://localhost:9200",
		MilvusAddress:        "localhost:19530",
		ServerlessControlURL: "https://api.pinecone.io",
		ServerlessCloud:      "aws",
		ServerlessRegion:     "us-east-1",
		ServerlessMetric:     "cosine",
		EmbeddingProvider:    EmbeddingOpenAI,
		EmbeddingModel:       "text-embedding-3-small",
		EmbeddingDims:        1536,
		EmbeddingBatch:       64,
		DefaultTopK:          5,
		ChunkSize:            DefaultChunkSize,
		ChunkOverlap:         DefaultChunkOverlap,
		FetchTimeoutSeconds:  30,
		CacheTTL:             300, // 5分钟
		MaxFileSize:          50,  // 50MB
	}
}

// Normalize 统一大小写、去空白
func (c *Config) Normalize() {
	c.Backend = BackendKind(strings.ToLower(strings.TrimSpace(string(c.Backend))))
	c.ManagedEngine = ManagedEngine(strings.ToLower(strings.TrimSpace(string(c.ManagedEngine))))
	c.EmbeddingProvider = strings.ToLower(strings.TrimSpace(c.EmbeddingProvider))
	c.Collection = strings.TrimSpace(c.Collection)
	if c.ManagedEngine == "" {
		c.ManagedEngine = EngineOpenSearch
	}
}

// Validate 校验配置，失败为 configuration 错误，启动即终止。
func (c *Config) Validate() error {
	var problems []string
	if !c.Backend.Valid() {
		problems = append(problems, fmt.Sprintf("unknown backend %q (local|managed|serverless)", c.Backend))
	}
	if c.Collection == "" {
		problems = append(problems, "collection is required")
	}
	if c.EmbeddingDims <= 0 {
		problems = append(problems, "embedding_dims must be positive")
	}
	if c.ChunkSize <= 0 {
		problems = append(problems, "chunk_size must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		problems = append(problems, fmt.Sprintf("chunk_overlap must be in [0, chunk_size), got %d", c.ChunkOverlap))
	}
	if c.DefaultTopK <= 0 {
		problems = append(problems, "default_top_k must be positive")
	}
	switch c.EmbeddingProvider {
	case EmbeddingOpenAI, EmbeddingHash:
	default:
		problems = append(problems, fmt.Sprintf("unknown embedding provider %q (openai|hash)", c.EmbeddingProvider))
	}

	switch c.Backend {
	case BackendLocal:
		if c.LocalPath == "" {
			problems = append(problems, "local_path is required for the local backend")
		}
	case BackendManaged:
		switch c.ManagedEngine {
		case EngineOpenSearch:
			if c.OpenSearchURL == "" {
				problems = append(problems, "opensearch_url is required for managed/opensearch")
			}
		case EngineMilvus:
			if c.MilvusAddress == "" {
				problems = append(problems, "milvus_address is required for managed/milvus")
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown managed engine %q (opensearch|milvus)", c.ManagedEngine))
		}
	case BackendServerless:
		if c.ServerlessAPIKey == "" {
			problems = append(problems, "serverless_api_key is required for the serverless backend")
		}
		if c.ServerlessCloud == "" || c.ServerlessRegion == "" {
			problems = append(problems, "serverless_cloud and serverless_region are required")
		}
	}

	if len(problems) > 0 {
		return ConfigError("validate", fmt.Errorf("invalid rag config: %s", strings.Join(problems, "; ")))
	}
	return nil
}

// RequestTimeout 单次外部调用超时
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// HasRerank 是否启用 Rerank
func (c *Config) HasRerank() bool {
	return c.EnableRerank && c.RerankProvider != "" && c.RerankModel != ""
}

// HasCache 是否启用缓存
func (c *Config) HasCache() bool {
	return c.CacheTTL > 0
}

// BackendLabel 用于日志的后端描述
func (c *Config) BackendLabel() string {
	if c.Backend == BackendManaged {
		return string(c.Backend) + "/" + string(c.ManagedEngine)
	}
	return string(c.Backend)
}
