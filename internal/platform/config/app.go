package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ragcore/internal/domain/rag"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string         `json:"log_level" yaml:"log_level"`
	LogFormat string         `json:"log_format" yaml:"log_format"`
	Server    ServerConfig   `json:"server" yaml:"server"`
	Database  DatabaseConfig `json:"database" yaml:"database"`
	Redis     RedisConfig    `json:"redis" yaml:"redis"`
	Auth      AuthConfig     `json:"auth" yaml:"auth"`
	OpenAI    OpenAIConfig   `json:"openai" yaml:"openai"`
	LLM       LLMConfig      `json:"llm" yaml:"llm"`
	RAG       rag.Config     `json:"rag" yaml:"rag"`
}

type ServerConfig struct {
	Host                   string `json:"host" yaml:"host"`
	Port                   int    `json:"port" yaml:"port"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
	DirectoryRoot          string `json:"directory_root" yaml:"directory_root"` // index_from_directory 允许的根目录
}

// DatabaseConfig 审计库。URL 为空时审计写入本地 SQLite。
type DatabaseConfig struct {
	URL                    string `json:"url" yaml:"url"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// RedisConfig 检索缓存与入库锁。URL 为空时使用进程内实现。
type RedisConfig struct {
	URL string `json:"url" yaml:"url"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer" yaml:"jwt_issuer"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	BaseURL string `json:"base_url" yaml:"base_url"`
}

// LLMConfig 问答生成
type LLMConfig struct {
	Model              string  `json:"model" yaml:"model"`
	Temperature        float64 `json:"temperature" yaml:"temperature"`
	MaxTokens          int     `json:"max_tokens" yaml:"max_tokens"`
	AnswerMode         string  `json:"answer_mode" yaml:"answer_mode"` // chain | agent
	PromptTemplateFile string  `json:"prompt_template_file" yaml:"prompt_template_file"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	ragCfg := rag.DefaultConfig()
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8080,
			ReadTimeoutSeconds:     30,
			WriteTimeoutSeconds:    600,
			ShutdownTimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Auth: AuthConfig{
			JWTIssuer: "ragcore",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0,
			MaxTokens:   1024,
			AnswerMode:  "chain",
		},
		RAG: *ragCfg,
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（.json / .yaml / .yml）。
func Load() (*AppConfig, error) {
	// .env 非必需
	_ = godotenv.Load()

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, rag.ConfigError("load_config", err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)
	applyInt("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeoutSeconds)
	applyString("SERVER_DIRECTORY_ROOT", &c.Server.DirectoryRoot)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	applyString("LLM_MODEL", &c.LLM.Model)
	applyFloat64("LLM_TEMPERATURE", &c.LLM.Temperature)
	applyInt("LLM_MAX_TOKENS", &c.LLM.MaxTokens)
	applyString("ANSWER_MODE", &c.LLM.AnswerMode)
	applyString("PROMPT_TEMPLATE_FILE", &c.LLM.PromptTemplateFile)

	// RAG 环境变量
	if v := os.Getenv("RAG_BACKEND"); v != "" {
		c.RAG.Backend = rag.BackendKind(v)
	}
	if v := os.Getenv("RAG_MANAGED_ENGINE"); v != "" {
		c.RAG.ManagedEngine = rag.ManagedEngine(v)
	}
	applyString("RAG_COLLECTION", &c.RAG.Collection)
	applyString("RAG_NAMESPACE", &c.RAG.Namespace)
	applyString("RAG_LOCAL_PATH", &c.RAG.LocalPath)

	applyString("OPENSEARCH_URL", &c.RAG.OpenSearchURL)
	applyString("OPENSEARCH_USERNAME", &c.RAG.OpenSearchUsername)
	applyString("OPENSEARCH_PASSWORD", &c.RAG.OpenSearchPassword)

	applyString("MILVUS_ADDRESS", &c.RAG.MilvusAddress)
	applyString("MILVUS_TOKEN", &c.RAG.MilvusToken)
	applyString("MILVUS_DATABASE", &c.RAG.MilvusDatabase)

	applyString("SERVERLESS_API_KEY", &c.RAG.ServerlessAPIKey)
	applyString("SERVERLESS_CONTROL_URL", &c.RAG.ServerlessControlURL)
	applyString("SERVERLESS_CLOUD", &c.RAG.ServerlessCloud)
	applyString("SERVERLESS_REGION", &c.RAG.ServerlessRegion)
	applyString("SERVERLESS_METRIC", &c.RAG.ServerlessMetric)

	applyString("RAG_EMBEDDING_PROVIDER", &c.RAG.EmbeddingProvider)
	applyString("RAG_EMBEDDING_MODEL", &c.RAG.EmbeddingModel)
	applyInt("RAG_EMBEDDING_DIMS", &c.RAG.EmbeddingDims)
	applyInt("RAG_EMBEDDING_BATCH_SIZE", &c.RAG.EmbeddingBatch)
	applyFloat64("RAG_EMBEDDING_RPS", &c.RAG.EmbeddingRPS)

	applyInt("RAG_DEFAULT_TOP_K", &c.RAG.DefaultTopK)
	applyBool("RAG_ENABLE_RERANK", &c.RAG.EnableRerank)
	applyString("RAG_RERANK_PROVIDER", &c.RAG.RerankProvider)
	applyString("RAG_RERANK_MODEL", &c.RAG.RerankModel)
	applyInt("RAG_CHUNK_SIZE", &c.RAG.ChunkSize)
	applyInt("RAG_CHUNK_OVERLAP", &c.RAG.ChunkOverlap)

	applyInt("RAG_REQUEST_TIMEOUT", &c.RAG.RequestTimeoutSeconds)
	applyInt("RAG_RETRY_ATTEMPTS", &c.RAG.RetryAttempts)
	applyInt("RAG_FETCH_TIMEOUT", &c.RAG.FetchTimeoutSeconds)
	applyBool("RAG_REWRITE_CODE_HOST_URLS", &c.RAG.RewriteCodeHostURLs)

	applyInt("RAG_CACHE_TTL", &c.RAG.CacheTTL)
	applyInt("RAG_MAX_FILE_SIZE", &c.RAG.MaxFileSize)
}

func (c *AppConfig) normalize() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.LLM.AnswerMode = strings.ToLower(strings.TrimSpace(c.LLM.AnswerMode))
	if c.LLM.AnswerMode == "" {
		c.LLM.AnswerMode = "chain"
	}
	// Rerank 默认复用问答的供应商与模型
	if c.RAG.EnableRerank {
		if c.RAG.RerankProvider == "" {
			c.RAG.RerankProvider = "openai"
		}
		if c.RAG.RerankModel == "" {
			c.RAG.RerankModel = c.LLM.Model
		}
	}
	c.RAG.Normalize()
}

// Validate 校验失败为 configuration 错误
func (c *AppConfig) Validate() error {
	if err := c.RAG.Validate(); err != nil {
		return err
	}
	var problems []string
	switch c.LogFormat {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q (text|json)", c.LogFormat))
	}
	switch c.LLM.AnswerMode {
	case "chain", "agent":
	default:
		problems = append(problems, fmt.Sprintf("unknown answer mode %q (chain|agent)", c.LLM.AnswerMode))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", c.Server.Port))
	}
	if c.RAG.EmbeddingProvider == rag.EmbeddingOpenAI && strings.TrimSpace(c.OpenAI.APIKey) == "" {
		problems = append(problems, "OPENAI_API_KEY is required for the openai embedding provider")
	}
	if len(problems) > 0 {
		return rag.ConfigError("validate", fmt.Errorf("invalid config: %s", strings.Join(problems, "; ")))
	}
	return nil
}

// HasLLM 是否配置了生成模型
func (c *AppConfig) HasLLM() bool {
	return strings.TrimSpace(c.OpenAI.APIKey) != ""
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}

func applyBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}
