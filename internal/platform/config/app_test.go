package config

import (
	"os"
	"path/filepath"
	"testing"

	"ragcore/internal/domain/rag"
)

// offlineEnv 使用 hash embedding，避免依赖 OPENAI_API_KEY
func offlineEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir()) // 隔离工作目录下的 .env
	t.Setenv("APP_CONFIG_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("RAG_EMBEDDING_PROVIDER", "hash")
}

// TestLoad_Defaults 默认值 + 环境变量覆盖
func TestLoad_Defaults(t *testing.T) {
	offlineEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("RAG_BACKEND", "LOCAL")
	t.Setenv("RAG_RETRY_ATTEMPTS", "3")
	t.Setenv("RAG_REWRITE_CODE_HOST_URLS", "true")
	t.Setenv("ANSWER_MODE", "Agent")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.RAG.Backend != rag.BackendLocal {
		t.Errorf("env overrides not applied: port=%d backend=%q", cfg.Server.Port, cfg.RAG.Backend)
	}
	if cfg.RAG.RetryAttempts != 3 || !cfg.RAG.RewriteCodeHostURLs {
		t.Errorf("rag env not applied: %+v", cfg.RAG)
	}
	if cfg.LLM.AnswerMode != "agent" {
		t.Errorf("answer mode = %q", cfg.LLM.AnswerMode)
	}
	if cfg.HasLLM() {
		t.Error("HasLLM should be false without an API key")
	}
}

// TestLoad_YAMLFile YAML 配置文件，环境变量优先
func TestLoad_YAMLFile(t *testing.T) {
	offlineEnv(t)
	path := filepath.Join(t.TempDir(), "app.yaml")
	content := `
log_level: debug
rag:
  backend: managed
  managed_engine: milvus
  milvus_address: milvus:19530
  collection: support
  embedding_dims: 64
llm:
  model: gpt-4o
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("RAG_COLLECTION", "override")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.RAG.Backend != rag.BackendManaged || cfg.RAG.ManagedEngine != rag.EngineMilvus || cfg.RAG.EmbeddingDims != 64 {
		t.Errorf("rag file values not applied: %+v", cfg.RAG)
	}
	if cfg.RAG.Collection != "override" {
		t.Errorf("env should override file, got %q", cfg.RAG.Collection)
	}
}

// TestLoad_Invalid 校验失败为 configuration 错误
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"RAG_BACKEND": "cassandra"}},
		{"overlap too large", map[string]string{"RAG_CHUNK_SIZE": "100", "RAG_CHUNK_OVERLAP": "100"}},
		{"serverless without key", map[string]string{"RAG_BACKEND": "serverless"}},
		{"unknown answer mode", map[string]string{"ANSWER_MODE": "react"}},
		{"openai embeddings without key", map[string]string{"RAG_EMBEDDING_PROVIDER": "openai"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			offlineEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if rag.KindOf(err) != rag.KindConfiguration {
				t.Errorf("expected configuration error, got %v", err)
			}
		})
	}
}

// TestLoad_BadFile 配置文件不存在
func TestLoad_BadFile(t *testing.T) {
	offlineEnv(t)
	t.Setenv("APP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))
	if _, err := Load(); rag.KindOf(err) != rag.KindConfiguration {
		t.Errorf("expected configuration error, got %v", err)
	}
}
