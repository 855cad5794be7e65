// Package bootstrap 进程级依赖装配：启动时构造一次，退出时关闭。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ragcore/internal/app/qa"
	"ragcore/internal/db/milvus"
	"ragcore/internal/db/opensearch"
	"ragcore/internal/db/pinecone"
	"ragcore/internal/db/postgres"
	redisdb "ragcore/internal/db/redis"
	"ragcore/internal/db/sqlite"
	"ragcore/internal/domain/rag"
	"ragcore/internal/platform/config"
	applog "ragcore/internal/platform/log"
	"ragcore/internal/provider"
)

// Runtime 显式依赖上下文，替代包级全局单例
type Runtime struct {
	Config    *config.AppConfig
	Backend   rag.Backend
	Store     *rag.VectorStore
	Indexer   *rag.Indexer
	Retriever *rag.Retriever
	Answerer  *qa.Answerer // 未配置 LLM 时为 nil
	Audit     rag.AuditStore
	Providers *provider.Registry

	local   *sqlite.Store
	closers []func(context.Context) error
}

// New 按配置装配全部组件。任一必需组件失败即返回 configuration/transient 错误。
func New(ctx context.Context, cfg *config.AppConfig) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
			rt = nil
		}
	}()

	ragCfg := &cfg.RAG
	rt.Providers = RegisterLLMProviders(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)

	// 审计存储：配置 DATABASE_URL 时使用 PostgreSQL，否则与本地后端共用 SQLite 文件
	if cfg.Database.URL != "" {
		repo, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, rag.NewError(rag.KindConfiguration, "", "", "open_audit", err)
		}
		rt.addCloser(func(context.Context) error { return repo.Close() })
		rt.Audit = repo
		applog.Info("✅ Audit store: PostgreSQL")
	} else {
		local, err := rt.localStore(ragCfg.LocalPath)
		if err != nil {
			return nil, err
		}
		rt.Audit = local.AuditStore()
		applog.Info("✅ Audit store: SQLite", "path", local.Path())
	}

	backend, err := rt.newBackend(ctx, ragCfg)
	if err != nil {
		return nil, err
	}
	rt.Backend = backend
	rt.addCloser(backend.Close)
	applog.Infof("✅ Vector backend: %s (collection: %s)", ragCfg.BackendLabel(), ragCfg.Collection)

	// 缓存与入库锁：配置 REDIS_URL 时使用 Redis，否则缓存关闭、锁退化为进程内
	var (
		cache rag.SearchCacheStore
		lock  rag.IndexLock = rag.NewLocalIndexLock()
	)
	if cfg.Redis.URL != "" {
		client, err := redisdb.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, rag.NewError(rag.KindConfiguration, "", "", "connect_redis", err)
		}
		rt.addCloser(func(context.Context) error { return client.Close() })
		lock = redisdb.NewIndexLock(client, 0)
		if ragCfg.HasCache() {
			cache = redisdb.NewSearchCache(client)
			applog.Infof("✅ RAG Search cache initialized (TTL: %ds)", ragCfg.CacheTTL)
		}
	} else if ragCfg.HasCache() {
		applog.Info("ℹ️  No REDIS_URL set, search cache disabled")
	}

	embedder := newEmbedder(cfg)
	applog.Infof("✅ RAG Embedder initialized (provider: %s, dims: %d)", ragCfg.EmbeddingProvider, embedder.Dims())

	rt.Store = rag.NewVectorStore(backend, embedder, ragCfg.Collection, rag.StoreOptions{
		Namespace:      ragCfg.Namespace,
		DefaultTopK:    ragCfg.DefaultTopK,
		Cache:          cache,
		CacheTTL:       time.Duration(ragCfg.CacheTTL) * time.Second,
		RequestTimeout: ragCfg.RequestTimeout(),
		RetryAttempts:  ragCfg.RetryAttempts,
	})

	parsers := rag.NewParserRegistry()
	loader := rag.NewLoader(parsers, rag.LoaderConfig{
		FetchTimeout:        time.Duration(ragCfg.FetchTimeoutSeconds) * time.Second,
		MaxBytes:            int64(ragCfg.MaxFileSize) << 20,
		RewriteCodeHostURLs: ragCfg.RewriteCodeHostURLs,
	})
	rt.Indexer = rag.NewIndexer(rt.Store, rag.NewChunker(ragCfg.ChunkSize, ragCfg.ChunkOverlap), rt.Audit, loader)
	rt.Indexer.SetLock(lock)

	rt.Retriever = rag.NewRetriever(rt.Store)
	if ragCfg.HasRerank() {
		llm, err := rt.Providers.Get(ragCfg.RerankProvider)
		if err != nil {
			applog.Warnf("⚠️  Rerank disabled: %v", err)
		} else {
			rt.Retriever.SetReranker(rag.NewLLMReranker(llm, ragCfg.RerankModel))
			applog.Infof("✅ RAG Reranker initialized (provider: %s, model: %s)", ragCfg.RerankProvider, ragCfg.RerankModel)
		}
	}

	if cfg.HasLLM() {
		llm, err := rt.Providers.Get("openai")
		if err != nil {
			return nil, rag.ConfigError("bootstrap", err)
		}
		mode, err := qa.ParseMode(cfg.LLM.AnswerMode)
		if err != nil {
			return nil, rag.ConfigError("bootstrap", err)
		}
		prompt, err := qa.LoadPrompt(cfg.LLM.PromptTemplateFile)
		if err != nil {
			return nil, rag.ConfigError("bootstrap", err)
		}
		rt.Answerer = qa.NewAnswerer(rt.Retriever, llm, rt.Audit, qa.Config{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Mode:        mode,
			DefaultK:    ragCfg.DefaultTopK,
			Prompt:      prompt,
		})
		applog.Infof("✅ Answerer initialized (mode: %s, model: %s)", mode, cfg.LLM.Model)
	}

	return rt, nil
}

// newBackend 按 kind/engine 选择后端，进程生命周期内只构造一次
func (rt *Runtime) newBackend(ctx context.Context, cfg *rag.Config) (rag.Backend, error) {
	switch cfg.Backend {
	case rag.BackendLocal:
		local, err := rt.localStore(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		return local.Backend(), nil

	case rag.BackendManaged:
		switch cfg.ManagedEngine {
		case rag.EngineMilvus:
			b, err := milvus.New(ctx, milvus.Config{
				Address:  cfg.MilvusAddress,
				Token:    cfg.MilvusToken,
				Database: cfg.MilvusDatabase,
			})
			if err != nil {
				return nil, err
			}
			return b, nil
		default:
			client := opensearch.NewClient(opensearch.Config{
				URL:      cfg.OpenSearchURL,
				Username: cfg.OpenSearchUsername,
				Password: cfg.OpenSearchPassword,
				Timeout:  cfg.RequestTimeout(),
			})
			if err := client.Ping(ctx); err != nil {
				return nil, rag.NewError("", "opensearch", "", "ping", err)
			}
			return client, nil
		}

	case rag.BackendServerless:
		return pinecone.NewClient(pinecone.Config{
			APIKey:     cfg.ServerlessAPIKey,
			ControlURL: cfg.ServerlessControlURL,
			Cloud:      cfg.ServerlessCloud,
			Region:     cfg.ServerlessRegion,
			Metric:     cfg.ServerlessMetric,
			Timeout:    cfg.RequestTimeout(),
		}), nil
	}
	return nil, rag.ConfigError("bootstrap", fmt.Errorf("unknown backend %q", cfg.Backend))
}

// localStore 本地 SQLite 文件只打开一次，后端与审计共用
func (rt *Runtime) localStore(path string) (*sqlite.Store, error) {
	if rt.local != nil {
		return rt.local, nil
	}
	st, err := sqlite.Open(path)
	if err != nil {
		return nil, rag.NewError(rag.KindConfiguration, "local", "", "open", err)
	}
	rt.local = st
	rt.addCloser(func(context.Context) error { return st.Close() })
	return st, nil
}

func newEmbedder(cfg *config.AppConfig) rag.Embedder {
	if cfg.RAG.EmbeddingProvider == rag.EmbeddingHash {
		return rag.NewHashEmbedder(cfg.RAG.EmbeddingDims)
	}
	return rag.NewOpenAIEmbedder(rag.OpenAIEmbedderConfig{
		BaseURL:           cfg.OpenAI.BaseURL,
		APIKey:            cfg.OpenAI.APIKey,
		Model:             cfg.RAG.EmbeddingModel,
		Dims:              cfg.RAG.EmbeddingDims,
		BatchSize:         cfg.RAG.EmbeddingBatch,
		RequestsPerSecond: cfg.RAG.EmbeddingRPS,
	})
}

func (rt *Runtime) addCloser(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close 逆序关闭所有资源，可重复调用
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
