package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ragcore/internal/app/qa"
	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"
	"ragcore/internal/platform/metrics"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string // JWT 签名密钥（必填）
	JWTIssuer    string // JWT 签发者（可选）
	MaxUploadMB  int
	AllowedRoot  string // index_from_directory 允许的根目录，为空不限制
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // 大批量入库耗时较长
		MaxUploadMB:  50,
	}
}

// Deps 路由依赖的组件；Answerer 可为 nil（未配置 LLM）
type Deps struct {
	Indexer   *rag.Indexer
	Retriever *rag.Retriever
	Answerer  *qa.Answerer
	Runs      rag.RunStore
}

// Server HTTP 服务器
type Server struct {
	config  *ServerConfig
	deps    Deps
	httpSrv *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, deps Deps) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{config: config, deps: deps}
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 RAG API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if s.deps.Retriever == nil || s.deps.Indexer == nil || s.deps.Runs == nil {
		return nil, fmt.Errorf("retriever, indexer and run store are required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(requestInfoMiddleware)

	store := s.deps.Retriever.Store()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "ok",
			"backend":    store.BackendName(),
			"collection": store.Collection(),
		})
	})
	r.Handle("/metrics", metrics.Handler())

	queryHandler := NewQueryHandler(s.deps.Retriever, s.deps.Answerer)
	indexHandler := NewIndexHandler(s.deps.Indexer, s.deps.Runs, s.config.MaxUploadMB, s.config.AllowedRoot)
	authMW := authMiddleware(&JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	})

	r.Route("/api/v1", func(r chi.Router) {
		queryHandler.RegisterRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(authMW)
			indexHandler.RegisterRoutes(r)
		})
	})
	return r, nil
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
