package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ragcore/internal/api"
	"ragcore/internal/app/bootstrap"
	"ragcore/internal/domain/rag"
	"ragcore/internal/platform/config"
	applog "ragcore/internal/platform/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	defer applog.Sync()

	ctx := context.Background()
	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		applog.Fatalf("❌ Runtime init failed: %v", err)
	}

	ensureCtx, ensureCancel := context.WithTimeout(ctx, time.Minute)
	err = rt.Store.Ensure(ensureCtx)
	ensureCancel()
	switch {
	case err == nil:
		applog.Infof("✅ Collection ready: %s (dims: %d)", rt.Store.Collection(), rt.Store.Dims())
	case rag.KindOf(err) == rag.KindTransient:
		applog.Warnf("⚠️  Collection not ready yet, will retry on first use: %v", err)
	default:
		_ = rt.Close(ctx)
		applog.Fatalf("❌ Failed to ensure collection: %v", err)
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	serverConfig.MaxUploadMB = cfg.RAG.MaxFileSize
	serverConfig.AllowedRoot = cfg.Server.DirectoryRoot
	server := api.NewServer(serverConfig, api.Deps{
		Indexer:   rt.Indexer,
		Retriever: rt.Retriever,
		Answerer:  rt.Answerer,
		Runs:      rt.Audit,
	})

	if rt.Answerer == nil {
		applog.Info("ℹ️  Generation disabled, /api/v1/generate returns 503")
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = rt.Close(ctx)
		applog.Fatalf("❌ Server error: %v", err)
	}

	if err := rt.Close(ctx); err != nil {
		applog.Warnf("⚠️  Runtime close error: %v", err)
	}
	applog.Info("👋 Server stopped")
}
