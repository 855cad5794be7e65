package api

import (
	"context"
	"fmt"
	"net/http"

	"ragcore/internal/domain/rag"
)

// Scope 管理员身份（注入到 context）
type Scope struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles,omitempty"`
}

type scopeContextKey struct{}

// WithScope 注入 Scope 到 context
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFrom 从 context 提取 Scope
func ScopeFrom(ctx context.Context) (*Scope, error) {
	scope, ok := ctx.Value(scopeContextKey{}).(*Scope)
	if !ok || scope == nil {
		return nil, fmt.Errorf("scope not found in context")
	}
	return scope, nil
}

// requestInfoMiddleware 记录请求来源，供审计记录与问答日志使用。
// 鉴权中间件随后补充 Actor。
func requestInfoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := &rag.RequestInfo{
			ClientIP:  r.RemoteAddr,
			UserAgent: r.UserAgent(),
		}
		next.ServeHTTP(w, r.WithContext(rag.WithRequestInfo(r.Context(), info)))
	})
}

// actorFrom 已鉴权请求的管理员 ID
func actorFrom(ctx context.Context) string {
	if scope, err := ScopeFrom(ctx); err == nil {
		return scope.Subject
	}
	return ""
}
