package rag

import "context"

// ── 请求来源注入（避免 rag 依赖 api 包）──────────

// RequestInfo 请求来源，用于审计记录与问答日志
type RequestInfo struct {
	Actor     string // 管理员用户 ID（JWT subject）
	ClientIP  string
	UserAgent string
}

type requestInfoKey struct{}

// WithRequestInfo 注入 RequestInfo 到 context
func WithRequestInfo(ctx context.Context, info *RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom 从 context 提取 RequestInfo，不存在时返回零值
func RequestInfoFrom(ctx context.Context) RequestInfo {
	if val, ok := ctx.Value(requestInfoKey{}).(*RequestInfo); ok && val != nil {
		return *val
	}
	return RequestInfo{}
}
