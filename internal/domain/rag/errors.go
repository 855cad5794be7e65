package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind 错误分类。调用方依据分类决定是否重试、返回何种状态码。
type ErrorKind string

const (
	// KindConfiguration 凭据缺失/非法、维度配置错误等，启动或首次使用时致命，不自动重试
	KindConfiguration ErrorKind = "configuration"
	// KindTransient 网络抖动、限流、超时，可由调用方退避重试
	KindTransient ErrorKind = "transient"
	// KindData 文档损坏、空上传、无法解码，进入向量库之前即被拒绝
	KindData ErrorKind = "data"
	// KindConsistency 已有集合维度与当前 Embedding 模型不一致
	KindConsistency ErrorKind = "consistency"
)

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnsupported       = errors.New("operation not supported by backend")
	ErrEmptyInput        = errors.New("empty input")
	ErrIndexBusy         = errors.New("collection is being reindexed")
)

// Error 携带后端上下文的分类错误。
type Error struct {
	Kind       ErrorKind
	Backend    string
	Collection string
	Op         string
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Backend != "" {
		sb.WriteString(e.Backend)
		sb.WriteString(": ")
	}
	if e.Op != "" {
		sb.WriteString(e.Op)
	}
	if e.Collection != "" {
		fmt.Fprintf(&sb, " [%s]", e.Collection)
	}
	if e.Kind != "" {
		fmt.Fprintf(&sb, " (%s)", e.Kind)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError 构造分类错误；kind 为空时根据 err 推断。
func NewError(kind ErrorKind, backend, collection, op string, err error) *Error {
	if kind == "" {
		kind = classify(err)
	}
	return &Error{Kind: kind, Backend: backend, Collection: collection, Op: op, Err: err}
}

// DataError 输入数据错误的快捷构造。
func DataError(op string, err error) *Error {
	return &Error{Kind: KindData, Op: op, Err: err}
}

// ConfigError 配置错误的快捷构造。
func ConfigError(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// StatusError 远端服务返回的非 2xx 响应。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, body)
}

// KindFromStatus HTTP 状态码映射：429/5xx 可重试，401/403 配置问题，其余 4xx 数据问题。
func KindFromStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests || code >= 500:
		return KindTransient
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindConfiguration
	case code >= 400:
		return KindData
	}
	return ""
}

// KindOf 返回错误链上的分类；无法判断时返回空字符串。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return classify(err)
}

// IsRetryable 仅 transient 错误可重试。
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

func classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	case errors.Is(err, ErrDimensionMismatch):
		return KindConsistency
	case errors.Is(err, ErrEmptyInput):
		return KindData
	case errors.Is(err, ErrUnsupported):
		return KindConfiguration
	}
	var se *StatusError
	if errors.As(err, &se) {
		return KindFromStatus(se.StatusCode)
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return ""
}
