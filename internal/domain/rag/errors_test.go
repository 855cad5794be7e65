package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

// TestKindOf 测试错误分类
func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), ""},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTransient},
		{"dimension", fmt.Errorf("%w: 3 vs 4", ErrDimensionMismatch), KindConsistency},
		{"empty input", ErrEmptyInput, KindData},
		{"unsupported", ErrUnsupported, KindConfiguration},
		{"rate limited", &StatusError{StatusCode: 429}, KindTransient},
		{"server error", &StatusError{StatusCode: 502}, KindTransient},
		{"unauthorized", &StatusError{StatusCode: 401}, KindConfiguration},
		{"bad request", &StatusError{StatusCode: 400}, KindData},
		{"network", fmt.Errorf("dial: %w", timeoutErr{}), KindTransient},
		{"explicit kind wins", &Error{Kind: KindData, Err: &StatusError{StatusCode: 503}}, KindData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestNewError 测试上下文字段与错误链
func TestNewError(t *testing.T) {
	cause := &StatusError{StatusCode: 503, Body: "overloaded"}
	err := NewError("", "opensearch", "docs", "upsert", cause)

	if err.Kind != KindTransient {
		t.Errorf("Kind = %q, want transient", err.Kind)
	}
	if !IsRetryable(err) {
		t.Error("503 should be retryable")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 503 {
		t.Error("StatusError not reachable through Unwrap")
	}
	msg := err.Error()
	for _, part := range []string{"opensearch", "upsert", "[docs]", "(transient)", "overloaded"} {
		if !strings.Contains(msg, part) {
			t.Errorf("message %q missing %q", msg, part)
		}
	}
}

// TestStatusError_TruncatesBody 过长响应体截断
func TestStatusError_TruncatesBody(t *testing.T) {
	err := &StatusError{StatusCode: 500, Body: strings.Repeat("x", 2000)}
	if len(err.Error()) > 600 {
		t.Errorf("error message too long: %d", len(err.Error()))
	}
}
