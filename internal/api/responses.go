package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"
)

// APIResponse 统一 JSON 响应
type APIResponse struct {
	Code    int    `json:"code"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorCode(w, status, "", message)
}

// writeErrorCode 带错误码的统一错误响应
func writeErrorCode(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Error:   code,
		Message: message,
	})
}

// statusFor 错误类别 → HTTP 状态码
func statusFor(err error) (int, string) {
	if errors.Is(err, rag.ErrIndexBusy) {
		return http.StatusConflict, "index_busy"
	}
	switch rag.KindOf(err) {
	case rag.KindData:
		return http.StatusBadRequest, "invalid_input"
	case rag.KindTransient:
		return http.StatusServiceUnavailable, "unavailable"
	case rag.KindConsistency:
		return http.StatusConflict, "inconsistent_state"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeRAGError 按错误类别响应；配置类错误只返回通用信息，细节留在日志
func writeRAGError(w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
		applog.Error("[API] Request failed", "op", op, "kind", rag.KindOf(err), "error", err)
	} else {
		applog.Warn("[API] Request rejected", "op", op, "kind", rag.KindOf(err), "status", status, "error", err)
	}
	writeErrorCode(w, status, code, message)
}
