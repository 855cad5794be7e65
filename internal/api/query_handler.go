package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ragcore/internal/app/qa"
	"ragcore/internal/domain/rag"
)

// QueryHandler 检索与问答 API（无需鉴权）
type QueryHandler struct {
	retriever *rag.Retriever
	answerer  *qa.Answerer
}

// NewQueryHandler 创建检索处理器；answerer 为 nil 时 /generate 返回 503
func NewQueryHandler(retriever *rag.Retriever, answerer *qa.Answerer) *QueryHandler {
	return &QueryHandler{retriever: retriever, answerer: answerer}
}

// RegisterRoutes 注册路由
func (h *QueryHandler) RegisterRoutes(r chi.Router) {
	r.Post("/retrieve", h.Retrieve)
	r.Post("/generate", h.Generate)
}

type queryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return req, false
	}
	if req.K < 0 {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "k must not be negative")
		return req, false
	}
	return req, true
}

// Retrieve 相似度检索，结果按相关性降序
func (h *QueryHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	results, err := h.retriever.Retrieve(r.Context(), req.Query, req.K)
	if err != nil {
		writeRAGError(w, "retrieve", err)
		return
	}
	if results == nil {
		results = []rag.RetrievalResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// Generate 检索增强问答
func (h *QueryHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.answerer == nil {
		writeErrorCode(w, http.StatusServiceUnavailable, "unavailable", "generation is not configured")
		return
	}
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	ans, err := h.answerer.Answer(r.Context(), req.Query, req.K)
	if err != nil {
		writeRAGError(w, "generate", err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}
