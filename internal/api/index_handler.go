package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"
)

// IndexHandler 入库、清空与审计查询 API（管理员）
type IndexHandler struct {
	indexer     *rag.Indexer
	runs        rag.RunStore
	maxFileMB   int
	allowedRoot string
}

// NewIndexHandler 创建入库处理器
func NewIndexHandler(indexer *rag.Indexer, runs rag.RunStore, maxFileMB int, allowedRoot string) *IndexHandler {
	if maxFileMB <= 0 {
		maxFileMB = 50
	}
	return &IndexHandler{
		indexer:     indexer,
		runs:        runs,
		maxFileMB:   maxFileMB,
		allowedRoot: allowedRoot,
	}
}

// RegisterRoutes 注册路由
func (h *IndexHandler) RegisterRoutes(r chi.Router) {
	r.Post("/index", h.IndexDocuments)
	r.Post("/index_from_url", h.IndexURLs)
	r.Post("/index_from_directory", h.IndexDirectory)
	r.Post("/upload", h.Upload)
	r.Delete("/collection", h.DeleteCollection)

	r.Get("/indexing-runs", h.ListRuns)
	r.Get("/indexing-runs/{id}", h.GetRun)
}

type indexResponse struct {
	Indexed int              `json:"indexed"`
	Run     *rag.IndexingRun `json:"run"`
}

func (h *IndexHandler) respond(w http.ResponseWriter, op string, run *rag.IndexingRun, err error) {
	if err != nil {
		writeRAGError(w, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, indexResponse{Indexed: run.ChunksCreated, Run: run})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return false
	}
	return true
}

// IndexDocuments 入库请求体中的文档
func (h *IndexHandler) IndexDocuments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Documents []rag.Document `json:"documents"`
		Force     bool           `json:"force"`
		Namespace string         `json:"namespace"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "documents is required")
		return
	}

	run, err := h.indexer.IndexDocuments(r.Context(), req.Documents, rag.IndexOptions{
		Force:     req.Force,
		Namespace: req.Namespace,
		Actor:     actorFrom(r.Context()),
	})
	h.respond(w, "index", run, err)
}

// IndexURLs 抓取 URL 后入库
func (h *IndexHandler) IndexURLs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URLs      []string `json:"urls"`
		Force     bool     `json:"force"`
		Namespace string   `json:"namespace"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.URLs) == 0 {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "urls is required")
		return
	}

	run, err := h.indexer.IndexURLs(r.Context(), req.URLs, rag.IndexOptions{
		Force:     req.Force,
		Namespace: req.Namespace,
		Actor:     actorFrom(r.Context()),
	})
	h.respond(w, "index_from_url", run, err)
}

// IndexDirectory 入库服务器本地目录
func (h *IndexHandler) IndexDirectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		Force     bool   `json:"force"`
		Namespace string `json:"namespace"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "path is required")
		return
	}
	if !h.pathAllowed(req.Path) {
		writeErrorCode(w, http.StatusForbidden, "forbidden", "path is outside the allowed root")
		return
	}

	run, err := h.indexer.IndexDirectory(r.Context(), req.Path, rag.IndexOptions{
		Force:     req.Force,
		Namespace: req.Namespace,
		Actor:     actorFrom(r.Context()),
	})
	h.respond(w, "index_from_directory", run, err)
}

// pathAllowed 未配置根目录时不限制
func (h *IndexHandler) pathAllowed(p string) bool {
	if h.allowedRoot == "" {
		return true
	}
	root, err := filepath.Abs(h.allowedRoot)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Upload 文件上传入库（multipart/form-data）
func (h *IndexHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limitBytes := int64(h.maxFileMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limitBytes+1<<20)

	if err := r.ParseMultipartForm(limitBytes); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_input", "file field is required")
		return
	}
	defer file.Close()

	if header.Size > limitBytes {
		writeErrorCode(w, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("file size exceeds limit (%dMB)", h.maxFileMB))
		return
	}

	force, _ := strconv.ParseBool(r.FormValue("force"))
	run, err := h.indexer.IndexUpload(r.Context(), file, header.Filename, rag.IndexOptions{
		Force:     force,
		Namespace: r.FormValue("namespace"),
		Actor:     actorFrom(r.Context()),
	})
	h.respond(w, "upload", run, err)
}

// DeleteCollection 清空集合或指定命名空间
func (h *IndexHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	store := h.indexer.Store()
	if err := store.DeleteAll(r.Context(), namespace); err != nil {
		writeRAGError(w, "delete_all", err)
		return
	}
	applog.Info("[API] Collection clear requested",
		"collection", store.Collection(),
		"namespace", namespace,
		"actor", actorFrom(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

// ListRuns 最近的入库记录，按开始时间倒序
func (h *IndexHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	runs, err := h.runs.ListRuns(r.Context(), limit, max(offset, 0))
	if err != nil {
		writeRAGError(w, "list_runs", err)
		return
	}
	if runs == nil {
		runs = []*rag.IndexingRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun 单条入库记录
func (h *IndexHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRAGError(w, "get_run", err)
		return
	}
	if run == nil {
		writeErrorCode(w, http.StatusNotFound, "not_found", "indexing run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
