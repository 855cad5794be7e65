package rag

import "time"

// Document 待入库的原始文档。ID 在集合内唯一，为空时分块 ID 随机生成。
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk 文档分块，Index 在同一文档内从 0 连续递增。
type Chunk struct {
	DocumentID string         `json:"document_id,omitempty"`
	Index      int            `json:"chunk"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Record 写入后端的一条 (id, vector, content, metadata)。
type Record struct {
	ID        string
	Namespace string
	Content   string
	Metadata  map[string]any
	Vector    []float32
}

// QueryRequest 后端相似度查询。
type QueryRequest struct {
	Vector    []float32
	K         int
	Namespace string
}

// Match 后端返回的命中，Score 为余弦相似度（越大越相关）。
type Match struct {
	ID       string
	Content  string
	Metadata map[string]any
	Score    float64
}

// RetrievalResult 对外的检索结果，仅在单次查询内有效。
type RetrievalResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Source 取 metadata 中的来源，缺省为结果 ID。
func (r RetrievalResult) Source() string {
	if s, ok := r.Metadata[MetaSource].(string); ok && s != "" {
		return s
	}
	return r.ID
}

// Chunk 元数据保留键
const (
	MetaSource = "source"
	MetaDocID  = "id"
	MetaChunk  = "chunk"
	MetaTitle  = "title"

	// MetaRerankScore 重排打分，Score 仍保留向量相似度
	MetaRerankScore = "rerank_score"
)

// RunStatus 入库运行状态
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusSuccess    RunStatus = "success"
	RunStatusFailed     RunStatus = "failed"
)

// OperationType 入库操作类型
type OperationType string

const (
	OpDocumentIndexing  OperationType = "document_indexing"
	OpURLIndexing       OperationType = "url_indexing"
	OpDirectoryIndexing OperationType = "directory_indexing"
	OpUploadIndexing    OperationType = "upload_indexing"
)

// IndexingRun 入库审计记录：开始时写入 in_progress，结束时只更新一次，永不删除。
type IndexingRun struct {
	ID                 string        `json:"id"`
	OperationType      OperationType `json:"operation_type"`
	Status             RunStatus     `json:"status"`
	Collection         string        `json:"collection"`
	Namespace          string        `json:"namespace,omitempty"`
	Force              bool          `json:"force"`
	Actor              string        `json:"actor,omitempty"`
	DocumentsProcessed int           `json:"documents_processed"`
	ChunksCreated      int           `json:"chunks_created"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	StartedAt          time.Time     `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

// Terminal 是否已进入终态
func (r *IndexingRun) Terminal() bool {
	return r.Status == RunStatusSuccess || r.Status == RunStatusFailed
}

// QueryLog 问答日志，每次 Answer 调用写一条。
type QueryLog struct {
	ID             string            `json:"id"`
	Query          string            `json:"query"`
	Answer         string            `json:"answer"`
	Mode           string            `json:"mode"`
	Collection     string            `json:"collection"`
	Sources        []RetrievalResult `json:"sources"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	ClientIP       string            `json:"client_ip,omitempty"`
	UserAgent      string            `json:"user_agent,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}
