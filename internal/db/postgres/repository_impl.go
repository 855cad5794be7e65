// Package postgres 共享部署下的审计存储：入库记录与问答日志。
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"ragcore/internal/domain/rag"
	applog "ragcore/internal/platform/log"
)

// Repository PostgreSQL 审计存储
type Repository struct {
	db *sql.DB
}

var _ rag.AuditStore = (*Repository)(nil)

// PoolConfig 连接池参数，零值使用 database/sql 默认值
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open 连接 PostgreSQL 并建表
func Open(ctx context.Context, url string, pool PoolConfig) (*Repository, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := NewRepository(db)
	if err := repo.EnsureTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure audit tables: %w", err)
	}
	applog.Info("[Storage] PostgreSQL audit store ready")
	return repo, nil
}

// NewRepository 创建 PostgreSQL 存储
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close 关闭连接池
func (r *Repository) Close() error {
	return r.db.Close()
}

// EnsureTables 确保审计表存在
func (r *Repository) EnsureTables(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS indexing_runs (
		id                  VARCHAR(64) PRIMARY KEY,
		operation_type      VARCHAR(32) NOT NULL,
		status              VARCHAR(32) NOT NULL,
		collection          VARCHAR(255) NOT NULL,
		namespace           VARCHAR(255) NOT NULL DEFAULT '',
		force_rebuild       BOOLEAN NOT NULL DEFAULT FALSE,
		actor               VARCHAR(255) NOT NULL DEFAULT '',
		documents_processed INTEGER NOT NULL DEFAULT 0,
		chunks_created      INTEGER NOT NULL DEFAULT 0,
		error_message       TEXT NOT NULL DEFAULT '',
		started_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		completed_at        TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_indexing_runs_started ON indexing_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS query_logs (
		id               VARCHAR(64) PRIMARY KEY,
		query            TEXT NOT NULL,
		answer           TEXT NOT NULL DEFAULT '',
		mode             VARCHAR(32) NOT NULL,
		collection       VARCHAR(255) NOT NULL,
		sources          JSONB NOT NULL DEFAULT '[]',
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		client_ip        VARCHAR(64) NOT NULL DEFAULT '',
		user_agent       TEXT NOT NULL DEFAULT '',
		error_message    TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_query_logs_created ON query_logs(created_at DESC);
	`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// CreateRun 写入 in_progress 记录
func (r *Repository) CreateRun(ctx context.Context, run *rag.IndexingRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = rag.RunStatusInProgress
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO indexing_runs (id, operation_type, status, collection, namespace, force_rebuild, actor,
			documents_processed, chunks_created, error_message, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, string(run.OperationType), string(run.Status), run.Collection, run.Namespace, run.Force, run.Actor,
		run.DocumentsProcessed, run.ChunksCreated, run.ErrorMessage, run.StartedAt, run.CompletedAt,
	)
	return err
}

// UpdateRun 写入终态，记录不存在时报错
func (r *Repository) UpdateRun(ctx context.Context, run *rag.IndexingRun) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE indexing_runs SET status=$1, documents_processed=$2, chunks_created=$3, error_message=$4, completed_at=$5
		 WHERE id=$6`,
		string(run.Status), run.DocumentsProcessed, run.ChunksCreated, run.ErrorMessage, run.CompletedAt, run.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("indexing run %s not found", run.ID)
	}
	return nil
}

const runColumns = `id, operation_type, status, collection, namespace, force_rebuild, actor,
	documents_processed, chunks_created, error_message, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*rag.IndexingRun, error) {
	run := &rag.IndexingRun{}
	var (
		op, status string
		completed  sql.NullTime
	)
	if err := row.Scan(&run.ID, &op, &status, &run.Collection, &run.Namespace, &run.Force, &run.Actor,
		&run.DocumentsProcessed, &run.ChunksCreated, &run.ErrorMessage, &run.StartedAt, &completed); err != nil {
		return nil, err
	}
	run.OperationType = rag.OperationType(op)
	run.Status = rag.RunStatus(status)
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return run, nil
}

// GetRun 按 ID 查询，不存在返回 nil, nil
func (r *Repository) GetRun(ctx context.Context, id string) (*rag.IndexingRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM indexing_runs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns 按开始时间倒序分页
func (r *Repository) ListRuns(ctx context.Context, limit, offset int) ([]*rag.IndexingRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM indexing_runs ORDER BY started_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*rag.IndexingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateQueryLog 写入问答日志，sources 以 JSONB 存放
func (r *Repository) CreateQueryLog(ctx context.Context, entry *rag.QueryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	sources := entry.Sources
	if sources == nil {
		sources = []rag.RetrievalResult{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO query_logs (id, query, answer, mode, collection, sources, response_time_ms, client_ip, user_agent, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.Query, entry.Answer, entry.Mode, entry.Collection, sourcesJSON,
		entry.ResponseTimeMs, entry.ClientIP, entry.UserAgent, entry.ErrorMessage, entry.CreatedAt,
	)
	return err
}
