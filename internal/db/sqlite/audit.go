package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/domain/rag"
)

// AuditStore 本地审计存储：入库记录与问答日志
type AuditStore struct {
	store *Store
}

var _ rag.AuditStore = (*AuditStore)(nil)

// CreateRun 写入 in_progress 记录，ID 为空时生成
func (a *AuditStore) CreateRun(ctx context.Context, run *rag.IndexingRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := a.store.db.ExecContext(ctx, `
		INSERT INTO indexing_runs (id, operation_type, status, collection, namespace, force_rebuild, actor,
			documents_processed, chunks_created, error_message, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.OperationType), string(run.Status), run.Collection, run.Namespace, run.Force, run.Actor,
		run.DocumentsProcessed, run.ChunksCreated, run.ErrorMessage, formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert indexing run: %w", err)
	}
	return nil
}

// UpdateRun 写入终态
func (a *AuditStore) UpdateRun(ctx context.Context, run *rag.IndexingRun) error {
	var completed any
	if run.CompletedAt != nil {
		completed = formatTime(*run.CompletedAt)
	}
	res, err := a.store.db.ExecContext(ctx, `
		UPDATE indexing_runs
		SET status = ?, documents_processed = ?, chunks_created = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		string(run.Status), run.DocumentsProcessed, run.ChunksCreated, run.ErrorMessage, completed, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update indexing run: %w", err)
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
	var (
		run       rag.IndexingRun
		op, st    string
		started   string
		completed sql.NullString
	)
	if err := row.Scan(&run.ID, &op, &st, &run.Collection, &run.Namespace, &run.Force, &run.Actor,
		&run.DocumentsProcessed, &run.ChunksCreated, &run.ErrorMessage, &started, &completed); err != nil {
		return nil, err
	}
	run.OperationType = rag.OperationType(op)
	run.Status = rag.RunStatus(st)

	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		run.CompletedAt = &t
	}
	return &run, nil
}

// GetRun 按 ID 查询，不存在返回 nil, nil
func (a *AuditStore) GetRun(ctx context.Context, id string) (*rag.IndexingRun, error) {
	run, err := scanRun(a.store.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM indexing_runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get indexing run: %w", err)
	}
	return run, nil
}

// ListRuns 按开始时间倒序分页
func (a *AuditStore) ListRuns(ctx context.Context, limit, offset int) ([]*rag.IndexingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.store.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM indexing_runs ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list indexing runs: %w", err)
	}
	defer rows.Close()

	var runs []*rag.IndexingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indexing run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateQueryLog 追加一条问答日志
func (a *AuditStore) CreateQueryLog(ctx context.Context, entry *rag.QueryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	_, err = a.store.db.ExecContext(ctx, `
		INSERT INTO query_logs (id, query, answer, mode, collection, sources, response_time_ms,
			client_ip, user_agent, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Query, entry.Answer, entry.Mode, entry.Collection, string(sources), entry.ResponseTimeMs,
		entry.ClientIP, entry.UserAgent, entry.ErrorMessage, formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert query log: %w", err)
	}
	return nil
}

// CountQueryLogs 问答日志条数
func (a *AuditStore) CountQueryLogs(ctx context.Context) (int, error) {
	var n int
	if err := a.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM query_logs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count query logs: %w", err)
	}
	return n, nil
}
