package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the supplementary SQL-backed Store, sitting behind the
// same interface as MemoryStore so callers never branch on which backend
// is active. Job history and bash-tool background output otherwise live
// only in process memory and vanish on restart; this gives an operator a
// durable record to inspect with any sqlite client.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) a sqlite-backed Store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("jobs: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers through one connection

	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	tool_name TEXT NOT NULL,
	tool_call_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	started_at TEXT,
	finished_at TEXT,
	result_json TEXT,
	error TEXT,
	seq INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_seq ON jobs(seq);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobs: migrate sqlite store: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	resultJSON, err := marshalResult(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO jobs (id, tool_name, tool_call_id, status, created_at, started_at, finished_at, result_json, error, seq)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM jobs))
ON CONFLICT(id) DO UPDATE SET
	tool_name=excluded.tool_name, tool_call_id=excluded.tool_call_id, status=excluded.status,
	started_at=excluded.started_at, finished_at=excluded.finished_at,
	result_json=excluded.result_json, error=excluded.error`,
		job.ID, job.ToolName, job.ToolCallID, string(job.Status),
		formatTime(job.CreatedAt), formatTime(job.StartedAt), formatTime(job.FinishedAt),
		resultJSON, job.Error)
	if err != nil {
		return fmt.Errorf("jobs: insert job %q: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, job *Job) error {
	return s.Create(ctx, job)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, tool_name, tool_call_id, status, created_at, started_at, finished_at, result_json, error
FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Job, error) {
	if limit <= 0 {
		limit = -1 // sqlite: negative LIMIT means "no limit"
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, tool_name, tool_call_id, status, created_at, started_at, finished_at, result_json, error
FROM jobs ORDER BY seq ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("jobs: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("jobs: prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Cancel(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil || job == nil {
		return err
	}
	if job.Status != StatusRunning && job.Status != StatusQueued {
		return nil
	}
	job.Status = StatusFailed
	job.Error = "job cancelled"
	job.FinishedAt = time.Now()
	return s.Update(ctx, job)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var status string
	var createdAt, startedAt, finishedAt, resultJSON, errMsg sql.NullString
	if err := row.Scan(&job.ID, &job.ToolName, &job.ToolCallID, &status,
		&createdAt, &startedAt, &finishedAt, &resultJSON, &errMsg); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.CreatedAt = parseTime(createdAt.String)
	job.StartedAt = parseTime(startedAt.String)
	job.FinishedAt = parseTime(finishedAt.String)
	job.Error = errMsg.String
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &job.Result); err != nil {
			return nil, fmt.Errorf("jobs: decode stored result for %q: %w", job.ID, err)
		}
	}
	return &job, nil
}

func marshalResult(job *Job) (string, error) {
	if job.Result == nil {
		return "", nil
	}
	data, err := json.Marshal(job.Result)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal result for %q: %w", job.ID, err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
