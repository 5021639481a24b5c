package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default durable store: a single-file database so the
// dashboard runs with zero infrastructure.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := ensureSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSQLiteSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  target_groups TEXT NOT NULL,
  file_path TEXT NOT NULL DEFAULT '',
  type TEXT NOT NULL DEFAULT '',
  schedule TEXT NOT NULL DEFAULT '',
  next_run DATETIME,
  status TEXT NOT NULL CHECK(status IN ('active','disabled','archived')),
  last_activity DATETIME,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_name_created ON tasks(name, created_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const sqliteTaskColumns = `id,name,target_groups,file_path,type,schedule,next_run,status,last_activity,created_at,updated_at`

func (s *SQLiteStore) Insert(ctx context.Context, t Task) (Task, error) {
	if err := validateInsert(t); err != nil {
		return Task{}, err
	}
	now := time.Now().UTC()
	t.ID = newTaskID()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusActive
	}
	groups, err := encodeGroups(t.TargetGroups)
	if err != nil {
		return Task{}, err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO tasks (`+sqliteTaskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Name, groups, t.FilePath, t.Type, t.Schedule,
		nullableTime(t.NextRun), string(t.Status), nullableTime(t.LastActivity),
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t.Clone(), nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, patch Patch) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+sqliteTaskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanSQLiteTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("load task for update: %w", err)
	}

	applyPatch(&t, patch, time.Now().UTC())
	groups, err := encodeGroups(t.TargetGroups)
	if err != nil {
		return Task{}, err
	}

	_, err = tx.ExecContext(ctx, `
UPDATE tasks SET name=?, target_groups=?, file_path=?, type=?, schedule=?,
  next_run=?, status=?, last_activity=?, updated_at=?
WHERE id=?`,
		t.Name, groups, t.FilePath, t.Type, t.Schedule,
		nullableTime(t.NextRun), string(t.Status), nullableTime(t.LastActivity),
		t.UpdatedAt, id,
	)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	// Absent rows are a no-op so retried cleanups stay safe.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteTaskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanSQLiteTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Task, error) {
	query := `SELECT ` + sqliteTaskColumns + ` FROM tasks WHERE 1=1`
	args := make([]any, 0, 3)
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		query += ` AND type=?`
		args = append(args, f.Type)
	}
	if f.Name != "" {
		query += ` AND name=?`
		args = append(args, f.Name)
	}
	query += ` ORDER BY name, created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTask(row rowScanner) (Task, error) {
	var (
		t            Task
		groupsRaw    string
		status       string
		nextRun      sql.NullTime
		lastActivity sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.Name, &groupsRaw, &t.FilePath, &t.Type, &t.Schedule,
		&nextRun, &status, &lastActivity, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	groups, err := decodeGroups(groupsRaw)
	if err != nil {
		return Task{}, err
	}
	t.TargetGroups = groups
	t.Status = Status(status)
	if nextRun.Valid {
		v := nextRun.Time.UTC()
		t.NextRun = &v
	}
	if lastActivity.Valid {
		v := lastActivity.Time.UTC()
		t.LastActivity = &v
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
