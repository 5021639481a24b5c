package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Schema evolution is additive only. Duplicate prevention lives in the
// Registry, never in a migration script.
func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			target_groups TEXT NOT NULL,
			file_path TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			schedule TEXT NOT NULL DEFAULT '',
			next_run TIMESTAMPTZ NULL,
			status TEXT NOT NULL,
			last_activity TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_name_created ON tasks (name, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const pgTaskColumns = `id, name, target_groups, file_path, type, schedule, next_run, status, last_activity, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, t Task) (Task, error) {
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (`+pgTaskColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.ID, t.Name, groups, t.FilePath, t.Type, t.Schedule,
		t.NextRun, string(t.Status), t.LastActivity, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t.Clone(), nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, patch Patch) (Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Task{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, id)
	t, err := scanPGTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("load task for update: %w", err)
	}

	applyPatch(&t, patch, time.Now().UTC())
	groups, err := encodeGroups(t.TargetGroups)
	if err != nil {
		return Task{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE tasks SET name=$1, target_groups=$2, file_path=$3, type=$4, schedule=$5,
		    next_run=$6, status=$7, last_activity=$8, updated_at=$9
		  WHERE id=$10`,
		t.Name, groups, t.FilePath, t.Type, t.Schedule,
		t.NextRun, string(t.Status), t.LastActivity, t.UpdatedAt, id,
	)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Task{}, fmt.Errorf("commit tx: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgTaskColumns+` FROM tasks WHERE id=$1`, id)
	t, err := scanPGTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Task, error) {
	query := `SELECT ` + pgTaskColumns + ` FROM tasks WHERE TRUE`
	args := make([]any, 0, 3)
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		query += fmt.Sprintf(` AND type=$%d`, len(args))
	}
	if f.Name != "" {
		args = append(args, f.Name)
		query += fmt.Sprintf(` AND name=$%d`, len(args))
	}
	query += ` ORDER BY name, created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	for rows.Next() {
		t, err := scanPGTask(rows)
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

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPGTask(row pgx.Row) (Task, error) {
	var (
		t            Task
		groupsRaw    string
		status       string
		nextRun      *time.Time
		lastActivity *time.Time
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
	t.NextRun = nextRun
	t.LastActivity = lastActivity
	return t, nil
}
