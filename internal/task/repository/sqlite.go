package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/execdesk/execdesk/internal/common/errors"
	"github.com/execdesk/execdesk/internal/task"
)

// SQLiteRepository persists tasks to a sqlite database. Notes, dependencies
// and metadata are stored as JSON columns; the assignee gets its own column
// so inbox queries stay indexed.
type SQLiteRepository struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	assigned_to  TEXT NOT NULL,
	created_by   TEXT NOT NULL,
	priority     INTEGER NOT NULL DEFAULT 3,
	status       TEXT NOT NULL,
	progress     REAL NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	due_date     TIMESTAMP,
	dependencies TEXT NOT NULL DEFAULT '[]',
	metadata     TEXT NOT NULL DEFAULT '{}',
	notes        TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// NewSQLiteRepository opens (creating if needed) the database at path and
// ensures the schema exists. WAL mode keeps readers unblocked during the
// single writer's transactions.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// sqlite handles one writer at a time; cap the pool to avoid
	// SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Create implements Repository.
func (r *SQLiteRepository) Create(ctx context.Context, t *task.Task) error {
	deps, meta, notes, err := marshalJSONColumns(t)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, assigned_to, created_by, priority,
			status, progress, created_at, updated_at, completed_at, due_date,
			dependencies, metadata, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.AssignedTo, t.CreatedBy, t.Priority,
		string(t.Status), t.Progress, t.CreatedAt, t.UpdatedAt, t.CompletedAt, t.DueDate,
		deps, meta, notes)
	if err != nil {
		return errors.Wrap(err, "failed to insert task")
	}
	return nil
}

// Get implements Repository.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, assigned_to, created_by, priority,
			status, progress, created_at, updated_at, completed_at, due_date,
			dependencies, metadata, notes
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	return t, nil
}

// Update implements Repository.
func (r *SQLiteRepository) Update(ctx context.Context, t *task.Task) error {
	deps, meta, notes, err := marshalJSONColumns(t)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET title = ?, description = ?, assigned_to = ?, created_by = ?,
			priority = ?, status = ?, progress = ?, updated_at = ?, completed_at = ?,
			due_date = ?, dependencies = ?, metadata = ?, notes = ?
		WHERE id = ?`,
		t.Title, t.Description, t.AssignedTo, t.CreatedBy,
		t.Priority, string(t.Status), t.Progress, t.UpdatedAt, t.CompletedAt,
		t.DueDate, deps, meta, notes, t.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("task", t.ID)
	}
	return nil
}

// Delete implements Repository.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("task", id)
	}
	return nil
}

// ListByAssignee implements Repository.
func (r *SQLiteRepository) ListByAssignee(ctx context.Context, agentID string) ([]*task.Task, error) {
	return r.list(ctx, `
		SELECT id, title, description, assigned_to, created_by, priority,
			status, progress, created_at, updated_at, completed_at, due_date,
			dependencies, metadata, notes
		FROM tasks WHERE assigned_to = ? ORDER BY created_at, id`, agentID)
}

// ListAll implements Repository.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]*task.Task, error) {
	return r.list(ctx, `
		SELECT id, title, description, assigned_to, created_by, priority,
			status, progress, created_at, updated_at, completed_at, due_date,
			dependencies, metadata, notes
		FROM tasks ORDER BY created_at, id`)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	out := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate tasks")
	}
	return out, nil
}

// Ping implements Repository.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close implements Repository.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t           task.Task
		status      string
		completedAt sql.NullTime
		dueDate     sql.NullTime
		deps, meta  string
		notes       string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.AssignedTo, &t.CreatedBy,
		&t.Priority, &status, &t.Progress, &t.CreatedAt, &t.UpdatedAt,
		&completedAt, &dueDate, &deps, &meta, &notes)
	if err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	if dueDate.Valid {
		ts := dueDate.Time
		t.DueDate = &ts
	}
	if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
		return nil, fmt.Errorf("corrupt dependencies column: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &t.Metadata); err != nil {
		return nil, fmt.Errorf("corrupt metadata column: %w", err)
	}
	if err := json.Unmarshal([]byte(notes), &t.Notes); err != nil {
		return nil, fmt.Errorf("corrupt notes column: %w", err)
	}
	return &t, nil
}

func marshalJSONColumns(t *task.Task) (deps, meta, notes string, err error) {
	d := t.Dependencies
	if d == nil {
		d = []string{}
	}
	db, err := json.Marshal(d)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal dependencies")
	}
	m := t.Metadata
	if m == nil {
		m = map[string]any{}
	}
	mb, err := json.Marshal(m)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal metadata")
	}
	n := t.Notes
	if n == nil {
		n = []task.Note{}
	}
	nb, err := json.Marshal(n)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal notes")
	}
	return string(db), string(mb), string(nb), nil
}
