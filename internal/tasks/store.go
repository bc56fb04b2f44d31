package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// searchLimit caps SearchTasks results.
const searchLimit = 50

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed Service. All public methods are safe for
// concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Service = (*Store)(nil)

// NewStore creates a task store on db, running migrations on first use.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger.With("component", "tasks")}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate tasks: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			parent_id   TEXT,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			priority    TEXT NOT NULL,
			due_date    TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
	`)
	return err
}

const taskColumns = `id, owner_id, parent_id, title, description, status, priority, due_date, created_at, updated_at`

// CreateTask inserts a new task. A ParentID must name a task the owner can see.
func (s *Store) CreateTask(ctx context.Context, fields Fields, ownerID string) (*Task, error) {
	if err := fields.Normalize(); err != nil {
		return nil, err
	}
	if fields.ParentID != "" {
		if _, err := s.GetTask(ctx, fields.ParentID, ownerID); err != nil {
			return nil, fmt.Errorf("parent %s: %w", fields.ParentID, err)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate task ID: %w", err)
	}
	now := time.Now().UTC()
	t := &Task{
		ID:          id.String(),
		OwnerID:     ownerID,
		ParentID:    fields.ParentID,
		Title:       fields.Title,
		Description: fields.Description,
		Status:      fields.Status,
		Priority:    fields.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if fields.DueDate != nil {
		due := fields.DueDate.UTC()
		t.DueDate = &due
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, nullString(t.ParentID), t.Title, t.Description,
		string(t.Status), string(t.Priority), formatTimePtr(t.DueDate),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	s.logger.Debug("task created", "task_id", t.ID, "owner", ownerID, "parent", t.ParentID)
	return t, nil
}

// UpdateTask applies a partial update to a task the owner holds.
func (s *Store) UpdateTask(ctx context.Context, id string, update Update, ownerID string) (*Task, error) {
	if update.Empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalid)
	}
	t, err := s.GetTask(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if err := update.apply(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?, due_date = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		t.Title, t.Description, string(t.Status), string(t.Priority),
		formatTimePtr(t.DueDate), formatTime(t.UpdatedAt), t.ID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return t, nil
}

// DeleteTask removes a task and every task below it.
func (s *Store) DeleteTask(ctx context.Context, id, ownerID string) (string, error) {
	if _, err := s.GetTask(ctx, id, ownerID); err != nil {
		return "", err
	}

	res, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM tasks WHERE id = ? AND owner_id = ?
			UNION
			SELECT t.id FROM tasks t JOIN subtree st ON t.parent_id = st.id
			WHERE t.owner_id = ?
		)
		DELETE FROM tasks WHERE id IN (SELECT id FROM subtree)`,
		id, ownerID, ownerID)
	if err != nil {
		return "", fmt.Errorf("delete task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("task deleted", "task_id", id, "removed", n)
	}
	return id, nil
}

// GetTask returns ErrNotFound for unknown IDs and ErrPermissionDenied for
// tasks held by another owner.
func (s *Store) GetTask(ctx context.Context, id, ownerID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if t.OwnerID != ownerID {
		return nil, ErrPermissionDenied
	}
	return t, nil
}

// ListTasks returns the owner's tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, filter Filter, ownerID string, limit, offset int) ([]*Task, error) {
	where, args := filterClause(filter, ownerID)
	args = append(args, limit, offset)
	return s.query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		args...)
}

// SearchTasks matches query case-insensitively against title and
// description.
func (s *Store) SearchTasks(ctx context.Context, query string, filter Filter, ownerID string) ([]*Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrInvalid)
	}
	where, args := filterClause(filter, ownerID)
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	args = append(args, pattern, pattern, searchLimit)
	return s.query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+where+
			` AND (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')
			 ORDER BY updated_at DESC LIMIT ?`,
		args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	result := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func filterClause(f Filter, ownerID string) (string, []any) {
	clauses := []string{"owner_id = ?"}
	args := []any{ownerID}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority = ?")
		args = append(args, string(f.Priority))
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	return strings.Join(clauses, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*Task, error) {
	var (
		t                    Task
		parentID, dueDate    sql.NullString
		status, priority     string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&t.ID, &t.OwnerID, &parentID, &t.Title, &t.Description,
		&status, &priority, &dueDate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.ParentID = parentID.String
	t.Status = Status(status)
	t.Priority = Priority(priority)

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if dueDate.Valid {
		due, err := time.Parse(time.RFC3339Nano, dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse due_date: %w", err)
		}
		t.DueDate = &due
	}
	return &t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
