// Package tasks defines the task service consumed by the task tools and a
// SQLite implementation of it. Every operation takes the caller's owner ID
// and enforces ownership itself; tools never check authorization.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors returned by Service implementations. Tools map them to
// envelope error codes.
var (
	ErrNotFound         = errors.New("task not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalid          = errors.New("invalid task")
)

// MaxTitleLength bounds task titles.
const MaxTitleLength = 200

// Status is a task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority orders tasks for the user.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is one item on an owner's list. Subtasks reference their parent.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	ParentID    string     `json:"parent_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Fields are the caller-supplied values for a new task. Empty Status and
// Priority take the defaults (pending, medium).
type Fields struct {
	Title       string
	Description string
	ParentID    string
	Status      Status
	Priority    Priority
	DueDate     *time.Time
}

// Normalize trims the title, applies defaults and validates the result.
func (f *Fields) Normalize() error {
	f.Title = strings.TrimSpace(f.Title)
	if f.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if utf8.RuneCountInString(f.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalid, MaxTitleLength)
	}
	if f.Status == "" {
		f.Status = StatusPending
	}
	if !f.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, f.Status)
	}
	if f.Priority == "" {
		f.Priority = PriorityMedium
	}
	if !f.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, f.Priority)
	}
	return nil
}

// Update is a partial modification. Nil fields are left unchanged;
// ClearDueDate removes an existing due date.
type Update struct {
	Title        *string
	Description  *string
	Status       *Status
	Priority     *Priority
	DueDate      *time.Time
	ClearDueDate bool
}

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil &&
		u.Priority == nil && u.DueDate == nil && !u.ClearDueDate
}

// apply validates u and writes it onto t.
func (u Update) apply(t *Task) error {
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return fmt.Errorf("%w: title cannot be empty", ErrInvalid)
		}
		if utf8.RuneCountInString(title) > MaxTitleLength {
			return fmt.Errorf("%w: title exceeds %d characters", ErrInvalid, MaxTitleLength)
		}
		t.Title = title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalid, *u.Status)
		}
		t.Status = *u.Status
	}
	if u.Priority != nil {
		if !u.Priority.Valid() {
			return fmt.Errorf("%w: unknown priority %q", ErrInvalid, *u.Priority)
		}
		t.Priority = *u.Priority
	}
	if u.ClearDueDate {
		t.DueDate = nil
	} else if u.DueDate != nil {
		due := u.DueDate.UTC()
		t.DueDate = &due
	}
	return nil
}

// Filter narrows list and search results. Zero values match everything.
type Filter struct {
	Status   Status
	Priority Priority
	ParentID string
}

// Service is the task backend consumed by the task tools.
type Service interface {
	CreateTask(ctx context.Context, fields Fields, ownerID string) (*Task, error)
	UpdateTask(ctx context.Context, id string, update Update, ownerID string) (*Task, error)
	DeleteTask(ctx context.Context, id, ownerID string) (deletedID string, err error)
	GetTask(ctx context.Context, id, ownerID string) (*Task, error)
	ListTasks(ctx context.Context, filter Filter, ownerID string, limit, offset int) ([]*Task, error)
	SearchTasks(ctx context.Context, query string, filter Filter, ownerID string) ([]*Task, error)
}
