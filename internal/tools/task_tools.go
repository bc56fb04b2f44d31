package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/tasks"
)

// List and batch limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxBatchItems    = 50
)

var (
	statusValues   = []string{string(tasks.StatusPending), string(tasks.StatusInProgress), string(tasks.StatusCompleted), string(tasks.StatusCancelled)}
	priorityValues = []string{string(tasks.PriorityLow), string(tasks.PriorityMedium), string(tasks.PriorityHigh)}
)

type createTaskArgs struct {
	Title       string `json:"title" jsonschema:"Short task title, at most 200 characters"`
	Description string `json:"description,omitempty" jsonschema:"Optional longer description"`
	Priority    string `json:"priority,omitempty" jsonschema:"Task priority; defaults to medium"`
	DueDate     string `json:"due_date,omitempty" jsonschema:"Optional due date as an RFC 3339 timestamp"`
	ParentID    string `json:"parent_id,omitempty" jsonschema:"Optional ID of the parent task when creating a subtask"`
}

type updateTaskArgs struct {
	TaskID       string `json:"task_id" jsonschema:"ID of the task to update"`
	Title        string `json:"title,omitempty" jsonschema:"New title"`
	Description  string `json:"description,omitempty" jsonschema:"New description"`
	Status       string `json:"status,omitempty" jsonschema:"New status"`
	Priority     string `json:"priority,omitempty" jsonschema:"New priority"`
	DueDate      string `json:"due_date,omitempty" jsonschema:"New due date as an RFC 3339 timestamp"`
	ClearDueDate bool   `json:"clear_due_date,omitempty" jsonschema:"Set to true to remove the due date"`
}

type taskIDArgs struct {
	TaskID string `json:"task_id" jsonschema:"ID of the task"`
}

type listTasksArgs struct {
	Status   string `json:"status,omitempty" jsonschema:"Only tasks with this status"`
	Priority string `json:"priority,omitempty" jsonschema:"Only tasks with this priority"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"Only subtasks of this task"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum number of tasks to return (default 20, max 100)"`
	Offset   int    `json:"offset,omitempty" jsonschema:"Number of tasks to skip for paging"`
}

type searchTasksArgs struct {
	Query    string `json:"query" jsonschema:"Text to look for in task titles and descriptions"`
	Status   string `json:"status,omitempty" jsonschema:"Only tasks with this status"`
	Priority string `json:"priority,omitempty" jsonschema:"Only tasks with this priority"`
}

type batchSubtasksArgs struct {
	ParentID string `json:"parent_id" jsonschema:"ID of the parent task"`
	Subtasks []any  `json:"subtasks" jsonschema:"Subtasks to create, each with title and optional description, priority and due_date (at most 50)"`
}

// RegisterTaskTools registers the task tools backed by svc. The owner
// comes from the call context.
func RegisterTaskTools(r *Registry, svc tasks.Service) error {
	h := &taskHandlers{svc: svc}
	all := []*Tool{
		Typed("create_task",
			"Create a new task for the user. Use parent_id to create a subtask under an existing task.",
			h.create).
			SetEnum("priority", priorityValues...),
		Typed("update_task",
			"Update fields of an existing task. Only the supplied fields change.",
			h.update).
			SetEnum("status", statusValues...).
			SetEnum("priority", priorityValues...),
		Typed("delete_task",
			"Delete a task and its subtasks.",
			h.delete),
		Typed("get_task",
			"Get one task by ID.",
			h.get),
		Typed("list_tasks",
			"List the user's tasks, newest first, optionally filtered by status, priority or parent.",
			h.list).
			SetEnum("status", statusValues...).
			SetEnum("priority", priorityValues...),
		Typed("search_tasks",
			"Search the user's tasks by text in the title or description.",
			h.search).
			SetEnum("status", statusValues...).
			SetEnum("priority", priorityValues...),
		Typed("batch_create_subtasks",
			"Create several subtasks under one parent task. Items are created independently: check success_count and failure_count in the result.",
			h.batchSubtasks),
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type taskHandlers struct {
	svc tasks.Service
}

func (h *taskHandlers) create(ctx context.Context, args createTaskArgs) Envelope {
	owner, denied := requireOwner(ctx)
	if denied != nil {
		return *denied
	}
	fields, err := args.fields()
	if err != nil {
		return Fail(CodeValidation, err.Error())
	}
	task, err := h.svc.CreateTask(ctx, fields, owner)
	if err != nil {
		return taskFailure(CodeCreateTask, "create task", err)
	}
	return OK(task, fmt.Sprintf("Created task %q", task.Title))
}

func (a createTaskArgs) fields() (tasks.Fields, error) {
	due, err := parseDueDate(a.DueDate)
	if err != nil {
		return tasks.Fields{}, err
	}
	return tasks.Fields{
		Title:       a.Title,
		Description: a.Description,
		ParentID:    a.ParentID,
		Priority:    tasks.Priority(a.Priority),
		DueDate:     due,
	}, nil
}

func (h *taskHandlers) update(ctx context.Context, args updateTaskArgs) Envelope {
	owner, denied := requireOwner(ctx)
	if denied != nil {
		return *denied
	}

	var u tasks.Update
	if args.Title != "" {
		u.Title = &args.Title
	}
	if args.Description != "" {
		u.Description = &args.Description
	}
	if args.Status != "" {
		s := tasks.Status(args.Status)
		u.Status = &s
	}
	if args.Priority != "" {
		p := tasks.Priority(args.Priority)
		u.Priority = &p
	}
	due, err := parseDueDate(args.DueDate)
	if err != nil {
		return Fail(CodeValidation, err.Error())
	}
	u.DueDate = due
	u.ClearDueDate = args.ClearDueDate

	task, err := h.svc.UpdateTask(ctx, args.TaskID, u, owner)
	if err != nil {
		return taskFailure(CodeUpdateTask, "update task", err)
	}
	return OK(task, fmt.Sprintf("Updated task %q", task.Title))
}

func (h *taskHandlers) delete(ctx context.Context, args taskIDArgs) Envelope {
	owner, denied := requireOwner(ctx)
	if denied != nil {
		return *denied
	}
	id, err := h.svc.DeleteTask(ctx, args.TaskID, owner)
	if err != nil {
		return taskFailure(CodeDeleteTask, "delete task", err)
	}
	return OK(map[string]any{"deleted_id": id}, "Task deleted")
}

func (h *taskHandlers) get(ctx context.Context, args taskIDArgs) Envelope {
	owner, denied := requireOwner(ctx)
	if denied != nil {
		return *denied
	}
	task, err := h.svc.GetTask(ctx, args.TaskID, owner)
	if err != nil {
		return taskFailure(CodeGetTask, "get task", err)
	}
	return OK(task, fmt.Sprintf("Task %q", task.Title))
}

func (h *taskHandlers) list(ctx context.Context, args listTasksArgs) Envelope {
	owner, denied := requireOwner(ctx)
	if denied != nil {
		return *denied
	}
	limit := clampLimit(args.Limit)
	offset := max(args.Offset, 0)

	filter := tasks.Filter{
		Status:   tasks.Status(args.Status),
		Priority: tasks.Priority(args.Priority),
		ParentID: args.ParentID,
	}
	list, err := h.svc.ListTasks(ctx, filter, owner, limit, offset)
	if err != nil {
		return taskFailure(CodeListTasks, "list tasks", err)
	}
	return OK(map[string]any{
		"tasks":  nonNil(list),
		"count":  len(list),
		"limit":  limit,
		"offset": offset,
	}, fmt.Sprintf("Found %d tasks", len(list)))
}

func (h *taskHandlers) search(ctx context.Context, args searchTasksArgs) Envelope {
	owner, denied := requireOwner(ctx)
	if denied != nil {
		return *denied
	}
	if strings.TrimSpace(args.Query) == "" {
		return Fail(CodeValidation, "query must not be empty")
	}
	filter := tasks.Filter{
		Status:   tasks.Status(args.Status),
		Priority: tasks.Priority(args.Priority),
	}
	list, err := h.svc.SearchTasks(ctx, args.Query, filter, owner)
	if err != nil {
		return taskFailure(CodeSearchTasks, "search tasks", err)
	}
	return OK(map[string]any{
		"tasks": nonNil(list),
		"count": len(list),
		"query": args.Query,
	}, fmt.Sprintf("Found %d tasks matching %q", len(list), args.Query))
}

// batchSubtasks checks the aggregate request (size, parent ownership)
// before any item is attempted; after that it always reports success and
// leaves per-item outcomes to the counts.
func (h *taskHandlers) batchSubtasks(ctx context.Context, args batchSubtasksArgs) Envelope {
	owner, denied := requireOwner(ctx)
	if denied != nil {
		return *denied
	}
	if strings.TrimSpace(args.ParentID) == "" {
		return Fail(CodeValidation, "parent_id is required")
	}
	if len(args.Subtasks) > MaxBatchItems {
		return Failf(CodeValidation, "too many subtasks: %d (max %d)", len(args.Subtasks), MaxBatchItems)
	}

	parent, err := h.svc.GetTask(ctx, args.ParentID, owner)
	if err != nil {
		return taskFailure(CodeBatchCreate, "check parent task", err)
	}

	res := RunBatch(ctx, args.Subtasks, validateSubtask,
		func(ctx context.Context, item any) (*tasks.Task, error) {
			fields, _ := subtaskFields(item)
			fields.ParentID = parent.ID
			return h.svc.CreateTask(ctx, fields, owner)
		})

	msg := fmt.Sprintf("Created %d of %d subtasks under %q", res.SuccessCount, res.Total, parent.Title)
	if res.FailureCount > 0 {
		msg += fmt.Sprintf(" (%d failed)", res.FailureCount)
	}
	return OK(res, msg)
}

func validateSubtask(item any) error {
	_, err := subtaskFields(item)
	return err
}

// subtaskFields checks one batch item's shape and converts it. Items are
// untyped in the schema so a malformed one fails alone.
func subtaskFields(raw any) (tasks.Fields, error) {
	var f tasks.Fields

	item, ok := raw.(map[string]any)
	if !ok {
		return f, fmt.Errorf("subtask must be an object, got %T", raw)
	}
	title, ok := item["title"].(string)
	if !ok || strings.TrimSpace(title) == "" {
		return f, errors.New("title is required")
	}
	f.Title = title

	if v, present := item["description"]; present {
		s, ok := v.(string)
		if !ok {
			return f, errors.New("description must be a string")
		}
		f.Description = s
	}
	if v, present := item["priority"]; present {
		s, ok := v.(string)
		if !ok || !tasks.Priority(s).Valid() {
			return f, fmt.Errorf("priority must be one of %v", priorityValues)
		}
		f.Priority = tasks.Priority(s)
	}
	if v, present := item["due_date"]; present {
		s, ok := v.(string)
		if !ok {
			return f, errors.New("due_date must be a string")
		}
		due, err := parseDueDate(s)
		if err != nil {
			return f, err
		}
		f.DueDate = due
	}
	if err := f.Normalize(); err != nil {
		return f, err
	}
	return f, nil
}

// taskFailure maps service errors to envelope codes; anything
// unclassified gets the operation's own code.
func taskFailure(code, op string, err error) Envelope {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return Fail(CodeTaskNotFound, err.Error())
	case errors.Is(err, tasks.ErrPermissionDenied):
		return Fail(CodePermissionDenied, "you do not have access to this task")
	case errors.Is(err, tasks.ErrInvalid):
		return Fail(CodeValidation, err.Error())
	default:
		return Failf(code, "failed to %s: %v", op, err)
	}
}

func requireOwner(ctx context.Context) (string, *Envelope) {
	owner := OwnerIDFromContext(ctx)
	if owner == "" {
		env := Fail(CodePermissionDenied, "no user is associated with this conversation")
		return "", &env
	}
	return owner, nil
}

func parseDueDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Date-only values are common from models.
		d, derr := time.Parse(time.DateOnly, s)
		if derr != nil {
			return nil, fmt.Errorf("due_date %q is not an RFC 3339 timestamp", s)
		}
		t = d
	}
	return &t, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
