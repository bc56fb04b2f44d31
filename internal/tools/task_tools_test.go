package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/points"
	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/tasks"
)

// fakeTasks is an in-memory tasks.Service whose CreateTask fails for
// titles listed in failTitles.
type fakeTasks struct {
	mu         sync.Mutex
	tasks      map[string]*tasks.Task
	failTitles map[string]bool
	seq        int
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: map[string]*tasks.Task{}, failTitles: map[string]bool{}}
}

func (f *fakeTasks) CreateTask(_ context.Context, fields tasks.Fields, owner string) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTitles[fields.Title] {
		return nil, fmt.Errorf("database is locked")
	}
	if err := fields.Normalize(); err != nil {
		return nil, err
	}
	f.seq++
	t := &tasks.Task{
		ID:       fmt.Sprintf("task-%d", f.seq),
		OwnerID:  owner,
		ParentID: fields.ParentID,
		Title:    fields.Title,
		Status:   fields.Status,
		Priority: fields.Priority,
	}
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeTasks) UpdateTask(ctx context.Context, id string, u tasks.Update, owner string) (*tasks.Task, error) {
	t, err := f.GetTask(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	return t, nil
}

func (f *fakeTasks) DeleteTask(ctx context.Context, id, owner string) (string, error) {
	if _, err := f.GetTask(ctx, id, owner); err != nil {
		return "", err
	}
	f.mu.Lock()
	delete(f.tasks, id)
	f.mu.Unlock()
	return id, nil
}

func (f *fakeTasks) GetTask(_ context.Context, id, owner string) (*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, tasks.ErrNotFound
	}
	if t.OwnerID != owner {
		return nil, tasks.ErrPermissionDenied
	}
	return t, nil
}

func (f *fakeTasks) ListTasks(_ context.Context, _ tasks.Filter, owner string, limit, offset int) ([]*tasks.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*tasks.Task
	for _, t := range f.tasks {
		if t.OwnerID == owner {
			out = append(out, t)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTasks) SearchTasks(context.Context, string, tasks.Filter, string) ([]*tasks.Task, error) {
	return nil, errors.New("search index offline")
}

func taskRegistry(t *testing.T, svc tasks.Service) *Registry {
	t.Helper()
	r := NewRegistry(quietLogger())
	if err := RegisterTaskTools(r, svc); err != nil {
		t.Fatalf("RegisterTaskTools: %v", err)
	}
	return r
}

func ownerCtx(owner string) context.Context {
	return WithOwnerID(context.Background(), owner)
}

func TestRegisterTaskToolsNames(t *testing.T) {
	r := taskRegistry(t, newFakeTasks())
	if err := r.Require("create_task", "update_task", "delete_task", "get_task",
		"list_tasks", "search_tasks", "batch_create_subtasks"); err != nil {
		t.Fatal(err)
	}
}

func TestCreateTaskTool(t *testing.T) {
	r := taskRegistry(t, newFakeTasks())

	env := r.Execute(ownerCtx("alice"), "create_task", map[string]any{"title": "Buy milk"})
	if !env.Success {
		t.Fatalf("create failed: %+v", env)
	}
	task, ok := env.Data.(*tasks.Task)
	if !ok || task.ID == "" || task.Title != "Buy milk" {
		t.Errorf("data = %#v", env.Data)
	}

	env = r.Execute(ownerCtx("alice"), "create_task", map[string]any{"title": "x", "priority": "urgent"})
	if env.ErrorCode != CodeValidation {
		t.Errorf("bad priority code = %q", env.ErrorCode)
	}

	env = r.Execute(ownerCtx("alice"), "create_task", map[string]any{"title": "x", "due_date": "next tuesday"})
	if env.ErrorCode != CodeValidation {
		t.Errorf("bad due date code = %q", env.ErrorCode)
	}

	env = r.Execute(context.Background(), "create_task", map[string]any{"title": "x"})
	if env.ErrorCode != CodePermissionDenied {
		t.Errorf("missing owner code = %q", env.ErrorCode)
	}
}

func TestTaskToolErrorCodes(t *testing.T) {
	svc := newFakeTasks()
	r := taskRegistry(t, svc)
	mine, _ := svc.CreateTask(context.Background(), tasks.Fields{Title: "mine"}, "alice")

	tests := []struct {
		name     string
		tool     string
		owner    string
		args     map[string]any
		wantCode string
	}{
		{"get missing", "get_task", "alice", map[string]any{"task_id": "nope"}, CodeTaskNotFound},
		{"get foreign", "get_task", "bob", map[string]any{"task_id": mine.ID}, CodePermissionDenied},
		{"get ok", "get_task", "alice", map[string]any{"task_id": mine.ID}, ""},
		{"update bad status", "update_task", "alice", map[string]any{"task_id": mine.ID, "status": "done"}, CodeValidation},
		{"update ok", "update_task", "alice", map[string]any{"task_id": mine.ID, "status": "completed"}, ""},
		{"delete foreign", "delete_task", "bob", map[string]any{"task_id": mine.ID}, CodePermissionDenied},
		{"search backend failure", "search_tasks", "alice", map[string]any{"query": "milk"}, CodeSearchTasks},
		{"search blank", "search_tasks", "alice", map[string]any{"query": "  "}, CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := r.Execute(ownerCtx(tt.owner), tt.tool, tt.args)
			if env.ErrorCode != tt.wantCode {
				t.Errorf("code = %q, want %q (%s)", env.ErrorCode, tt.wantCode, env.Message)
			}
			if env.Success != (tt.wantCode == "") {
				t.Errorf("success = %v", env.Success)
			}
		})
	}
}

func TestDeleteTaskToolReturnsDeletedID(t *testing.T) {
	svc := newFakeTasks()
	r := taskRegistry(t, svc)
	task, _ := svc.CreateTask(context.Background(), tasks.Fields{Title: "bye"}, "alice")

	env := r.Execute(ownerCtx("alice"), "delete_task", map[string]any{"task_id": task.ID})
	data, ok := env.Data.(map[string]any)
	if !env.Success || !ok || data["deleted_id"] != task.ID {
		t.Errorf("delete envelope = %+v", env)
	}
}

func TestListTasksToolClampsLimit(t *testing.T) {
	svc := newFakeTasks()
	r := taskRegistry(t, svc)
	for i := range 3 {
		svc.CreateTask(context.Background(), tasks.Fields{Title: fmt.Sprintf("t%d", i)}, "alice")
	}

	tests := []struct {
		limit     any
		wantLimit int
	}{
		{nil, DefaultListLimit},
		{500, MaxListLimit},
		{2, 2},
	}
	for _, tt := range tests {
		args := map[string]any{}
		if tt.limit != nil {
			args["limit"] = tt.limit
		}
		env := r.Execute(ownerCtx("alice"), "list_tasks", args)
		data := env.Data.(map[string]any)
		if data["limit"] != tt.wantLimit {
			t.Errorf("limit %v: got %v, want %d", tt.limit, data["limit"], tt.wantLimit)
		}
	}

	env := r.Execute(ownerCtx("carol"), "list_tasks", map[string]any{})
	data := env.Data.(map[string]any)
	if list, ok := data["tasks"].([]*tasks.Task); !ok || list == nil {
		t.Errorf("empty list should be a non-nil slice, got %#v", data["tasks"])
	}
}

// Three items where the second one's backend call fails: two created, one
// failed, overall success.
func TestBatchCreateSubtasksPartialFailure(t *testing.T) {
	svc := newFakeTasks()
	parent, _ := svc.CreateTask(context.Background(), tasks.Fields{Title: "Launch"}, "alice")
	svc.failTitles["Write press release"] = true
	r := taskRegistry(t, svc)

	env := r.Execute(ownerCtx("alice"), "batch_create_subtasks", map[string]any{
		"parent_id": parent.ID,
		"subtasks": []any{
			map[string]any{"title": "Book venue"},
			map[string]any{"title": "Write press release"},
			map[string]any{"title": "Send invites", "priority": "high"},
		},
	})

	if !env.Success {
		t.Fatalf("batch should succeed at top level: %+v", env)
	}
	res, ok := env.Data.(BatchResult[*tasks.Task])
	if !ok {
		t.Fatalf("data = %T", env.Data)
	}
	if len(res.Created) != 2 || len(res.Failed) != 1 {
		t.Fatalf("created %d failed %d, want 2/1", len(res.Created), len(res.Failed))
	}
	input, _ := res.Failed[0].Input.(map[string]any)
	if input["title"] != "Write press release" {
		t.Errorf("failed input = %v", res.Failed[0].Input)
	}
	if res.Total != 3 || res.SuccessCount != 2 || res.FailureCount != 1 {
		t.Errorf("counts = %+v", res)
	}
	for _, c := range res.Created {
		if c.ParentID != parent.ID {
			t.Errorf("subtask %q parent = %q", c.Title, c.ParentID)
		}
	}

	// The serialized form the model sees carries the failed input.
	content, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	parsed, _ := ParseEnvelope(content)
	failed := parsed.Data.(map[string]any)["failed"].([]any)
	if failed[0].(map[string]any)["input"].(map[string]any)["title"] != "Write press release" {
		t.Errorf("serialized failed input = %v", failed[0])
	}
}

func TestBatchCreateSubtasksAllFailStillSuccess(t *testing.T) {
	svc := newFakeTasks()
	parent, _ := svc.CreateTask(context.Background(), tasks.Fields{Title: "P"}, "alice")
	r := taskRegistry(t, svc)

	env := r.Execute(ownerCtx("alice"), "batch_create_subtasks", map[string]any{
		"parent_id": parent.ID,
		"subtasks": []any{
			map[string]any{"title": ""},
			map[string]any{"title": "ok", "priority": "extreme"},
			map[string]any{"description": "no title"},
		},
	})
	if !env.Success {
		t.Fatalf("top-level success expected: %+v", env)
	}
	res := env.Data.(BatchResult[*tasks.Task])
	if res.SuccessCount != 0 || res.FailureCount != 3 {
		t.Errorf("counts = %d/%d", res.SuccessCount, res.FailureCount)
	}
}

func TestBatchCreateSubtasksMixedItemShapes(t *testing.T) {
	svc := newFakeTasks()
	parent, _ := svc.CreateTask(context.Background(), tasks.Fields{Title: "Launch"}, "alice")
	r := taskRegistry(t, svc)

	env := r.Execute(ownerCtx("alice"), "batch_create_subtasks", map[string]any{
		"parent_id": parent.ID,
		"subtasks": []any{
			map[string]any{"title": "Book venue"},
			"Write press release",
			map[string]any{"title": "Send invites"},
			42,
		},
	})
	if !env.Success {
		t.Fatalf("batch should succeed at top level: %+v", env)
	}
	res := env.Data.(BatchResult[*tasks.Task])
	if res.Total != 4 || res.SuccessCount != 2 || res.FailureCount != 2 {
		t.Fatalf("counts = %d/%d/%d, want 4/2/2", res.Total, res.SuccessCount, res.FailureCount)
	}
	if res.Created[0].Title != "Book venue" || res.Created[1].Title != "Send invites" {
		t.Errorf("created = %q, %q", res.Created[0].Title, res.Created[1].Title)
	}
	if res.Failed[0].Input != "Write press release" {
		t.Errorf("failed[0] input = %v", res.Failed[0].Input)
	}
	for _, f := range res.Failed {
		if !strings.Contains(f.Error, "must be an object") {
			t.Errorf("failure error = %q", f.Error)
		}
	}
	// Only the two objects reached the backend, plus the parent.
	if len(svc.tasks) != 3 {
		t.Errorf("backend holds %d tasks, want 3", len(svc.tasks))
	}
}

func TestBatchCreateSubtasksSchemaLeavesItemsOpen(t *testing.T) {
	r := taskRegistry(t, newFakeTasks())
	for _, d := range r.Definitions() {
		if d.Name != "batch_create_subtasks" {
			continue
		}
		props := d.Parameters["properties"].(map[string]any)
		sub := props["subtasks"].(map[string]any)
		if sub["type"] != "array" {
			t.Fatalf("subtasks type = %v", sub["type"])
		}
		if items, ok := sub["items"].(map[string]any); ok && items["type"] != nil {
			t.Errorf("items constrained to %v", items["type"])
		}
		return
	}
	t.Fatal("batch_create_subtasks not registered")
}

func TestBatchCreateSubtasksAggregateChecks(t *testing.T) {
	svc := newFakeTasks()
	parent, _ := svc.CreateTask(context.Background(), tasks.Fields{Title: "P"}, "alice")
	r := taskRegistry(t, svc)

	tooMany := make([]any, MaxBatchItems+1)
	for i := range tooMany {
		tooMany[i] = map[string]any{"title": fmt.Sprintf("s%d", i)}
	}

	tests := []struct {
		name     string
		owner    string
		args     map[string]any
		wantCode string
	}{
		{"missing parent", "alice", map[string]any{"parent_id": "nope", "subtasks": []any{}}, CodeTaskNotFound},
		{"foreign parent", "bob", map[string]any{"parent_id": parent.ID, "subtasks": []any{}}, CodePermissionDenied},
		{"too many", "alice", map[string]any{"parent_id": parent.ID, "subtasks": tooMany}, CodeValidation},
		{"missing subtasks", "alice", map[string]any{"parent_id": parent.ID}, CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(svc.tasks)
			env := r.Execute(ownerCtx(tt.owner), "batch_create_subtasks", tt.args)
			if env.ErrorCode != tt.wantCode {
				t.Errorf("code = %q, want %q (%s)", env.ErrorCode, tt.wantCode, env.Message)
			}
			if len(svc.tasks) != before {
				t.Error("no item may be attempted when aggregate checks fail")
			}
		})
	}
}

func TestBatchCreateSubtasksEmpty(t *testing.T) {
	svc := newFakeTasks()
	parent, _ := svc.CreateTask(context.Background(), tasks.Fields{Title: "P"}, "alice")
	r := taskRegistry(t, svc)

	env := r.Execute(ownerCtx("alice"), "batch_create_subtasks", map[string]any{"parent_id": parent.ID, "subtasks": []any{}})
	if !env.Success {
		t.Fatalf("empty batch should succeed: %+v", env)
	}
	res := env.Data.(BatchResult[*tasks.Task])
	if res.Total != 0 || len(res.Created) != 0 || len(res.Failed) != 0 {
		t.Errorf("empty result = %+v", res)
	}
}

func TestTaskToolsAgainstSQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store, err := tasks.NewStore(db, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	r := taskRegistry(t, store)
	ctx := ownerCtx("alice")

	env := r.Execute(ctx, "create_task", map[string]any{"title": "Plan trip", "due_date": "2026-12-01"})
	if !env.Success {
		t.Fatalf("create: %+v", env)
	}
	parent := env.Data.(*tasks.Task)
	if parent.DueDate == nil || parent.DueDate.Format(time.DateOnly) != "2026-12-01" {
		t.Errorf("due date = %v", parent.DueDate)
	}

	env = r.Execute(ctx, "batch_create_subtasks", map[string]any{
		"parent_id": parent.ID,
		"subtasks":  []any{map[string]any{"title": "Book flights"}, map[string]any{"title": "Book hotel"}},
	})
	if res := env.Data.(BatchResult[*tasks.Task]); res.SuccessCount != 2 {
		t.Fatalf("batch = %+v", res)
	}

	env = r.Execute(ctx, "search_tasks", map[string]any{"query": "book"})
	if data := env.Data.(map[string]any); data["count"] != 2 {
		t.Errorf("search count = %v", data["count"])
	}

	env = r.Execute(ctx, "list_tasks", map[string]any{"parent_id": parent.ID})
	if data := env.Data.(map[string]any); data["count"] != 2 {
		t.Errorf("subtask count = %v", data["count"])
	}
}

func TestPointsTools(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	ledger, err := points.NewStore(db, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	ledger.Record(context.Background(), "alice", 1500, "welcome")
	ledger.Record(context.Background(), "alice", -200, "reward")

	r := NewRegistry(quietLogger())
	if err := RegisterPointsTools(r, ledger); err != nil {
		t.Fatal(err)
	}

	env := r.Execute(ownerCtx("alice"), "get_points_balance", nil)
	if !env.Success || env.Message != "Balance is 1,300 points" {
		t.Errorf("balance envelope = %+v", env)
	}

	env = r.Execute(ownerCtx("alice"), "list_points_transactions", map[string]any{"limit": 1})
	data := env.Data.(map[string]any)
	if data["count"] != 1 {
		t.Errorf("transactions = %v", data)
	}
}

func TestFormatPoints(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 points"},
		{1, "1 point"},
		{999, "999 points"},
		{1000, "1,000 points"},
		{-1234567, "-1,234,567 points"},
	}
	for _, tt := range tests {
		if got := formatPoints(tt.n); got != tt.want {
			t.Errorf("formatPoints(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestGetCurrentTime(t *testing.T) {
	orig := clock
	defer func() { clock = orig }()
	clock = func() time.Time { return time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC) }

	r := NewRegistry(quietLogger())
	if err := RegisterUtilityTools(r, nil); err != nil {
		t.Fatal(err)
	}

	env := r.Execute(context.Background(), "get_current_time", nil)
	data := env.Data.(map[string]any)
	if data["time"] != "2026-10-15T03:00:00Z" || data["weekday"] != "Thursday" {
		t.Errorf("data = %v", data)
	}

	env = r.Execute(context.Background(), "get_current_time", map[string]any{"timezone": "Mars/Olympus"})
	if env.ErrorCode != CodeValidation {
		t.Errorf("bad zone code = %q", env.ErrorCode)
	}
}
