package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoArgs struct {
	Text  string `json:"text" jsonschema:"Text to echo"`
	Times int    `json:"times,omitempty" jsonschema:"Repeat count"`
}

func echoTool(name string) *Tool {
	return Typed(name, "Echo text back.", func(_ context.Context, a echoArgs) Envelope {
		return OK(map[string]any{"text": strings.Repeat(a.Text, max(a.Times, 1))}, "echoed")
	})
}

func TestRegisterRejects(t *testing.T) {
	r := NewRegistry(quietLogger())
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name string
		tool *Tool
	}{
		{"nil tool", nil},
		{"empty name", echoTool("")},
		{"nil handler", &Tool{Name: "nohandler"}},
		{"duplicate", echoTool("echo")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.tool); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRequire(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(echoTool("echo"))

	if err := r.Require("echo"); err != nil {
		t.Errorf("Require(echo) = %v", err)
	}
	err := r.Require("echo", "create_task", "get_task")
	var missing *ErrToolUnavailable
	if !errors.As(err, &missing) {
		t.Fatalf("Require error = %v, want ErrToolUnavailable", err)
	}
	if !strings.Contains(err.Error(), "create_task") || !strings.Contains(err.Error(), "get_task") {
		t.Errorf("error should name every missing tool: %v", err)
	}
}

func TestDefinitionsSortedWithSchema(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(echoTool("zeta"))
	r.Register(echoTool("alpha"))

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Fatalf("definitions = %+v", defs)
	}
	params := defs[0].Parameters
	if params["type"] != "object" {
		t.Errorf("schema type = %v", params["type"])
	}
	props, ok := params["properties"].(map[string]any)
	if !ok || props["text"] == nil {
		t.Fatalf("properties = %v", params["properties"])
	}
	text := props["text"].(map[string]any)
	if text["description"] != "Text to echo" {
		t.Errorf("description tag not carried: %v", text)
	}
	required, _ := params["required"].([]any)
	if len(required) != 1 || required[0] != "text" {
		t.Errorf("required = %v, want [text]", params["required"])
	}
}

func TestSetEnum(t *testing.T) {
	r := NewRegistry(quietLogger())
	tool := Typed("pick", "Pick a color.", func(_ context.Context, a struct {
		Color string `json:"color"`
	}) Envelope {
		return OK(a.Color, "picked")
	}).SetEnum("color", "red", "blue")
	if err := r.Register(tool); err != nil {
		t.Fatal(err)
	}

	if env := r.Execute(context.Background(), "pick", map[string]any{"color": "green"}); env.ErrorCode != CodeValidation {
		t.Errorf("out-of-enum value: %+v", env)
	}
	if env := r.Execute(context.Background(), "pick", map[string]any{"color": "red"}); !env.Success {
		t.Errorf("enum value rejected: %+v", env)
	}
}

func TestExecute(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(echoTool("echo"))
	ctx := context.Background()

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		wantCode string
	}{
		{"ok", "echo", map[string]any{"text": "hi", "times": float64(2)}, ""},
		{"unknown tool", "nope", map[string]any{}, CodeUnknownTool},
		{"missing required", "echo", map[string]any{}, CodeValidation},
		{"wrong type", "echo", map[string]any{"text": 5}, CodeValidation},
		{"malformed json", "echo", map[string]any{"_raw": "{"}, CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := r.Execute(ctx, tt.tool, tt.args)
			if env.ErrorCode != tt.wantCode {
				t.Errorf("error code = %q, want %q (%s)", env.ErrorCode, tt.wantCode, env.Message)
			}
			if err := env.Validate(); err != nil {
				t.Errorf("invalid envelope: %v", err)
			}
		})
	}
}

func TestDispatchOrderPreserved(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(Typed("sleep", "Sleep then echo.", func(ctx context.Context, a struct {
		Ms   int    `json:"ms"`
		Text string `json:"text"`
	}) Envelope {
		time.Sleep(time.Duration(a.Ms) * time.Millisecond)
		return OK(a.Text, "slept")
	}))
	d := NewDispatcher(r, DispatchConfig{Parallelism: 4}, quietLogger())

	calls := []llm.ToolCall{
		{ID: "a", Function: llm.FunctionCall{Name: "sleep", Arguments: map[string]any{"ms": 60, "text": "first"}}},
		{ID: "b", Function: llm.FunctionCall{Name: "sleep", Arguments: map[string]any{"ms": 1, "text": "second"}}},
		{ID: "c", Function: llm.FunctionCall{Name: "sleep", Arguments: map[string]any{"ms": 30, "text": "third"}}},
	}
	results := d.Dispatch(context.Background(), calls)

	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Call.ID != calls[i].ID {
			t.Errorf("result %d id = %q, want %q", i, results[i].Call.ID, calls[i].ID)
		}
		if results[i].Envelope.Data != want {
			t.Errorf("result %d data = %v, want %q", i, results[i].Envelope.Data, want)
		}
	}

	msgs := Messages(results)
	for i, m := range msgs {
		if m.Role != llm.RoleTool || m.ToolCallID != calls[i].ID {
			t.Errorf("message %d = %+v", i, m)
		}
		if _, err := ParseEnvelope(m.Content); err != nil {
			t.Errorf("message %d content not an envelope: %v", i, err)
		}
	}
}

func TestDispatchRunsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	r := NewRegistry(quietLogger())
	r.Register(Typed("busy", "Busy.", func(context.Context, noArgs) Envelope {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return OK(nil, "done")
	}))
	d := NewDispatcher(r, DispatchConfig{Parallelism: 2}, quietLogger())

	calls := make([]llm.ToolCall, 6)
	for i := range calls {
		calls[i] = llm.ToolCall{ID: string(rune('a' + i)), Function: llm.FunctionCall{Name: "busy"}}
	}
	d.Dispatch(context.Background(), calls)

	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", peak.Load())
	}
}

func TestDispatchUnknownToolDoesNotAbortBatch(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(echoTool("echo"))
	d := NewDispatcher(r, DispatchConfig{}, quietLogger())

	results := d.Dispatch(context.Background(), []llm.ToolCall{
		{ID: "1", Function: llm.FunctionCall{Name: "launch_rocket"}},
		{ID: "2", Function: llm.FunctionCall{Name: "echo", Arguments: map[string]any{"text": "x"}}},
	})

	if results[0].Envelope.Success || results[0].Envelope.ErrorCode != CodeUnknownTool {
		t.Errorf("unknown tool result = %+v", results[0].Envelope)
	}
	if !results[1].Envelope.Success {
		t.Errorf("sibling call failed: %+v", results[1].Envelope)
	}
}

func TestDispatchTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	r := NewRegistry(quietLogger())
	r.Register(Typed("hang", "Never returns in time.", func(context.Context, noArgs) Envelope {
		<-release
		return OK(nil, "late")
	}))
	d := NewDispatcher(r, DispatchConfig{Timeout: 20 * time.Millisecond}, quietLogger())

	start := time.Now()
	results := d.Dispatch(context.Background(), []llm.ToolCall{{ID: "h", Function: llm.FunctionCall{Name: "hang"}}})
	if time.Since(start) > time.Second {
		t.Error("dispatch did not honour the timeout")
	}
	if results[0].Envelope.ErrorCode != CodeToolTimeout {
		t.Errorf("error code = %q, want TOOL_TIMEOUT", results[0].Envelope.ErrorCode)
	}
}

func TestDispatchRecoversPanic(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(Typed("explode", "Panics.", func(context.Context, noArgs) Envelope {
		panic("kaboom")
	}))
	d := NewDispatcher(r, DispatchConfig{}, quietLogger())

	results := d.Dispatch(context.Background(), []llm.ToolCall{{ID: "p", Function: llm.FunctionCall{Name: "explode"}}})
	if results[0].Envelope.ErrorCode != CodeDispatch {
		t.Errorf("error code = %q, want DISPATCH_ERROR", results[0].Envelope.ErrorCode)
	}
	if !strings.Contains(results[0].Envelope.Message, "kaboom") {
		t.Errorf("message = %q", results[0].Envelope.Message)
	}
}

func TestDispatchInvalidEnvelope(t *testing.T) {
	r := NewRegistry(quietLogger())
	r.Register(&Tool{Name: "broken", Handler: func(context.Context, map[string]any) Envelope {
		return Envelope{Success: false, Data: "oops", Timestamp: "now"}
	}})
	d := NewDispatcher(r, DispatchConfig{}, quietLogger())

	results := d.Dispatch(context.Background(), []llm.ToolCall{{ID: "x", Function: llm.FunctionCall{Name: "broken"}}})
	if results[0].Envelope.ErrorCode != CodeDispatch {
		t.Errorf("error code = %q, want DISPATCH_ERROR", results[0].Envelope.ErrorCode)
	}
	if results[0].Content == "" {
		t.Error("content should still carry a valid envelope")
	}
}

func TestToolReceivesCallContext(t *testing.T) {
	var gotCall, gotOwner string
	r := NewRegistry(quietLogger())
	r.Register(Typed("whoami", "Who am I.", func(ctx context.Context, _ noArgs) Envelope {
		gotCall = ToolCallIDFromContext(ctx)
		gotOwner = OwnerIDFromContext(ctx)
		return OK(nil, "ok")
	}))
	d := NewDispatcher(r, DispatchConfig{}, quietLogger())

	ctx := WithOwnerID(context.Background(), "alice")
	d.Dispatch(ctx, []llm.ToolCall{{ID: "call_1", Function: llm.FunctionCall{Name: "whoami"}}})

	if gotCall != "call_1" || gotOwner != "alice" {
		t.Errorf("context = call %q owner %q", gotCall, gotOwner)
	}
}
