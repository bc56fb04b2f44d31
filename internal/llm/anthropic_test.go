package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a planning assistant."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
		{Role: RoleUser, Content: "Add a task."},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a planning assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	if len(result) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(result))
	}
	if result[0].Role != RoleUser {
		t.Errorf("expected first message to be user, got %s", result[0].Role)
	}
}

func TestConvertToAnthropicMergesToolResults(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Create two tasks."},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Function: FunctionCall{Name: "create_task", Arguments: map[string]any{"title": "a"}}},
				{ID: "toolu_2", Function: FunctionCall{Name: "create_task", Arguments: map[string]any{"title": "b"}}},
			},
		},
		{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "toolu_2"},
	}

	result, _ := convertToAnthropic(messages)

	if len(result) != 3 {
		t.Fatalf("expected 3 messages (user, tool_use, merged results), got %d", len(result))
	}

	uses, ok := result[1].Content.([]anthropicContent)
	if !ok || len(uses) != 2 {
		t.Fatalf("assistant content = %#v, want two tool_use blocks", result[1].Content)
	}
	if uses[0].Type != "tool_use" || uses[0].ID != "toolu_1" {
		t.Errorf("first block = %+v", uses[0])
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok || len(results) != 2 {
		t.Fatalf("tool result content = %#v, want two blocks", result[2].Content)
	}
	if result[2].Role != RoleUser {
		t.Errorf("tool results role = %q, want user", result[2].Role)
	}
	if results[1].ToolUseID != "toolu_2" {
		t.Errorf("second result tool_use_id = %q", results[1].ToolUseID)
	}
}

func TestConvertToAnthropicSynthesizesMissingIDs(t *testing.T) {
	messages := []Message{{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{Function: FunctionCall{Name: "get_current_time"}}},
	}}

	result, _ := convertToAnthropic(messages)
	blocks := result[0].Content.([]anthropicContent)
	if blocks[0].ID == "" {
		t.Error("tool_use block must carry an id")
	}
	if _, ok := blocks[0].Input.(map[string]any); !ok {
		t.Errorf("nil arguments should become an empty object, got %T", blocks[0].Input)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	if got := convertToolsToAnthropic(nil); got != nil {
		t.Errorf("expected nil for no tools, got %v", got)
	}

	tools := convertToolsToAnthropic([]ToolDefinition{
		{Name: "get_task", Description: "Fetch a task", Parameters: map[string]any{"type": "object"}},
		{Name: "get_current_time", Description: "Now"},
	})
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Name != "get_task" {
		t.Errorf("name = %q", tools[0].Name)
	}
	schema, ok := tools[1].InputSchema.(map[string]any)
	if !ok || schema["type"] != "object" {
		t.Errorf("missing schema should default to empty object, got %#v", tools[1].InputSchema)
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	resp := &anthropicResponse{
		Model: "claude-test",
		Content: []anthropicContent{
			{Type: "text", Text: "Let me check."},
			{Type: "tool_use", ID: "toolu_9", Name: "list_tasks", Input: map[string]any{"status": "pending"}},
		},
		Usage: anthropicUsage{InputTokens: 12, OutputTokens: 5},
	}

	got := convertFromAnthropic(resp)

	if got.Message.Role != RoleAssistant {
		t.Errorf("role = %q, want assistant", got.Message.Role)
	}
	if got.Message.Content != "Let me check." {
		t.Errorf("content = %q", got.Message.Content)
	}
	if len(got.Message.ToolCalls) != 1 || got.Message.ToolCalls[0].Function.Arguments["status"] != "pending" {
		t.Errorf("tool calls = %+v", got.Message.ToolCalls)
	}
	if got.InputTokens != 12 || got.OutputTokens != 5 {
		t.Errorf("usage = %d/%d", got.InputTokens, got.OutputTokens)
	}
}

func sseEvent(typ, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", typ, data)
}

func TestAnthropicChatStream(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseEvent("message_start", `{"type":"message_start","message":{"model":"claude-test","usage":{"input_tokens":20}}}`))
		io.WriteString(w, sseEvent("content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"Creating "}}`))
		io.WriteString(w, sseEvent("content_block_delta", `{"type":"content_block_delta","delta":{"type":"text_delta","text":"it."}}`))
		io.WriteString(w, sseEvent("content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_x","name":"create_task"}}`))
		io.WriteString(w, sseEvent("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"title\":"}}`))
		io.WriteString(w, sseEvent("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Buy milk\"}"}}`))
		io.WriteString(w, sseEvent("content_block_stop", `{"type":"content_block_stop","index":1}`))
		io.WriteString(w, sseEvent("message_delta", `{"type":"message_delta","usage":{"output_tokens":7}}`))
		io.WriteString(w, sseEvent("message_stop", `{"type":"message_stop"}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient(srv.URL, "test-key", quietLogger())

	var tokens []string
	var starts int
	var done *ChatResponse
	resp, err := client.ChatStream(context.Background(), &Request{
		Model:    "claude-test",
		Messages: []Message{{Role: RoleUser, Content: "Buy milk"}},
	}, func(ev StreamEvent) {
		switch ev.Kind {
		case KindToken:
			tokens = append(tokens, ev.Token)
		case KindToolCallStart:
			starts++
		case KindDone:
			done = ev.Response
		}
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if strings.Join(tokens, "") != "Creating it." {
		t.Errorf("tokens = %q", tokens)
	}
	if starts != 1 {
		t.Errorf("tool call start events = %d, want 1", starts)
	}
	if done != resp {
		t.Error("done event should carry the final response")
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "toolu_x" || tc.Function.Arguments["title"] != "Buy milk" {
		t.Errorf("tool call = %+v", tc)
	}
	if resp.InputTokens != 20 || resp.OutputTokens != 7 {
		t.Errorf("usage = %d/%d, want 20/7", resp.InputTokens, resp.OutputTokens)
	}
}

func TestAnthropicChatStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseEvent("error", `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	client := NewAnthropicClient(srv.URL, "k", quietLogger())
	_, err := client.ChatStream(context.Background(), &Request{Model: "m"}, func(StreamEvent) {})
	if err == nil || !strings.Contains(err.Error(), "Overloaded") {
		t.Fatalf("err = %v, want overloaded error", err)
	}
}

func TestAnthropicChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"bad model"}`)
	}))
	defer srv.Close()

	client := NewAnthropicClient(srv.URL, "k", quietLogger())
	_, err := client.Chat(context.Background(), &Request{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("err = %v, want status 400", err)
	}
}

func TestAnthropicToolHistoryWithoutTools(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: "Plan my week."},
		{Role: RoleAssistant, Content: "Checking.", ToolCalls: []ToolCall{
			{ID: "call_1", Function: FunctionCall{Name: "list_tasks", Arguments: map[string]any{"limit": 5}}},
			{ID: "call_2", Function: FunctionCall{Name: "get_current_time"}},
		}},
		{Role: RoleTool, ToolCallID: "call_1", Content: `{"success":true}`},
		{Role: RoleTool, ToolCallID: "call_2", Content: `{"success":true}`},
		{Role: RoleSystem, Content: "Answer now."},
	}

	tests := []struct {
		name      string
		tools     []ToolDefinition
		wantBlock bool
	}{
		{name: "no tools", wantBlock: false},
		{name: "with tools", tools: []ToolDefinition{{Name: "list_tasks", Parameters: map[string]any{"type": "object"}}}, wantBlock: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				body = string(b)
				io.WriteString(w, `{"content":[{"type":"text","text":"Here is the plan."}],"model":"m","usage":{"input_tokens":3,"output_tokens":4}}`)
			}))
			defer srv.Close()

			client := NewAnthropicClient(srv.URL, "k", quietLogger())
			resp, err := client.Chat(context.Background(), &Request{Model: "m", Messages: history, Tools: tt.tools})
			if err != nil {
				t.Fatalf("Chat: %v", err)
			}
			if resp.Message.Content != "Here is the plan." {
				t.Errorf("content = %q", resp.Message.Content)
			}
			hasBlocks := strings.Contains(body, `"tool_use"`) || strings.Contains(body, `"tool_result"`)
			if hasBlocks != tt.wantBlock {
				t.Errorf("tool blocks in request = %v, want %v: %s", hasBlocks, tt.wantBlock, body)
			}
			if !tt.wantBlock && !strings.Contains(body, "[called list_tasks") {
				t.Errorf("tool call not carried as text: %s", body)
			}
		})
	}
}

func TestInlineToolHistoryMergesResults(t *testing.T) {
	got := inlineToolHistory([]Message{
		{Role: RoleUser, Content: "Go."},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Function: FunctionCall{Name: "create_task", Arguments: map[string]any{"title": "x"}}},
			{ID: "b", Function: FunctionCall{Name: "create_task", Arguments: map[string]any{"title": "y"}}},
		}},
		{Role: RoleTool, ToolCallID: "a", Content: "ok-a"},
		{Role: RoleTool, ToolCallID: "b", Content: "ok-b"},
	})
	if len(got) != 3 {
		t.Fatalf("messages = %d, want 3: %+v", len(got), got)
	}
	if got[1].Role != RoleAssistant || len(got[1].ToolCalls) != 0 || strings.Count(got[1].Content, "[called create_task") != 2 {
		t.Errorf("assistant = %+v", got[1])
	}
	if got[2].Role != RoleUser || !strings.Contains(got[2].Content, "[tool result a] ok-a") || !strings.Contains(got[2].Content, "[tool result b] ok-b") {
		t.Errorf("results = %+v", got[2])
	}
}
