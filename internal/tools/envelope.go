package tools

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error codes carried in failed envelopes.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeCreateTask       = "CREATE_TASK_ERROR"
	CodeUpdateTask       = "UPDATE_TASK_ERROR"
	CodeDeleteTask       = "DELETE_TASK_ERROR"
	CodeGetTask          = "GET_TASK_ERROR"
	CodeListTasks        = "LIST_TASKS_ERROR"
	CodeSearchTasks      = "SEARCH_TASKS_ERROR"
	CodeBatchCreate      = "BATCH_CREATE_ERROR"
	CodePoints           = "POINTS_ERROR"
	CodeUnknownTool      = "UNKNOWN_TOOL"
	CodeToolTimeout      = "TOOL_TIMEOUT"
	CodeDispatch         = "DISPATCH_ERROR"
)

// timestampFormat is RFC 3339 with nanoseconds, always rendered in UTC.
const timestampFormat = time.RFC3339Nano

// clock is replaced in tests.
var clock = time.Now

// Envelope is the uniform result of every tool call. It is serialized as
// the content of the tool-role message answering the call.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// OK builds a successful envelope.
func OK(data any, message string) Envelope {
	return Envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: clock().UTC().Format(timestampFormat),
	}
}

// Fail builds a failed envelope. Failed envelopes never carry data.
func Fail(code, message string) Envelope {
	return Envelope{
		Success:   false,
		Message:   message,
		ErrorCode: code,
		Timestamp: clock().UTC().Format(timestampFormat),
	}
}

// Failf is Fail with a formatted message.
func Failf(code, format string, args ...any) Envelope {
	return Fail(code, fmt.Sprintf(format, args...))
}

// Validate checks the success/data/error_code invariants and the
// timestamp format.
func (e Envelope) Validate() error {
	if e.Success {
		if e.ErrorCode != "" {
			return errors.New("successful envelope must not carry an error code")
		}
	} else {
		if e.ErrorCode == "" {
			return errors.New("failed envelope requires an error code")
		}
		if e.Data != nil {
			return errors.New("failed envelope must not carry data")
		}
	}
	if _, err := time.Parse(timestampFormat, e.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", e.Timestamp, err)
	}
	return nil
}

// Marshal validates e and renders it as JSON.
func (e Envelope) Marshal() (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("invalid envelope: %w", err)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

// ParseEnvelope decodes and validates an envelope produced by Marshal.
func ParseEnvelope(s string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
