// Package checkpoint persists conversation state per thread so a session
// can resume across restarts.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/Arthur-Ziegler/tatake-backend-251020-sub001/internal/llm"
)

var (
	// ErrNotFound is returned by Load for a thread with no saved state.
	ErrNotFound = errors.New("checkpoint: thread not found")

	// ErrConflict is returned by Save when the stored version moved on
	// since the state was loaded.
	ErrConflict = errors.New("checkpoint: version conflict")

	// ErrCorrupt is returned by Load when stored bytes fail their
	// integrity check or cannot be decoded.
	ErrCorrupt = errors.New("checkpoint: corrupt state")
)

// State is the persisted conversation of one thread.
type State struct {
	ThreadID string        `cbor:"thread_id"`
	Messages []llm.Message `cbor:"messages"`

	// Version counts successful saves. Zero means never saved.
	Version int64 `cbor:"version"`

	CreatedAt time.Time `cbor:"created_at"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

// NewState returns an empty, unsaved state for threadID.
func NewState(threadID string) *State {
	return &State{ThreadID: threadID}
}

// Clone returns a deep copy. Tool call argument maps are copied
// recursively.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = cloneMessages(s.Messages)
	return &c
}

// Summary describes a stored thread without its messages.
type Summary struct {
	ThreadID     string    `json:"thread_id"`
	Version      int64     `json:"version"`
	MessageCount int       `json:"message_count"`
	ByteSize     int64     `json:"byte_size"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store persists thread state. Save is atomic per call: the whole state
// is written or none of it.
type Store interface {
	// Load returns the state of threadID or ErrNotFound.
	Load(ctx context.Context, threadID string) (*State, error)

	// Save writes st if st.Version equals the stored version (zero for a
	// new thread) and increments st.Version on success. A mismatch
	// returns ErrConflict and leaves st unchanged.
	Save(ctx context.Context, st *State) error

	// List returns stored threads, most recently updated first.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Delete removes a thread. Deleting an unknown thread returns
	// ErrNotFound.
	Delete(ctx context.Context, threadID string) error
}

func cloneMessages(msgs []llm.Message) []llm.Message {
	if msgs == nil {
		return nil
	}
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.ToolCalls != nil {
			calls := make([]llm.ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				calls[j] = tc
				calls[j].Function.Arguments = cloneMap(tc.Function.Arguments)
			}
			out[i].ToolCalls = calls
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
