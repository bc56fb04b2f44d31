package tools

import (
	"context"
	"testing"
)

func TestThreadIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"default when unset", context.Background(), "default"},
		{"round trip", WithThreadID(context.Background(), "t1"), "t1"},
		{"empty string returns default", WithThreadID(context.Background(), ""), "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ThreadIDFromContext(tt.ctx)
			if got != tt.want {
				t.Errorf("ThreadIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOwnerIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"empty when unset", context.Background(), ""},
		{"round trip", WithOwnerID(context.Background(), "user-42"), "user-42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OwnerIDFromContext(tt.ctx)
			if got != tt.want {
				t.Errorf("OwnerIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToolCallIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"empty when unset", context.Background(), ""},
		{"round trip", WithToolCallID(context.Background(), "call_xyz"), "call_xyz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToolCallIDFromContext(tt.ctx)
			if got != tt.want {
				t.Errorf("ToolCallIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}
