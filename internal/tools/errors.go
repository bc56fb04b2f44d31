package tools

import "fmt"

// ErrToolUnavailable is returned when a lookup targets a tool that is not
// registered. At dispatch time it becomes an UNKNOWN_TOOL envelope; at
// startup Registry.Require reports it for every missing name.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.ToolName)
}
