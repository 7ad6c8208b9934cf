package tools

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Sentinel errors. Each typed error below matches its sentinel via errors.Is.
var (
	ErrValidation        = errors.New("tools: validation failed")
	ErrUnknownTool       = errors.New("tools: unknown tool")
	ErrDuplicateToolCall = errors.New("tools: tool call already in progress")
)

// ValidationError reports a missing or malformed invocation field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UnknownToolError reports a tool name the router does not serve.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %q", e.Name)
}

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// DuplicateToolCallError reports a retried tool call whose first attempt
// has not finished yet.
type DuplicateToolCallError struct {
	ToolCallID protocol.ToolCallID
}

func (e *DuplicateToolCallError) Error() string {
	return fmt.Sprintf("tool call %s is already in progress", e.ToolCallID)
}

func (e *DuplicateToolCallError) Is(target error) bool { return target == ErrDuplicateToolCall }
