// Package tool implements the function calling subsystem that lets model
// turns invoke structured capabilities with schema-validated arguments and
// consistent error handling. The memory refinement pass is the main
// consumer: it exposes a bounded set of memory operations to the model
// through a Registry wired into the provider's tool handler.
package tool

import (
	"context"
	"fmt"

	"github.com/confabhq/confab/internal/util"
)

// Tool defines a callable capability exposed to a model turn.
//
// Implementations should provide descriptive snake_case names, a minimal
// JSON-Schema parameter map, and be safe for concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns the natural-language description shown to models.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already-decoded arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
