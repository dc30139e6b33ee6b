package tool

import (
	"context"
	"fmt"

	"github.com/confabhq/confab/internal/util"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool.
//
// It validates model-supplied arguments against a lightweight JSON-Schema
// map before execution and normalizes failures so callers receive
// *ToolError with consistent codes:
//
//	VALIDATION_ERROR -> schema / argument mismatch
//	EXECUTION_ERROR  -> underlying function returned an error
//	(custom codes preserved if the function returns *ToolError directly)
//
// A FunctionTool has no internal mutable state after construction and is
// safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	searchTool := NewFunctionTool(
//	  "search_memories",
//	  "Search stored memories by text",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "query": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"query"},
//	  },
//	  func(ctx context.Context, args map[string]any) (any, error) {
//	    return store.Search(ctx, agentID, args["query"].(string)), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// Name returns the unique tool name used in function call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the (minimal) JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates the provided args against the declared schema then invokes
// the underlying function. Validation or execution failures are wrapped (or
// passed through) as *ToolError for uniform downstream handling.
func (t *FunctionTool) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := util.ValidateParameters(args, t.parameters); err != nil {
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := t.fn(ctx, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}
		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}

	return result, nil
}
