package tool

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/confabhq/confab/logging"
	"github.com/confabhq/confab/model"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Logger receives per-call diagnostics.
	Logger logging.Logger
}

// Registry holds the toolset exposed to one model turn and bridges it to
// the provider layer: Definitions feeds the request's tool declarations and
// Handler executes calls the model makes against them.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		tools:  map[string]Tool{},
		logger: opts.Logger,
	}
}

// Register adds a tool. Registering a duplicate name fails.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return NewToolError(t.Name(), "tool already registered", "DUPLICATE_TOOL")
	}
	r.tools[t.Name()] = t
	return nil
}

// MustRegister adds tools, panicking on duplicates. For static toolsets
// assembled at construction time.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions renders the registered tools as provider tool declarations.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Handler returns the dispatch function providers call for each tool
// invocation. Unknown tools and tool failures surface as errors, which the
// provider layer feeds back to the model as error-flagged tool results.
func (r *Registry) Handler() model.ToolHandler {
	return func(ctx context.Context, call model.ToolCall) (string, error) {
		start := time.Now()

		t, ok := r.Get(call.Name)
		if !ok {
			r.logger.Warn("tool.unknown", "tool", call.Name, "call_id", call.ID)
			return "", NewToolError(call.Name, "unknown tool", "UNKNOWN_TOOL")
		}

		args := call.Arguments
		if args == nil {
			args = map[string]any{}
		}

		r.logger.Debug("tool.call.start", "tool", call.Name, "call_id", call.ID)

		result, err := t.Call(ctx, args)
		if err != nil {
			r.logger.Error("tool.call.error", "tool", call.Name, "call_id", call.ID, "error", err.Error())
			return "", err
		}

		out, err := renderResult(result)
		if err != nil {
			r.logger.Error("tool.call.encode_error", "tool", call.Name, "error", err.Error())
			return "", NewToolError(call.Name, "result not serializable: "+err.Error(), "EXECUTION_ERROR")
		}

		r.logger.Info("tool.call.success",
			"tool", call.Name,
			"call_id", call.ID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return out, nil
	}
}

// renderResult converts a tool result into the text fed back to the model.
// Strings pass through; everything else is JSON encoded.
func renderResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
