package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/confabhq/confab/core"
)

// ChatMessage is one normalized conversation entry sent to a provider. Name
// carries speaker attribution in multi-agent chats; providers fold it into
// the content where the vendor API has no native field for it.
type ChatMessage struct {
	Role    core.Role `json:"role"`
	Name    string    `json:"name,omitempty"`
	Content string    `json:"content"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider
// branching. Arguments hold the decoded JSON arguments; undecodable payloads
// are preserved under the "raw" key.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolHandler executes one tool call on behalf of a provider's generation
// loop and returns the textual result to feed back into the conversation.
type ToolHandler func(ctx context.Context, call ToolCall) (string, error)

// ThinkingConfig requests extended reasoning with an explicit token budget.
type ThinkingConfig struct {
	BudgetTokens int `json:"budget_tokens"`
}

// ReasoningEffort is the coarse effort signal used by providers without a
// token-level thinking budget.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// Request captures the normalized model input produced by the turn, memory
// and initiation subsystems.
type Request struct {
	ModelID      string        `json:"model_id"`
	Instructions string        `json:"instructions"`
	Messages     []ChatMessage `json:"messages"`

	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolHandler ToolHandler      `json:"-"`

	Thinking        *ThinkingConfig `json:"thinking,omitempty"`
	ReasoningEffort ReasoningEffort `json:"reasoning_effort,omitempty"`
	MaxTokens       int64           `json:"max_tokens,omitempty"`

	Stream bool `json:"stream,omitempty"`
}

// Usage captures token usage statistics for a completion. Multi-round tool
// turns accumulate usage across rounds.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another round's usage.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Zero reports whether no tokens were counted at all.
func (u Usage) Zero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

// EventType discriminates the stream events a provider emits during one turn.
type EventType string

const (
	// EventMessageStart opens a new assistant message (one per tool round).
	EventMessageStart EventType = "message_start"
	// EventContentDelta carries a visible content chunk.
	EventContentDelta EventType = "content_delta"
	// EventReasoningDelta carries an extended-reasoning chunk.
	EventReasoningDelta EventType = "reasoning_delta"
	// EventToolCall reports a tool invocation the provider is executing.
	EventToolCall EventType = "tool_call"
	// EventMessageEnd closes a message. Intermediate ends terminate tool
	// rounds; the final end carries the Completion.
	EventMessageEnd EventType = "message_end"
)

// StreamEvent is one element of the ordered event stream a provider emits.
// Exactly one payload field is set according to Type.
type StreamEvent struct {
	Type EventType `json:"type"`

	// Delta is the text chunk for content/reasoning delta events.
	Delta string `json:"delta,omitempty"`

	// Tool describes the call for tool_call events.
	Tool *ToolCall `json:"tool,omitempty"`

	// Intermediate marks a message_end that closes a tool round rather than
	// the final reply.
	Intermediate bool `json:"intermediate,omitempty"`

	// Final is set on the terminal message_end.
	Final *Completion `json:"final,omitempty"`
}

// Completion is the terminal result of one generation: the provider-reported
// content, accumulated reasoning, resolved model id, token usage and the
// vendor finish reason ("stop", "length", "tool_use", "content_filter", ...).
type Completion struct {
	Content      string `json:"content"`
	Reasoning    string `json:"reasoning,omitempty"`
	ModelID      string `json:"model_id"`
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finish_reason"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Provider         string `json:"provider"` // "anthropic", "openrouter", "mock", ...
	SupportsTools    bool   `json:"supports_tools"`
	SupportsThinking bool   `json:"supports_thinking"`
}

// Provider is the minimal interface required to drive generation. Generate
// returns an ordered event stream plus a terminal error channel (buffered
// size 1); both close when the generation finishes. Providers that receive a
// ToolHandler run the tool loop internally, emitting tool_call events as
// observations.
type Provider interface {
	Generate(ctx context.Context, req Request) (<-chan StreamEvent, <-chan error)

	// Info returns information about the provider implementation.
	Info() Info
}

// Complete drives a non-streaming generation to its terminal completion.
// Convenience for the memory and initiation paths, which need whole
// responses rather than deltas.
func Complete(ctx context.Context, p Provider, req Request) (*Completion, error) {
	req.Stream = false
	events, errs := p.Generate(ctx, req)

	var final *Completion
	var text strings.Builder
	for ev := range events {
		switch ev.Type {
		case EventContentDelta:
			text.WriteString(ev.Delta)
		case EventMessageEnd:
			if ev.Final != nil {
				final = ev.Final
			}
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}

	if final == nil {
		if text.Len() == 0 {
			return nil, fmt.Errorf("provider emitted no completion")
		}
		final = &Completion{Content: text.String(), FinishReason: "stop"}
	}
	if final.Content == "" {
		final.Content = text.String()
	}
	return final, nil
}
