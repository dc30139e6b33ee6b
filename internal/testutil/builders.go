package testutil

import (
	"time"

	"github.com/confabhq/confab/core"
)

// ChatBuilder provides a fluent helper for constructing chats in tests.
// Example:
//
//	chat := NewChatBuilder().Agents("agent-a", "agent-b").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type ChatBuilder struct {
	chat *core.Chat
}

// NewChatBuilder creates a builder with a default account and title.
func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{chat: core.NewChat("acct-1", "Test chat")}
}

// ID overrides the auto-generated chat id (chainable).
func (b *ChatBuilder) ID(id string) *ChatBuilder { b.chat.ID = id; return b }

// Account sets the owning account (chainable).
func (b *ChatBuilder) Account(id string) *ChatBuilder { b.chat.AccountID = id; return b }

// Agents sets the participant list in turn order (chainable).
func (b *ChatBuilder) Agents(ids ...string) *ChatBuilder { b.chat.AgentIDs = ids; return b }

// Manual switches the chat to manual response mode (chainable).
func (b *ChatBuilder) Manual() *ChatBuilder {
	b.chat.ResponseMode = core.ResponseModeManual
	return b
}

// Archived marks the chat archived (chainable).
func (b *ChatBuilder) Archived() *ChatBuilder { b.chat.Archived = true; return b }

// Discarded marks the chat discarded (chainable).
func (b *ChatBuilder) Discarded() *ChatBuilder { b.chat.Discarded = true; return b }

// InitiatedBy marks the chat as agent-initiated and awaiting a human reply
// (chainable).
func (b *ChatBuilder) InitiatedBy(agentID string) *ChatBuilder {
	b.chat.InitiatedByAgent = agentID
	b.chat.PendingHumanReply = true
	return b
}

// Watermark sets the consolidation watermark (chainable).
func (b *ChatBuilder) Watermark(messageID string, at time.Time) *ChatBuilder {
	b.chat.ConsolidatedMessageID = messageID
	b.chat.ConsolidatedAt = &at
	return b
}

// CreatedAt overrides the creation timestamp (chainable).
func (b *ChatBuilder) CreatedAt(t time.Time) *ChatBuilder {
	b.chat.CreatedAt = t
	b.chat.UpdatedAt = t
	return b
}

// Build returns the constructed chat.
func (b *ChatBuilder) Build() *core.Chat { return b.chat.Clone() }

// AgentBuilder provides a fluent helper for constructing agents in tests.
type AgentBuilder struct {
	agent *core.Agent
}

// NewAgentBuilder creates a builder for an active agent with defaults.
func NewAgentBuilder() *AgentBuilder {
	return &AgentBuilder{agent: core.NewAgent("acct-1", "Ada", "anthropic/claude-sonnet-4")}
}

// ID overrides the auto-generated agent id (chainable).
func (b *AgentBuilder) ID(id string) *AgentBuilder { b.agent.ID = id; return b }

// Account sets the owning account (chainable).
func (b *AgentBuilder) Account(id string) *AgentBuilder { b.agent.AccountID = id; return b }

// Name sets the display name (chainable).
func (b *AgentBuilder) Name(name string) *AgentBuilder { b.agent.Name = name; return b }

// Persona sets the persona text (chainable).
func (b *AgentBuilder) Persona(p string) *AgentBuilder { b.agent.Persona = p; return b }

// Model sets the logical model id (chainable).
func (b *AgentBuilder) Model(id string) *AgentBuilder { b.agent.ModelID = id; return b }

// Thinking enables extended reasoning with the given budget (chainable).
func (b *AgentBuilder) Thinking(budget int) *AgentBuilder {
	b.agent.ThinkingBudget = &budget
	return b
}

// Tools sets the enabled tool names (chainable).
func (b *AgentBuilder) Tools(names ...string) *AgentBuilder {
	b.agent.EnabledTools = names
	return b
}

// Cap sets the initiation cap (chainable).
func (b *AgentBuilder) Cap(n int) *AgentBuilder { b.agent.InitiationCap = n; return b }

// Inactive deactivates the agent (chainable).
func (b *AgentBuilder) Inactive() *AgentBuilder { b.agent.Active = false; return b }

// RefinedAt sets the last refinement time (chainable).
func (b *AgentBuilder) RefinedAt(t time.Time) *AgentBuilder {
	b.agent.RefinedAt = &t
	return b
}

// Build returns the constructed agent.
func (b *AgentBuilder) Build() *core.Agent { return b.agent.Clone() }

// MessageBuilder provides a fluent helper for constructing messages in tests.
type MessageBuilder struct {
	msg *core.Message
}

// NewMessageBuilder creates a builder for a user message in the given chat.
func NewMessageBuilder(chatID string) *MessageBuilder {
	return &MessageBuilder{msg: core.NewMessage(chatID, core.RoleUser, "")}
}

// ID overrides the auto-generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.msg.ID = id; return b }

// Agent attributes the message to an agent and sets the assistant role
// (chainable).
func (b *MessageBuilder) Agent(agentID string) *MessageBuilder {
	b.msg.AgentID = agentID
	b.msg.Role = core.RoleAssistant
	return b
}

// Role overrides the author role (chainable).
func (b *MessageBuilder) Role(r core.Role) *MessageBuilder { b.msg.Role = r; return b }

// Content sets the message content (chainable).
func (b *MessageBuilder) Content(c string) *MessageBuilder { b.msg.Content = c; return b }

// Reasoning sets the reasoning trace (chainable).
func (b *MessageBuilder) Reasoning(r string) *MessageBuilder { b.msg.Reasoning = r; return b }

// Streaming marks the message as still streaming (chainable).
func (b *MessageBuilder) Streaming() *MessageBuilder { b.msg.Streaming = true; return b }

// Tool appends a recorded tool use (chainable).
func (b *MessageBuilder) Tool(name string, args map[string]any) *MessageBuilder {
	b.msg.ToolUsage = append(b.msg.ToolUsage, core.ToolUse{Name: name, Arguments: args})
	return b
}

// CreatedAt overrides the creation timestamp (chainable).
func (b *MessageBuilder) CreatedAt(t time.Time) *MessageBuilder {
	b.msg.CreatedAt = t
	b.msg.UpdatedAt = t
	return b
}

// Build returns the constructed message.
func (b *MessageBuilder) Build() *core.Message { return b.msg.Clone() }

// MemoryBuilder provides a fluent helper for constructing agent memories in
// tests.
type MemoryBuilder struct {
	mem *core.AgentMemory
}

// NewMemoryBuilder creates a builder for a journal memory of the given agent.
func NewMemoryBuilder(agentID string) *MemoryBuilder {
	return &MemoryBuilder{mem: core.NewAgentMemory(agentID, core.MemoryJournal, "a note", 3)}
}

// ID overrides the auto-generated memory id (chainable).
func (b *MemoryBuilder) ID(id string) *MemoryBuilder { b.mem.ID = id; return b }

// Core makes the memory a core entry (chainable).
func (b *MemoryBuilder) Core() *MemoryBuilder { b.mem.MemoryType = core.MemoryCore; return b }

// Constitutional marks the memory constitutional (chainable).
func (b *MemoryBuilder) Constitutional() *MemoryBuilder {
	b.mem.Constitutional = true
	return b
}

// Content sets the memory content (chainable).
func (b *MemoryBuilder) Content(c string) *MemoryBuilder { b.mem.Content = c; return b }

// Tokens sets the token count (chainable).
func (b *MemoryBuilder) Tokens(n int) *MemoryBuilder { b.mem.Tokens = n; return b }

// CreatedAt overrides the creation timestamp (chainable).
func (b *MemoryBuilder) CreatedAt(t time.Time) *MemoryBuilder {
	b.mem.CreatedAt = t
	b.mem.UpdatedAt = t
	return b
}

// Build returns the constructed memory.
func (b *MemoryBuilder) Build() *core.AgentMemory { return b.mem.Clone() }
