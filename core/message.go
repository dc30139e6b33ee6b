package core

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ToolUse records one observed tool invocation during a turn: the tool name
// and the arguments the model supplied. Execution results are not recorded
// here; they flow back into the model conversation, not the message row.
type ToolUse struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// URL returns the string value of the "url" argument, or "" when absent.
// Tool-usage lists are deduplicated by URL when one is present.
func (t ToolUse) URL() string {
	if t.Arguments == nil {
		return ""
	}
	if s, ok := t.Arguments["url"].(string); ok {
		return s
	}
	return ""
}

// Message is one entry in a chat. Assistant messages are created empty when a
// turn starts, mutated by buffered stream flushes while Streaming is true,
// and finalized exactly once. At most one message per agent turn is streaming
// at any moment.
type Message struct {
	ID      string
	ChatID  string
	AgentID string
	Role    Role

	Content   string
	Reasoning string
	ModelID   string

	InputTokens  int
	OutputTokens int
	ToolUsage    []ToolUse
	Streaming    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMessage creates a message with a fresh entity id.
func NewMessage(chatID string, role Role, content string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:        NewULID(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewAgentMessage creates an empty assistant message in streaming state,
// ready to receive buffered flushes for the given agent's turn.
func NewAgentMessage(chatID, agentID string) *Message {
	m := NewMessage(chatID, RoleAssistant, "")
	m.AgentID = agentID
	m.Streaming = true
	return m
}

// Blank reports whether the message carries no visible content.
func (m *Message) Blank() bool {
	return m.Content == ""
}

// Clone returns a deep copy so callers can mutate the result without
// affecting store-held state.
func (m *Message) Clone() *Message {
	cp := *m
	if m.ToolUsage != nil {
		cp.ToolUsage = make([]ToolUse, len(m.ToolUsage))
		for i, tu := range m.ToolUsage {
			cp.ToolUsage[i] = ToolUse{Name: tu.Name, Arguments: cloneArgs(tu.Arguments)}
		}
	}
	return &cp
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	cp := make(map[string]any, len(args))
	for k, v := range args {
		cp[k] = v
	}
	return cp
}
