package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/util"
	"github.com/confabhq/confab/model"
	"github.com/confabhq/confab/tool"
)

// TurnRequest identifies one agent turn over one chat. Reason is attached
// when the initiation engine scheduled the turn.
type TurnRequest struct {
	Chat   *core.Chat
	Agent  *core.Agent
	Reason string
}

// ContextBuilder assembles the model request for a turn: persona and memory
// instructions, attributed chat history, and the agent's enabled toolset.
type ContextBuilder interface {
	Build(ctx context.Context, tr TurnRequest) (model.Request, error)
}

// DefaultHistoryLimit bounds how many recent messages enter the context.
const DefaultHistoryLimit = 50

// DefaultJournalWindow is the trailing window in which journal memories are
// considered live.
const DefaultJournalWindow = 7 * 24 * time.Hour

// instructionsTemplate renders the turn's system prompt.
const instructionsTemplate = `You are {{.Name}}.

{{.Persona}}
{{- if .Participants}}

You are in a group conversation with: {{join ", " .Participants}}. Messages from other participants are prefixed with their name.
{{- end}}
{{- if .CoreMemories}}

Things you know from long-term memory:
{{numbered .CoreMemories}}
{{- end}}
{{- if .JournalMemories}}

Recent observations:
{{numbered .JournalMemories}}
{{- end}}
{{- if .Reason}}

You chose to speak now because: {{.Reason}}
{{- end}}`

// BuilderOptions configures a StoreContextBuilder.
type BuilderOptions struct {
	// HistoryLimit caps how many recent messages are included.
	HistoryLimit int

	// JournalWindow filters expired journal memories out of the prompt.
	JournalWindow time.Duration

	// Tools, when set, supplies the turn toolset. Definitions are filtered
	// by the agent's enabled tool names.
	Tools *tool.Registry

	// Clock drives journal expiry checks.
	Clock core.Clock
}

// StoreContextBuilder builds turn context from the entity stores.
type StoreContextBuilder struct {
	messages core.MessageStore
	agents   core.AgentStore
	memories core.MemoryStore
	opts     BuilderOptions
}

// NewContextBuilder creates a builder over the given stores.
func NewContextBuilder(messages core.MessageStore, agents core.AgentStore, memories core.MemoryStore, optFns ...func(o *BuilderOptions)) *StoreContextBuilder {
	opts := BuilderOptions{
		HistoryLimit:  DefaultHistoryLimit,
		JournalWindow: DefaultJournalWindow,
		Clock:         core.SystemClock{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	return &StoreContextBuilder{
		messages: messages,
		agents:   agents,
		memories: memories,
		opts:     opts,
	}
}

// Build assembles the model request for the turn.
func (b *StoreContextBuilder) Build(ctx context.Context, tr TurnRequest) (model.Request, error) {
	instructions, err := b.buildInstructions(ctx, tr)
	if err != nil {
		return model.Request{}, err
	}

	history, err := b.buildHistory(ctx, tr)
	if err != nil {
		return model.Request{}, err
	}

	req := model.Request{
		ModelID:      tr.Agent.ModelID,
		Instructions: instructions,
		Messages:     history,
		Stream:       true,
	}

	if b.opts.Tools != nil && len(tr.Agent.EnabledTools) > 0 {
		req.Tools = enabledDefinitions(b.opts.Tools, tr.Agent.EnabledTools)
		if len(req.Tools) > 0 {
			req.ToolHandler = b.opts.Tools.Handler()
		}
	}

	return req, nil
}

// buildInstructions renders persona, peers, live memories and the optional
// initiation reason into the system prompt.
func (b *StoreContextBuilder) buildInstructions(ctx context.Context, tr TurnRequest) (string, error) {
	var participants []string
	if tr.Chat.MultiAgent() {
		names, err := b.agentNames(ctx, tr.Chat)
		if err != nil {
			return "", err
		}
		for _, id := range tr.Chat.AgentIDs {
			if id == tr.Agent.ID {
				continue
			}
			if name, ok := names[id]; ok {
				participants = append(participants, name)
			}
		}
	}

	var coreMemories, journalMemories []string
	if b.memories != nil {
		entries, err := b.memories.ListByAgent(ctx, tr.Agent.ID)
		if err != nil {
			return "", fmt.Errorf("list memories: %w", err)
		}
		now := b.opts.Clock.Now()
		for _, mem := range entries {
			if mem.Expired(now, b.opts.JournalWindow) {
				continue
			}
			switch mem.MemoryType {
			case core.MemoryCore:
				coreMemories = append(coreMemories, mem.Content)
			case core.MemoryJournal:
				journalMemories = append(journalMemories, mem.Content)
			}
		}
	}

	return util.RenderTemplate(instructionsTemplate, map[string]any{
		"Name":            tr.Agent.Name,
		"Persona":         tr.Agent.Persona,
		"Participants":    participants,
		"CoreMemories":    coreMemories,
		"JournalMemories": journalMemories,
		"Reason":          tr.Reason,
	})
}

// buildHistory maps recent chat messages into provider messages. The
// current agent's own messages become assistant turns; everything else,
// humans and other agents alike, arrives as user turns with other agents
// attributed by name.
func (b *StoreContextBuilder) buildHistory(ctx context.Context, tr TurnRequest) ([]model.ChatMessage, error) {
	msgs, err := b.messages.ListByChat(ctx, tr.Chat.ID, b.opts.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list chat history: %w", err)
	}

	var names map[string]string
	if tr.Chat.MultiAgent() {
		names, err = b.agentNames(ctx, tr.Chat)
		if err != nil {
			return nil, err
		}
	}

	history := make([]model.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Streaming || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		switch {
		case msg.Role == core.RoleSystem:
			history = append(history, model.ChatMessage{Role: core.RoleSystem, Content: msg.Content})
		case msg.AgentID == tr.Agent.ID:
			history = append(history, model.ChatMessage{Role: core.RoleAssistant, Content: msg.Content})
		case msg.AgentID != "":
			history = append(history, model.ChatMessage{
				Role:    core.RoleUser,
				Name:    names[msg.AgentID],
				Content: msg.Content,
			})
		default:
			history = append(history, model.ChatMessage{Role: core.RoleUser, Content: msg.Content})
		}
	}
	return history, nil
}

// agentNames resolves display names for a chat's participants.
func (b *StoreContextBuilder) agentNames(ctx context.Context, chat *core.Chat) (map[string]string, error) {
	names := make(map[string]string, len(chat.AgentIDs))
	for _, id := range chat.AgentIDs {
		agent, err := b.agents.Get(ctx, id)
		if err != nil {
			// Departed agents keep their messages; attribute generically.
			names[id] = "former participant"
			continue
		}
		names[id] = agent.Name
	}
	return names, nil
}

// enabledDefinitions filters the registry's definitions down to the agent's
// enabled tool names.
func enabledDefinitions(reg *tool.Registry, enabled []string) []model.ToolDefinition {
	allowed := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		allowed[name] = true
	}

	var defs []model.ToolDefinition
	for _, def := range reg.Definitions() {
		if allowed[def.Name] {
			defs = append(defs, def)
		}
	}
	return defs
}
