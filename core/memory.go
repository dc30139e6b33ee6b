package core

import "time"

// MemoryType distinguishes the two tiers of agent memory.
type MemoryType string

const (
	// MemoryJournal entries are time-decayed observations. They expire out of
	// reads after the trailing journal window and are candidates for
	// promotion to core.
	MemoryJournal MemoryType = "journal"
	// MemoryCore entries are permanent and counted against the agent's core
	// token budget.
	MemoryCore MemoryType = "core"
)

// AgentMemory is one durable memory entry belonging to an agent.
//
// MemoryType only ever transitions journal→core. Constitutional is permanent
// once set: refinement may create new constitutional entries but never
// deletes or merges existing ones.
type AgentMemory struct {
	ID             string
	AgentID        string
	MemoryType     MemoryType
	Constitutional bool
	Content        string
	Tokens         int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewAgentMemory creates a memory entry with a fresh entity id.
func NewAgentMemory(agentID string, memoryType MemoryType, content string, tokens int) *AgentMemory {
	now := time.Now().UTC()
	return &AgentMemory{
		ID:         NewULID(),
		AgentID:    agentID,
		MemoryType: memoryType,
		Content:    content,
		Tokens:     tokens,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Expired reports whether a journal entry has aged out of the trailing
// window. Core memories never expire. Expired entries are ignored by reads,
// not deleted.
func (m *AgentMemory) Expired(now time.Time, window time.Duration) bool {
	if m.MemoryType != MemoryJournal {
		return false
	}
	return m.CreatedAt.Before(now.Add(-window))
}

// Clone returns a copy so callers can mutate the result without affecting
// store-held state.
func (m *AgentMemory) Clone() *AgentMemory {
	cp := *m
	return &cp
}
