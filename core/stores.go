package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by store lookups for ids that do not resolve.
// Implementations wrap it with entity context; match with errors.Is.
var ErrNotFound = errors.New("not found")

// ChatStore persists chats and answers the lifecycle queries the turn,
// memory and initiation subsystems need.
type ChatStore interface {
	Create(ctx context.Context, chat *Chat) error
	Get(ctx context.Context, id string) (*Chat, error)
	Update(ctx context.Context, chat *Chat) error

	// AdvanceWatermark moves the consolidation watermark to the given
	// message. It never moves the watermark backwards.
	AdvanceWatermark(ctx context.Context, chatID, messageID string, at time.Time) error

	// ListIdleMultiAgent returns respondable multi-agent chats whose latest
	// message predates idleBefore and which still have messages past the
	// consolidation watermark.
	ListIdleMultiAgent(ctx context.Context, idleBefore time.Time) ([]*Chat, error)

	// CountPendingInitiated counts respondable agent-initiated chats still
	// awaiting a human reply, for initiation-cap checks.
	CountPendingInitiated(ctx context.Context, agentID string) (int, error)

	// ListContinuable returns respondable chats for an account, most
	// recently active first, capped at limit.
	ListContinuable(ctx context.Context, accountID string, limit int) ([]*Chat, error)
}

// MessageStore persists messages. Ordering follows entity ids, which are
// time-prefixed and therefore chronological.
type MessageStore interface {
	Create(ctx context.Context, msg *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	Update(ctx context.Context, msg *Message) error
	Delete(ctx context.Context, id string) error

	// ListByChat returns the most recent limit messages of a chat in
	// chronological order. limit <= 0 returns all.
	ListByChat(ctx context.Context, chatID string, limit int) ([]*Message, error)

	// ListAfter returns non-streaming messages of a chat strictly after the
	// given message id, in chronological order. An empty id returns all.
	ListAfter(ctx context.Context, chatID, afterMessageID string) ([]*Message, error)

	// CountHumanSince counts user-authored messages across an account's
	// chats since the given time.
	CountHumanSince(ctx context.Context, accountID string, since time.Time) (int, error)

	// ListRecentHuman returns user-authored messages across an account's
	// chats since the given time, most recent first, capped at limit.
	ListRecentHuman(ctx context.Context, accountID string, since time.Time, limit int) ([]*Message, error)
}

// AgentStore persists agent configuration. The core mutates nothing here
// except refinement bookkeeping.
type AgentStore interface {
	Create(ctx context.Context, agent *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	Update(ctx context.Context, agent *Agent) error
	ListActive(ctx context.Context) ([]*Agent, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Agent, error)
	SetRefinedAt(ctx context.Context, agentID string, t time.Time) error
}

// MemoryStore persists agent memories. MemoryType and Constitutional are
// deliberately not writable through Update: type changes go through Promote
// (journal→core only) and Constitutional through MarkConstitutional, keeping
// both transitions monotonic at the store boundary.
type MemoryStore interface {
	Create(ctx context.Context, mem *AgentMemory) error
	Get(ctx context.Context, id string) (*AgentMemory, error)

	// Update persists Content and Tokens only.
	Update(ctx context.Context, mem *AgentMemory) error

	// Promote flips a journal entry to core. Promoting an entry that is
	// already core is a no-op.
	Promote(ctx context.Context, id string) error

	// MarkConstitutional permanently marks a memory as constitutional.
	MarkConstitutional(ctx context.Context, id string) error

	// Delete removes a memory. Callers are responsible for refusing deletion
	// of constitutional entries before reaching the store.
	Delete(ctx context.Context, id string) error

	// ListByAgent returns all memories for an agent in chronological order,
	// including expired journal entries; expiry filtering is a read concern.
	ListByAgent(ctx context.Context, agentID string) ([]*AgentMemory, error)

	// Search returns an agent's memories whose content matches the query,
	// case-insensitive substring semantics.
	Search(ctx context.Context, agentID, query string) ([]*AgentMemory, error)
}

// AuditStore persists immutable decision records.
type AuditStore interface {
	Create(ctx context.Context, entry *AuditEntry) error

	// ListByAgent returns an agent's audit entries, most recent first,
	// capped at limit.
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*AuditEntry, error)

	// CountByAccountSince counts audit entries across an account's agents
	// since the given time.
	CountByAccountSince(ctx context.Context, accountID string, since time.Time) (int, error)
}
