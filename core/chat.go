package core

import "time"

// ResponseMode controls whether agent turns are scheduled automatically when
// a human posts into the chat, or only on explicit request.
type ResponseMode string

const (
	// ResponseModeAutomatic schedules agent turns as soon as a human message arrives.
	ResponseModeAutomatic ResponseMode = "automatic"
	// ResponseModeManual leaves turn scheduling to an explicit caller action.
	ResponseModeManual ResponseMode = "manual"
)

// Chat is a shared conversation thread. Zero or more agents participate in a
// chat alongside humans; AgentIDs holds the participants in turn order.
//
// The consolidation watermark (ConsolidatedAt, ConsolidatedMessageID) marks
// the last message already distilled into agent memory. Messages at or before
// the watermark are never re-consolidated.
type Chat struct {
	ID                string
	AccountID         string
	Title             string
	ResponseMode      ResponseMode
	AgentIDs          []string
	Archived          bool
	Discarded         bool
	InitiatedByAgent  string
	PendingHumanReply bool

	ConsolidatedAt        *time.Time
	ConsolidatedMessageID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewChat creates a chat owned by the given account with a fresh entity id.
func NewChat(accountID, title string) *Chat {
	now := time.Now().UTC()
	return &Chat{
		ID:           NewULID(),
		AccountID:    accountID,
		Title:        title,
		ResponseMode: ResponseModeAutomatic,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Respondable reports whether the chat can still receive agent turns. Archived
// or discarded chats are closed to new responses.
func (c *Chat) Respondable() bool {
	return !c.Archived && !c.Discarded
}

// MultiAgent reports whether more than one agent participates in the chat.
func (c *Chat) MultiAgent() bool {
	return len(c.AgentIDs) > 1
}

// HasAgent reports whether the given agent participates in the chat.
func (c *Chat) HasAgent(agentID string) bool {
	for _, id := range c.AgentIDs {
		if id == agentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate the result without
// affecting store-held state.
func (c *Chat) Clone() *Chat {
	cp := *c
	cp.AgentIDs = append([]string(nil), c.AgentIDs...)
	if c.ConsolidatedAt != nil {
		t := *c.ConsolidatedAt
		cp.ConsolidatedAt = &t
	}
	return &cp
}
