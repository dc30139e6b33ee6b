package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/confabhq/confab/core"
)

// InMemory is a volatile implementation of all five store contracts backed by
// process-local maps under one lock. It is safe for concurrent access and best
// suited for tests and ephemeral demo setups. Every entity is cloned on the
// way in and out, so callers can never mutate held state.
type InMemory struct {
	mu       sync.RWMutex
	clock    core.Clock
	chats    map[string]*core.Chat
	messages map[string]*core.Message
	agents   map[string]*core.Agent
	memories map[string]*core.AgentMemory
	audits   map[string]*core.AuditEntry
}

// InMemoryOptions configures an InMemory store.
type InMemoryOptions struct {
	// Clock stamps UpdatedAt on writes.
	Clock core.Clock
}

// NewInMemory constructs an empty in-memory store.
func NewInMemory(optFns ...func(o *InMemoryOptions)) *InMemory {
	opts := InMemoryOptions{Clock: core.SystemClock{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	return &InMemory{
		clock:    opts.Clock,
		chats:    make(map[string]*core.Chat),
		messages: make(map[string]*core.Message),
		agents:   make(map[string]*core.Agent),
		memories: make(map[string]*core.AgentMemory),
		audits:   make(map[string]*core.AuditEntry),
	}
}

// Chats returns the chat store view.
func (s *InMemory) Chats() core.ChatStore { return (*memChats)(s) }

// Messages returns the message store view.
func (s *InMemory) Messages() core.MessageStore { return (*memMessages)(s) }

// Agents returns the agent store view.
func (s *InMemory) Agents() core.AgentStore { return (*memAgents)(s) }

// Memories returns the memory store view.
func (s *InMemory) Memories() core.MemoryStore { return (*memMemories)(s) }

// Audits returns the audit store view.
func (s *InMemory) Audits() core.AuditStore { return (*memAudits)(s) }

// latestMessageLocked returns the newest message of a chat, or nil. Caller
// holds at least a read lock.
func (s *InMemory) latestMessageLocked(chatID string) *core.Message {
	var latest *core.Message
	for _, m := range s.messages {
		if m.ChatID != chatID {
			continue
		}
		if latest == nil || m.ID > latest.ID {
			latest = m
		}
	}
	return latest
}

// hasUnconsolidatedLocked reports whether the chat has finished messages past
// its consolidation watermark. Caller holds at least a read lock.
func (s *InMemory) hasUnconsolidatedLocked(chat *core.Chat) bool {
	for _, m := range s.messages {
		if m.ChatID != chat.ID || m.Streaming {
			continue
		}
		if m.ID > chat.ConsolidatedMessageID {
			return true
		}
	}
	return false
}

// accountChatsLocked returns the set of chat ids owned by the account. Caller
// holds at least a read lock.
func (s *InMemory) accountChatsLocked(accountID string) map[string]bool {
	ids := make(map[string]bool)
	for _, c := range s.chats {
		if c.AccountID == accountID {
			ids[c.ID] = true
		}
	}
	return ids
}

type memChats InMemory

func (s *memChats) Create(_ context.Context, chat *core.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chat.ID]; ok {
		return fmt.Errorf("chat %s: already exists", chat.ID)
	}
	s.chats[chat.ID] = chat.Clone()
	return nil
}

func (s *memChats) Get(_ context.Context, id string) (*core.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat %s: %w", id, core.ErrNotFound)
	}
	return chat.Clone(), nil
}

func (s *memChats) Update(_ context.Context, chat *core.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chat.ID]; !ok {
		return fmt.Errorf("chat %s: %w", chat.ID, core.ErrNotFound)
	}
	cp := chat.Clone()
	cp.UpdatedAt = s.clock.Now().UTC()
	s.chats[chat.ID] = cp
	return nil
}

func (s *memChats) AdvanceWatermark(_ context.Context, chatID, messageID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return fmt.Errorf("chat %s: %w", chatID, core.ErrNotFound)
	}
	// Entity ids are chronological, so a lexicographic compare suffices to
	// keep the watermark monotonic.
	if messageID <= chat.ConsolidatedMessageID {
		return nil
	}
	chat.ConsolidatedMessageID = messageID
	t := at
	chat.ConsolidatedAt = &t
	chat.UpdatedAt = s.clock.Now().UTC()
	return nil
}

func (s *memChats) ListIdleMultiAgent(_ context.Context, idleBefore time.Time) ([]*core.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Chat
	for _, c := range s.chats {
		if !c.Respondable() || !c.MultiAgent() {
			continue
		}
		latest := (*InMemory)(s).latestMessageLocked(c.ID)
		if latest == nil || !latest.CreatedAt.Before(idleBefore) {
			continue
		}
		if !(*InMemory)(s).hasUnconsolidatedLocked(c) {
			continue
		}
		out = append(out, c.Clone())
	}
	sortChats(out)
	return out, nil
}

func (s *memChats) CountPendingInitiated(_ context.Context, agentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.chats {
		if c.InitiatedByAgent == agentID && c.PendingHumanReply && c.Respondable() {
			n++
		}
	}
	return n, nil
}

func (s *memChats) ListContinuable(_ context.Context, accountID string, limit int) ([]*core.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Chat
	for _, c := range s.chats {
		if c.AccountID == accountID && c.Respondable() {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memMessages InMemory

func (s *memMessages) Create(_ context.Context, msg *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return fmt.Errorf("message %s: already exists", msg.ID)
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

func (s *memMessages) Get(_ context.Context, id string) (*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	return msg.Clone(), nil
}

func (s *memMessages) Update(_ context.Context, msg *core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return fmt.Errorf("message %s: %w", msg.ID, core.ErrNotFound)
	}
	cp := msg.Clone()
	cp.UpdatedAt = s.clock.Now().UTC()
	s.messages[msg.ID] = cp
	return nil
}

func (s *memMessages) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("message %s: %w", id, core.ErrNotFound)
	}
	delete(s.messages, id)
	return nil
}

func (s *memMessages) ListByChat(_ context.Context, chatID string, limit int) ([]*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m.Clone())
		}
	}
	sortMessages(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memMessages) ListAfter(_ context.Context, chatID, afterMessageID string) ([]*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Message
	for _, m := range s.messages {
		if m.ChatID != chatID || m.Streaming {
			continue
		}
		if m.ID > afterMessageID {
			out = append(out, m.Clone())
		}
	}
	sortMessages(out)
	return out, nil
}

func (s *memMessages) CountHumanSince(_ context.Context, accountID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chatIDs := (*InMemory)(s).accountChatsLocked(accountID)
	n := 0
	for _, m := range s.messages {
		if m.Role == core.RoleUser && chatIDs[m.ChatID] && !m.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memMessages) ListRecentHuman(_ context.Context, accountID string, since time.Time, limit int) ([]*core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chatIDs := (*InMemory)(s).accountChatsLocked(accountID)
	var out []*core.Message
	for _, m := range s.messages {
		if m.Role == core.RoleUser && chatIDs[m.ChatID] && !m.CreatedAt.Before(since) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memAgents InMemory

func (s *memAgents) Create(_ context.Context, agent *core.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; ok {
		return fmt.Errorf("agent %s: already exists", agent.ID)
	}
	s.agents[agent.ID] = agent.Clone()
	return nil
}

func (s *memAgents) Get(_ context.Context, id string) (*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, core.ErrNotFound)
	}
	return agent.Clone(), nil
}

func (s *memAgents) Update(_ context.Context, agent *core.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; !ok {
		return fmt.Errorf("agent %s: %w", agent.ID, core.ErrNotFound)
	}
	cp := agent.Clone()
	cp.UpdatedAt = s.clock.Now().UTC()
	s.agents[agent.ID] = cp
	return nil
}

func (s *memAgents) ListActive(_ context.Context) ([]*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Agent
	for _, a := range s.agents {
		if a.Active {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memAgents) ListByAccount(_ context.Context, accountID string) ([]*core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Agent
	for _, a := range s.agents {
		if a.AccountID == accountID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memAgents) SetRefinedAt(_ context.Context, agentID string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, core.ErrNotFound)
	}
	at := t
	agent.RefinedAt = &at
	agent.UpdatedAt = s.clock.Now().UTC()
	return nil
}

type memMemories InMemory

func (s *memMemories) Create(_ context.Context, mem *core.AgentMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[mem.ID]; ok {
		return fmt.Errorf("memory %s: already exists", mem.ID)
	}
	s.memories[mem.ID] = mem.Clone()
	return nil
}

func (s *memMemories) Get(_ context.Context, id string) (*core.AgentMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mem, ok := s.memories[id]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	return mem.Clone(), nil
}

// Update persists Content and Tokens only; type and constitutional flags are
// unreachable from here.
func (s *memMemories) Update(_ context.Context, mem *core.AgentMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.memories[mem.ID]
	if !ok {
		return fmt.Errorf("memory %s: %w", mem.ID, core.ErrNotFound)
	}
	held.Content = mem.Content
	held.Tokens = mem.Tokens
	held.UpdatedAt = s.clock.Now().UTC()
	return nil
}

func (s *memMemories) Promote(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem, ok := s.memories[id]
	if !ok {
		return fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	if mem.MemoryType == core.MemoryCore {
		return nil
	}
	mem.MemoryType = core.MemoryCore
	mem.UpdatedAt = s.clock.Now().UTC()
	return nil
}

func (s *memMemories) MarkConstitutional(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem, ok := s.memories[id]
	if !ok {
		return fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	mem.Constitutional = true
	mem.UpdatedAt = s.clock.Now().UTC()
	return nil
}

func (s *memMemories) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return fmt.Errorf("memory %s: %w", id, core.ErrNotFound)
	}
	delete(s.memories, id)
	return nil
}

func (s *memMemories) ListByAgent(_ context.Context, agentID string) ([]*core.AgentMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.AgentMemory
	for _, m := range s.memories {
		if m.AgentID == agentID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memMemories) Search(_ context.Context, agentID, query string) ([]*core.AgentMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(query)
	var out []*core.AgentMemory
	for _, m := range s.memories {
		if m.AgentID == agentID && strings.Contains(strings.ToLower(m.Content), needle) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memAudits InMemory

func (s *memAudits) Create(_ context.Context, entry *core.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.audits[entry.ID]; ok {
		return fmt.Errorf("audit entry %s: already exists", entry.ID)
	}
	s.audits[entry.ID] = entry.Clone()
	return nil
}

func (s *memAudits) ListByAgent(_ context.Context, agentID string, limit int) ([]*core.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.AuditEntry
	for _, e := range s.audits {
		if e.AgentID == agentID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memAudits) CountByAccountSince(_ context.Context, accountID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.audits {
		if e.AccountID == accountID && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func sortChats(chats []*core.Chat) {
	sort.Slice(chats, func(i, j int) bool { return chats[i].ID < chats[j].ID })
}

func sortMessages(msgs []*core.Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
}
