package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/util"
	"github.com/confabhq/confab/logging"
	"github.com/confabhq/confab/metrics"
	"github.com/confabhq/confab/model"
)

// DefaultIdleThreshold is how long a chat must stay quiet before its
// messages are consolidated into memories.
const DefaultIdleThreshold = 6 * time.Hour

// ConsolidatorOptions configures a Consolidator.
type ConsolidatorOptions struct {
	// IdleThreshold selects chats with no message for at least this long.
	IdleThreshold time.Duration

	// ChunkTokens bounds the transcript chunk size per extraction call.
	ChunkTokens int

	// Counter sizes transcript chunks and memory rows.
	Counter TokenCounter

	// Logger receives sweep diagnostics.
	Logger logging.Logger

	// Clock drives idle checks and watermark timestamps.
	Clock core.Clock

	// Metrics records sweep and model-call instrumentation. Nil is valid.
	Metrics *metrics.Metrics
}

// Consolidator turns the transcripts of idle multi-agent chats into durable
// agent memories. Each eligible chat's unconsolidated span is chunked and
// offered to every participant's own model for extraction; the consolidation
// watermark advances over the span whether or not extraction produced
// anything, so a span is offered exactly once.
type Consolidator struct {
	chats    core.ChatStore
	messages core.MessageStore
	agents   core.AgentStore
	memories core.MemoryStore
	selector *model.Selector
	opts     ConsolidatorOptions
}

// NewConsolidator creates a Consolidator over the given stores.
func NewConsolidator(
	chats core.ChatStore,
	messages core.MessageStore,
	agents core.AgentStore,
	memories core.MemoryStore,
	selector *model.Selector,
	optFns ...func(o *ConsolidatorOptions),
) *Consolidator {
	opts := ConsolidatorOptions{
		IdleThreshold: DefaultIdleThreshold,
		ChunkTokens:   DefaultChunkTokens,
		Counter:       NewTiktokenCounter(),
		Logger:        logging.NoOpLogger{},
		Clock:         core.SystemClock{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Counter == nil {
		opts.Counter = NewTiktokenCounter()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	return &Consolidator{
		chats:    chats,
		messages: messages,
		agents:   agents,
		memories: memories,
		selector: selector,
		opts:     opts,
	}
}

// Run executes one consolidation sweep. Per-chat failures are logged and do
// not stop the sweep.
func (c *Consolidator) Run(ctx context.Context) error {
	start := c.opts.Clock.Now()

	chats, err := c.chats.ListIdleMultiAgent(ctx, start.Add(-c.opts.IdleThreshold))
	if err != nil {
		return fmt.Errorf("list idle chats: %w", err)
	}

	var failures int
	for _, chat := range chats {
		if err := c.consolidateChat(ctx, chat); err != nil {
			failures++
			c.opts.Logger.Error("consolidate.chat_failed", "chat_id", chat.ID, "error", err.Error())
		}
	}

	c.opts.Metrics.ObserveSweep("consolidate", len(chats), failures, c.opts.Clock.Now().Sub(start))
	c.opts.Logger.Info("consolidate.sweep", "chats", len(chats), "failures", failures)
	return nil
}

// consolidateChat extracts memories from one chat's unconsolidated span and
// advances the watermark over it. Extraction failures for individual agents
// are logged and do not hold the watermark back: re-offering the same span
// later would re-propose memories the other agents already kept.
func (c *Consolidator) consolidateChat(ctx context.Context, chat *core.Chat) error {
	msgs, err := c.messages.ListAfter(ctx, chat.ID, chat.ConsolidatedMessageID)
	if err != nil {
		return fmt.Errorf("list unconsolidated messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}

	chunks := ChunkMessages(msgs, c.participantNames(ctx, chat), c.opts.Counter, c.opts.ChunkTokens)

	for _, agentID := range chat.AgentIDs {
		if err := c.extractForAgent(ctx, agentID, chunks); err != nil {
			c.opts.Logger.Error("consolidate.agent_failed",
				"chat_id", chat.ID, "agent_id", agentID, "error", err.Error())
		}
	}

	last := msgs[len(msgs)-1]
	if err := c.chats.AdvanceWatermark(ctx, chat.ID, last.ID, c.opts.Clock.Now()); err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}

	c.opts.Logger.Info("consolidate.chat",
		"chat_id", chat.ID, "messages", len(msgs), "chunks", len(chunks), "watermark", last.ID)
	return nil
}

// extractForAgent runs the chunked extraction loop for one participant.
// Memories extracted from earlier chunks are fed into later chunk prompts so
// the model does not re-propose them.
func (c *Consolidator) extractForAgent(ctx context.Context, agentID string, chunks []Chunk) error {
	agent, err := c.agents.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}

	existing, err := c.memories.ListByAgent(ctx, agentID)
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}
	var known []string
	for _, m := range existing {
		if m.MemoryType == core.MemoryCore {
			known = append(known, m.Content)
		}
	}

	provider, modelID, err := c.selector.Select(agent.ModelID)
	if err != nil {
		return fmt.Errorf("select model: %w", err)
	}

	var earlier []string
	for i, chunk := range chunks {
		instructions, err := util.RenderTemplate(extractionTemplate, map[string]any{
			"Name":    agent.Name,
			"Persona": agent.Persona,
			"Core":    known,
			"Earlier": earlier,
		})
		if err != nil {
			return fmt.Errorf("render extraction prompt: %w", err)
		}

		callStart := c.opts.Clock.Now()
		completion, err := model.Complete(ctx, provider, model.Request{
			ModelID:      modelID,
			Instructions: instructions,
			Messages:     []model.ChatMessage{{Role: core.RoleUser, Content: chunk.Transcript}},
		})
		c.observeCall(provider, callStart, completion, err)
		if err != nil {
			return fmt.Errorf("extract chunk %d/%d: %w", i+1, len(chunks), err)
		}

		ext, ok := parseExtraction(completion.Content)
		if !ok {
			c.opts.Logger.Warn("consolidate.malformed_extraction",
				"agent_id", agentID, "chunk", i+1,
				"raw", util.Truncate(completion.Content, 256))
		}

		if err := c.createMemories(ctx, agentID, core.MemoryJournal, ext.Journal); err != nil {
			return err
		}
		if err := c.createMemories(ctx, agentID, core.MemoryCore, ext.Core); err != nil {
			return err
		}

		earlier = append(earlier, ext.Journal...)
		earlier = append(earlier, ext.Core...)
	}

	if len(earlier) > 0 {
		c.opts.Logger.Info("consolidate.extracted", "agent_id", agentID, "memories", len(earlier))
	}
	return nil
}

func (c *Consolidator) createMemories(ctx context.Context, agentID string, memoryType core.MemoryType, contents []string) error {
	for _, content := range contents {
		mem := core.NewAgentMemory(agentID, memoryType, content, c.opts.Counter.Count(content))
		if err := c.memories.Create(ctx, mem); err != nil {
			return fmt.Errorf("create %s memory: %w", memoryType, err)
		}
	}
	return nil
}

// participantNames resolves display names for transcript attribution.
// Departed agents keep their lines under a generic name.
func (c *Consolidator) participantNames(ctx context.Context, chat *core.Chat) map[string]string {
	names := make(map[string]string, len(chat.AgentIDs))
	for _, id := range chat.AgentIDs {
		if agent, err := c.agents.Get(ctx, id); err == nil {
			names[id] = agent.Name
		}
	}
	return names
}

func (c *Consolidator) observeCall(p model.Provider, start time.Time, completion *model.Completion, err error) {
	var usage model.Usage
	if completion != nil {
		usage = completion.Usage
	}
	c.opts.Metrics.ObserveModelCall(p.Info().Provider,
		c.opts.Clock.Now().Sub(start), usage.InputTokens, usage.OutputTokens, err)
}
