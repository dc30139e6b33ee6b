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

// DefaultJournalWindow is the trailing window in which journal entries stay
// live and eligible for promotion.
const DefaultJournalWindow = 7 * 24 * time.Hour

// ReflectorOptions configures a Reflector.
type ReflectorOptions struct {
	// JournalWindow bounds which journal entries are still live.
	JournalWindow time.Duration

	// Logger receives sweep diagnostics.
	Logger logging.Logger

	// Clock drives journal expiry checks.
	Clock core.Clock

	// Metrics records sweep and model-call instrumentation. Nil is valid.
	Metrics *metrics.Metrics
}

// Reflector periodically asks agents which of their live journal
// observations deserve permanent memory. Promotion is the only mutation it
// performs, and it is monotonic: journal entries become core, never the
// reverse.
type Reflector struct {
	agents   core.AgentStore
	memories core.MemoryStore
	selector *model.Selector
	opts     ReflectorOptions
}

// NewReflector creates a Reflector over the given stores.
func NewReflector(
	agents core.AgentStore,
	memories core.MemoryStore,
	selector *model.Selector,
	optFns ...func(o *ReflectorOptions),
) *Reflector {
	opts := ReflectorOptions{
		JournalWindow: DefaultJournalWindow,
		Logger:        logging.NoOpLogger{},
		Clock:         core.SystemClock{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	return &Reflector{
		agents:   agents,
		memories: memories,
		selector: selector,
		opts:     opts,
	}
}

// Run executes one reflection sweep over active agents. Agents without a
// live journal entry are skipped without a model call. Per-agent failures
// are logged and do not stop the sweep.
func (r *Reflector) Run(ctx context.Context) error {
	start := r.opts.Clock.Now()

	agents, err := r.agents.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active agents: %w", err)
	}

	var reflected, failures int
	for _, agent := range agents {
		ran, err := r.reflectAgent(ctx, agent)
		if err != nil {
			failures++
			r.opts.Logger.Error("reflect.agent_failed", "agent_id", agent.ID, "error", err.Error())
		}
		if ran {
			reflected++
		}
	}

	r.opts.Metrics.ObserveSweep("reflect", reflected, failures, r.opts.Clock.Now().Sub(start))
	r.opts.Logger.Info("reflect.sweep", "agents", reflected, "failures", failures)
	return nil
}

// reflectAgent presents one agent its ledger and applies the returned
// promotions. The presented list numbers core entries first, then live
// journal entries; only indices that land on journal entries promote.
func (r *Reflector) reflectAgent(ctx context.Context, agent *core.Agent) (bool, error) {
	all, err := r.memories.ListByAgent(ctx, agent.ID)
	if err != nil {
		return false, fmt.Errorf("list memories: %w", err)
	}

	now := r.opts.Clock.Now()
	var presented, journal []*core.AgentMemory
	for _, m := range all {
		if m.Expired(now, r.opts.JournalWindow) {
			continue
		}
		if m.MemoryType == core.MemoryCore {
			presented = append(presented, m)
		} else {
			journal = append(journal, m)
		}
	}
	if len(journal) == 0 {
		return false, nil
	}
	presented = append(presented, journal...)

	provider, modelID, err := r.selector.Select(agent.ModelID)
	if err != nil {
		return true, fmt.Errorf("select model: %w", err)
	}

	instructions, err := util.RenderTemplate(reflectionTemplate, map[string]any{
		"Name":    agent.Name,
		"Persona": agent.Persona,
	})
	if err != nil {
		return true, fmt.Errorf("render reflection prompt: %w", err)
	}

	callStart := r.opts.Clock.Now()
	completion, err := model.Complete(ctx, provider, model.Request{
		ModelID:      modelID,
		Instructions: instructions,
		Messages:     []model.ChatMessage{{Role: core.RoleUser, Content: renderEntryList(presented)}},
	})
	r.observeCall(provider, callStart, completion, err)
	if err != nil {
		return true, fmt.Errorf("reflection call: %w", err)
	}

	indices, ok := parsePromotions(completion.Content)
	if !ok {
		r.opts.Logger.Warn("reflect.malformed_reply",
			"agent_id", agent.ID, "raw", util.Truncate(completion.Content, 256))
		return true, nil
	}

	var promoted int
	for _, idx := range indices {
		if idx < 1 || idx > len(presented) {
			continue
		}
		entry := presented[idx-1]
		if entry.MemoryType != core.MemoryJournal {
			continue
		}
		if err := r.memories.Promote(ctx, entry.ID); err != nil {
			return true, fmt.Errorf("promote memory %s: %w", entry.ID, err)
		}
		promoted++
	}

	r.opts.Logger.Info("reflect.agent",
		"agent_id", agent.ID, "journal", len(journal), "promoted", promoted)
	return true, nil
}

func (r *Reflector) observeCall(p model.Provider, start time.Time, completion *model.Completion, err error) {
	var usage model.Usage
	if completion != nil {
		usage = completion.Usage
	}
	r.opts.Metrics.ObserveModelCall(p.Info().Provider,
		r.opts.Clock.Now().Sub(start), usage.InputTokens, usage.OutputTokens, err)
}
