package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/util"
	"github.com/confabhq/confab/logging"
	"github.com/confabhq/confab/metrics"
	"github.com/confabhq/confab/model"
)

const (
	// DefaultCoreTokenBudget is the core-ledger size that marks an agent as
	// needing refinement.
	DefaultCoreTokenBudget = 10_000

	// DefaultRefineInterval is how long a ledger may go without a
	// maintenance pass before one is offered regardless of size.
	DefaultRefineInterval = 14 * 24 * time.Hour

	// DefaultOperationCap bounds mutations within one refinement session.
	DefaultOperationCap = 25
)

// RefinerOptions configures a Refiner.
type RefinerOptions struct {
	// TokenBudget is the core-ledger token budget.
	TokenBudget int

	// RefineInterval is the maximum ledger age before a pass is offered.
	RefineInterval time.Duration

	// OperationCap bounds mutations per session. Zero means unlimited.
	OperationCap int

	// Counter sizes rewritten and merged entries.
	Counter TokenCounter

	// Logger receives sweep diagnostics.
	Logger logging.Logger

	// Clock drives staleness checks and the RefinedAt stamp.
	Clock core.Clock

	// Metrics records sweep and model-call instrumentation. Nil is valid.
	Metrics *metrics.Metrics
}

// Refiner runs consent-gated maintenance passes over agents' core ledgers.
// An agent qualifies when it holds at least one core memory and the ledger
// is either over its token budget or has not been refined within the
// interval. The pass itself is two-phase: the agent is asked for consent in
// free text, and only an affirmative first word opens the bounded tool
// session. Declining leaves the ledger untouched and the agent will simply
// be asked again on a later sweep.
type Refiner struct {
	agents   core.AgentStore
	memories core.MemoryStore
	selector *model.Selector
	opts     RefinerOptions
}

// NewRefiner creates a Refiner over the given stores.
func NewRefiner(
	agents core.AgentStore,
	memories core.MemoryStore,
	selector *model.Selector,
	optFns ...func(o *RefinerOptions),
) *Refiner {
	opts := RefinerOptions{
		TokenBudget:    DefaultCoreTokenBudget,
		RefineInterval: DefaultRefineInterval,
		OperationCap:   DefaultOperationCap,
		Counter:        NewTiktokenCounter(),
		Logger:         logging.NoOpLogger{},
		Clock:          core.SystemClock{},
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
	return &Refiner{
		agents:   agents,
		memories: memories,
		selector: selector,
		opts:     opts,
	}
}

// Run executes one refinement sweep over active agents. Per-agent failures
// are logged and do not stop the sweep.
func (r *Refiner) Run(ctx context.Context) error {
	start := r.opts.Clock.Now()

	agents, err := r.agents.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active agents: %w", err)
	}

	var refined, failures int
	for _, agent := range agents {
		ran, err := r.refineAgent(ctx, agent)
		if err != nil {
			failures++
			r.opts.Logger.Error("refine.agent_failed", "agent_id", agent.ID, "error", err.Error())
		}
		if ran {
			refined++
		}
	}

	r.opts.Metrics.ObserveSweep("refine", refined, failures, r.opts.Clock.Now().Sub(start))
	r.opts.Logger.Info("refine.sweep", "agents", refined, "failures", failures)
	return nil
}

// refineAgent runs the two-phase pass for one agent if its ledger needs it.
func (r *Refiner) refineAgent(ctx context.Context, agent *core.Agent) (bool, error) {
	all, err := r.memories.ListByAgent(ctx, agent.ID)
	if err != nil {
		return false, fmt.Errorf("list memories: %w", err)
	}

	var ledger []*core.AgentMemory
	var total int
	for _, m := range all {
		if m.MemoryType == core.MemoryCore {
			ledger = append(ledger, m)
			total += m.Tokens
		}
	}
	now := r.opts.Clock.Now()
	if !r.needsRefinement(agent, len(ledger), total, now) {
		return false, nil
	}

	provider, modelID, err := r.selector.Select(agent.ModelID)
	if err != nil {
		return true, fmt.Errorf("select model: %w", err)
	}
	rendered := renderLedger(ledger)

	// Phase 1: consent.
	consentInstr, err := util.RenderTemplate(consentTemplate, map[string]any{
		"Name":    agent.Name,
		"Persona": agent.Persona,
		"Count":   len(ledger),
		"Tokens":  total,
		"Budget":  r.opts.TokenBudget,
	})
	if err != nil {
		return true, fmt.Errorf("render consent prompt: %w", err)
	}

	callStart := r.opts.Clock.Now()
	reply, err := model.Complete(ctx, provider, model.Request{
		ModelID:      modelID,
		Instructions: consentInstr,
		Messages:     []model.ChatMessage{{Role: core.RoleUser, Content: rendered}},
	})
	r.observeCall(provider, callStart, reply, err)
	if err != nil {
		return true, fmt.Errorf("consent call: %w", err)
	}
	if !consented(reply.Content) {
		r.opts.Logger.Info("refine.declined",
			"agent_id", agent.ID, "reply", util.Truncate(reply.Content, 128))
		return true, nil
	}

	// Phase 2: bounded tool session.
	session := newRefinementSession(r.memories, agent.ID, r.opts.Counter, core.NewOpLimiter(r.opts.OperationCap))
	registry := session.registry()

	refineInstr, err := util.RenderTemplate(refinementTemplate, map[string]any{
		"Name":    agent.Name,
		"Persona": agent.Persona,
		"Cap":     r.opts.OperationCap,
	})
	if err != nil {
		return true, fmt.Errorf("render refinement prompt: %w", err)
	}

	callStart = r.opts.Clock.Now()
	outcome, err := model.Complete(ctx, provider, model.Request{
		ModelID:      modelID,
		Instructions: refineInstr,
		Messages:     []model.ChatMessage{{Role: core.RoleUser, Content: rendered}},
		Tools:        registry.Definitions(),
		ToolHandler:  registry.Handler(),
	})
	r.observeCall(provider, callStart, outcome, err)
	if err != nil {
		return true, fmt.Errorf("refinement call: %w", err)
	}

	if err := r.agents.SetRefinedAt(ctx, agent.ID, now); err != nil {
		return true, fmt.Errorf("stamp refinement: %w", err)
	}

	r.opts.Logger.Info("refine.completed",
		"agent_id", agent.ID, "entries", len(ledger), "tokens", total,
		"operations", session.Applied())
	return true, nil
}

// needsRefinement reports whether an agent's ledger qualifies for a pass.
func (r *Refiner) needsRefinement(agent *core.Agent, entries, totalTokens int, now time.Time) bool {
	if entries == 0 {
		return false
	}
	if totalTokens > r.opts.TokenBudget {
		return true
	}
	return agent.RefinedAt == nil || now.Sub(*agent.RefinedAt) >= r.opts.RefineInterval
}

// consented reports whether a free-text reply grants the pass: the first
// word must equal "yes" case-insensitively, trailing punctuation aside.
func consented(reply string) bool {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return false
	}
	return strings.EqualFold(strings.TrimRight(fields[0], ".,!?:;"), "yes")
}

func (r *Refiner) observeCall(p model.Provider, start time.Time, completion *model.Completion, err error) {
	var usage model.Usage
	if completion != nil {
		usage = completion.Usage
	}
	r.opts.Metrics.ObserveModelCall(p.Info().Provider,
		r.opts.Clock.Now().Sub(start), usage.InputTokens, usage.OutputTokens, err)
}
