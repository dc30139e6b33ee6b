package initiative

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/util"
	"github.com/confabhq/confab/logging"
	"github.com/confabhq/confab/metrics"
	"github.com/confabhq/confab/model"
)

// Defaults for EngineOptions.
const (
	DefaultActivityWindow = 7 * 24 * time.Hour
	DefaultInitiationCap  = 3
	DefaultHourStart      = 8
	DefaultHourEnd        = 22
	DefaultMaxJitter      = 15 * time.Minute
)

// Briefing sizes. Continuable chats and human messages beyond these bounds
// are the store's most-recent-first heads, so the briefing stays current.
const (
	continuableLimit = 10
	initiationsLimit = 5
	humanLimit       = 10
	humanClip        = 200
)

// defaultTitle names an initiated chat whose decision carried no topic.
const defaultTitle = "New conversation"

// TurnScheduler schedules agent turns on a chat. *turn.Sequencer implements
// it.
type TurnScheduler interface {
	ScheduleTurns(ctx context.Context, chatID string, agentIDs []string, reason string) error
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// ActivityWindow is the trailing span in which an account must show
	// audit or human activity for its agents to be considered.
	ActivityWindow time.Duration

	// DefaultCap bounds pending agent-initiated chats for agents that do
	// not set their own cap.
	DefaultCap int

	// HourStart and HourEnd bound the local hours (inclusive start,
	// exclusive end) in which sweeps consider agents. A window with
	// HourEnd <= HourStart disables the gate.
	HourStart int
	HourEnd   int

	// Location is the timezone the hour window is evaluated in.
	Location *time.Location

	// MaxJitter caps the per-agent offset added to the window start so a
	// fleet of agents does not all wake at the same minute.
	MaxJitter time.Duration

	// Logger receives sweep diagnostics.
	Logger logging.Logger

	// Clock drives eligibility checks and window gating.
	Clock core.Clock

	// Metrics records decision and model-call instrumentation. Nil is valid.
	Metrics *metrics.Metrics

	// Broker receives decision notices for on-demand runs. Nil disables
	// notices.
	Broker core.Broker
}

// Engine periodically asks dormant agents whether they want to reach out on
// their own: continue a conversation that was left open, start a new one, or
// stay quiet. Every outcome is recorded as exactly one audit entry, and an
// agent at its cap of unanswered initiated chats is skipped before any model
// call is made.
type Engine struct {
	chats     core.ChatStore
	messages  core.MessageStore
	agents    core.AgentStore
	audits    core.AuditStore
	scheduler TurnScheduler
	selector  *model.Selector
	opts      EngineOptions
}

// NewEngine creates an initiation engine over the given stores.
func NewEngine(
	chats core.ChatStore,
	messages core.MessageStore,
	agents core.AgentStore,
	audits core.AuditStore,
	scheduler TurnScheduler,
	selector *model.Selector,
	optFns ...func(o *EngineOptions),
) *Engine {
	opts := EngineOptions{
		ActivityWindow: DefaultActivityWindow,
		DefaultCap:     DefaultInitiationCap,
		HourStart:      DefaultHourStart,
		HourEnd:        DefaultHourEnd,
		Location:       time.Local,
		MaxJitter:      DefaultMaxJitter,
		Logger:         logging.NoOpLogger{},
		Clock:          core.SystemClock{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	return &Engine{
		chats:     chats,
		messages:  messages,
		agents:    agents,
		audits:    audits,
		scheduler: scheduler,
		selector:  selector,
		opts:      opts,
	}
}

// Run executes one initiation sweep over all active agents. Agents outside
// their jittered hour window are passed over silently; per-agent failures
// are logged and do not stop the sweep. Sweeps never emit decision notices.
func (e *Engine) Run(ctx context.Context) error {
	start := e.opts.Clock.Now()

	agents, err := e.agents.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active agents: %w", err)
	}

	var considered, failures int
	for _, agent := range agents {
		if !e.inWindow(agent.ID, start) {
			e.opts.Logger.Debug("initiate.outside_window", "agent_id", agent.ID)
			continue
		}
		considered++
		if err := e.decideFor(ctx, agent, false); err != nil {
			failures++
			e.opts.Logger.Error("initiate.agent_failed", "agent_id", agent.ID, "error", err.Error())
		}
	}

	e.opts.Metrics.ObserveSweep("initiate", considered, failures, e.opts.Clock.Now().Sub(start))
	e.opts.Logger.Info("initiate.sweep", "agents", considered, "failures", failures)
	return nil
}

// RunAgent runs the decision for a single agent on demand, bypassing the
// hour window. Eligibility and cap checks still apply. On-demand runs emit a
// decision notice when the agent chooses to stay quiet.
func (e *Engine) RunAgent(ctx context.Context, agentID string) error {
	agent, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	if !agent.Active {
		return fmt.Errorf("agent %s is not active", agentID)
	}
	return e.decideFor(ctx, agent, true)
}

// decideFor runs the full decision pipeline for one agent: eligibility, cap
// check, model decision, execution, audit.
func (e *Engine) decideFor(ctx context.Context, agent *core.Agent, notify bool) error {
	now := e.opts.Clock.Now()

	eligible, err := e.eligible(ctx, agent, now)
	if err != nil {
		return err
	}
	if !eligible {
		e.opts.Logger.Debug("initiate.dormant_account", "agent_id", agent.ID, "account_id", agent.AccountID)
		return nil
	}

	limit := agent.InitiationCap
	if limit <= 0 {
		limit = e.opts.DefaultCap
	}
	pending, err := e.chats.CountPendingInitiated(ctx, agent.ID)
	if err != nil {
		return fmt.Errorf("count pending initiated chats: %w", err)
	}
	if limit > 0 && pending >= limit {
		e.opts.Logger.Info("initiate.capped", "agent_id", agent.ID, "pending", pending, "cap", limit)
		e.opts.Metrics.ObserveDecision("skipped")
		return e.record(ctx, agent, core.AuditInitiationSkipped, map[string]any{
			"pending": pending,
			"cap":     limit,
		})
	}

	d := e.decideWith(ctx, agent, now)

	switch d.Action {
	case ActionContinue:
		return e.executeContinue(ctx, agent, d)
	case ActionInitiate:
		return e.executeInitiate(ctx, agent, d)
	default:
		return e.executeNothing(ctx, agent, d, notify)
	}
}

// eligible reports whether the agent's account showed any activity inside
// the trailing window: at least one audit entry or one human-authored
// message. Accounts with neither are dormant and their agents never spend a
// model call.
func (e *Engine) eligible(ctx context.Context, agent *core.Agent, now time.Time) (bool, error) {
	since := now.Add(-e.opts.ActivityWindow)

	audits, err := e.audits.CountByAccountSince(ctx, agent.AccountID, since)
	if err != nil {
		return false, fmt.Errorf("count audit activity: %w", err)
	}
	if audits > 0 {
		return true, nil
	}

	humans, err := e.messages.CountHumanSince(ctx, agent.AccountID, since)
	if err != nil {
		return false, fmt.Errorf("count human activity: %w", err)
	}
	return humans > 0, nil
}

// inWindow reports whether the sweep may consider the agent now. The agent's
// window opens at HourStart plus its stable jitter offset and closes at
// HourEnd, in the configured timezone.
func (e *Engine) inWindow(agentID string, now time.Time) bool {
	if e.opts.HourEnd <= e.opts.HourStart {
		return true
	}
	local := now.In(e.opts.Location)
	opens := time.Date(local.Year(), local.Month(), local.Day(), e.opts.HourStart, 0, 0, 0, e.opts.Location).
		Add(jitterFor(agentID, e.opts.MaxJitter))
	closes := time.Date(local.Year(), local.Month(), local.Day(), e.opts.HourEnd, 0, 0, 0, e.opts.Location)
	return !local.Before(opens) && local.Before(closes)
}

// jitterFor derives a stable minute offset in [0, max] from the agent id.
func jitterFor(agentID string, max time.Duration) time.Duration {
	if max < time.Minute {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(agentID))
	minutes := int64(h.Sum32()) % (int64(max/time.Minute) + 1)
	return time.Duration(minutes) * time.Minute
}

// decideWith asks the agent's model for a decision. Any failure along the
// way, from prompt assembly to parsing, degrades to a "nothing" decision so
// the outcome is still recorded.
func (e *Engine) decideWith(ctx context.Context, agent *core.Agent, now time.Time) decision {
	b, err := e.assembleBriefing(ctx, agent, now)
	if err != nil {
		e.opts.Logger.Error("initiate.briefing_failed", "agent_id", agent.ID, "error", err.Error())
		return decision{Action: ActionNothing, Reason: "briefing unavailable: " + err.Error()}
	}

	instructions, err := util.RenderTemplate(decisionTemplate, map[string]any{
		"Name":    agent.Name,
		"Persona": agent.Persona,
		"Now":     now.In(e.opts.Location).Format("Monday, 2 January 2006, 15:04"),
	})
	if err != nil {
		e.opts.Logger.Error("initiate.prompt_failed", "agent_id", agent.ID, "error", err.Error())
		return decision{Action: ActionNothing, Reason: "prompt unavailable: " + err.Error()}
	}

	provider, modelID, err := e.selector.Select(agent.ModelID)
	if err != nil {
		e.opts.Logger.Error("initiate.model_unavailable", "agent_id", agent.ID, "model_id", agent.ModelID, "error", err.Error())
		return decision{Action: ActionNothing, Reason: "model unavailable: " + err.Error()}
	}

	callStart := e.opts.Clock.Now()
	completion, err := model.Complete(ctx, provider, model.Request{
		ModelID:      modelID,
		Instructions: instructions,
		Messages:     []model.ChatMessage{{Role: core.RoleUser, Content: b.render(now)}},
	})
	e.observeCall(provider, callStart, completion, err)
	if err != nil {
		e.opts.Logger.Error("initiate.decision_call_failed", "agent_id", agent.ID, "error", err.Error())
		return decision{Action: ActionNothing, Reason: "decision call failed: " + err.Error()}
	}

	d, ok := parseDecision(completion.Content)
	if !ok {
		e.opts.Logger.Warn("initiate.malformed_decision",
			"agent_id", agent.ID, "raw", util.Truncate(completion.Content, 256))
	}
	return d
}

// assembleBriefing gathers the agent's view of the account: continuable
// chats it participates in, its recent initiations, and recent human
// messages.
func (e *Engine) assembleBriefing(ctx context.Context, agent *core.Agent, now time.Time) (briefing, error) {
	var b briefing

	chats, err := e.chats.ListContinuable(ctx, agent.AccountID, continuableLimit)
	if err != nil {
		return b, fmt.Errorf("list continuable chats: %w", err)
	}
	for _, chat := range chats {
		if chat.HasAgent(agent.ID) {
			b.Continuable = append(b.Continuable, chat)
		}
	}

	entries, err := e.audits.ListByAgent(ctx, agent.ID, initiationsLimit*4)
	if err != nil {
		return b, fmt.Errorf("list audit entries: %w", err)
	}
	for _, entry := range entries {
		if entry.Action != core.AuditInitiationInitiate {
			continue
		}
		b.Initiations = append(b.Initiations, entry)
		if len(b.Initiations) == initiationsLimit {
			break
		}
	}

	b.Humans, err = e.messages.ListRecentHuman(ctx, agent.AccountID, now.Add(-e.opts.ActivityWindow), humanLimit)
	if err != nil {
		return b, fmt.Errorf("list recent human messages: %w", err)
	}

	b.Titles = make(map[string]string)
	for _, msg := range b.Humans {
		if _, ok := b.Titles[msg.ChatID]; ok {
			continue
		}
		chat, err := e.chats.Get(ctx, msg.ChatID)
		if err != nil {
			continue
		}
		b.Titles[msg.ChatID] = chat.Title
	}

	return b, nil
}

// executeContinue schedules a turn on the referenced chat. A reference that
// does not resolve to a respondable chat the agent participates in is a
// no-op, not an error; the outcome is still audited.
func (e *Engine) executeContinue(ctx context.Context, agent *core.Agent, d decision) error {
	payload := d.payload()

	chat, err := e.resolveContinuable(ctx, agent, d.ConversationID)
	if err != nil {
		return err
	}
	if chat == nil {
		payload["resolved"] = false
		e.opts.Logger.Info("initiate.unresolvable",
			"agent_id", agent.ID, "conversation_id", d.ConversationID)
		e.opts.Metrics.ObserveDecision(ActionContinue)
		return e.record(ctx, agent, core.AuditInitiationContinue, payload)
	}

	if err := e.scheduler.ScheduleTurns(ctx, chat.ID, []string{agent.ID}, d.Reason); err != nil {
		return fmt.Errorf("schedule continuation turn: %w", err)
	}

	e.opts.Logger.Info("initiate.continue", "agent_id", agent.ID, "chat_id", chat.ID)
	e.opts.Metrics.ObserveDecision(ActionContinue)
	return e.record(ctx, agent, core.AuditInitiationContinue, payload)
}

// resolveContinuable resolves a conversation reference from a decision. It
// returns nil without error when the reference is empty, unknown, closed to
// responses, or outside the agent's reach.
func (e *Engine) resolveContinuable(ctx context.Context, agent *core.Agent, id string) (*core.Chat, error) {
	if id == "" {
		return nil, nil
	}
	chat, err := e.chats.Get(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if chat.AccountID != agent.AccountID || !chat.Respondable() || !chat.HasAgent(agent.ID) {
		return nil, nil
	}
	return chat, nil
}

// executeInitiate creates the new chat and posts the opening message. When
// the decision carried no opening text the agent's first turn is scheduled
// instead, so the chat always starts with agent content either way.
func (e *Engine) executeInitiate(ctx context.Context, agent *core.Agent, d decision) error {
	title := strings.TrimSpace(d.Topic)
	if title == "" {
		title = defaultTitle
	}

	chat := core.NewChat(agent.AccountID, title)
	chat.AgentIDs = []string{agent.ID}
	chat.InitiatedByAgent = agent.ID
	chat.PendingHumanReply = true
	chat.AgentIDs = append(chat.AgentIDs, e.vetInvites(ctx, agent, d.InviteAgents)...)

	if err := e.chats.Create(ctx, chat); err != nil {
		return fmt.Errorf("create initiated chat: %w", err)
	}

	payload := d.payload()
	payload["chat_id"] = chat.ID

	if opening := strings.TrimSpace(d.Message); opening != "" {
		msg := core.NewMessage(chat.ID, core.RoleAssistant, opening)
		msg.AgentID = agent.ID
		if err := e.messages.Create(ctx, msg); err != nil {
			return fmt.Errorf("create opening message: %w", err)
		}
		e.publish(core.ChatTopic(chat.ID), core.BroadcastEvent{
			Kind:      core.BroadcastMessageFinal,
			ChatID:    chat.ID,
			MessageID: msg.ID,
			AgentID:   agent.ID,
			Data:      map[string]any{"content": opening, "reasoning": ""},
		})
	} else if err := e.scheduler.ScheduleTurns(ctx, chat.ID, []string{agent.ID}, d.Reason); err != nil {
		return fmt.Errorf("schedule opening turn: %w", err)
	}

	e.opts.Logger.Info("initiate.new_chat",
		"agent_id", agent.ID, "chat_id", chat.ID, "participants", len(chat.AgentIDs))
	e.opts.Metrics.ObserveDecision(ActionInitiate)
	return e.record(ctx, agent, core.AuditInitiationInitiate, payload)
}

// vetInvites filters the invited co-agents down to active agents of the same
// account, deduplicated and excluding the initiator.
func (e *Engine) vetInvites(ctx context.Context, agent *core.Agent, ids []string) []string {
	var invited []string
	seen := map[string]bool{agent.ID: true}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		other, err := e.agents.Get(ctx, id)
		if err != nil || other.AccountID != agent.AccountID || !other.Active {
			e.opts.Logger.Warn("initiate.invite_dropped", "agent_id", agent.ID, "invited", id)
			continue
		}
		invited = append(invited, id)
	}
	return invited
}

// executeNothing audits the quiet outcome and, on on-demand runs, publishes
// a low-priority notice so the caller can surface the agent's reasoning.
func (e *Engine) executeNothing(ctx context.Context, agent *core.Agent, d decision, notify bool) error {
	if notify {
		e.publish(core.AccountTopic(agent.AccountID), core.BroadcastEvent{
			Kind:    core.BroadcastDecisionNotice,
			AgentID: agent.ID,
			Data:    map[string]any{"action": d.Action, "reason": d.Reason},
		})
	}
	e.opts.Metrics.ObserveDecision(ActionNothing)
	return e.record(ctx, agent, core.AuditInitiationNothing, d.payload())
}

// record writes the single audit entry a decision outcome produces.
func (e *Engine) record(ctx context.Context, agent *core.Agent, action string, payload map[string]any) error {
	entry := core.NewAuditEntry(agent.ID, agent.AccountID, action, payload)
	if err := e.audits.Create(ctx, entry); err != nil {
		return fmt.Errorf("record %s: %w", action, err)
	}
	return nil
}

// publish stamps and sends a broadcast event. Nil broker disables delivery.
func (e *Engine) publish(topic string, ev core.BroadcastEvent) {
	if e.opts.Broker == nil {
		return
	}
	ev.Timestamp = e.opts.Clock.Now()
	e.opts.Broker.Publish(topic, ev)
}

func (e *Engine) observeCall(p model.Provider, start time.Time, completion *model.Completion, err error) {
	var in, out int
	if completion != nil {
		in = completion.Usage.InputTokens
		out = completion.Usage.OutputTokens
	}
	e.opts.Metrics.ObserveModelCall(p.Info().Provider, e.opts.Clock.Now().Sub(start), in, out, err)
}
