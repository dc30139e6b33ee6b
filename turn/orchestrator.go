package turn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/logging"
	"github.com/confabhq/confab/metrics"
	"github.com/confabhq/confab/model"
)

// State tracks one turn through its lifecycle.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingFirstEvent State = "awaiting_first_event"
	StateStreaming          State = "streaming"
	StateFinalizing         State = "finalizing"
	StateSucceeded          State = "succeeded"
	StateFailed             State = "failed"
)

// Placeholder texts substituted when a turn ends blank with zero reported
// token usage. Chosen by finish reason.
const (
	placeholderFiltered = "I started to answer but my reply was blocked by a safety filter."
	placeholderStopped  = "I couldn't come up with a reply this time (stop reason: %s)."
	placeholderEmpty    = "I don't have anything to add right now."
)

// Options configures an Orchestrator.
type Options struct {
	// Broker receives live-update events. Nil disables broadcasting.
	Broker core.Broker

	// Registry, when set, is refreshed once after a model-not-found failure
	// so the retry sees a fresh catalog.
	Registry *model.Registry

	// Logger receives turn diagnostics.
	Logger logging.Logger

	// Clock drives flush debouncing.
	Clock core.Clock

	// Metrics records turn, model-call and flush instrumentation. Nil is valid.
	Metrics *metrics.Metrics

	// ContentInterval and ReasoningInterval set the debounce windows for the
	// two stream channels.
	ContentInterval   time.Duration
	ReasoningInterval time.Duration

	// QuietTools suppresses tool status broadcasts for the named tools.
	QuietTools []string

	// OnFinalized fires after a turn persists non-blank content, e.g. to
	// enqueue moderation. It must not block.
	OnFinalized func(ctx context.Context, msg *core.Message)
}

// Orchestrator drives one agent turn: it builds the request, consumes the
// provider's event stream through debounced buffers, observes tool calls,
// and finalizes exactly one assistant message. Errors are classified and
// re-raised to the surrounding retry policy; empty partial messages are
// deleted on the way out, non-trivial partials preserved.
type Orchestrator struct {
	messages core.MessageStore
	selector *model.Selector
	builder  ContextBuilder
	opts     Options
	quiet    map[string]bool
}

// NewOrchestrator creates an orchestrator over the message store, provider
// selector and context builder.
func NewOrchestrator(messages core.MessageStore, selector *model.Selector, builder ContextBuilder, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Logger:            logging.NoOpLogger{},
		Clock:             core.SystemClock{},
		ContentInterval:   DefaultContentInterval,
		ReasoningInterval: DefaultReasoningInterval,
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

	quiet := make(map[string]bool, len(opts.QuietTools))
	for _, name := range opts.QuietTools {
		quiet[name] = true
	}

	return &Orchestrator{
		messages: messages,
		selector: selector,
		builder:  builder,
		opts:     opts,
		quiet:    quiet,
	}
}

// turnState carries everything one Run accumulates.
type turnState struct {
	tr        TurnRequest
	state     State
	msg       *core.Message
	content   *StreamBuffer
	reasoning *StreamBuffer
	tools     []core.ToolUse
	seen      map[string]bool
	final     *model.Completion
	modelID   string
	procErr   error
}

// Run executes one agent turn and returns the finalized message. The error
// it returns is classified; callers hand it to the queue's retry policy.
func (o *Orchestrator) Run(ctx context.Context, tr TurnRequest) (*core.Message, error) {
	start := time.Now()
	st := &turnState{
		tr:        tr,
		state:     StateIdle,
		content:   NewStreamBuffer(o.opts.ContentInterval, o.opts.Clock),
		reasoning: NewStreamBuffer(o.opts.ReasoningInterval, o.opts.Clock),
		seen:      map[string]bool{},
	}

	o.opts.Logger.Info("turn.start",
		"chat_id", tr.Chat.ID,
		"agent_id", tr.Agent.ID,
		"model", tr.Agent.ModelID,
	)

	msg, err := o.run(ctx, st)
	elapsed := time.Since(start)
	if err != nil {
		o.opts.Metrics.ObserveTurn(string(StateFailed), elapsed)
		return nil, err
	}

	o.opts.Metrics.ObserveTurn(string(StateSucceeded), elapsed)
	o.opts.Logger.Info("turn.finalized",
		"chat_id", tr.Chat.ID,
		"agent_id", tr.Agent.ID,
		"message_id", msg.ID,
		"input_tokens", msg.InputTokens,
		"output_tokens", msg.OutputTokens,
		"tool_calls", len(msg.ToolUsage),
		"duration_ms", elapsed.Milliseconds(),
	)
	return msg, nil
}

func (o *Orchestrator) run(ctx context.Context, st *turnState) (*core.Message, error) {
	req, err := o.builder.Build(ctx, st.tr)
	if err != nil {
		return nil, fmt.Errorf("build turn context: %w", err)
	}

	if st.tr.Agent.ThinkingBudget != nil {
		if err := o.selector.ConfigureThinking(&req, *st.tr.Agent.ThinkingBudget); err != nil {
			return nil, o.fail(ctx, st, err)
		}
	}

	provider, normalizedID, err := o.selector.Select(req.ModelID)
	if err != nil {
		return nil, o.fail(ctx, st, err)
	}
	req.ModelID = normalizedID
	req.Stream = true
	st.modelID = normalizedID

	callStart := time.Now()
	events, errs := provider.Generate(ctx, req)
	st.state = StateAwaitingFirstEvent

	for ev := range events {
		if st.procErr != nil {
			continue // drain so the provider goroutine can finish
		}
		o.handleEvent(ctx, st, ev)
	}
	genErr := <-errs
	if genErr == nil {
		genErr = st.procErr
	}

	var usage model.Usage
	if st.final != nil {
		usage = st.final.Usage
	}
	o.opts.Metrics.ObserveModelCall(provider.Info().Provider, time.Since(callStart), usage.InputTokens, usage.OutputTokens, genErr)

	if genErr != nil {
		return nil, o.fail(ctx, st, genErr)
	}
	return o.finalize(ctx, st)
}

// handleEvent advances the state machine by one provider event.
func (o *Orchestrator) handleEvent(ctx context.Context, st *turnState, ev model.StreamEvent) {
	switch ev.Type {
	case model.EventMessageStart:
		o.handleMessageStart(ctx, st)

	case model.EventContentDelta:
		o.ensureMessage(ctx, st)
		st.state = StateStreaming
		st.content.Enqueue(ev.Delta)
		o.flushContent(ctx, st, false)

	case model.EventReasoningDelta:
		o.ensureMessage(ctx, st)
		st.state = StateStreaming
		st.reasoning.Enqueue(ev.Delta)
		o.flushReasoning(ctx, st, false)

	case model.EventToolCall:
		o.observeTool(st, ev.Tool)

	case model.EventMessageEnd:
		// Intermediate ends close tool rounds, not the reply.
		if ev.Intermediate {
			return
		}
		st.state = StateFinalizing
		if ev.Final != nil {
			st.final = ev.Final
		}
	}
}

// handleMessageStart creates the turn's streaming message. When a prior
// message from this turn is still streaming with content, its streaming
// flag is stopped and a fresh message begins; a still-empty one is reused.
func (o *Orchestrator) handleMessageStart(ctx context.Context, st *turnState) {
	st.state = StateStreaming

	if st.msg != nil && st.msg.Streaming {
		if st.content.Accumulated() == "" {
			return // reuse the untouched row
		}
		o.flushContent(ctx, st, true)
		o.flushReasoning(ctx, st, true)
		st.msg.Streaming = false
		if err := o.messages.Update(ctx, st.msg); err != nil {
			o.opts.Logger.Warn("turn.rotate_persist_failed", "message_id", st.msg.ID, "error", err.Error())
		}
		st.msg = nil
		st.content = NewStreamBuffer(o.opts.ContentInterval, o.opts.Clock)
		st.reasoning = NewStreamBuffer(o.opts.ReasoningInterval, o.opts.Clock)
	}

	o.ensureMessage(ctx, st)
}

// ensureMessage lazily creates the empty streaming message for this turn.
func (o *Orchestrator) ensureMessage(ctx context.Context, st *turnState) {
	if st.msg != nil || st.procErr != nil {
		return
	}
	msg := core.NewAgentMessage(st.tr.Chat.ID, st.tr.Agent.ID)
	msg.ModelID = st.modelID
	if err := o.messages.Create(ctx, msg); err != nil {
		st.procErr = fmt.Errorf("create streaming message: %w", err)
		return
	}
	st.msg = msg
}

// flushContent drains the content buffer into the persisted message and the
// live channel. force bypasses the debounce window.
func (o *Orchestrator) flushContent(ctx context.Context, st *turnState, force bool) {
	chunk := o.drain(st.content, force)
	if chunk == "" || st.msg == nil {
		return
	}
	st.msg.Content += chunk
	if err := o.messages.Update(ctx, st.msg); err != nil {
		// Accumulator still holds everything; finalize re-persists.
		o.opts.Logger.Warn("turn.flush_persist_failed", "message_id", st.msg.ID, "error", err.Error())
	}
	o.opts.Metrics.ObserveFlush("content")
	o.publish(st, core.BroadcastMessageDelta, map[string]any{"delta": chunk})
}

// flushReasoning mirrors flushContent for the reasoning channel.
func (o *Orchestrator) flushReasoning(ctx context.Context, st *turnState, force bool) {
	chunk := o.drain(st.reasoning, force)
	if chunk == "" || st.msg == nil {
		return
	}
	st.msg.Reasoning += chunk
	if err := o.messages.Update(ctx, st.msg); err != nil {
		o.opts.Logger.Warn("turn.flush_persist_failed", "message_id", st.msg.ID, "error", err.Error())
	}
	o.opts.Metrics.ObserveFlush("reasoning")
	o.publish(st, core.BroadcastReasoningDelta, map[string]any{"delta": chunk})
}

func (o *Orchestrator) drain(buf *StreamBuffer, force bool) string {
	if force {
		return buf.Flush()
	}
	chunk, _ := buf.TryFlush()
	return chunk
}

// observeTool records a tool call into the turn's usage list, deduplicated
// by url argument when present, else by name, and broadcasts a status
// update unless the tool is in the quiet set.
func (o *Orchestrator) observeTool(st *turnState, call *model.ToolCall) {
	if call == nil {
		return
	}
	use := core.ToolUse{Name: call.Name, Arguments: call.Arguments}

	key := "name:" + call.Name
	if url := use.URL(); url != "" {
		key = "url:" + url
	}
	if st.seen[key] {
		return
	}
	st.seen[key] = true
	st.tools = append(st.tools, use)

	o.opts.Logger.Debug("turn.tool_call", "tool", call.Name, "chat_id", st.tr.Chat.ID)
	if o.quiet[call.Name] {
		return
	}
	o.publish(st, core.BroadcastToolStatus, map[string]any{"tool": call.Name})
}

// finalize force-flushes both buffers, resolves the final content through
// the fallback chain, persists the finished message and broadcasts it.
func (o *Orchestrator) finalize(ctx context.Context, st *turnState) (*core.Message, error) {
	st.state = StateFinalizing

	if st.msg == nil && st.final == nil {
		return nil, fmt.Errorf("provider closed the stream without events")
	}
	o.ensureMessage(ctx, st)
	if st.procErr != nil {
		return nil, o.fail(ctx, st, st.procErr)
	}

	o.flushContent(ctx, st, true)
	o.flushReasoning(ctx, st, true)

	final := st.final
	if final == nil {
		final = &model.Completion{}
	}

	content := final.Content
	if strings.TrimSpace(content) == "" {
		content = st.content.Accumulated()
	}
	if strings.TrimSpace(content) == "" {
		if persisted, err := o.messages.Get(ctx, st.msg.ID); err == nil {
			content = persisted.Content
		}
	}
	if strings.TrimSpace(content) == "" && final.Usage.Zero() {
		content = placeholderFor(final.FinishReason)
		o.opts.Logger.Warn("turn.empty_response",
			"chat_id", st.tr.Chat.ID,
			"agent_id", st.tr.Agent.ID,
			"finish_reason", final.FinishReason,
		)
	}

	reasoning := final.Reasoning
	if reasoning == "" {
		reasoning = st.reasoning.Accumulated()
	}

	st.msg.Content = content
	st.msg.Reasoning = reasoning
	st.msg.ModelID = st.modelID
	if final.ModelID != "" {
		st.msg.ModelID = final.ModelID
	}
	st.msg.InputTokens = final.Usage.InputTokens
	st.msg.OutputTokens = final.Usage.OutputTokens
	st.msg.ToolUsage = st.tools
	st.msg.Streaming = false

	if err := o.messages.Update(ctx, st.msg); err != nil {
		return nil, fmt.Errorf("finalize message: %w", err)
	}

	o.publish(st, core.BroadcastMessageFinal, map[string]any{
		"content":   content,
		"reasoning": reasoning,
	})

	if strings.TrimSpace(content) != "" && o.opts.OnFinalized != nil {
		o.opts.OnFinalized(ctx, st.msg.Clone())
	}

	st.state = StateSucceeded
	return st.msg, nil
}

// fail classifies the error, discards an empty streaming message (or
// preserves non-trivial partial content with streaming stopped), refreshes
// the model registry after a stale-model failure, and broadcasts the error
// before re-raising it to the retry policy.
func (o *Orchestrator) fail(ctx context.Context, st *turnState, err error) error {
	st.state = StateFailed
	class := model.Classify(err)

	o.opts.Logger.Error("turn.error",
		"chat_id", st.tr.Chat.ID,
		"agent_id", st.tr.Agent.ID,
		"class", string(class),
		"error", err.Error(),
	)

	if st.msg != nil && st.msg.Streaming {
		if st.content.Accumulated() == "" && st.msg.Content == "" {
			if derr := o.messages.Delete(ctx, st.msg.ID); derr != nil {
				o.opts.Logger.Warn("turn.cleanup_delete_failed", "message_id", st.msg.ID, "error", derr.Error())
			}
			st.msg = nil
		} else {
			o.flushContent(ctx, st, true)
			o.flushReasoning(ctx, st, true)
			st.msg.Streaming = false
			if uerr := o.messages.Update(ctx, st.msg); uerr != nil {
				o.opts.Logger.Warn("turn.cleanup_persist_failed", "message_id", st.msg.ID, "error", uerr.Error())
			}
		}
	}

	if class == model.ErrorClassModelNotFound && o.opts.Registry != nil {
		if rerr := o.opts.Registry.Refresh(ctx); rerr != nil {
			o.opts.Logger.Warn("turn.registry_refresh_failed", "error", rerr.Error())
		} else {
			o.opts.Logger.Info("turn.registry_refreshed", "models", o.opts.Registry.Size())
		}
	}

	o.publish(st, core.BroadcastTurnError, map[string]any{
		"error": err.Error(),
		"class": string(class),
	})

	return fmt.Errorf("agent turn (%s): %w", class, err)
}

func placeholderFor(finishReason string) string {
	switch finishReason {
	case "content_filter", "refusal", "safety":
		return placeholderFiltered
	case "", "stop", "end_turn":
		return placeholderEmpty
	default:
		return fmt.Sprintf(placeholderStopped, finishReason)
	}
}

func (o *Orchestrator) publish(st *turnState, kind string, data map[string]any) {
	if o.opts.Broker == nil {
		return
	}
	ev := core.BroadcastEvent{
		Kind:      kind,
		ChatID:    st.tr.Chat.ID,
		AgentID:   st.tr.Agent.ID,
		Data:      data,
		Timestamp: o.opts.Clock.Now(),
	}
	if st.msg != nil {
		ev.MessageID = st.msg.ID
	}
	o.opts.Broker.Publish(core.ChatTopic(st.tr.Chat.ID), ev)
}
