package turn

import (
	"context"
	"fmt"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/logging"
)

// TaskKindSequence names sequencer steps on the task queue.
const TaskKindSequence = "turn.sequence"

// TurnRunner executes one agent turn. *Orchestrator is the production
// implementation; tests substitute fakes.
type TurnRunner interface {
	Run(ctx context.Context, tr TurnRequest) (*core.Message, error)
}

// SequencerOptions configures a Sequencer.
type SequencerOptions struct {
	// Logger receives sequencing diagnostics.
	Logger logging.Logger

	// Retry is attached to every submitted step. Nil means steps run once.
	Retry core.RetryPolicy
}

// Sequencer runs multi-agent response chains one agent at a time. Each step
// is its own queue task: it runs the head agent's turn synchronously and,
// only when that turn succeeds, submits the remaining agents as a fresh
// deferred task. A step that exhausts its retries therefore fails alone;
// turns already completed stay completed and later agents simply never run.
type Sequencer struct {
	runner TurnRunner
	chats  core.ChatStore
	agents core.AgentStore
	queue  core.TaskQueue
	opts   SequencerOptions
}

// NewSequencer creates a sequencer that schedules turns for chat
// participants through the task queue.
func NewSequencer(runner TurnRunner, chats core.ChatStore, agents core.AgentStore, queue core.TaskQueue, optFns ...func(o *SequencerOptions)) *Sequencer {
	opts := SequencerOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Sequencer{
		runner: runner,
		chats:  chats,
		agents: agents,
		queue:  queue,
		opts:   opts,
	}
}

// ScheduleTurns submits a response chain for the given agents on the chat.
// Agents respond in slice order; an empty slice is a no-op.
func (s *Sequencer) ScheduleTurns(ctx context.Context, chatID string, agentIDs []string, reason string) error {
	return s.submit(ctx, chatID, agentIDs, reason)
}

// ScheduleTurn submits a single-agent turn, e.g. for an agent-initiated chat.
func (s *Sequencer) ScheduleTurn(ctx context.Context, chatID, agentID, reason string) error {
	return s.submit(ctx, chatID, []string{agentID}, reason)
}

func (s *Sequencer) submit(ctx context.Context, chatID string, agentIDs []string, reason string) error {
	if len(agentIDs) == 0 {
		return nil
	}
	ids := append([]string(nil), agentIDs...)
	task := core.Task{
		Kind: TaskKindSequence,
		Run: func(ctx context.Context) error {
			return s.runStep(ctx, chatID, ids, reason)
		},
	}
	var optFns []func(o *core.SubmitOptions)
	if s.opts.Retry != nil {
		optFns = append(optFns, core.WithRetry(s.opts.Retry))
	}
	if err := s.queue.Submit(ctx, task, optFns...); err != nil {
		return fmt.Errorf("submit turn sequence: %w", err)
	}
	return nil
}

// runStep executes the head agent's turn and re-submits the tail on success.
func (s *Sequencer) runStep(ctx context.Context, chatID string, agentIDs []string, reason string) error {
	head, tail := agentIDs[0], agentIDs[1:]

	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load chat %s: %w", chatID, err)
	}
	if !chat.Respondable() {
		s.opts.Logger.Info("sequence.halted", "chat_id", chatID, "remaining", len(agentIDs))
		return nil
	}

	agent, err := s.agents.Get(ctx, head)
	if err != nil || !agent.Active {
		// A vanished or deactivated participant doesn't block the rest.
		s.opts.Logger.Warn("sequence.agent_skipped", "chat_id", chatID, "agent_id", head)
		return s.submit(ctx, chatID, tail, reason)
	}

	if _, err := s.runner.Run(ctx, TurnRequest{Chat: chat, Agent: agent, Reason: reason}); err != nil {
		// The queue retries this step; the tail stays unscheduled until the
		// head succeeds.
		return err
	}
	return s.submit(ctx, chatID, tail, reason)
}
