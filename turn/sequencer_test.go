package turn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/testutil"
	"github.com/confabhq/confab/model"
	"github.com/confabhq/confab/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []TurnRequest
	errs  map[string]error
}

func (r *fakeRunner) Run(_ context.Context, tr TurnRequest) (*core.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tr)
	if err := r.errs[tr.Agent.ID]; err != nil {
		return nil, err
	}
	msg := core.NewAgentMessage(tr.Chat.ID, tr.Agent.ID)
	msg.Content = "ok"
	msg.Streaming = false
	return msg, nil
}

func (r *fakeRunner) Calls() []TurnRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TurnRequest(nil), r.calls...)
}

type stubPolicy struct{}

func (stubPolicy) NextDelay(int, error) (time.Duration, bool) { return 0, false }

func TestSequencerRunsAgentsInOrderWithSharedContext(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	provider := model.NewMockProvider()
	queue := testutil.NewQueueRecorder()

	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").Build()
	bo := testutil.NewAgentBuilder().Name("Bo").Model("deepseek/deepseek-chat").Build()
	chat := testutil.NewChatBuilder().Agents(ada.ID, bo.ID).Build()
	require.NoError(t, st.Agents().Create(ctx, ada))
	require.NoError(t, st.Agents().Create(ctx, bo))
	require.NoError(t, st.Chats().Create(ctx, chat))

	human := testutil.NewMessageBuilder(chat.ID).Content("What do you two think?").Build()
	require.NoError(t, st.Messages().Create(ctx, human))

	builder := NewContextBuilder(st.Messages(), st.Agents(), st.Memories())
	orch := NewOrchestrator(st.Messages(), model.NewSelector(provider, provider), builder)
	seq := NewSequencer(orch, st.Chats(), st.Agents(), queue)

	provider.QueueScript(model.ScriptText("Reply from Ada.")...)
	provider.QueueScript(model.ScriptText("Reply from Bo.")...)

	require.NoError(t, seq.ScheduleTurns(ctx, chat.ID, []string{ada.ID, bo.ID}, ""))
	require.NoError(t, queue.RunAll(ctx))

	msgs, err := st.Messages().ListByChat(ctx, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Reply from Ada.", msgs[1].Content)
	assert.Equal(t, "Reply from Bo.", msgs[2].Content)

	// The second turn's context already contains the first agent's finalized
	// reply, attributed by name.
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	var sawAda bool
	for _, m := range reqs[1].Messages {
		if m.Name == "Ada" && m.Content == "Reply from Ada." {
			sawAda = true
		}
	}
	assert.True(t, sawAda, "second agent should see the first agent's reply")
}

func TestSequencerFailedStepLeavesEarlierTurnsIntact(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	provider := model.NewMockProvider()
	queue := testutil.NewQueueRecorder()

	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").Build()
	bo := testutil.NewAgentBuilder().Name("Bo").Model("deepseek/deepseek-chat").Build()
	chat := testutil.NewChatBuilder().Agents(ada.ID, bo.ID).Build()
	require.NoError(t, st.Agents().Create(ctx, ada))
	require.NoError(t, st.Agents().Create(ctx, bo))
	require.NoError(t, st.Chats().Create(ctx, chat))

	human := testutil.NewMessageBuilder(chat.ID).Content("Thoughts?").Build()
	require.NoError(t, st.Messages().Create(ctx, human))

	builder := NewContextBuilder(st.Messages(), st.Agents(), st.Memories())
	orch := NewOrchestrator(st.Messages(), model.NewSelector(provider, provider), builder)
	seq := NewSequencer(orch, st.Chats(), st.Agents(), queue)

	provider.QueueScript(model.ScriptText("Reply from Ada.")...)
	provider.QueueError(model.NewProviderError("mock", 500, errors.New("boom")))

	require.NoError(t, seq.ScheduleTurns(ctx, chat.ID, []string{ada.ID, bo.ID}, ""))
	err := queue.RunAll(ctx)
	require.Error(t, err)
	assert.Equal(t, model.ErrorClassServer, model.Classify(err))

	// The first agent's finished turn is untouched by the second's failure.
	msgs, lerr := st.Messages().ListByChat(ctx, chat.ID, 0)
	require.NoError(t, lerr)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Reply from Ada.", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)

	// The sequencer itself does not re-submit the failed step; that is the
	// queue's retry policy's job.
	assert.Equal(t, 0, queue.Len())
}

func TestSequencerSkipsInactiveAndMissingParticipants(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	queue := testutil.NewQueueRecorder()
	runner := &fakeRunner{}

	ghost := testutil.NewAgentBuilder().Name("Ghost").Inactive().Build()
	ada := testutil.NewAgentBuilder().Name("Ada").Build()
	chat := testutil.NewChatBuilder().Agents(ghost.ID, ada.ID).Build()
	require.NoError(t, st.Agents().Create(ctx, ghost))
	require.NoError(t, st.Agents().Create(ctx, ada))
	require.NoError(t, st.Chats().Create(ctx, chat))

	seq := NewSequencer(runner, st.Chats(), st.Agents(), queue)
	require.NoError(t, seq.ScheduleTurns(ctx, chat.ID, []string{ghost.ID, "missing-agent", ada.ID}, ""))
	require.NoError(t, queue.RunAll(ctx))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ada.ID, calls[0].Agent.ID)
}

func TestSequencerHaltsOnUnrespondableChat(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	queue := testutil.NewQueueRecorder()
	runner := &fakeRunner{}

	ada := testutil.NewAgentBuilder().Name("Ada").Build()
	chat := testutil.NewChatBuilder().Agents(ada.ID).Archived().Build()
	require.NoError(t, st.Agents().Create(ctx, ada))
	require.NoError(t, st.Chats().Create(ctx, chat))

	seq := NewSequencer(runner, st.Chats(), st.Agents(), queue)
	require.NoError(t, seq.ScheduleTurns(ctx, chat.ID, []string{ada.ID}, ""))
	require.NoError(t, queue.RunAll(ctx))

	assert.Empty(t, runner.Calls())
	assert.Equal(t, 0, queue.Len())
}

func TestSequencerSubmissionOptions(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemory()
	queue := testutil.NewQueueRecorder()
	runner := &fakeRunner{}

	ada := testutil.NewAgentBuilder().Name("Ada").Build()
	chat := testutil.NewChatBuilder().Agents(ada.ID).Build()
	require.NoError(t, st.Agents().Create(ctx, ada))
	require.NoError(t, st.Chats().Create(ctx, chat))

	seq := NewSequencer(runner, st.Chats(), st.Agents(), queue, func(o *SequencerOptions) {
		o.Retry = stubPolicy{}
	})

	// An empty participant list never reaches the queue.
	require.NoError(t, seq.ScheduleTurns(ctx, chat.ID, nil, ""))
	assert.Equal(t, 0, queue.Len())

	require.NoError(t, seq.ScheduleTurn(ctx, chat.ID, ada.ID, "checking in"))
	submitted := queue.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, TaskKindSequence, submitted[0].Task.Kind)
	assert.NotNil(t, submitted[0].Options.Retry)

	require.NoError(t, queue.RunAll(ctx))
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "checking in", calls[0].Reason)
}
