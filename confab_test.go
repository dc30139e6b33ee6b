package confab

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confabhq/confab/config"
	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/logging"
	"github.com/confabhq/confab/model"
)

// newTestConfab builds a façade over the in-memory store with a scripted
// provider on both routes.
func newTestConfab(t *testing.T) (*Confab, *model.MockProvider) {
	t.Helper()
	mock := model.NewMockProvider()
	c, err := New(func(o *Options) {
		o.DirectProvider = mock
		o.AggregateProvider = mock
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	return c, mock
}

// seedChat persists the agents and a chat they all participate in.
func seedChat(t *testing.T, c *Confab, agents ...*core.Agent) *core.Chat {
	t.Helper()
	ctx := context.Background()

	chat := core.NewChat("acct-1", "Test chat")
	for _, agent := range agents {
		require.NoError(t, c.Agents().Create(ctx, agent))
		chat.AgentIDs = append(chat.AgentIDs, agent.ID)
	}
	require.NoError(t, c.Chats().Create(ctx, chat))
	return chat
}

// waitFinal blocks until the subscription delivers a finalized-message event.
func waitFinal(t *testing.T, events <-chan core.BroadcastEvent) core.BroadcastEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == core.BroadcastMessageFinal {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for finalized message")
			return core.BroadcastEvent{}
		}
	}
}

func TestNewDefaults(t *testing.T) {
	c, _ := newTestConfab(t)

	assert.NotNil(t, c.Chats())
	assert.NotNil(t, c.Messages())
	assert.NotNil(t, c.Tools())
	assert.NotNil(t, c.Metrics())
	assert.Equal(t, "memory", c.storeKind())
	assert.Equal(t, 4, c.Config().Queue.Workers)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(func(o *Options) {
		o.Config = &config.Config{Queue: config.QueueConfig{Workers: -1}}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.workers")
}

func TestSendMessageRunsAutomaticTurns(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestConfab(t)
	agent := core.NewAgent("acct-1", "Ada", "anthropic/claude-sonnet-4")
	chat := seedChat(t, c, agent)

	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	events, cancel := c.Subscribe(chat.ID)
	defer cancel()

	msg, err := c.SendMessage(ctx, chat.ID, "Hello there")
	require.NoError(t, err)
	assert.Equal(t, core.RoleUser, msg.Role)

	final := waitFinal(t, events)
	assert.Equal(t, chat.ID, final.ChatID)
	assert.Equal(t, agent.ID, final.AgentID)

	msgs, err := c.Messages().ListByChat(ctx, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Mock response to: Hello there", msgs[1].Content)
	assert.Equal(t, agent.ID, msgs[1].AgentID)
	assert.Equal(t, 1, mock.CallCount())
}

func TestSendMessageSequencesMultipleAgents(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestConfab(t)
	ada := core.NewAgent("acct-1", "Ada", "anthropic/claude-sonnet-4")
	bo := core.NewAgent("acct-1", "Bo", "meta-llama/llama-3-70b")
	chat := seedChat(t, c, ada, bo)

	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	events, cancel := c.Subscribe(chat.ID)
	defer cancel()

	_, err := c.SendMessage(ctx, chat.ID, "Settle this for me")
	require.NoError(t, err)

	first := waitFinal(t, events)
	second := waitFinal(t, events)
	assert.Equal(t, ada.ID, first.AgentID)
	assert.Equal(t, bo.ID, second.AgentID)

	msgs, err := c.Messages().ListByChat(ctx, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, ada.ID, msgs[1].AgentID)
	assert.Equal(t, bo.ID, msgs[2].AgentID)
	assert.Equal(t, 2, mock.CallCount())
}

func TestSendMessageClearsPendingReply(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConfab(t)
	agent := core.NewAgent("acct-1", "Ada", "anthropic/claude-sonnet-4")
	chat := seedChat(t, c, agent)
	chat.InitiatedByAgent = agent.ID
	chat.PendingHumanReply = true
	require.NoError(t, c.Chats().Update(ctx, chat))

	_, err := c.SendMessage(ctx, chat.ID, "Good point, tell me more")
	require.NoError(t, err)

	got, err := c.Chats().Get(ctx, chat.ID)
	require.NoError(t, err)
	assert.False(t, got.PendingHumanReply)
}

func TestSendMessageRejectsClosedChat(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConfab(t)
	agent := core.NewAgent("acct-1", "Ada", "anthropic/claude-sonnet-4")
	chat := seedChat(t, c, agent)
	chat.Archived = true
	require.NoError(t, c.Chats().Update(ctx, chat))

	_, err := c.SendMessage(ctx, chat.ID, "Anyone home?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManualModeWaitsForRequestTurn(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestConfab(t)
	agent := core.NewAgent("acct-1", "Ada", "anthropic/claude-sonnet-4")
	chat := seedChat(t, c, agent)
	chat.ResponseMode = core.ResponseModeManual
	require.NoError(t, c.Chats().Update(ctx, chat))

	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	events, cancel := c.Subscribe(chat.ID)
	defer cancel()

	_, err := c.SendMessage(ctx, chat.ID, "Draft only, wait for my go")
	require.NoError(t, err)

	require.NoError(t, c.RequestTurn(ctx, chat.ID, agent.ID))
	waitFinal(t, events)

	msgs, err := c.Messages().ListByChat(ctx, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// One model call proves SendMessage scheduled nothing in manual mode.
	assert.Equal(t, 1, mock.CallCount())
}

func TestStartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestConfab(t)

	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.Stop(ctx))
}

func TestSweepDelegatesRunOnEmptyStores(t *testing.T) {
	ctx := context.Background()
	c, mock := newTestConfab(t)

	require.NoError(t, c.Consolidate(ctx))
	require.NoError(t, c.Reflect(ctx))
	require.NoError(t, c.Refine(ctx))
	require.NoError(t, c.Initiate(ctx))
	assert.Equal(t, 0, mock.CallCount())
}

func TestNewOpensSQLiteFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "confab.db")

	c, err := New(func(o *Options) {
		o.Config = cfg
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.storeKind())

	chat := core.NewChat("acct-1", "Durable chat")
	require.NoError(t, c.Chats().Create(ctx, chat))
	got, err := c.Chats().Get(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Durable chat", got.Title)

	require.NoError(t, c.Stop(ctx))
}
