package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/testutil"
)

// storeSet is the five-accessor surface shared by both backends.
type storeSet interface {
	Chats() core.ChatStore
	Messages() core.MessageStore
	Agents() core.AgentStore
	Memories() core.MemoryStore
	Audits() core.AuditStore
}

var storeBase = time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)

// runStoreTest runs fn against the in-memory and the SQLite backend so the
// two stay behaviorally interchangeable.
func runStoreTest(t *testing.T, fn func(t *testing.T, s storeSet, clock *testutil.FakeClock)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		clock := testutil.NewFakeClock(storeBase)
		fn(t, NewInMemory(func(o *InMemoryOptions) { o.Clock = clock }), clock)
	})
	t.Run("sqlite", func(t *testing.T) {
		clock := testutil.NewFakeClock(storeBase)
		s, err := NewSQLite(filepath.Join(t.TempDir(), "confab.db"), func(o *SQLiteOptions) { o.Clock = clock })
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s, clock)
	})
}

func TestChatRoundTrip(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		at := storeBase.Add(-time.Hour)
		chat := testutil.NewChatBuilder().
			Agents("agent-a", "agent-b").
			InitiatedBy("agent-a").
			Watermark("01A", at).
			Manual().
			Build()
		require.NoError(t, s.Chats().Create(ctx, chat))

		got, err := s.Chats().Get(ctx, chat.ID)
		require.NoError(t, err)
		assert.Equal(t, chat.AccountID, got.AccountID)
		assert.Equal(t, chat.Title, got.Title)
		assert.Equal(t, core.ResponseModeManual, got.ResponseMode)
		assert.Equal(t, []string{"agent-a", "agent-b"}, got.AgentIDs)
		assert.Equal(t, "agent-a", got.InitiatedByAgent)
		assert.True(t, got.PendingHumanReply)
		assert.Equal(t, "01A", got.ConsolidatedMessageID)
		require.NotNil(t, got.ConsolidatedAt)
		assert.True(t, got.ConsolidatedAt.Equal(at))
		assert.True(t, got.CreatedAt.Equal(chat.CreatedAt))

		_, err = s.Chats().Get(ctx, "01MISSING")
		assert.ErrorIs(t, err, core.ErrNotFound)

		assert.Error(t, s.Chats().Create(ctx, chat), "duplicate id must be rejected")
	})
}

func TestChatUpdateStampsUpdatedAt(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		chat := testutil.NewChatBuilder().Build()
		require.NoError(t, s.Chats().Create(ctx, chat))

		clock.Advance(10 * time.Minute)
		chat.Title = "Renamed"
		require.NoError(t, s.Chats().Update(ctx, chat))

		got, err := s.Chats().Get(ctx, chat.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Title)
		assert.True(t, got.UpdatedAt.Equal(clock.Now()))

		ghost := testutil.NewChatBuilder().Build()
		assert.ErrorIs(t, s.Chats().Update(ctx, ghost), core.ErrNotFound)
	})
}

func TestChatWatermarkNeverMovesBackwards(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		chat := testutil.NewChatBuilder().Build()
		require.NoError(t, s.Chats().Create(ctx, chat))

		first := clock.Now()
		require.NoError(t, s.Chats().AdvanceWatermark(ctx, chat.ID, "01B", first))

		// Replays of an older or equal watermark are absorbed without error.
		clock.Advance(time.Hour)
		require.NoError(t, s.Chats().AdvanceWatermark(ctx, chat.ID, "01A", clock.Now()))
		require.NoError(t, s.Chats().AdvanceWatermark(ctx, chat.ID, "01B", clock.Now()))

		got, err := s.Chats().Get(ctx, chat.ID)
		require.NoError(t, err)
		assert.Equal(t, "01B", got.ConsolidatedMessageID)
		require.NotNil(t, got.ConsolidatedAt)
		assert.True(t, got.ConsolidatedAt.Equal(first))

		// Forward advances still apply.
		require.NoError(t, s.Chats().AdvanceWatermark(ctx, chat.ID, "01C", clock.Now()))
		got, err = s.Chats().Get(ctx, chat.ID)
		require.NoError(t, err)
		assert.Equal(t, "01C", got.ConsolidatedMessageID)
		assert.True(t, got.ConsolidatedAt.Equal(clock.Now()))

		assert.ErrorIs(t, s.Chats().AdvanceWatermark(ctx, "01GHOST", "01A", clock.Now()), core.ErrNotFound)
	})
}

func TestChatListIdleMultiAgent(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		idle := testutil.NewChatBuilder().Agents("a1", "a2").Build()
		solo := testutil.NewChatBuilder().Agents("a1").Build()
		busy := testutil.NewChatBuilder().Agents("a1", "a2").Build()
		done := testutil.NewChatBuilder().Agents("a1", "a2").Build()
		closed := testutil.NewChatBuilder().Agents("a1", "a2").Archived().Build()
		empty := testutil.NewChatBuilder().Agents("a1", "a2").Build()
		halfway := testutil.NewChatBuilder().Agents("a1", "a2").Build()
		for _, c := range []*core.Chat{idle, solo, busy, done, closed, empty, halfway} {
			require.NoError(t, s.Chats().Create(ctx, c))
		}

		old := storeBase.Add(-time.Hour)
		post := func(chatID string, at time.Time) *core.Message {
			m := testutil.NewMessageBuilder(chatID).Content("hello").CreatedAt(at).Build()
			require.NoError(t, s.Messages().Create(ctx, m))
			return m
		}
		post(idle.ID, old)
		post(solo.ID, old)
		post(busy.ID, storeBase.Add(-time.Minute))
		doneMsg := post(done.ID, old)
		require.NoError(t, s.Chats().AdvanceWatermark(ctx, done.ID, doneMsg.ID, storeBase))
		post(closed.ID, old)
		// A streaming tail does not count as unconsolidated material.
		half := testutil.NewMessageBuilder(halfway.ID).Streaming().CreatedAt(old).Build()
		require.NoError(t, s.Messages().Create(ctx, half))

		got, err := s.Chats().ListIdleMultiAgent(ctx, storeBase.Add(-30*time.Minute))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, idle.ID, got[0].ID)
	})
}

func TestChatCountPendingInitiated(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		pending1 := testutil.NewChatBuilder().InitiatedBy("ada").Build()
		pending2 := testutil.NewChatBuilder().InitiatedBy("ada").Build()
		answered := testutil.NewChatBuilder().InitiatedBy("ada").Build()
		answered.PendingHumanReply = false
		abandoned := testutil.NewChatBuilder().InitiatedBy("ada").Archived().Build()
		other := testutil.NewChatBuilder().InitiatedBy("bo").Build()
		for _, c := range []*core.Chat{pending1, pending2, answered, abandoned, other} {
			require.NoError(t, s.Chats().Create(ctx, c))
		}

		n, err := s.Chats().CountPendingInitiated(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.Chats().CountPendingInitiated(ctx, "bo")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestChatListContinuable(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		early := storeBase.Add(-time.Hour)
		first := testutil.NewChatBuilder().CreatedAt(early).Build()
		second := testutil.NewChatBuilder().CreatedAt(early).Build()
		third := testutil.NewChatBuilder().CreatedAt(early).Build()
		closed := testutil.NewChatBuilder().CreatedAt(early).Discarded().Build()
		foreign := testutil.NewChatBuilder().Account("acct-2").CreatedAt(early).Build()
		for _, c := range []*core.Chat{first, second, third, closed, foreign} {
			require.NoError(t, s.Chats().Create(ctx, c))
		}

		clock.Advance(time.Minute)
		require.NoError(t, s.Chats().Update(ctx, second))
		clock.Advance(time.Minute)
		require.NoError(t, s.Chats().Update(ctx, first))

		got, err := s.Chats().ListContinuable(ctx, "acct-1", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, first.ID, got[0].ID)
		assert.Equal(t, second.ID, got[1].ID)

		all, err := s.Chats().ListContinuable(ctx, "acct-1", 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestMessageRoundTrip(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		msg := testutil.NewMessageBuilder("01CHAT").
			Agent("ada").
			Content("Final answer").
			Reasoning("weighed the options").
			Tool("web_search", map[string]any{"url": "https://example.com"}).
			Build()
		msg.ModelID = "claude-sonnet-4"
		msg.InputTokens = 12
		msg.OutputTokens = 34
		require.NoError(t, s.Messages().Create(ctx, msg))

		got, err := s.Messages().Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, core.RoleAssistant, got.Role)
		assert.Equal(t, "ada", got.AgentID)
		assert.Equal(t, "Final answer", got.Content)
		assert.Equal(t, "weighed the options", got.Reasoning)
		assert.Equal(t, "claude-sonnet-4", got.ModelID)
		assert.Equal(t, 12, got.InputTokens)
		assert.Equal(t, 34, got.OutputTokens)
		assert.Equal(t, msg.ToolUsage, got.ToolUsage)
		assert.False(t, got.Streaming)

		clock.Advance(5 * time.Minute)
		msg.Content = "Edited answer"
		require.NoError(t, s.Messages().Update(ctx, msg))
		got, err = s.Messages().Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "Edited answer", got.Content)
		assert.Equal(t, msg.ToolUsage, got.ToolUsage)
		assert.True(t, got.UpdatedAt.Equal(clock.Now()))

		require.NoError(t, s.Messages().Delete(ctx, msg.ID))
		_, err = s.Messages().Get(ctx, msg.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.ErrorIs(t, s.Messages().Delete(ctx, msg.ID), core.ErrNotFound)
	})
}

func TestMessageListByChat(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		var ids []string
		for i := 0; i < 5; i++ {
			m := testutil.NewMessageBuilder("01CHAT").Content(fmt.Sprintf("m%d", i)).Build()
			require.NoError(t, s.Messages().Create(ctx, m))
			ids = append(ids, m.ID)
		}
		noise := testutil.NewMessageBuilder("01OTHER").Content("elsewhere").Build()
		require.NoError(t, s.Messages().Create(ctx, noise))

		all, err := s.Messages().ListByChat(ctx, "01CHAT", 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, ids[0], all[0].ID)
		assert.Equal(t, ids[4], all[4].ID)

		tail, err := s.Messages().ListByChat(ctx, "01CHAT", 2)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, ids[3], tail[0].ID)
		assert.Equal(t, ids[4], tail[1].ID)
	})
}

func TestMessageListAfter(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		var msgs []*core.Message
		for i := 0; i < 4; i++ {
			m := testutil.NewMessageBuilder("01CHAT").Content(fmt.Sprintf("m%d", i)).Build()
			require.NoError(t, s.Messages().Create(ctx, m))
			msgs = append(msgs, m)
		}
		streaming := testutil.NewMessageBuilder("01CHAT").Streaming().Build()
		require.NoError(t, s.Messages().Create(ctx, streaming))

		got, err := s.Messages().ListAfter(ctx, "01CHAT", msgs[1].ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, msgs[2].ID, got[0].ID)
		assert.Equal(t, msgs[3].ID, got[1].ID)

		got, err = s.Messages().ListAfter(ctx, "01CHAT", "")
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
}

func TestMessageHumanActivity(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		mine := testutil.NewChatBuilder().Build()
		foreign := testutil.NewChatBuilder().Account("acct-2").Build()
		require.NoError(t, s.Chats().Create(ctx, mine))
		require.NoError(t, s.Chats().Create(ctx, foreign))

		since := storeBase.Add(-time.Hour)
		old := testutil.NewMessageBuilder(mine.ID).Content("stale").CreatedAt(storeBase.Add(-2 * time.Hour)).Build()
		boundary := testutil.NewMessageBuilder(mine.ID).Content("on the line").CreatedAt(since).Build()
		fresh := testutil.NewMessageBuilder(mine.ID).Content("ping").CreatedAt(storeBase.Add(-30 * time.Minute)).Build()
		agent := testutil.NewMessageBuilder(mine.ID).Agent("ada").Content("pong").CreatedAt(storeBase.Add(-10 * time.Minute)).Build()
		elsewhere := testutil.NewMessageBuilder(foreign.ID).Content("other account").CreatedAt(storeBase.Add(-10 * time.Minute)).Build()
		for _, m := range []*core.Message{old, boundary, fresh, agent, elsewhere} {
			require.NoError(t, s.Messages().Create(ctx, m))
		}

		n, err := s.Messages().CountHumanSince(ctx, "acct-1", since)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "boundary is inclusive, agent and foreign messages are not counted")

		recent, err := s.Messages().ListRecentHuman(ctx, "acct-1", since, 0)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, fresh.ID, recent[0].ID)
		assert.Equal(t, boundary.ID, recent[1].ID)

		capped, err := s.Messages().ListRecentHuman(ctx, "acct-1", since, 1)
		require.NoError(t, err)
		require.Len(t, capped, 1)
		assert.Equal(t, fresh.ID, capped[0].ID)
	})
}

func TestAgentRoundTripAndQueries(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		ada := testutil.NewAgentBuilder().Name("Ada").Thinking(4096).Tools("web_search").Cap(5).Build()
		bo := testutil.NewAgentBuilder().Name("Bo").Build()
		zed := testutil.NewAgentBuilder().Name("Zed").Inactive().Build()
		ext := testutil.NewAgentBuilder().Account("acct-2").Name("Ext").Build()
		for _, a := range []*core.Agent{ada, bo, zed, ext} {
			require.NoError(t, s.Agents().Create(ctx, a))
		}

		got, err := s.Agents().Get(ctx, ada.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ada", got.Name)
		require.NotNil(t, got.ThinkingBudget)
		assert.Equal(t, 4096, *got.ThinkingBudget)
		assert.Equal(t, []string{"web_search"}, got.EnabledTools)
		assert.Equal(t, 5, got.InitiationCap)
		assert.True(t, got.Active)
		assert.Nil(t, got.RefinedAt)

		active, err := s.Agents().ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, active, 3)
		assert.Equal(t, ada.ID, active[0].ID)
		assert.Equal(t, bo.ID, active[1].ID)
		assert.Equal(t, ext.ID, active[2].ID)

		account, err := s.Agents().ListByAccount(ctx, "acct-1")
		require.NoError(t, err)
		assert.Len(t, account, 3, "inactive agents still belong to the account")

		clock.Advance(time.Hour)
		at := clock.Now()
		require.NoError(t, s.Agents().SetRefinedAt(ctx, ada.ID, at))
		got, err = s.Agents().Get(ctx, ada.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RefinedAt)
		assert.True(t, got.RefinedAt.Equal(at))
		assert.ErrorIs(t, s.Agents().SetRefinedAt(ctx, "01GHOST", at), core.ErrNotFound)

		ada.Persona = "relentlessly curious"
		require.NoError(t, s.Agents().Update(ctx, ada))
		got, err = s.Agents().Get(ctx, ada.ID)
		require.NoError(t, err)
		assert.Equal(t, "relentlessly curious", got.Persona)
		assert.True(t, got.UpdatedAt.Equal(clock.Now()))
	})
}

func TestMemoryUpdateLeavesTierAlone(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		mem := testutil.NewMemoryBuilder("ada").Content("likes go").Tokens(3).Build()
		require.NoError(t, s.Memories().Create(ctx, mem))

		edit := mem.Clone()
		edit.Content = "likes go and sql"
		edit.Tokens = 5
		edit.MemoryType = core.MemoryCore
		edit.Constitutional = true
		require.NoError(t, s.Memories().Update(ctx, edit))

		got, err := s.Memories().Get(ctx, mem.ID)
		require.NoError(t, err)
		assert.Equal(t, "likes go and sql", got.Content)
		assert.Equal(t, 5, got.Tokens)
		assert.Equal(t, core.MemoryJournal, got.MemoryType, "tier changes only go through Promote")
		assert.False(t, got.Constitutional, "flag changes only go through MarkConstitutional")

		ghost := testutil.NewMemoryBuilder("ada").Build()
		assert.ErrorIs(t, s.Memories().Update(ctx, ghost), core.ErrNotFound)
	})
}

func TestMemoryPromoteIsOneWay(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		mem := testutil.NewMemoryBuilder("ada").Content("promoted soon").Build()
		require.NoError(t, s.Memories().Create(ctx, mem))

		require.NoError(t, s.Memories().Promote(ctx, mem.ID))
		got, err := s.Memories().Get(ctx, mem.ID)
		require.NoError(t, err)
		assert.Equal(t, core.MemoryCore, got.MemoryType)

		// Promoting again is a harmless no-op.
		require.NoError(t, s.Memories().Promote(ctx, mem.ID))
		got, err = s.Memories().Get(ctx, mem.ID)
		require.NoError(t, err)
		assert.Equal(t, core.MemoryCore, got.MemoryType)

		assert.ErrorIs(t, s.Memories().Promote(ctx, "01GHOST"), core.ErrNotFound)
	})
}

func TestMemoryMarkConstitutionalAndDelete(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		mem := testutil.NewMemoryBuilder("ada").Content("never deleted lightly").Build()
		require.NoError(t, s.Memories().Create(ctx, mem))

		require.NoError(t, s.Memories().MarkConstitutional(ctx, mem.ID))
		got, err := s.Memories().Get(ctx, mem.ID)
		require.NoError(t, err)
		assert.True(t, got.Constitutional)

		require.NoError(t, s.Memories().MarkConstitutional(ctx, mem.ID))
		assert.ErrorIs(t, s.Memories().MarkConstitutional(ctx, "01GHOST"), core.ErrNotFound)

		require.NoError(t, s.Memories().Delete(ctx, mem.ID))
		_, err = s.Memories().Get(ctx, mem.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.ErrorIs(t, s.Memories().Delete(ctx, mem.ID), core.ErrNotFound)
	})
}

func TestMemoryListAndSearch(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		a1 := testutil.NewMemoryBuilder("ada").Content("Collects vintage synthesizers").Build()
		a2 := testutil.NewMemoryBuilder("ada").Content("Prefers TERSE answers").Core().Build()
		b1 := testutil.NewMemoryBuilder("bo").Content("synth enthusiast").Build()
		for _, m := range []*core.AgentMemory{a1, a2, b1} {
			require.NoError(t, s.Memories().Create(ctx, m))
		}

		list, err := s.Memories().ListByAgent(ctx, "ada")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, a1.ID, list[0].ID)
		assert.Equal(t, a2.ID, list[1].ID)

		found, err := s.Memories().Search(ctx, "ada", "terse")
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, a2.ID, found[0].ID)

		crossAgent, err := s.Memories().Search(ctx, "ada", "synth")
		require.NoError(t, err)
		require.Len(t, crossAgent, 1)
		assert.Equal(t, a1.ID, crossAgent[0].ID)

		none, err := s.Memories().Search(ctx, "ada", "banjo")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestAuditListAndCount(t *testing.T) {
	runStoreTest(t, func(t *testing.T, s storeSet, clock *testutil.FakeClock) {
		ctx := context.Background()
		e1 := core.NewAuditEntry("ada", "acct-1", core.AuditInitiationNothing, nil)
		e1.CreatedAt = storeBase.Add(-2 * time.Hour)
		e2 := core.NewAuditEntry("ada", "acct-1", core.AuditInitiationInitiate, map[string]any{"topic": "sourdough"})
		e2.CreatedAt = storeBase.Add(-time.Hour)
		e3 := core.NewAuditEntry("ada", "acct-1", core.AuditInitiationContinue, nil)
		e3.CreatedAt = storeBase.Add(-30 * time.Minute)
		other := core.NewAuditEntry("bo", "acct-2", core.AuditInitiationNothing, nil)
		other.CreatedAt = storeBase.Add(-30 * time.Minute)
		for _, e := range []*core.AuditEntry{e1, e2, e3, other} {
			require.NoError(t, s.Audits().Create(ctx, e))
		}

		got, err := s.Audits().ListByAgent(ctx, "ada", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, e3.ID, got[0].ID)
		assert.Equal(t, e2.ID, got[1].ID)
		assert.Equal(t, "sourdough", got[1].Payload["topic"])

		all, err := s.Audits().ListByAgent(ctx, "ada", 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		n, err := s.Audits().CountByAccountSince(ctx, "acct-1", storeBase.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n, "boundary is inclusive")
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "confab.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	chat := testutil.NewChatBuilder().Agents("ada").Build()
	mem := testutil.NewMemoryBuilder("ada").Content("persisted").Build()
	require.NoError(t, s.Chats().Create(ctx, chat))
	require.NoError(t, s.Memories().Create(ctx, mem))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Chats().Get(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.Title, got.Title)
	assert.Equal(t, []string{"ada"}, got.AgentIDs)
	assert.True(t, got.CreatedAt.Equal(chat.CreatedAt))

	mems, err := reopened.Memories().ListByAgent(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "persisted", mems[0].Content)
}
