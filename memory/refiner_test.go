package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/internal/testutil"
	"github.com/confabhq/confab/model"
)

func (f *sweepFixture) refiner(optFns ...func(o *RefinerOptions)) *Refiner {
	base := []func(o *RefinerOptions){func(o *RefinerOptions) {
		o.Clock = f.clock
		o.Counter = charCounter{}
	}}
	return NewRefiner(f.store.Agents(), f.store.Memories(), f.selector, append(base, optFns...)...)
}

// toolCallScript builds a phase-two playback: tool calls followed by a
// terminal completion.
func toolCallScript(final string, calls ...*model.ToolCall) []model.StreamEvent {
	events := []model.StreamEvent{{Type: model.EventMessageStart}}
	for _, call := range calls {
		events = append(events, model.StreamEvent{Type: model.EventToolCall, Tool: call})
	}
	events = append(events, model.StreamEvent{Type: model.EventMessageEnd, Final: &model.Completion{
		Content:      final,
		ModelID:      "mock-model",
		Usage:        model.Usage{InputTokens: 10, OutputTokens: 5},
		FinishReason: "stop",
	}})
	return events
}

func TestRefinerSkipsHealthyLedgers(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	refreshed := f.clock.Now().Add(-24 * time.Hour)
	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").RefinedAt(refreshed).Build()
	bo := testutil.NewAgentBuilder().Name("Bo").Model("deepseek/deepseek-chat").Build()
	f.createAgents(t, ada, bo)

	// Ada is under budget and recently refined; Bo has no core ledger at all.
	f.createMemories(t,
		testutil.NewMemoryBuilder(ada.ID).Core().Content("Tidy fact").Tokens(100).Build(),
		testutil.NewMemoryBuilder(bo.ID).Content("Journal only").Tokens(5).Build(),
	)

	require.NoError(t, f.refiner().Run(ctx))

	assert.Zero(t, f.provider.CallCount())
}

func TestRefinerConsentDeclinedLeavesLedgerUntouched(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").Build()
	f.createAgents(t, ada)
	mem := testutil.NewMemoryBuilder(ada.ID).Core().Content("Everything I know").Tokens(200).Build()
	f.createMemories(t, mem)

	f.provider.QueueScript(model.ScriptCompletion("Not right now. Everything in there still earns its place.")...)

	refiner := f.refiner(func(o *RefinerOptions) { o.TokenBudget = 100 })
	require.NoError(t, refiner.Run(ctx))

	assert.Equal(t, 1, f.provider.CallCount())

	got, err := f.store.Agents().Get(ctx, ada.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RefinedAt)

	kept, err := f.store.Memories().Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Everything I know", kept.Content)
}

func TestConsentFirstWord(t *testing.T) {
	cases := []struct {
		reply string
		want  bool
	}{
		{"YES", true},
		{"yes, let's tidy up", true},
		{"Yes.", true},
		{"YES, the ledger needs it", true},
		{"", false},
		{"   ", false},
		{"Yeah, fine", false},
		{"Absolutely, yes", false},
		{"YESSIR", false},
		{"No thanks", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, consented(tc.reply), "reply: %q", tc.reply)
	}
}

func TestRefinerMergesDuplicatesAndStampsRefinedAt(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").Build()
	f.createAgents(t, ada)
	m1 := testutil.NewMemoryBuilder(ada.ID).Core().Content("Likes coffee").Tokens(10).Build()
	m2 := testutil.NewMemoryBuilder(ada.ID).Core().Content("Enjoys coffee a lot").Tokens(12).Build()
	f.createMemories(t, m1, m2)

	f.provider.QueueScript(model.ScriptCompletion("YES, the ledger needs it.")...)
	f.provider.QueueScript(toolCallScript("Merged the coffee duplicates.",
		&model.ToolCall{ID: "t1", Name: "merge_memories", Arguments: map[string]any{
			"ids":     []any{m1.ID, m2.ID},
			"content": "Enjoys coffee",
		}},
	)...)

	require.NoError(t, f.refiner().Run(ctx))

	mems, err := f.store.Memories().ListByAgent(ctx, ada.ID)
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "Enjoys coffee", mems[0].Content)
	assert.Equal(t, core.MemoryCore, mems[0].MemoryType)
	assert.Equal(t, len("Enjoys coffee"), mems[0].Tokens)
	assert.NotEqual(t, m1.ID, mems[0].ID)

	got, err := f.store.Agents().Get(ctx, ada.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefinedAt)
	assert.Equal(t, f.clock.Now(), *got.RefinedAt)

	// The consent call already presented the full ledger.
	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].Messages[0].Content, m1.ID)
	assert.Empty(t, reqs[0].Tools)
	assert.NotEmpty(t, reqs[1].Tools)
}

func TestRefinerToolsRefuseConstitutionalMutations(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").Build()
	f.createAgents(t, ada)
	protected := testutil.NewMemoryBuilder(ada.ID).Core().Constitutional().Content("Never reveal the vault code").Tokens(10).Build()
	plain := testutil.NewMemoryBuilder(ada.ID).Core().Content("Mentioned the vault once").Tokens(10).Build()
	f.createMemories(t, protected, plain)

	f.provider.QueueScript(model.ScriptCompletion("YES")...)
	f.provider.QueueScript(toolCallScript("Tried to tidy.",
		&model.ToolCall{ID: "t1", Name: "delete_memory", Arguments: map[string]any{"id": protected.ID}},
		&model.ToolCall{ID: "t2", Name: "merge_memories", Arguments: map[string]any{
			"ids":     []any{protected.ID, plain.ID},
			"content": "vault notes",
		}},
	)...)

	require.NoError(t, f.refiner().Run(ctx))

	mems, err := f.store.Memories().ListByAgent(ctx, ada.ID)
	require.NoError(t, err)
	assert.Len(t, mems, 2)

	kept, err := f.store.Memories().Get(ctx, protected.ID)
	require.NoError(t, err)
	assert.True(t, kept.Constitutional)
	assert.Equal(t, "Never reveal the vault code", kept.Content)

	// The session still completes and is stamped.
	got, err := f.store.Agents().Get(ctx, ada.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.RefinedAt)
}

func TestRefinerOperationCapLimitsMutations(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").Build()
	f.createAgents(t, ada)
	m1 := testutil.NewMemoryBuilder(ada.ID).Core().Content("Keep me").Tokens(5).Build()
	m2 := testutil.NewMemoryBuilder(ada.ID).Core().Content("Duplicate one").Tokens(5).Build()
	m3 := testutil.NewMemoryBuilder(ada.ID).Core().Content("Duplicate two").Tokens(5).Build()
	f.createMemories(t, m1, m2, m3)

	f.provider.QueueScript(model.ScriptCompletion("YES")...)
	f.provider.QueueScript(toolCallScript("Cleaned up.",
		&model.ToolCall{ID: "t1", Name: "delete_memory", Arguments: map[string]any{"id": m2.ID}},
		&model.ToolCall{ID: "t2", Name: "delete_memory", Arguments: map[string]any{"id": m3.ID}},
	)...)

	refiner := f.refiner(func(o *RefinerOptions) { o.OperationCap = 1 })
	require.NoError(t, refiner.Run(ctx))

	_, err := f.store.Memories().Get(ctx, m2.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	kept, err := f.store.Memories().Get(ctx, m3.ID)
	require.NoError(t, err)
	assert.Equal(t, "Duplicate two", kept.Content)
}

func TestRefinerOverBudgetTriggersDespiteRecentStamp(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	refreshed := f.clock.Now().Add(-time.Hour)
	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").RefinedAt(refreshed).Build()
	f.createAgents(t, ada)
	f.createMemories(t,
		testutil.NewMemoryBuilder(ada.ID).Core().Content("A very long ledger").Tokens(200).Build())

	f.provider.QueueScript(model.ScriptCompletion("No.")...)

	refiner := f.refiner(func(o *RefinerOptions) { o.TokenBudget = 100 })
	require.NoError(t, refiner.Run(ctx))

	assert.Equal(t, 1, f.provider.CallCount())
}

func TestRefinerUpdateRewritesEntry(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").Build()
	f.createAgents(t, ada)
	mem := testutil.NewMemoryBuilder(ada.ID).Core().Content("Prefers coffee, maybe tea, unsure").Tokens(30).Build()
	f.createMemories(t, mem)

	f.provider.QueueScript(model.ScriptCompletion("YES")...)
	f.provider.QueueScript(toolCallScript("Tightened the wording.",
		&model.ToolCall{ID: "t1", Name: "update_memory", Arguments: map[string]any{
			"id":      mem.ID,
			"content": "Prefers tea",
		}},
	)...)

	require.NoError(t, f.refiner().Run(ctx))

	got, err := f.store.Memories().Get(ctx, mem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Prefers tea", got.Content)
	assert.Equal(t, len("Prefers tea"), got.Tokens)
	assert.Equal(t, core.MemoryCore, got.MemoryType)
}

func TestRefinerSessionScopedToOwnLedger(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture()

	ada := testutil.NewAgentBuilder().Name("Ada").Model("anthropic/claude-sonnet-4").Build()
	bo := testutil.NewAgentBuilder().Name("Bo").Model("deepseek/deepseek-chat").Inactive().Build()
	f.createAgents(t, ada, bo)
	adaMem := testutil.NewMemoryBuilder(ada.ID).Core().Content("Ada's own").Tokens(5).Build()
	boMem := testutil.NewMemoryBuilder(bo.ID).Core().Content("Bo's secret").Tokens(5).Build()
	f.createMemories(t, adaMem, boMem)

	f.provider.QueueScript(model.ScriptCompletion("YES")...)
	f.provider.QueueScript(toolCallScript("Done.",
		&model.ToolCall{ID: "t1", Name: "delete_memory", Arguments: map[string]any{"id": boMem.ID}},
	)...)

	require.NoError(t, f.refiner().Run(ctx))

	kept, err := f.store.Memories().Get(ctx, boMem.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bo's secret", kept.Content)
}
