package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectRoutesReasoningNamespace(t *testing.T) {
	direct := NewMockProvider().WithInfo(Info{Provider: ProviderAnthropic, SupportsTools: true, SupportsThinking: true})
	aggregate := NewMockProvider().WithInfo(Info{Provider: ProviderOpenRouter, SupportsTools: true})
	sel := NewSelector(direct, aggregate)

	p, id, err := sel.Select("anthropic/claude-sonnet-4")
	require.NoError(t, err)
	assert.Same(t, Provider(direct), p)
	assert.Equal(t, "claude-sonnet-4", id)

	p, id, err = sel.Select("meta-llama/llama-3-70b")
	require.NoError(t, err)
	assert.Same(t, Provider(aggregate), p)
	assert.Equal(t, "meta-llama/llama-3-70b", id)
}

func TestSelectMissingCredential(t *testing.T) {
	sel := NewSelector(nil, nil)

	_, _, err := sel.Select("anthropic/claude-sonnet-4")
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorClassCapability, pe.Class)

	_, _, err = sel.Select("mistralai/mistral-large")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorClassCapability, pe.Class)
}

func TestApplyThinkingNativeBudget(t *testing.T) {
	req := Request{ModelID: "claude-sonnet-4"}
	info := Info{Provider: ProviderAnthropic, SupportsThinking: true}

	require.NoError(t, ApplyThinking(&req, 4096, info))
	require.NotNil(t, req.Thinking)
	assert.Equal(t, 4096, req.Thinking.BudgetTokens)
	assert.Equal(t, int64(4096+thinkingHeadroom), req.MaxTokens)
	assert.Empty(t, req.ReasoningEffort)
}

func TestApplyThinkingEffortFallback(t *testing.T) {
	req := Request{ModelID: "deepseek/deepseek-r1"}
	info := Info{Provider: ProviderOpenRouter}

	require.NoError(t, ApplyThinking(&req, 12_000, info))
	assert.Nil(t, req.Thinking)
	assert.Equal(t, ReasoningEffortMedium, req.ReasoningEffort)
	assert.Equal(t, int64(12_000+thinkingHeadroom), req.MaxTokens)
}

func TestApplyThinkingUnknownProviderPropagates(t *testing.T) {
	req := Request{ModelID: "whatever"}
	err := ApplyThinking(&req, 1000, Info{Provider: "mock"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThinkingUnsupported)
	assert.Nil(t, req.Thinking)
	assert.Empty(t, req.ReasoningEffort)
}

func TestEffortForBudget(t *testing.T) {
	assert.Equal(t, ReasoningEffortLow, EffortForBudget(500))
	assert.Equal(t, ReasoningEffortLow, EffortForBudget(2000))
	assert.Equal(t, ReasoningEffortMedium, EffortForBudget(2001))
	assert.Equal(t, ReasoningEffortMedium, EffortForBudget(15000))
	assert.Equal(t, ReasoningEffortHigh, EffortForBudget(15001))
}
