package anthropic

import (
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confabhq/confab/core"
	"github.com/confabhq/confab/model"
)

func TestBuildParamsDefaults(t *testing.T) {
	p := NewProvider(func(o *Options) {
		o.APIKey = "test-key"
	})

	params := p.buildParams(model.Request{
		ModelID:      "claude-sonnet-4-5",
		Instructions: "You are Ada.",
		Messages: []model.ChatMessage{
			{Role: core.RoleUser, Content: "hello"},
		},
	})

	assert.Equal(t, anthropic.Model("claude-sonnet-4-5"), params.Model)
	assert.Equal(t, int64(DefaultMaxTokens), params.MaxTokens)
	assert.True(t, params.Temperature.Valid())
	require.Len(t, params.System, 1)
	assert.Equal(t, "You are Ada.", params.System[0].Text)
	require.Len(t, params.Messages, 1)
}

func TestBuildParamsThinking(t *testing.T) {
	p := NewProvider(func(o *Options) {
		o.APIKey = "test-key"
	})

	params := p.buildParams(model.Request{
		ModelID:  "claude-sonnet-4-5",
		Thinking: &model.ThinkingConfig{BudgetTokens: 6000},
	})

	require.NotNil(t, params.Thinking.OfEnabled)
	assert.Equal(t, int64(6000), params.Thinking.OfEnabled.BudgetTokens)
	// Ceiling must leave completion headroom above the thinking budget.
	assert.Equal(t, model.ThinkingMaxTokens(6000), params.MaxTokens)
	// The API rejects explicit temperature together with thinking.
	assert.False(t, params.Temperature.Valid())
}

func TestBuildParamsFoldsSystemHistory(t *testing.T) {
	p := NewProvider(func(o *Options) {
		o.APIKey = "test-key"
	})

	params := p.buildParams(model.Request{
		ModelID:      "claude-sonnet-4-5",
		Instructions: "persona",
		Messages: []model.ChatMessage{
			{Role: core.RoleSystem, Content: "memory digest"},
			{Role: core.RoleUser, Content: "hi"},
		},
	})

	require.Len(t, params.System, 1)
	assert.Contains(t, params.System[0].Text, "persona")
	assert.Contains(t, params.System[0].Text, "memory digest")
	// System history must not leak into the message list.
	require.Len(t, params.Messages, 1)
}

func TestBuildMessagesAttribution(t *testing.T) {
	msgs := buildMessages([]model.ChatMessage{
		{Role: core.RoleUser, Name: "dana", Content: "morning"},
		{Role: core.RoleAssistant, Content: "hello dana"},
	})

	require.Len(t, msgs, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
}

func TestBuildToolsRequiredVariants(t *testing.T) {
	defs := []model.ToolDefinition{
		{
			Name:        "search_memory",
			Description: "Search stored memories.",
			Parameters: map[string]any{
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []any{"query"},
			},
		},
	}

	tools := buildTools(defs)
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "search_memory", tools[0].OfTool.Name)
	assert.Equal(t, []string{"query"}, tools[0].OfTool.InputSchema.Required)
}

func TestWrapErrClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		class  model.ErrorClass
	}{
		{429, model.ErrorClassRateLimit},
		{404, model.ErrorClassModelNotFound},
		{500, model.ErrorClassServer},
		{400, model.ErrorClassBadRequest},
	}

	for _, tc := range cases {
		err := wrapErr(&anthropic.Error{StatusCode: tc.status})
		var pe *model.ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, tc.class, pe.Class, "status %d", tc.status)
		assert.Equal(t, model.ProviderAnthropic, pe.Provider)
	}
}

func TestWrapErrPlainError(t *testing.T) {
	err := wrapErr(errors.New("connection reset"))
	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.ErrorClassUnknown, pe.Class)
}

func TestInfo(t *testing.T) {
	p := NewProvider(func(o *Options) { o.APIKey = "test-key" })
	info := p.Info()
	assert.Equal(t, model.ProviderAnthropic, info.Provider)
	assert.True(t, info.SupportsTools)
	assert.True(t, info.SupportsThinking)
}
