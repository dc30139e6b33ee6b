package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	t.Run("plain text passes through", func(t *testing.T) {
		out, err := RenderTemplate("no markers here", nil)
		require.NoError(t, err)
		assert.Equal(t, "no markers here", out)
	})

	t.Run("substitutes state", func(t *testing.T) {
		out, err := RenderTemplate("Hello {{.Name}}", map[string]any{"Name": "Nova"})
		require.NoError(t, err)
		assert.Equal(t, "Hello Nova", out)
	})

	t.Run("numbered helper", func(t *testing.T) {
		out, err := RenderTemplate("{{numbered .Items}}", map[string]any{"Items": []string{"first", "second"}})
		require.NoError(t, err)
		assert.Equal(t, "1. first\n2. second\n", out)
	})

	t.Run("does not escape quotes", func(t *testing.T) {
		out, err := RenderTemplate("say {{.Q}}", map[string]any{"Q": `"yes"`})
		require.NoError(t, err)
		assert.Equal(t, `say "yes"`, out)
	})
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer"},
		},
		"required": []string{"query"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"query": "hiking"}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"query": "hiking", "limit": float64(3)}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	require.Error(t, err)

	err = ValidateParameters(map[string]any{"query": 42}, schema)
	require.Error(t, err)
}

func TestStringArgs(t *testing.T) {
	params := map[string]any{
		"id":  " mem-1 ",
		"ids": []any{"a", "b"},
	}

	assert.Equal(t, "mem-1", StringArg(params, "id"))
	assert.Equal(t, []string{"a", "b"}, StringSliceArg(params, "ids"))
	assert.Nil(t, StringSliceArg(params, "missing"))
	assert.Equal(t, "", StringArg(params, "missing"))
}
