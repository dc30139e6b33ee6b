package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLister struct {
	ids []string
	err error
}

func (l *staticLister) ListModels(ctx context.Context) ([]string, error) {
	return l.ids, l.err
}

func TestRegistryRefresh(t *testing.T) {
	reg := NewRegistry(&staticLister{ids: []string{"claude-sonnet-4", "gpt-4o-mini"}})

	// Unrefreshed registries treat every id as known.
	assert.True(t, reg.Known("anything"))
	assert.True(t, reg.RefreshedAt().IsZero())

	require.NoError(t, reg.Refresh(context.Background()))
	assert.Equal(t, 2, reg.Size())
	assert.True(t, reg.Known("claude-sonnet-4"))
	assert.False(t, reg.Known("retired-model"))
	assert.False(t, reg.RefreshedAt().IsZero())
}

func TestRegistryRefreshError(t *testing.T) {
	reg := NewRegistry(&staticLister{err: errors.New("catalog down")})
	require.Error(t, reg.Refresh(context.Background()))
	assert.Equal(t, 0, reg.Size())
}

func TestRegistryNilLister(t *testing.T) {
	reg := NewRegistry(nil)
	require.NoError(t, reg.Refresh(context.Background()))
	assert.True(t, reg.Known("anything"))
}
