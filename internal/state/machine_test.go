package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type transition struct {
	vehicleID string
	from      string
	to        string
}

func TestMachineTransitions(t *testing.T) {
	var seen []transition
	m := NewMachine("v1", func(vehicleID, from, to string) {
		seen = append(seen, transition{vehicleID, from, to})
	}, zap.NewNop())

	ctx := context.Background()
	assert.Equal(t, StateOffline, m.Current())

	require.NoError(t, m.Fire(ctx, EventStop))
	assert.Equal(t, StateOnline, m.Current())

	require.NoError(t, m.Fire(ctx, EventMove))
	assert.Equal(t, StateMoving, m.Current())

	require.NoError(t, m.Fire(ctx, EventOffline))
	assert.Equal(t, StateOffline, m.Current())

	assert.Equal(t, []transition{
		{"v1", StateOffline, StateOnline},
		{"v1", StateOnline, StateMoving},
		{"v1", StateMoving, StateOffline},
	}, seen)
}

func TestMachineIgnoresInvalidEvents(t *testing.T) {
	var count int
	m := NewMachine("v1", func(_, _, _ string) { count++ }, zap.NewNop())

	ctx := context.Background()

	// offline 状态下重复 offline 不报错也不回调
	require.NoError(t, m.Fire(ctx, EventOffline))
	assert.Equal(t, StateOffline, m.Current())
	assert.Zero(t, count)

	require.NoError(t, m.Fire(ctx, EventMove))
	assert.Equal(t, 1, count)

	// moving 状态下重复 move 静默忽略
	require.NoError(t, m.Fire(ctx, EventMove))
	assert.Equal(t, StateMoving, m.Current())
	assert.Equal(t, 1, count)
}

func TestManager(t *testing.T) {
	mgr := NewManager(nil, zap.NewNop())

	m1 := mgr.GetOrCreate("v1")
	assert.Same(t, m1, mgr.GetOrCreate("v1"))

	_, ok := mgr.Get("v2")
	assert.False(t, ok)

	mgr.GetOrCreate("v2")
	require.NoError(t, m1.Fire(context.Background(), EventMove))

	states := mgr.States()
	assert.Equal(t, map[string]string{
		"v1": StateMoving,
		"v2": StateOffline,
	}, states)

	mgr.Remove("v1")
	_, ok = mgr.Get("v1")
	assert.False(t, ok)
}
