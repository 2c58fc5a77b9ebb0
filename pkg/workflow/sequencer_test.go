package workflow

import (
	"context"
	"testing"

	"github.com/casare-rpa/robot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequencerWalksChain(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	var order []string
	result, err := NewSequencer().Execute(context.Background(), doc,
		map[string]types.Variable{"x": types.Int(1)},
		RunOptions{Hooks: Hooks{
			OnNodeComplete: func(ev NodeEvent) { order = append(order, ev.NodeID) },
		}})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 2, result.ExecutedNodes)
	assert.Equal(t, int64(1), result.Variables["x"].Int)
}

func TestSequencerSkipsExecutedNodes(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	var order []string
	result, err := NewSequencer().Execute(context.Background(), doc, nil,
		RunOptions{
			SkipNodes: map[string]bool{"a": true},
			Hooks: Hooks{
				OnNodeComplete: func(ev NodeEvent) { order = append(order, ev.NodeID) },
			},
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, order)
	assert.Equal(t, 1, result.ExecutedNodes)
}

func TestSequencerHonorsCancellation(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewSequencer().Execute(ctx, doc, nil, RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
