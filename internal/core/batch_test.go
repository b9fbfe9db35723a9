package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/refiner/internal/domain"
	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

func TestBatchPreservesPerImageOrder(t *testing.T) {
	ctx := context.Background()
	r := newRefiner(t)

	var reqs []Request
	for i := 0; i < 5; i++ {
		img := fmt.Sprintf("img-%d", i)
		reqs = append(reqs,
			Request{ImageKey: img, Instruction: "change the background to the beach"},
			Request{ImageKey: img, Instruction: "add a hat"},
			Request{ImageKey: img, Instruction: "remove the background"},
		)
	}

	items, err := r.Batch(ctx, reqs, WithWorkers(3))
	require.NoError(t, err)
	require.Len(t, items, len(reqs))

	for i, it := range items {
		assert.Equal(t, i, it.Index)
		require.NoError(t, it.Err)
	}
	for i := 0; i < 5; i++ {
		img := fmt.Sprintf("img-%d", i)
		state := r.GetBackgroundState(ctx, img)
		assert.Equal(t, domain.BackgroundRemoved, state.Kind, img)

		history, err := r.History(ctx, img)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, "change the background to the beach", history[0].Instruction)
		assert.Equal(t, "add a hat", history[1].Instruction)
		assert.Equal(t, "remove the background", history[2].Instruction)
	}
}

func TestBatchAliasesShareALane(t *testing.T) {
	ctx := context.Background()
	r := newRefiner(t)
	require.NoError(t, r.Alias(ctx, "img-a", "https://cdn.example.com/a.png"))

	items, err := r.Batch(ctx, []Request{
		{ImageKey: "img-a", Instruction: "change the background to the beach"},
		{ImageKey: "https://CDN.example.com/a.png?v=2", Instruction: "add a hat"},
	})
	require.NoError(t, err)
	require.NoError(t, items[1].Err)
	assert.Equal(t, beach, items[1].Result.Background.Description)

	history, err := r.History(ctx, "img-a")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestBatchCollectsItemErrors(t *testing.T) {
	ctx := context.Background()
	r := newRefiner(t)

	items, err := r.Batch(ctx, []Request{
		{ImageKey: "img-1", Instruction: "add a hat"},
		{ImageKey: "img-2", Instruction: "  "},
		{ImageKey: "", Instruction: "add a hat"},
	})
	require.NoError(t, err)

	assert.NoError(t, items[0].Err)
	assert.True(t, refinererrors.IsEmptyInstruction(items[1].Err))
	assert.ErrorIs(t, items[2].Err, ErrImageKeyRequired)
}

func TestBatchFailFast(t *testing.T) {
	r := newRefiner(t)

	_, err := r.Batch(context.Background(), []Request{
		{ImageKey: "img-1", Instruction: ""},
		{ImageKey: "img-1", Instruction: "add a hat"},
	}, WithFailFast(true), WithWorkers(1))
	require.Error(t, err)
	assert.ErrorContains(t, err, "request 0")
}

func TestBatchEmpty(t *testing.T) {
	items, err := newRefiner(t).Batch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}
