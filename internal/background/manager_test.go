package background

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/refiner/internal/domain"
	"github.com/dotcommander/refiner/internal/instruction"
	"github.com/dotcommander/refiner/internal/scene"
	"github.com/dotcommander/refiner/internal/storage"
	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

const (
	forest = "a dense green forest with tall trees and dappled sunlight"
	beach  = "a sunny tropical beach with white sand and turquoise water"
)

var epoch = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// clock returns a deterministic time source advancing one second per call.
func clock() func() time.Time {
	var mu sync.Mutex
	t := epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(append([]Option{WithClock(clock())}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  img-1  ", "img-1"},
		{"HTTPS://CDN.Example.com/Images/A.png?sig=abc#frag", "https://cdn.example.com/Images/A.png"},
		{"https://cdn.example.com/images/", "https://cdn.example.com/images"},
		{"/local/path/image.png", "/local/path/image.png"},
		{"cache:abc123", "cache:abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalKey(tt.in))
		})
	}
}

func TestNonBackgroundUpdatePreservesState(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, err := m.Update(ctx, "img", "change the background to a forest", true)
	require.NoError(t, err)
	before := m.CurrentState(ctx, "img")

	entry, err := m.Update(ctx, "img", "add a hat", false)
	require.NoError(t, err)

	after := m.CurrentState(ctx, "img")
	assert.Equal(t, before, after)
	assert.True(t, entry.Preserved)
	assert.False(t, entry.IsBackgroundOperation)
	assert.Nil(t, entry.NewBackgroundState)
	assert.True(t, entry.PreviousBackgroundState.Same(before))
	assert.NotEmpty(t, entry.ID)
}

func TestBackgroundReplacement(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	first, err := m.Update(ctx, "img", "change the background to a forest", true)
	require.NoError(t, err)
	require.NotNil(t, first.NewBackgroundState)
	assert.Equal(t, domain.BackgroundExplicit, first.NewBackgroundState.Kind)
	assert.Equal(t, forest, first.NewBackgroundState.Description)
	assert.False(t, first.NewBackgroundState.ReplacedPrevious)

	second, err := m.Update(ctx, "img", "change the background to the beach", true)
	require.NoError(t, err)

	state := m.CurrentState(ctx, "img")
	assert.Equal(t, domain.BackgroundExplicit, state.Kind)
	assert.Equal(t, beach, state.Description)
	assert.True(t, state.ReplacedPrevious)
	assert.True(t, state.IsExplicitlySet)
	assert.Equal(t, forest, second.PreviousBackgroundState.Description)
}

func TestForestThenHatThenRemoval(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, err := m.Initialize(ctx, "img", &scene.Prompt{Background: "forest", ExplicitBackground: true})
	require.NoError(t, err)
	explicit := m.CurrentState(ctx, "img")
	require.Equal(t, domain.BackgroundExplicit, explicit.Kind)

	_, err = m.Update(ctx, "img", "add a hat", m.IsBackgroundOperation("add a hat"))
	require.NoError(t, err)
	assert.Equal(t, explicit, m.CurrentState(ctx, "img"))

	_, err = m.Update(ctx, "img", "remove background", m.IsBackgroundOperation("remove background"))
	require.NoError(t, err)

	state := m.CurrentState(ctx, "img")
	assert.Equal(t, domain.BackgroundRemoved, state.Kind)
	assert.Equal(t, domain.TransparentBackground, state.Description)
	assert.True(t, state.ExplicitlyRemoved)

	history, err := m.History(ctx, "img")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Preserved)
	assert.False(t, history[1].Preserved)
}

func TestSameInstructionSameStateOnFreshChains(t *testing.T) {
	ctx := context.Background()
	for _, text := range []string{
		"make the background snowfall",
		"change the background to forest and add a chain",
		"remove the background",
		"add sunglasses and a cigar",
	} {
		t.Run(text, func(t *testing.T) {
			a, b := newManager(t), newManager(t)
			isBg := a.IsBackgroundOperation(text)
			_, err := a.Update(ctx, "one", text, isBg)
			require.NoError(t, err)
			_, err = b.Update(ctx, "two", text, isBg)
			require.NoError(t, err)
			assert.True(t, a.CurrentState(ctx, "one").Same(b.CurrentState(ctx, "two")))
		})
	}
}

func TestUpdateLocatesBackgroundInCompoundInstruction(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, err := m.Update(ctx, "img", "add a gold chain and change the background to the beach", true)
	require.NoError(t, err)
	assert.Equal(t, beach, m.CurrentState(ctx, "img").Description)
}

func TestUpdateWithoutDescriptionLeavesState(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	entry, err := m.Update(ctx, "img", "change the background", true)
	require.NoError(t, err)
	assert.Nil(t, entry.NewBackgroundState)
	assert.Equal(t, domain.BackgroundDefault, m.CurrentState(ctx, "img").Kind)
}

func TestUpdateFromPlan(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	plan, err := instruction.Parse("Change the background to the beach and add a gold chain.")
	require.NoError(t, err)
	entry, err := m.UpdateFromPlan(ctx, "img", plan)
	require.NoError(t, err)

	assert.True(t, entry.IsBackgroundOperation)
	require.NotNil(t, entry.NewBackgroundState)
	assert.Equal(t, beach, entry.NewBackgroundState.Description)
}

func TestCurrentStateUnknownKey(t *testing.T) {
	m := newManager(t)
	state := m.CurrentState(context.Background(), "never-seen")
	assert.Equal(t, domain.BackgroundDefault, state.Kind)
	assert.Equal(t, domain.TransparentBackground, state.Description)
	assert.Zero(t, m.Registry().Len(), "lookups do not create chains")
}

func TestHistoryUnknownKey(t *testing.T) {
	_, err := newManager(t).History(context.Background(), "never-seen")
	assert.ErrorIs(t, err, refinererrors.ErrUnknownImageKey)
}

func TestShouldPreserve(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	_, err := m.Update(ctx, "img", "change the background to a forest", true)
	require.NoError(t, err)

	assert.True(t, m.ShouldPreserve(ctx, "img", "add sunglasses"))
	assert.False(t, m.ShouldPreserve(ctx, "img", "change the background to space"))
	assert.False(t, m.ShouldPreserve(ctx, "img", "remove the background"))
	assert.True(t, m.ShouldPreserve(ctx, "img", "keep the background and add a hat"))
}

func TestKeepBackgroundWordingPreservesState(t *testing.T) {
	ctx := context.Background()
	for _, text := range []string{
		"keep the background and add a hat",
		"add a hat but keep the same background",
		"leave the background alone",
		"don't change the background",
		"do not remove the background",
	} {
		t.Run(text, func(t *testing.T) {
			m := newManager(t)
			_, err := m.Update(ctx, "img", "change the background to a forest", true)
			require.NoError(t, err)
			before := m.CurrentState(ctx, "img")

			plan, err := instruction.Parse(text)
			require.NoError(t, err)
			entry, err := m.UpdateFromPlan(ctx, "img", plan)
			require.NoError(t, err)

			assert.True(t, entry.Preserved)
			assert.False(t, entry.IsBackgroundOperation)
			assert.Nil(t, entry.NewBackgroundState)
			assert.Equal(t, before, m.CurrentState(ctx, "img"))
			assert.Equal(t, forest, m.CurrentState(ctx, "img").Description)
		})
	}
}

func TestRefineSeedsAndRecordsTogether(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	prior := &scene.Prompt{Background: "a rainy street", ExplicitBackground: true}

	plan, err := instruction.Parse("add a hat")
	require.NoError(t, err)
	entry, err := m.Refine(ctx, "img", prior, plan)
	require.NoError(t, err)
	assert.Equal(t, domain.BackgroundExplicit, entry.PreviousBackgroundState.Kind)
	assert.Equal(t, "a rainy street", entry.ResultingState().Description)

	removal, err := instruction.Parse("remove the background")
	require.NoError(t, err)
	entry, err = m.Refine(ctx, "img", prior, removal)
	require.NoError(t, err)
	assert.Equal(t, domain.BackgroundRemoved, entry.ResultingState().Kind)

	// a chain with history is never reseeded
	entry, err = m.Refine(ctx, "img", prior, plan)
	require.NoError(t, err)
	assert.Equal(t, domain.BackgroundRemoved, entry.ResultingState().Kind)

	history, err := m.History(ctx, "img")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit prior", func(t *testing.T) {
		m := newManager(t)
		state, err := m.Initialize(ctx, "img", &scene.Prompt{Background: "a rainy street", ExplicitBackground: true})
		require.NoError(t, err)
		assert.Equal(t, domain.BackgroundExplicit, state.Kind)
		assert.Equal(t, "a rainy street", state.Description)
	})

	t.Run("implicit prior stays default", func(t *testing.T) {
		m := newManager(t)
		state, err := m.Initialize(ctx, "img", &scene.Prompt{Background: "a rainy street"})
		require.NoError(t, err)
		assert.Equal(t, domain.BackgroundDefault, state.Kind)
	})

	t.Run("implicit prior inferred when enabled", func(t *testing.T) {
		m := newManager(t, WithInferFromPrior(true))
		state, err := m.Initialize(ctx, "img", &scene.Prompt{Background: "a rainy street"})
		require.NoError(t, err)
		assert.Equal(t, domain.BackgroundInferred, state.Kind)
		assert.False(t, state.IsExplicitlySet)
		assert.Equal(t, "a rainy street", m.CurrentState(ctx, "img").PromptBackground())
	})

	t.Run("transparent prior is never inferred", func(t *testing.T) {
		m := newManager(t, WithInferFromPrior(true))
		state, err := m.Initialize(ctx, "img", &scene.Prompt{Background: "transparent"})
		require.NoError(t, err)
		assert.Equal(t, domain.BackgroundDefault, state.Kind)
	})

	t.Run("existing chain is not reseeded", func(t *testing.T) {
		m := newManager(t)
		_, err := m.Update(ctx, "img", "remove the background", true)
		require.NoError(t, err)
		state, err := m.Initialize(ctx, "img", &scene.Prompt{Background: "a rainy street", ExplicitBackground: true})
		require.NoError(t, err)
		assert.Equal(t, domain.BackgroundRemoved, state.Kind)
	})
}

func TestAliasSharesChain(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	require.NoError(t, m.Alias(ctx, "img-original", "https://CDN.example.com/hosted/1.png?token=abc", "cache:42"))
	_, err := m.Update(ctx, "https://cdn.example.com/hosted/1.png", "change the background to a forest", true)
	require.NoError(t, err)

	assert.Equal(t, forest, m.CurrentState(ctx, "img-original").Description)
	assert.Equal(t, forest, m.CurrentState(ctx, "cache:42").Description)
	assert.Equal(t, 1, m.Registry().Len())

	chain, err := m.Chain(ctx, "cache:42")
	require.NoError(t, err)
	assert.Equal(t, "img-original", chain.ImageKey)
	assert.Equal(t, []string{"https://cdn.example.com/hosted/1.png", "cache:42"}, chain.Aliases)
}

func TestWriteThroughSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m := newManager(t, WithStore(store))
	require.NoError(t, m.Alias(ctx, "img", "alias-1"))
	_, err = m.Update(ctx, "img", "change the background to the beach", true)
	require.NoError(t, err)

	restarted := newManager(t, WithStore(store))
	state := restarted.CurrentState(ctx, "alias-1")
	assert.Equal(t, beach, state.Description)

	history, err := restarted.History(ctx, "img")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEvictedChainReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m := newManager(t, WithStore(store), WithCapacity(1))
	_, err = m.Update(ctx, "first", "change the background to a forest", true)
	require.NoError(t, err)
	_, err = m.Update(ctx, "second", "remove the background", true)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Registry().Len())

	assert.Equal(t, forest, m.CurrentState(ctx, "first").Description)
}

func TestTTLRegistry(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, WithTTL(time.Hour))
	_, err := m.Update(ctx, "img", "change the background to a forest", true)
	require.NoError(t, err)
	assert.Equal(t, forest, m.CurrentState(ctx, "img").Description)
}

func TestConcurrentUpdatesAreSerializedPerChain(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := m.Update(ctx, "shared", fmt.Sprintf("add hat %d", i), false)
			assert.NoError(t, err)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := m.Update(ctx, fmt.Sprintf("img-%d", i), "remove the background", true)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	history, err := m.History(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, writers)
	assert.Equal(t, writers+1, m.Registry().Len())
}
