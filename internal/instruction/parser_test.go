package instruction

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		strategy Strategy
		want     []string
	}{
		{
			name:     "two additions share one verb",
			input:    "add sunglasses and a cigar",
			strategy: StrategyMultiStep,
			want:     []string{"added sunglasses", "added cigar"},
		},
		{
			name:     "background snowfall",
			input:    "make the background snowfall",
			strategy: StrategyStructuredPrompt,
			want:     []string{"set background to a winter scene with gentle snowfall in the background"},
		},
		{
			name:     "background plus accessory",
			input:    "Change the background to forest and add a chain.",
			strategy: StrategyMultiStep,
			want: []string{
				"set background to a dense green forest with tall trees and dappled sunlight",
				"added chain",
			},
		},
		{
			name:     "background removal",
			input:    "remove the background",
			strategy: StrategyBackgroundRemoval,
			want:     []string{"removed background"},
		},
		{
			name:     "single very specific edit",
			input:    "add blood to the nose",
			strategy: StrategyMaskBased,
			want:     []string{"added blood on the nose"},
		},
		{
			name:     "texture keyword without verb",
			input:    "bloody nose",
			strategy: StrategyMaskBased,
			want:     []string{"added blood texture on the nose"},
		},
		{
			name:     "mixed commas and conjunctions",
			input:    "add sunglasses and a cigar, make the hat red",
			strategy: StrategyMultiStep,
			want:     []string{"added sunglasses", "added cigar", "changed hat color to red"},
		},
		{
			name:     "color pair stays together",
			input:    "make the scarf black and white",
			strategy: StrategyStructuredPrompt,
			want:     []string{"changed scarf color to black-and-white"},
		},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := p.Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, plan.Strategy)
			if diff := cmp.Diff(tt.want, plan.Descriptions()); diff != "" {
				t.Errorf("operations mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseAdditionsPerNoun(t *testing.T) {
	plan, err := Parse("add sunglasses and a cigar")
	require.NoError(t, err)
	require.Len(t, plan.Operations, 2)

	for i, item := range []string{"sunglasses", "cigar"} {
		add, ok := plan.Operations[i].(*Addition)
		require.True(t, ok, "operation %d is %T", i, plan.Operations[i])
		assert.Equal(t, item, add.Item)
		assert.Equal(t, SpecificityHigh, add.Specificity())
	}
}

func TestParseEmptyInstruction(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n", "...", "@@@", ", ;", "#$%"} {
		_, err := Parse(input)
		assert.ErrorIs(t, err, refinererrors.ErrEmptyInstruction, "input %q", input)
	}
}

func TestParseKeepsBackground(t *testing.T) {
	tests := []struct {
		input string
		items []string
	}{
		{"keep the background and add a hat", []string{"hat"}},
		{"add a hat but keep the same background", []string{"hat"}},
		{"leave the background alone", nil},
		{"don't change the background", nil},
		{"put sunglasses on him, the background should stay the same", []string{"sunglasses"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			plan, err := Parse(tt.input)
			require.NoError(t, err)

			_, hasBg := plan.BackgroundOperation()
			assert.False(t, hasBg)
			assert.NotEmpty(t, plan.Diagnostics.Preserved)
			assert.Empty(t, plan.Diagnostics.Dropped)

			var items []string
			for _, op := range plan.Operations {
				if add, ok := op.(*Addition); ok {
					items = append(items, add.Item)
				}
			}
			assert.Equal(t, tt.items, items)
			assert.Len(t, plan.Operations, len(tt.items))
		})
	}
}

func TestParseLastWins(t *testing.T) {
	plan, err := Parse("make it red, actually make it blue")
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)

	cc, ok := plan.Operations[0].(*ColorChange)
	require.True(t, ok)
	assert.Equal(t, "blue", cc.NewColor)
	assert.True(t, cc.ConflictResolved)
	assert.Equal(t, []string{"make it red"}, cc.Overridden)
	assert.True(t, plan.ConflictsResolved)
	assert.Equal(t, 2, plan.Diagnostics.OperationsDetected)
}

func TestParseAdditionThenColorMerges(t *testing.T) {
	plan, err := Parse("add a hat and make it red")
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)

	add, ok := plan.Operations[0].(*Addition)
	require.True(t, ok, "got %T", plan.Operations[0])
	assert.Equal(t, "hat", add.Item)
	assert.Equal(t, "red hat", add.Detail)
	assert.True(t, add.ConflictResolved)
	assert.Equal(t, StrategyStructuredPrompt, plan.Strategy)
}

func TestParseRecovery(t *testing.T) {
	tests := []struct {
		input string
		kind  Kind
		want  string
	}{
		{"remvoe the hat", KindRemoval, "removed hat"},
		{"adding a scarf", KindAddition, "added scarf"},
		{"more dramatic lighting", KindGeneralEdit, "applied edit: more dramatic lighting"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			plan, err := Parse(tt.input)
			require.NoError(t, err)
			require.Len(t, plan.Operations, 1)
			op := plan.Operations[0]
			assert.Equal(t, tt.kind, op.Kind())
			assert.Equal(t, tt.want, op.Describe())
			assert.True(t, SourceOf(op).Recovered)
			assert.Equal(t, tt.input, SourceOf(op).Phrase)
			assert.Len(t, plan.Diagnostics.Recovered, 1)
		})
	}
}

func TestParseDroppedPhraseDoesNotAbort(t *testing.T) {
	plan, err := Parse("add a hat and it")
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, "added hat", plan.Operations[0].Describe())

	require.Len(t, plan.Diagnostics.Dropped, 1)
	assert.Equal(t, "it", plan.Diagnostics.Dropped[0].Phrase)
	assert.Equal(t, ReasonNoIntent, plan.Diagnostics.Dropped[0].Reason)

	err = plan.Diagnostics.Err()
	assert.ErrorIs(t, err, refinererrors.ErrUnparseableInstruction)
	var unparseable *refinererrors.UnparseableError
	require.True(t, errors.As(err, &unparseable))
	assert.Equal(t, "it", unparseable.Phrase)
}

func TestParseIsDeterministic(t *testing.T) {
	const input = "change the background to the beach, add a gold chain and remove the glasses"
	first, err := Parse(input)
	require.NoError(t, err)
	second, err := NewParser().Parse(input)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestPlanMarshalTagsKinds(t *testing.T) {
	plan, err := Parse("add a gold chain and remove the background")
	require.NoError(t, err)

	data, err := json.Marshal(plan)
	require.NoError(t, err)

	var decoded struct {
		Strategy   string                   `json:"strategy"`
		Operations []map[string]interface{} `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, string(StrategyBackgroundRemoval), decoded.Strategy)
	require.Len(t, decoded.Operations, 2)
	assert.Equal(t, "addition", decoded.Operations[0]["kind"])
	assert.Equal(t, "chain", decoded.Operations[0]["item"])
	assert.Equal(t, "gold chain", decoded.Operations[0]["detail"])
	assert.Equal(t, "high", decoded.Operations[0]["specificity"])
	assert.Equal(t, "removal", decoded.Operations[1]["kind"])
	assert.Equal(t, "background", decoded.Operations[1]["target"])
}

func TestParserBackgroundOperation(t *testing.T) {
	p := NewParser()

	op, ok := p.BackgroundOperation("add a hat and change the background to space")
	require.True(t, ok)
	bc, isChange := op.(*BackgroundChange)
	require.True(t, isChange)
	assert.Equal(t, "a starry outer space scene with distant galaxies", bc.Description)

	_, ok = p.BackgroundOperation("add a hat")
	assert.False(t, ok)
}
