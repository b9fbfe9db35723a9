package instruction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/refiner/internal/vocab"
)

func TestExtractBackgroundDescription(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"make the background snowfall", "a winter scene with gentle snowfall in the background"},
		{"change the background to the beach", "a sunny tropical beach with white sand and turquoise water"},
		{"add a forest background", "a dense green forest with tall trees and dappled sunlight"},
		{"background of neon lights", "a neon-lit cyberpunk city street at night"},
		{"city lights behind him", "a bustling city skyline with tall buildings"},
		{"cyberpunk theme", "a neon-lit cyberpunk city street at night"},
		{"snowy mountains background", "a winter scene with gentle snowfall in the background"},
		{"make the background a haunted castle", "a haunted castle background scene"},
		{"change the background color to blue", "a blue background scene"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ExtractBackgroundDescription(tt.input)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractBackgroundRejectsInvalid(t *testing.T) {
	for _, input := range []string{
		"make the background it",
		"add a hat background",
		"change the background",
		"add sunglasses",
		"keep the background",
		"keep background",
		"leave the background alone",
		"add a hat but keep the same background",
		"don't change the background",
	} {
		_, ok := ExtractBackgroundDescription(input)
		assert.False(t, ok, "input %q", input)
	}
}

func TestEnrichBackgroundIsDeterministic(t *testing.T) {
	for i := 0; i < 5; i++ {
		assert.Equal(t, "a calm night sky with a bright full moon", EnrichBackground("the night"))
	}
	assert.Equal(t, "a volcano island background scene", EnrichBackground("volcano island"),
		"text containing no catalog key stays generic")
	assert.Equal(t, "a deep blue ocean with rolling waves", EnrichBackground("underwater volcano"))
}

func TestIsBackgroundOperation(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"make the background snowfall", true},
		{"change the background to forest and add a chain", true},
		{"set the backdrop to a beach", true},
		{"add a city background", true},
		{"remove the background", true},
		{"get rid of the background please", true},
		{"no background", true},
		{"transparent background", true},
		{"add sunglasses and a hat", false},
		{"the background looks nice", false},
		{"make the hat red", false},
		{"keep the background and add a hat", false},
		{"add a hat but keep the same background", false},
		{"leave the background alone", false},
		{"don't change the background", false},
		{"do not remove the backdrop", false},
		{"the background should stay the same, add a hat", false},
		{"keep the hat but change the background to a beach", true},
		{"leave the background transparent", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBackgroundOperation(tt.input))
		})
	}
}

func TestIsBackgroundRemoval(t *testing.T) {
	e := NewBackgroundExtractor(vocab.Default())
	assert.True(t, e.IsBackgroundRemoval("Remove the background"))
	assert.True(t, e.IsBackgroundRemoval("make the background transparent"))
	assert.True(t, e.IsBackgroundRemoval("erase his backdrop"))
	assert.False(t, e.IsBackgroundRemoval("change the background to space"))
	assert.False(t, e.IsBackgroundRemoval("remove the hat"))
	assert.False(t, e.IsBackgroundRemoval("don't remove the background"))
	assert.True(t, e.IsBackgroundRemoval("leave the background transparent"))
}

func TestBackgroundCandidateNeedsScene(t *testing.T) {
	e := NewBackgroundExtractor(vocab.Default())
	for _, cand := range []string{"keep", "leave", "keep same", "change", "it"} {
		assert.False(t, e.valid(cand), "candidate %q", cand)
	}
	for _, cand := range []string{"forest", "neon city", "paint splatter"} {
		assert.True(t, e.valid(cand), "candidate %q", cand)
	}
}

func TestIsBackgroundPreservation(t *testing.T) {
	assert.True(t, IsBackgroundPreservation("Keep the background."))
	assert.True(t, IsBackgroundPreservation("use the same background"))
	assert.True(t, IsBackgroundPreservation("Don’t change the background"))
	assert.True(t, IsBackgroundPreservation("background remains unchanged"))
	assert.False(t, IsBackgroundPreservation("change the background to a beach"))
	assert.False(t, IsBackgroundPreservation("leave the background transparent"))
}
