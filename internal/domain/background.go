package domain

import (
	"fmt"
	"strings"
	"time"
)

// TransparentBackground is the description used whenever no background is in effect.
const TransparentBackground = "transparent"

// BackgroundKind enumerates the states of the background machine.
type BackgroundKind string

const (
	BackgroundDefault  BackgroundKind = "default"
	BackgroundExplicit BackgroundKind = "explicit"
	BackgroundInferred BackgroundKind = "inferred"
	BackgroundRemoved  BackgroundKind = "removed"
)

// Valid reports whether k is one of the known kinds
func (k BackgroundKind) Valid() bool {
	switch k {
	case BackgroundDefault, BackgroundExplicit, BackgroundInferred, BackgroundRemoved:
		return true
	}
	return false
}

// BackgroundState is the canonical background intent of one image.
type BackgroundState struct {
	Kind                      BackgroundKind `json:"kind"`
	Description               string         `json:"description"`
	IsExplicitlySet           bool           `json:"is_explicitly_set"`
	PreserveAcrossRefinements bool           `json:"preserve_across_refinements"`
	ExplicitlyRemoved         bool           `json:"explicitly_removed,omitempty"`
	ReplacedPrevious          bool           `json:"replaced_previous,omitempty"`
	SetAt                     time.Time      `json:"set_at"`
}

// DefaultBackground returns the state of a freshly generated image.
func DefaultBackground(at time.Time) BackgroundState {
	return BackgroundState{
		Kind:                      BackgroundDefault,
		Description:               TransparentBackground,
		PreserveAcrossRefinements: true,
		SetAt:                     at,
	}
}

// ExplicitBackground returns the state produced by a background instruction.
func ExplicitBackground(description string, replaced bool, at time.Time) BackgroundState {
	return BackgroundState{
		Kind:                      BackgroundExplicit,
		Description:               description,
		IsExplicitlySet:           true,
		PreserveAcrossRefinements: true,
		ReplacedPrevious:          replaced,
		SetAt:                     at,
	}
}

// RemovedBackground returns the state produced by an explicit background removal.
func RemovedBackground(at time.Time) BackgroundState {
	return BackgroundState{
		Kind:                      BackgroundRemoved,
		Description:               TransparentBackground,
		IsExplicitlySet:           true,
		PreserveAcrossRefinements: true,
		ExplicitlyRemoved:         true,
		SetAt:                     at,
	}
}

// InferredBackground seeds a chain from a prior prompt whose background was never set by the user.
func InferredBackground(description string, at time.Time) BackgroundState {
	return BackgroundState{
		Kind:                      BackgroundInferred,
		Description:               description,
		PreserveAcrossRefinements: true,
		SetAt:                     at,
	}
}

// PromptBackground is the value written into a structured prompt's background field.
func (s BackgroundState) PromptBackground() string {
	switch s.Kind {
	case BackgroundDefault, BackgroundRemoved:
		return TransparentBackground
	}
	if strings.TrimSpace(s.Description) == "" {
		return TransparentBackground
	}
	return s.Description
}

// IsTransparent reports whether the image should render without a background
func (s BackgroundState) IsTransparent() bool {
	return s.PromptBackground() == TransparentBackground
}

// Same compares the semantic fields of two states, ignoring SetAt.
func (s BackgroundState) Same(other BackgroundState) bool {
	a, b := s, other
	a.SetAt, b.SetAt = time.Time{}, time.Time{}
	return a == b
}

func (s BackgroundState) String() string {
	return fmt.Sprintf("%s(%s)", s.Kind, s.Description)
}
