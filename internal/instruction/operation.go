package instruction

import "fmt"

// Kind identifies the variant of an Operation.
type Kind string

const (
	KindAddition         Kind = "addition"
	KindColorChange      Kind = "color_change"
	KindBackgroundChange Kind = "background_change"
	KindRemoval          Kind = "removal"
	KindTextureAddition  Kind = "texture_addition"
	KindGeneralEdit      Kind = "general_edit"
)

// Specificity is a routing signal for strategy selection, not a semantic property of the edit.
type Specificity int

const (
	SpecificityLow Specificity = iota
	SpecificityMedium
	SpecificityHigh
	SpecificityVeryHigh
)

func (s Specificity) String() string {
	switch s {
	case SpecificityMedium:
		return "medium"
	case SpecificityHigh:
		return "high"
	case SpecificityVeryHigh:
		return "very_high"
	default:
		return "low"
	}
}

func (s Specificity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BackgroundTarget is the singleton target shared by every background operation.
const BackgroundTarget = "background"

// UnknownTarget is the target of operations that never conflict.
const UnknownTarget = "unknown"

// Source records where an operation came from and how the resolver treated it.
type Source struct {
	Phrase           string   `json:"phrase"`
	Recovered        bool     `json:"recovered,omitempty"`
	ConflictResolved bool     `json:"conflict_resolved,omitempty"`
	Overridden       []string `json:"overridden,omitempty"`
}

func (s *Source) source() *Source { return s }

// Operation is one structured edit extracted from instruction text.
type Operation interface {
	Kind() Kind
	// Target is the visual element the operation acts on; operations sharing a target conflict.
	Target() string
	Specificity() Specificity
	Describe() string
	source() *Source
}

// SourceOf exposes the provenance of op.
func SourceOf(op Operation) Source {
	return *op.source()
}

// Addition adds a new item to the image.
type Addition struct {
	Source
	Item     string      `json:"item"`
	Detail   string      `json:"detail,omitempty"`
	Location string      `json:"location,omitempty"`
	Level    Specificity `json:"specificity"`
}

func (a *Addition) Kind() Kind { return KindAddition }
func (a *Addition) Target() string { return a.Item }
func (a *Addition) Specificity() Specificity { return a.Level }

func (a *Addition) Describe() string {
	what := a.Detail
	if what == "" {
		what = a.Item
	}
	if a.Location != "" {
		return fmt.Sprintf("added %s on the %s", what, a.Location)
	}
	return "added " + what
}

// ColorChange recolors an existing element.
type ColorChange struct {
	Source
	TargetNoun string `json:"target"`
	NewColor   string `json:"new_color"`
}

func (c *ColorChange) Kind() Kind { return KindColorChange }
func (c *ColorChange) Target() string { return c.TargetNoun }
func (c *ColorChange) Specificity() Specificity { return SpecificityHigh }
func (c *ColorChange) Describe() string {
	return fmt.Sprintf("changed %s color to %s", c.TargetNoun, c.NewColor)
}

// BackgroundChange replaces the background with an enriched description.
type BackgroundChange struct {
	Source
	Description string `json:"description"`
}

func (b *BackgroundChange) Kind() Kind { return KindBackgroundChange }
func (b *BackgroundChange) Target() string { return BackgroundTarget }
func (b *BackgroundChange) Specificity() Specificity { return SpecificityMedium }
func (b *BackgroundChange) Describe() string { return "set background to " + b.Description }

// Removal deletes an element; a Removal of the background is an explicit background removal.
type Removal struct {
	Source
	TargetNoun string `json:"target"`
}

func (r *Removal) Kind() Kind { return KindRemoval }
func (r *Removal) Target() string { return r.TargetNoun }
func (r *Removal) Specificity() Specificity { return SpecificityHigh }
func (r *Removal) Describe() string { return "removed " + r.TargetNoun }

// IsBackgroundRemoval reports whether the removal targets the background.
func (r *Removal) IsBackgroundRemoval() bool { return r.TargetNoun == BackgroundTarget }

// TextureAddition applies a localized surface effect.
type TextureAddition struct {
	Source
	Texture    string `json:"texture"`
	TargetNoun string `json:"target,omitempty"`
}

func (t *TextureAddition) Kind() Kind { return KindTextureAddition }
func (t *TextureAddition) Target() string { return UnknownTarget }
func (t *TextureAddition) Specificity() Specificity { return SpecificityVeryHigh }
func (t *TextureAddition) Describe() string {
	if t.TargetNoun != "" {
		return fmt.Sprintf("added %s texture on the %s", t.Texture, t.TargetNoun)
	}
	return fmt.Sprintf("added %s texture", t.Texture)
}

// GeneralEdit carries text no specific rule recognized.
type GeneralEdit struct {
	Source
	RawText string `json:"raw_text"`
}

func (g *GeneralEdit) Kind() Kind { return KindGeneralEdit }
func (g *GeneralEdit) Target() string { return UnknownTarget }
func (g *GeneralEdit) Specificity() Specificity { return SpecificityLow }
func (g *GeneralEdit) Describe() string { return "applied edit: " + g.RawText }

// IsBackgroundOp reports whether op changes or removes the background.
func IsBackgroundOp(op Operation) bool {
	switch o := op.(type) {
	case *BackgroundChange:
		return true
	case *Removal:
		return o.IsBackgroundRemoval()
	}
	return false
}
