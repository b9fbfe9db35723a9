package scene

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/dotcommander/refiner/internal/domain"
	"github.com/dotcommander/refiner/internal/instruction"
	"github.com/dotcommander/refiner/internal/vocab"
)

// Applier patches a prior scene prompt with a refinement plan.
type Applier struct {
	cat    *vocab.Catalog
	colors *regexp.Regexp
	logger *slog.Logger
}

// Option configures an Applier
type Option func(*Applier)

// WithLogger sets the applier's logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Applier) {
		a.logger = logger
	}
}

// NewApplier creates an applier drawing object templates and colors from cat.
func NewApplier(cat *vocab.Catalog, opts ...Option) *Applier {
	words := make([]string, 0, len(cat.Colors))
	for _, c := range vocab.LongestFirst(cat.Colors) {
		words = append(words, regexp.QuoteMeta(c))
	}
	a := &Applier{
		cat:    cat,
		colors: regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)(?:-and-\w+)?\b`),
		logger: slog.Default().With("component", "scene_applier"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply returns a patched copy of prior; prior itself is not modified. state is the background
// state after the instruction was recorded, and decides the background whenever the plan does
// not touch it.
func (a *Applier) Apply(prior *Prompt, plan *instruction.Plan, state domain.BackgroundState) *Prompt {
	if prior == nil {
		prior = &Prompt{}
	}
	p := prior.Clone()
	backgroundSet := false

	for _, op := range plan.Operations {
		switch o := op.(type) {
		case *instruction.Addition:
			p.AppendObject(a.objectFor(o))
		case *instruction.ColorChange:
			a.recolor(p, o)
		case *instruction.BackgroundChange:
			p.SetBackground(o.Description)
			p.ExplicitBackground = true
			backgroundSet = true
		case *instruction.Removal:
			if o.IsBackgroundRemoval() {
				p.SetBackground(domain.TransparentBackground)
				p.ExplicitBackground = false
				backgroundSet = true
				continue
			}
			if n := p.RemoveObjects(Mentions(o.TargetNoun)); n == 0 {
				a.logger.Debug("removal matched no object", "target", o.TargetNoun)
			}
		case *instruction.TextureAddition:
			p.AppendObject(textureObject(o))
		default:
			a.logger.Info("applied as general edit", "kind", op.Kind(), "phrase", instruction.SourceOf(op).Phrase)
			p.AppendObject(Object{Description: generalText(op), RelativeSize: "varies"})
		}
	}

	if !backgroundSet {
		p.SetBackground(state.PromptBackground())
		p.ExplicitBackground = state.Kind == domain.BackgroundExplicit
	}
	p.ShortDescription = Summarize(p.ShortDescription, plan.Descriptions(), p.Background)
	return p
}

func (a *Applier) objectFor(add *instruction.Addition) Object {
	obj := Object{Description: withArticle(firstNonEmpty(add.Detail, add.Item)), RelativeSize: "small"}
	if tmpl, ok := a.cat.Template(add.Item); ok {
		obj = Object{
			Description:   tmpl.Description,
			Location:      tmpl.Location,
			RelativeSize:  tmpl.RelativeSize,
			ShapeAndColor: tmpl.ShapeAndColor,
			Texture:       tmpl.Texture,
		}
		if add.Detail != "" {
			obj.Description = withArticle(add.Detail)
			obj.AppearanceDetails = tmpl.Description
			if color := a.colors.FindString(add.Detail); color != "" {
				obj.ShapeAndColor = a.paint(obj.ShapeAndColor, color)
			}
		}
	}
	if add.Location != "" {
		obj.Location = "on the " + add.Location
	}
	return obj
}

func (a *Applier) recolor(p *Prompt, cc *instruction.ColorChange) {
	rewrite := func(o *Object) {
		o.ShapeAndColor = a.paint(o.ShapeAndColor, cc.NewColor)
		if a.colors.MatchString(o.Description) {
			o.Description = a.colors.ReplaceAllString(o.Description, cc.NewColor)
		} else {
			o.Description = insertBefore(o.Description, cc.TargetNoun, cc.NewColor)
		}
	}

	if isReferent(cc.TargetNoun) {
		if len(p.Objects) > 0 {
			rewrite(&p.Objects[0])
			return
		}
	} else if p.RewriteObjects(Mentions(cc.TargetNoun), rewrite) > 0 {
		return
	}
	p.AppendObject(Object{
		Description:   withArticle(cc.NewColor + " " + cc.TargetNoun),
		ShapeAndColor: cc.NewColor,
		RelativeSize:  "medium",
	})
}

// paint replaces the color words of a field, or prefixes the color when it has none.
func (a *Applier) paint(field, color string) string {
	if field == "" {
		return color
	}
	if a.colors.MatchString(field) {
		return a.colors.ReplaceAllString(field, color)
	}
	return color + " " + field
}

func textureObject(t *instruction.TextureAddition) Object {
	obj := Object{
		Description:  fmt.Sprintf("%s texture effect", t.Texture),
		RelativeSize: "small",
		Texture:      t.Texture,
	}
	if t.TargetNoun != "" {
		obj.Description = fmt.Sprintf("%s texture on the %s", t.Texture, t.TargetNoun)
		obj.Location = "on the " + t.TargetNoun
	}
	return obj
}

func generalText(op instruction.Operation) string {
	if g, ok := op.(*instruction.GeneralEdit); ok {
		return g.RawText
	}
	return op.Describe()
}

func isReferent(noun string) bool {
	switch noun {
	case "it", "them", "this", "that", "one":
		return true
	}
	return false
}

// insertBefore puts word in front of the first whole-word occurrence of noun, or in front of s.
func insertBefore(s, noun, word string) string {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(noun))
	if loc := re.FindStringIndex(s); loc != nil {
		return s[:loc[0]] + word + " " + s[loc[0]:]
	}
	return word + " " + s
}

func withArticle(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		return s
	case strings.ContainsRune("aeiou", rune(s[0])):
		return "an " + s
	}
	return "a " + s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
