// Package vocab holds the curated word lists, background synonym table and object templates
// that drive instruction classification and prompt enrichment.
package vocab

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Verbs groups action verbs by the operation family they introduce.
type Verbs struct {
	Addition     []string `yaml:"addition" validate:"required,min=1"`
	Removal      []string `yaml:"removal" validate:"required,min=1"`
	Color        []string `yaml:"color" validate:"required,min=1"`
	General      []string `yaml:"general"`
	NonSplitting []string `yaml:"non_splitting"`
}

// Specificity lists item nouns that raise the specificity of an addition.
type Specificity struct {
	VeryHigh []string `yaml:"very_high"`
	High     []string `yaml:"high"`
}

// Texture is one high-specificity texture keyword and the surface forms that signal it.
type Texture struct {
	Name  string   `yaml:"name" validate:"required"`
	Forms []string `yaml:"forms" validate:"required,min=1"`
}

// Background is one entry of the synonym table used to enrich background descriptions.
type Background struct {
	Name        string   `yaml:"name" validate:"required"`
	Keys        []string `yaml:"keys" validate:"required,min=1"`
	Description string   `yaml:"description" validate:"required"`
}

// Template seeds the object descriptor synthesized for an added item.
type Template struct {
	Description   string `yaml:"description" validate:"required"`
	Location      string `yaml:"location"`
	RelativeSize  string `yaml:"relative_size"`
	ShapeAndColor string `yaml:"shape_and_color"`
	Texture       string `yaml:"texture"`
}

// Catalog is the full enrichment vocabulary.
type Catalog struct {
	Verbs           Verbs               `yaml:"verbs" validate:"required"`
	BackgroundVerbs []string            `yaml:"background_verbs" validate:"required,min=1"`
	Conjunctions    []string            `yaml:"conjunctions" validate:"required,min=1"`
	Articles        []string            `yaml:"articles"`
	Fillers         []string            `yaml:"fillers"`
	Pronouns        []string            `yaml:"pronouns"`
	Prepositions    []string            `yaml:"prepositions"`
	Stopwords       []string            `yaml:"stopwords"`
	Colors          []string            `yaml:"colors" validate:"required,min=1"`
	ColorModifiers  []string            `yaml:"color_modifiers"`
	Items           []string            `yaml:"items" validate:"required,min=1"`
	Accessories     []string            `yaml:"accessories"`
	Specificity     Specificity         `yaml:"specificity"`
	Textures        []Texture           `yaml:"textures" validate:"dive"`
	TextureTargets  []string            `yaml:"texture_targets"`
	Backgrounds     []Background        `yaml:"backgrounds" validate:"dive"`
	Templates       map[string]Template `yaml:"templates" validate:"dive"`

	sets map[string]map[string]struct{}
}

// Default returns the embedded catalog.
func Default() *Catalog {
	cat, err := Parse(defaultYAML)
	if err != nil {
		// the embedded file is covered by tests
		panic(fmt.Sprintf("vocab: embedded catalog invalid: %v", err))
	}
	return cat
}

// Parse decodes and validates a catalog document
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parsing vocabulary: %w", err)
	}
	if err := cat.validate(); err != nil {
		return nil, err
	}
	cat.index()
	return &cat, nil
}

// Load returns the default catalog extended by the file at path. An empty path yields the defaults.
func Load(path string) (*Catalog, error) {
	base := Default()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary file: %w", err)
	}

	var overlay Catalog
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("parsing vocabulary file: %w", err)
	}

	merged := base.Merge(&overlay)
	if err := merged.validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *Catalog) validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("vocabulary validation failed: %w", err)
	}
	return nil
}

// Merge returns a new catalog with overlay applied: word lists are unioned, backgrounds and
// templates with the same name replace the base entry, new ones are appended.
func (c *Catalog) Merge(overlay *Catalog) *Catalog {
	out := &Catalog{
		Verbs: Verbs{
			Addition:     union(c.Verbs.Addition, overlay.Verbs.Addition),
			Removal:      union(c.Verbs.Removal, overlay.Verbs.Removal),
			Color:        union(c.Verbs.Color, overlay.Verbs.Color),
			General:      union(c.Verbs.General, overlay.Verbs.General),
			NonSplitting: union(c.Verbs.NonSplitting, overlay.Verbs.NonSplitting),
		},
		BackgroundVerbs: union(c.BackgroundVerbs, overlay.BackgroundVerbs),
		Conjunctions:    union(c.Conjunctions, overlay.Conjunctions),
		Articles:        union(c.Articles, overlay.Articles),
		Fillers:         union(c.Fillers, overlay.Fillers),
		Pronouns:        union(c.Pronouns, overlay.Pronouns),
		Prepositions:    union(c.Prepositions, overlay.Prepositions),
		Stopwords:       union(c.Stopwords, overlay.Stopwords),
		Colors:          union(c.Colors, overlay.Colors),
		ColorModifiers:  union(c.ColorModifiers, overlay.ColorModifiers),
		Items:           union(c.Items, overlay.Items),
		Accessories:     union(c.Accessories, overlay.Accessories),
		Specificity: Specificity{
			VeryHigh: union(c.Specificity.VeryHigh, overlay.Specificity.VeryHigh),
			High:     union(c.Specificity.High, overlay.Specificity.High),
		},
		TextureTargets: union(c.TextureTargets, overlay.TextureTargets),
		Templates:      make(map[string]Template, len(c.Templates)+len(overlay.Templates)),
	}

	out.Textures = append(out.Textures, c.Textures...)
	for _, tex := range overlay.Textures {
		if i := indexTexture(out.Textures, tex.Name); i >= 0 {
			out.Textures[i] = tex
			continue
		}
		out.Textures = append(out.Textures, tex)
	}

	out.Backgrounds = append(out.Backgrounds, c.Backgrounds...)
	for _, bg := range overlay.Backgrounds {
		if i := indexBackground(out.Backgrounds, bg.Name); i >= 0 {
			out.Backgrounds[i] = bg
			continue
		}
		out.Backgrounds = append(out.Backgrounds, bg)
	}

	for name, tmpl := range c.Templates {
		out.Templates[name] = tmpl
	}
	for name, tmpl := range overlay.Templates {
		out.Templates[strings.ToLower(name)] = tmpl
	}

	out.index()
	return out
}

const (
	setAdditionVerbs   = "addition_verbs"
	setRemovalVerbs    = "removal_verbs"
	setColorVerbs      = "color_verbs"
	setActionVerbs     = "action_verbs"
	setBackgroundVerbs = "background_verbs"
	setNonSplitting    = "non_splitting"
	setConjunctions    = "conjunctions"
	setArticles        = "articles"
	setFillers         = "fillers"
	setPronouns        = "pronouns"
	setPrepositions    = "prepositions"
	setStopwords       = "stopwords"
	setColors          = "colors"
	setColorModifiers  = "color_modifiers"
	setItems           = "items"
	setAccessories     = "accessories"
	setVeryHigh        = "very_high"
	setHigh            = "high"
	setTextureTargets  = "texture_targets"
)

func (c *Catalog) index() {
	c.sets = map[string]map[string]struct{}{
		setAdditionVerbs:   toSet(c.Verbs.Addition),
		setRemovalVerbs:    toSet(c.Verbs.Removal),
		setColorVerbs:      toSet(c.Verbs.Color),
		setActionVerbs:     toSet(c.ActionVerbs()),
		setBackgroundVerbs: toSet(c.BackgroundVerbs),
		setNonSplitting:    toSet(c.Verbs.NonSplitting),
		setConjunctions:    toSet(c.Conjunctions),
		setArticles:        toSet(c.Articles),
		setFillers:         toSet(c.Fillers),
		setPronouns:        toSet(c.Pronouns),
		setPrepositions:    toSet(c.Prepositions),
		setStopwords:       toSet(c.Stopwords),
		setColors:          toSet(c.Colors),
		setColorModifiers:  toSet(c.ColorModifiers),
		setItems:           toSet(c.Items),
		setAccessories:     toSet(c.Accessories),
		setVeryHigh:        toSet(c.Specificity.VeryHigh),
		setHigh:            toSet(c.Specificity.High),
		setTextureTargets:  toSet(c.TextureTargets),
	}
}

func (c *Catalog) has(set, word string) bool {
	if c.sets == nil {
		c.index()
	}
	_, ok := c.sets[set][word]
	return ok
}

// ActionVerbs returns every recognized action verb, longest first so multi-word verbs match before their prefixes.
func (c *Catalog) ActionVerbs() []string {
	verbs := union(union(union(c.Verbs.Addition, c.Verbs.Removal), c.Verbs.Color), c.Verbs.General)
	return LongestFirst(verbs)
}

// SplittingVerbs are the action verbs that may start a new span in a run-on instruction.
func (c *Catalog) SplittingVerbs() []string {
	var out []string
	for _, v := range c.ActionVerbs() {
		if !c.has(setNonSplitting, v) {
			out = append(out, v)
		}
	}
	return out
}

func (c *Catalog) IsActionVerb(w string) bool { return c.has(setActionVerbs, w) }
func (c *Catalog) IsAdditionVerb(w string) bool { return c.has(setAdditionVerbs, w) }
func (c *Catalog) IsRemovalVerb(w string) bool { return c.has(setRemovalVerbs, w) }
func (c *Catalog) IsColorVerb(w string) bool { return c.has(setColorVerbs, w) }
func (c *Catalog) IsBackgroundVerb(w string) bool { return c.has(setBackgroundVerbs, w) }
func (c *Catalog) IsConjunction(w string) bool { return c.has(setConjunctions, w) }
func (c *Catalog) IsArticle(w string) bool { return c.has(setArticles, w) }
func (c *Catalog) IsFiller(w string) bool { return c.has(setFillers, w) }
func (c *Catalog) IsPronoun(w string) bool { return c.has(setPronouns, w) }
func (c *Catalog) IsPreposition(w string) bool { return c.has(setPrepositions, w) }
func (c *Catalog) IsStopword(w string) bool { return c.has(setStopwords, w) }
func (c *Catalog) IsColor(w string) bool { return c.has(setColors, w) }
func (c *Catalog) IsColorModifier(w string) bool { return c.has(setColorModifiers, w) }
func (c *Catalog) IsItem(w string) bool { return c.has(setItems, w) }
func (c *Catalog) IsAccessory(w string) bool { return c.has(setAccessories, w) }
func (c *Catalog) IsVeryHigh(w string) bool { return c.has(setVeryHigh, w) }
func (c *Catalog) IsHigh(w string) bool { return c.has(setHigh, w) }
func (c *Catalog) IsTextureTarget(w string) bool { return c.has(setTextureTargets, w) }

// IsContentWord reports whether w carries meaning on its own.
func (c *Catalog) IsContentWord(w string) bool {
	if len(w) < 3 {
		return false
	}
	return !c.IsStopword(w) && !c.IsFiller(w) && !c.IsPronoun(w) && !c.IsArticle(w) &&
		!c.IsConjunction(w) && !c.IsPreposition(w)
}

// Template returns the object template registered for item
func (c *Catalog) Template(item string) (Template, bool) {
	tmpl, ok := c.Templates[strings.ToLower(item)]
	return tmpl, ok
}

// TextureForm maps a surface form to its canonical texture keyword.
func (c *Catalog) TextureForm(form string) (string, bool) {
	for _, tex := range c.Textures {
		for _, f := range tex.Forms {
			if f == form {
				return tex.Name, true
			}
		}
	}
	return "", false
}

// TextureForms returns every texture surface form, longest first.
func (c *Catalog) TextureForms() []string {
	var forms []string
	for _, tex := range c.Textures {
		forms = append(forms, tex.Forms...)
	}
	return LongestFirst(forms)
}

// LongestFirst sorts a copy of words by descending length, then alphabetically.
func LongestFirst(words []string) []string {
	out := append([]string(nil), words...)
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return set
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, w := range list {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func indexTexture(list []Texture, name string) int {
	for i, t := range list {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func indexBackground(list []Background, name string) int {
	for i, b := range list {
		if b.Name == name {
			return i
		}
	}
	return -1
}
