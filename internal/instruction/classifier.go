package instruction

import (
	"regexp"
	"strings"

	"github.com/dotcommander/refiner/internal/vocab"
)

// Rule names, in the order the classifier tries them.
const (
	RuleBackgroundRemoval = "background_removal"
	RuleBackground        = "background"
	RuleColor             = "color"
	RuleAddition          = "addition"
	RuleRemoval           = "removal"
	RuleTexture           = "texture"
)

type rule struct {
	name  string
	match func(phrase string) (Operation, bool)
}

// Classifier maps a phrase to exactly one Operation using an ordered rule list.
type Classifier struct {
	cat   *vocab.Catalog
	bg    *BackgroundExtractor
	rules []rule

	verbs     [][]string
	color     *regexp.Regexp
	addition  *regexp.Regexp
	wear      *regexp.Regexp
	location  *regexp.Regexp
	removal   *regexp.Regexp
	texture   *regexp.Regexp
	proximity *regexp.Regexp
	owners    *regexp.Regexp
}

// NewClassifier compiles the rule list against cat.
func NewClassifier(cat *vocab.Catalog) *Classifier {
	c := &Classifier{cat: cat, bg: NewBackgroundExtractor(cat)}
	for _, v := range cat.ActionVerbs() {
		c.verbs = append(c.verbs, strings.Fields(v))
	}

	const owner = `(?:(?:the|his|her|its|their|my|your|this|that)\s+)?`
	colors := alternation(cat.Colors)
	shade := `(?:(?:` + alternation(cat.ColorModifiers) + `)\s+)?(?:` + colors + `)(?:-and-(?:` + colors + `))?`
	prepositions := `on|onto|to|in|into|at|around|over|under|behind|near|above|below|across`

	c.color = regexp.MustCompile(`^(?:` + alternation(cat.Verbs.Color) + `)\s+` + owner +
		`(?P<target>.+?)(?:'s)?(?:\s+colou?rs?)?\s+(?:(?:to|into|as)\s+)?(?:be\s+)?(?:(?:a|an)\s+)?(?P<color>` +
		shade + `)(?:\s+colou?r)?$`)
	c.addition = regexp.MustCompile(`^(?:` + alternation(cat.Verbs.Addition) + `)\s+(?:(?:him|her|it|them|me)\s+)?(?:on\s+)?(?P<rest>.+)$`)
	c.wear = regexp.MustCompile(`^(?:make|have|let|get)\s+(?:him|her|it|them|the\s+\w+)\s+(?:wear|hold|have|wearing|holding)\s+(?P<rest>.+)$`)
	c.location = regexp.MustCompile(`^(?P<item>.+?)\s+(?:` + prepositions + `)\s+` + owner + `(?P<loc>.+)$`)
	c.removal = regexp.MustCompile(`^(?:` + alternation(cat.Verbs.Removal) + `)\s+(?:(?:the|his|her|its|their|my|your|this|that|a|an|all)\s+)?` +
		`(?P<target>.+?)(?:\s+(?:from|off)\s+.+)?$`)
	c.texture = regexp.MustCompile(`\b(?:` + alternation(cat.TextureForms()) + `)\b`)
	c.proximity = regexp.MustCompile(`\b(?:` + prepositions + `|from)\s+` + owner + `(?:(?:a|an)\s+)?(?P<target>[a-z]+)`)
	c.owners = regexp.MustCompile(`^(?:(?:a|an|the|some|his|her|its|their|my|your|pair of|set of)\s+)+`)

	c.rules = []rule{
		{RuleBackgroundRemoval, c.matchBackgroundRemoval},
		{RuleBackground, c.matchBackground},
		{RuleColor, c.matchColor},
		{RuleAddition, c.matchAddition},
		{RuleRemoval, c.matchRemoval},
		{RuleTexture, c.matchTexture},
	}
	return c
}

// Classify returns the first matching rule's operation, or a GeneralEdit.
func (c *Classifier) Classify(phrase string) Operation {
	phrase = Normalize(phrase)
	for _, r := range c.rules {
		if op, ok := r.match(phrase); ok {
			op.source().Phrase = phrase
			return op
		}
	}
	return &GeneralEdit{Source: Source{Phrase: phrase}, RawText: phrase}
}

// Apply runs a single named rule, so each rule can be exercised on its own.
func (c *Classifier) Apply(name, phrase string) (Operation, bool) {
	phrase = Normalize(phrase)
	for _, r := range c.rules {
		if r.name == name {
			op, ok := r.match(phrase)
			if ok {
				op.source().Phrase = phrase
			}
			return op, ok
		}
	}
	return nil, false
}

// Rules lists the rule names in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.name
	}
	return names
}

// Recognizes is the strict gate: the phrase leads with an action verb or carries a vocabulary keyword.
func (c *Classifier) Recognizes(phrase string) bool {
	phrase = Normalize(phrase)
	tokens := tokenize(phrase)
	if len(tokens) == 0 {
		return false
	}
	if c.verbAt(tokens, 0) > 0 {
		return true
	}
	if isBackgroundMention(phrase) || c.texture.MatchString(phrase) {
		return true
	}
	for i, tok := range tokens {
		if c.cat.IsItem(tok) || c.cat.IsColor(tok) || c.verbAt(tokens, i) > 0 {
			return true
		}
	}
	return false
}

func (c *Classifier) verbAt(tokens []string, i int) int {
	for _, v := range c.verbs {
		if i+len(v) > len(tokens) {
			continue
		}
		if strings.Join(tokens[i:i+len(v)], " ") == strings.Join(v, " ") {
			return len(v)
		}
	}
	return 0
}

func (c *Classifier) matchBackgroundRemoval(phrase string) (Operation, bool) {
	if !c.bg.IsBackgroundRemoval(phrase) {
		return nil, false
	}
	return &Removal{TargetNoun: BackgroundTarget}, true
}

func (c *Classifier) matchBackground(phrase string) (Operation, bool) {
	if !isBackgroundMention(phrase) {
		return nil, false
	}
	desc, ok := c.bg.Extract(phrase)
	if !ok {
		return nil, false
	}
	return &BackgroundChange{Description: desc}, true
}

func (c *Classifier) matchColor(phrase string) (Operation, bool) {
	m := c.color.FindStringSubmatch(phrase)
	if m == nil {
		return nil, false
	}
	target := c.headNoun(c.owners.ReplaceAllString(m[c.color.SubexpIndex("target")], ""))
	if target == "" {
		return nil, false
	}
	return &ColorChange{TargetNoun: target, NewColor: m[c.color.SubexpIndex("color")]}, true
}

func (c *Classifier) matchAddition(phrase string) (Operation, bool) {
	re := c.addition
	m := re.FindStringSubmatch(phrase)
	if m == nil {
		re = c.wear
		if m = re.FindStringSubmatch(phrase); m == nil {
			return nil, false
		}
	}
	rest := m[re.SubexpIndex("rest")]

	var location string
	if lm := c.location.FindStringSubmatch(rest); lm != nil {
		rest = lm[c.location.SubexpIndex("item")]
		location = c.owners.ReplaceAllString(lm[c.location.SubexpIndex("loc")], "")
		// "on him" places the item on the subject, which is no location at all
		if c.isPronounPhrase(location) {
			location = ""
		}
	}
	detail := c.owners.ReplaceAllString(rest, "")
	item := c.headNoun(detail)
	if item == "" {
		return nil, false
	}
	add := &Addition{Item: item, Location: location, Level: c.itemSpecificity(item, location)}
	if detail != item {
		add.Detail = detail
	}
	return add, true
}

func (c *Classifier) itemSpecificity(item, location string) Specificity {
	switch {
	case c.cat.IsVeryHigh(item):
		return SpecificityVeryHigh
	case c.cat.IsHigh(item):
		return SpecificityHigh
	case location != "":
		return SpecificityMedium
	}
	return SpecificityLow
}

func (c *Classifier) matchRemoval(phrase string) (Operation, bool) {
	m := c.removal.FindStringSubmatch(phrase)
	if m == nil {
		return nil, false
	}
	target := c.headNoun(m[c.removal.SubexpIndex("target")])
	if target == "" {
		return nil, false
	}
	return &Removal{TargetNoun: target}, true
}

func (c *Classifier) matchTexture(phrase string) (Operation, bool) {
	loc := c.texture.FindStringIndex(phrase)
	if loc == nil {
		return nil, false
	}
	texture, _ := c.cat.TextureForm(phrase[loc[0]:loc[1]])
	op := &TextureAddition{Texture: texture}

	if m := c.proximity.FindStringSubmatch(phrase[loc[1]:]); m != nil {
		op.TargetNoun = m[c.proximity.SubexpIndex("target")]
		return op, true
	}
	// "bloody nose": the texture form directly qualifies its target
	if after := tokenize(phrase[loc[1]:]); len(after) > 0 && c.cat.IsTextureTarget(after[0]) {
		op.TargetNoun = after[0]
		return op, true
	}
	for _, tok := range tokenize(phrase) {
		if c.cat.IsTextureTarget(tok) {
			op.TargetNoun = tok
			break
		}
	}
	return op, true
}

func (c *Classifier) isPronounPhrase(s string) bool {
	tokens := tokenize(s)
	for _, tok := range tokens {
		if !c.cat.IsPronoun(tok) && !c.cat.IsArticle(tok) {
			return false
		}
	}
	return len(tokens) > 0
}

// headNoun returns the last vocabulary noun of a noun phrase, falling back to its last word.
func (c *Classifier) headNoun(phrase string) string {
	tokens := tokenize(phrase)
	for i := len(tokens) - 1; i >= 0; i-- {
		if tok := tokens[i]; c.cat.IsItem(tok) || c.cat.IsTextureTarget(tok) {
			return tok
		}
	}
	for i := len(tokens) - 1; i >= 0; i-- {
		if !isSeparator(tokens[i]) {
			return tokens[i]
		}
	}
	return ""
}
