package instruction

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/dotcommander/refiner/internal/vocab"
)

var (
	backgroundMention = regexp.MustCompile(`\b(?:background|backdrop|scenery)\b|\bbehind\s+(?:him|her|it|them)\b|\btheme[ds]?\b`)
	backgroundNoun    = regexp.MustCompile(`\b(?:background|backdrop)\b`)
)

// Clauses asking for the background to stay as it is. They never change background state.
var backgroundKeep = []*regexp.Regexp{
	// "leave the background transparent" is a removal, so the clause must end here
	regexp.MustCompile(`\b(?:keep|leave|retain|preserve|maintain)\s+(?:(?:the|his|her|its|their|my|your|this|that)\s+)?` +
		`(?:(?:same|current|original|existing|old)\s+)?(?:background|backdrop|scenery)` +
		`(?:\s+(?:as it is|as is|the same|the way it is|alone|unchanged|intact|untouched|same))?` +
		`(?:\s*$|\s*[,;&]|\s+(?:and|but|while|then|plus|please|too|as well)\b)`),
	regexp.MustCompile(`\b(?:don't|dont|do not|does not|doesn't|never|no need to)\s+(?:change|touch|alter|modify|replace|remove|edit|swap|update)\s+` +
		`(?:(?:the|his|her|its|their|my|your|this|that)\s+)?(?:background|backdrop|scenery)\b`),
	regexp.MustCompile(`\b(?:with|using)\s+(?:the\s+)?(?:same|current|original|existing|unchanged)\s+(?:background|backdrop|scenery)\b`),
	regexp.MustCompile(`\b(?:same|unchanged|original)\s+(?:background|backdrop|scenery)\b`),
	regexp.MustCompile(`\b(?:background|backdrop|scenery)\s+(?:(?:should|must|can|will|needs to)\s+)?(?:stays?|remains?|be kept|is kept|unchanged|untouched|intact|as is)` +
		`(?:\s+(?:the same|unchanged|as is|intact|untouched))?\b`),
}

// stripBackgroundKeep removes every keep-the-background clause from a normalized phrase and
// reports whether there was one.
func stripBackgroundKeep(phrase string) (string, bool) {
	found := false
	for _, re := range backgroundKeep {
		if re.MatchString(phrase) {
			found = true
			phrase = re.ReplaceAllString(phrase, " ")
		}
	}
	if !found {
		return phrase, false
	}
	return strings.Join(strings.Fields(phrase), " "), true
}

// IsBackgroundPreservation reports whether a phrase asks for the background to stay unchanged.
func IsBackgroundPreservation(phrase string) bool {
	_, ok := stripBackgroundKeep(Normalize(phrase))
	return ok
}

// isBackgroundMention reports whether a normalized phrase talks about the background at all.
func isBackgroundMention(phrase string) bool {
	return backgroundMention.MatchString(phrase)
}

type descriptionPattern struct {
	name string
	re   *regexp.Regexp
}

// BackgroundExtractor pulls background descriptions out of phrases and enriches them
// from the catalog's synonym table.
type BackgroundExtractor struct {
	cat       *vocab.Catalog
	patterns  []descriptionPattern
	removal   []*regexp.Regexp
	operation *regexp.Regexp
}

// NewBackgroundExtractor compiles the extraction rules for cat.
func NewBackgroundExtractor(cat *vocab.Catalog) *BackgroundExtractor {
	const (
		owner = `(?:(?:the|his|her|its|their|my|your|this)\s+)?`
		who   = `(?:(?:him|her|it|them|me|this)\s+)?`
		bg    = `(?:background|backdrop)`
	)
	removalVerbs := alternation(append([]string{"clear", "cut out", "strip", "take out"}, cat.Verbs.Removal...))

	e := &BackgroundExtractor{cat: cat}
	// first valid candidate wins
	e.patterns = []descriptionPattern{
		{"direct", regexp.MustCompile(`\b(?:make|change|set|turn|switch|update|replace|swap)\s+` + owner + bg +
			`(?:\s+(?:to be|to|into|as|with|for|like))?\s+(?P<desc>.+)$`)},
		{"direct_add", regexp.MustCompile(`\b(?:add|put|use|give|place|apply|set|show|draw)\s+` + who +
			`(?P<desc>.+?)\s+(?:in the\s+|as the\s+|as a\s+)?` + bg + `\b`)},
		{"direct_of", regexp.MustCompile(`\b` + bg + `\s+(?:of|with|showing|featuring|should be|is|to be|like)\s+(?P<desc>.+)$`)},
		{"indirect", regexp.MustCompile(`^(?:(?:add|put|place|have|show|draw|with|make)\s+)?(?P<desc>.+?)\s+behind\s+(?:him|her|it|them|the\s+\w+)\b`)},
		{"thematic", regexp.MustCompile(`^(?:(?:make|give|use|apply|set|change|turn)\s+` + who +
			`(?:(?:a|an|the|to|into)\s+)?)?(?P<desc>.+?)\s+theme[ds]?\b`)},
		{"generic", regexp.MustCompile(`^(?:(?:make|add|use|give|put|set|change|want)\s+` + who +
			`)?(?:(?:a|an|the|to|into|in)\s+)?(?P<desc>.+?)\s+(?:background|backdrop|scenery|setting)\b`)},
	}
	e.removal = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:` + removalVerbs + `)\s+` + owner + bg + `\b`),
		regexp.MustCompile(`\b(?:no|without(?:\s+a|\s+the|\s+any)?)\s+` + bg + `\b`),
		regexp.MustCompile(`\b(?:transparent|empty|blank)\s+` + bg + `\b`),
		regexp.MustCompile(`\b` + bg + `\s+(?:(?:to\s+)?(?:be\s+)?(?:transparent|clear|empty|blank|none|removed|gone))\b`),
		regexp.MustCompile(`\b` + bg + `\s+removal\b`),
	}
	e.operation = regexp.MustCompile(`\b(?:` + alternation(cat.BackgroundVerbs) + `)\b`)
	return e
}

// IsBackgroundRemoval reports whether phrase asks for the background to be removed.
func (e *BackgroundExtractor) IsBackgroundRemoval(phrase string) bool {
	phrase, _ = stripBackgroundKeep(Normalize(phrase))
	for _, re := range e.removal {
		if re.MatchString(phrase) {
			return true
		}
	}
	return false
}

// IsBackgroundOperation is the narrow check for whether an instruction touches the background:
// removal phrasing, or a background mention together with one of the background verbs. Clauses
// that keep the background are ignored.
func (e *BackgroundExtractor) IsBackgroundOperation(text string) bool {
	text, _ = stripBackgroundKeep(Normalize(text))
	if e.IsBackgroundRemoval(text) {
		return true
	}
	return backgroundNoun.MatchString(text) && e.operation.MatchString(text)
}

// Extract returns the enriched background description requested by phrase.
func (e *BackgroundExtractor) Extract(phrase string) (string, bool) {
	phrase, _ = stripBackgroundKeep(Normalize(phrase))
	for _, p := range e.patterns {
		m := p.re.FindStringSubmatch(phrase)
		if m == nil {
			continue
		}
		cand := e.clean(m[p.re.SubexpIndex("desc")])
		if !e.valid(cand) {
			continue
		}
		return e.Enrich(cand), true
	}
	return "", false
}

// Enrich maps a cleaned description to its catalog description: exact key, then whole-word
// key inside the text, then text inside a key. Anything else becomes a generic scene.
func (e *BackgroundExtractor) Enrich(text string) string {
	text = e.clean(Normalize(text))
	for _, bg := range e.cat.Backgrounds {
		for _, key := range bg.Keys {
			if text == key {
				return bg.Description
			}
		}
	}
	for _, bg := range e.cat.Backgrounds {
		for _, key := range vocab.LongestFirst(bg.Keys) {
			if containsPhrase(text, key) {
				return bg.Description
			}
		}
	}
	if len(text) >= 3 {
		for _, bg := range e.cat.Backgrounds {
			for _, key := range bg.Keys {
				if containsPhrase(key, text) {
					return bg.Description
				}
			}
		}
	}
	return fmt.Sprintf("a %s background scene", text)
}

// clean strips leading articles and prepositions and trailing background nouns.
func (e *BackgroundExtractor) clean(s string) string {
	tokens := tokenize(s)
	for len(tokens) > 0 {
		t := tokens[0]
		if isSeparator(t) || e.cat.IsArticle(t) || e.cat.IsPreposition(t) || e.cat.IsFiller(t) ||
			t == "be" || t == "color" || t == "colour" {
			tokens = tokens[1:]
			continue
		}
		break
	}
	for len(tokens) > 0 {
		switch t := tokens[len(tokens)-1]; {
		case isSeparator(t), e.cat.IsFiller(t), e.cat.IsArticle(t),
			t == "background", t == "backdrop", t == "theme", t == "themed", t == "scene", t == "scenery", t == "setting":
			tokens = tokens[:len(tokens)-1]
			continue
		}
		break
	}
	return join(tokens)
}

func (e *BackgroundExtractor) valid(cand string) bool {
	if len(cand) < 2 {
		return false
	}
	if e.cat.IsStopword(cand) || e.cat.IsPronoun(cand) || e.cat.IsAccessory(cand) {
		return false
	}
	for _, tok := range tokenize(cand) {
		if e.cat.IsStopword(tok) || e.cat.IsPronoun(tok) || e.cat.IsActionVerb(tok) || isKeepWord(tok) {
			continue
		}
		return true
	}
	return false
}

// isKeepWord matches words that describe leaving something as it is rather than a scene.
func isKeepWord(tok string) bool {
	switch tok {
	case "keep", "leave", "retain", "preserve", "maintain", "same", "unchanged", "alone", "intact",
		"untouched", "stay", "stays", "remain", "remains", "don't", "dont", "do", "not", "current", "original":
		return true
	}
	return false
}

var (
	defaultExtractor     *BackgroundExtractor
	defaultExtractorOnce sync.Once
)

func extractor() *BackgroundExtractor {
	defaultExtractorOnce.Do(func() {
		defaultExtractor = NewBackgroundExtractor(vocab.Default())
	})
	return defaultExtractor
}

// ExtractBackgroundDescription runs Extract with the default vocabulary.
func ExtractBackgroundDescription(text string) (string, bool) {
	return extractor().Extract(text)
}

// EnrichBackground runs Enrich with the default vocabulary.
func EnrichBackground(text string) string {
	return extractor().Enrich(text)
}

// IsBackgroundOperation runs the narrow background check with the default vocabulary.
func IsBackgroundOperation(text string) bool {
	return extractor().IsBackgroundOperation(text)
}

// IsBackgroundRemoval runs the removal check with the default vocabulary.
func IsBackgroundRemoval(text string) bool {
	return extractor().IsBackgroundRemoval(text)
}
