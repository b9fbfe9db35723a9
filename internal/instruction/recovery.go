package instruction

import (
	"strings"

	"github.com/agext/levenshtein"
)

// Reasons recorded for phrases the strict pass could not classify.
const (
	ReasonNoIntent   = "no recognizable edit intent"
	ReasonFuzzyVerb  = "recovered: corrected verb"
	ReasonInflection = "recovered: folded inflection"
	ReasonContent    = "recovered: content words kept as general edit"
)

// Recover runs the looser matching pass over a phrase the strict gate rejected.
// It returns the phrase to classify, the reason it was accepted, and whether it was.
func (c *Classifier) Recover(phrase string) (string, string, bool) {
	tokens := tokenize(Normalize(phrase))
	if len(tokens) == 0 {
		return "", ReasonNoIntent, false
	}

	if verb, ok := c.fuzzyVerb(tokens[0]); ok {
		fixed := join(append([]string{verb}, tokens[1:]...))
		if c.Recognizes(fixed) {
			return fixed, ReasonFuzzyVerb, true
		}
	}

	folded := make([]string, len(tokens))
	changed := false
	for i, tok := range tokens {
		folded[i] = c.fold(tok, i == 0)
		changed = changed || folded[i] != tok
	}
	if changed {
		if fixed := join(folded); c.Recognizes(fixed) {
			return fixed, ReasonInflection, true
		}
	}

	for _, tok := range tokens {
		if !isSeparator(tok) && c.cat.IsContentWord(tok) {
			return join(tokens), ReasonContent, true
		}
	}
	return "", ReasonNoIntent, false
}

// fuzzyVerb corrects a misspelled single-word verb: one edit for short words, two from six letters.
func (c *Classifier) fuzzyVerb(word string) (string, bool) {
	if !c.cat.IsContentWord(word) || c.cat.IsActionVerb(word) || c.cat.IsItem(word) || c.cat.IsColor(word) {
		return "", false
	}
	limit := 1
	if len(word) >= 6 {
		limit = 2
	}
	best, bestDist := "", limit+1
	for _, v := range c.verbs {
		if len(v) != 1 || v[0] == word {
			continue
		}
		if d := levenshtein.Distance(word, v[0], nil); d < bestDist {
			best, bestDist = v[0], d
		}
	}
	return best, best != ""
}

// fold maps inflected verbs ("adding", "removed") and plural items ("hats") to their base forms.
func (c *Classifier) fold(tok string, leading bool) string {
	if leading {
		for _, v := range c.verbs {
			if len(v) != 1 {
				continue
			}
			if base := v[0]; isInflectionOf(tok, base) {
				return base
			}
		}
	}
	for _, suffix := range []string{"es", "s"} {
		if stem, ok := strings.CutSuffix(tok, suffix); ok && c.cat.IsItem(stem) {
			return stem
		}
	}
	return tok
}

func isInflectionOf(tok, base string) bool {
	if tok == base || !strings.HasPrefix(tok, base[:len(base)-1]) {
		return false
	}
	last := base[len(base)-1:]
	stem := strings.TrimSuffix(base, "e")
	for _, form := range []string{
		base + "s", base + "es", base + "ed", base + "d", base + "ing",
		stem + "ing", stem + "ed",
		base + last + "ing", base + last + "ed",
	} {
		if tok == form {
			return true
		}
	}
	return false
}
