package instruction

import (
	"regexp"
	"strings"

	"github.com/dotcommander/refiner/internal/vocab"
)

// maxSplitDepth bounds recursive re-splitting of a phrase that itself still holds several actions.
const maxSplitDepth = 3

type splitStrategy struct {
	name  string
	split func(tokens []string) [][]string
}

// Splitter cuts a normalized instruction into single-action phrases.
type Splitter struct {
	cat        *vocab.Catalog
	verbs      [][]string // action verbs, tokenized, longest first
	splitting  [][]string
	colorPair  *regexp.Regexp
	strategies []splitStrategy
}

// NewSplitter builds a splitter over the catalog's conjunctions and verbs.
func NewSplitter(cat *vocab.Catalog) *Splitter {
	s := &Splitter{cat: cat}
	for _, v := range cat.ActionVerbs() {
		s.verbs = append(s.verbs, strings.Fields(v))
	}
	for _, v := range cat.SplittingVerbs() {
		s.splitting = append(s.splitting, strings.Fields(v))
	}
	colors := alternation(cat.Colors)
	s.colorPair = regexp.MustCompile(`\b(` + colors + `)\s+and\s+(` + colors + `)\b`)

	// ordered by priority; ties on part count go to the earlier strategy
	s.strategies = []splitStrategy{
		{name: "conjunction", split: s.splitConjunctions},
		{name: "comma_verb", split: s.splitCommaVerb},
		{name: "comma_list", split: s.splitCommaList},
		{name: "verb_span", split: s.splitVerbSpans},
	}
	return s
}

// Split returns the phrases of a normalized instruction, in order.
func (s *Splitter) Split(text string) []string {
	text = s.colorPair.ReplaceAllString(text, "$1-and-$2")
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	var phrases []string
	for _, part := range s.split(tokens, 0) {
		if p := s.trim(part); len(p) > 0 {
			phrases = append(phrases, join(p))
		}
	}
	return s.inherit(phrases)
}

func (s *Splitter) split(tokens []string, depth int) [][]string {
	best := [][]string{tokens}
	for _, st := range s.strategies {
		parts := nonEmpty(st.split(tokens))
		if len(parts) > len(best) {
			best = parts
		}
	}
	if len(best) == 1 || depth+1 >= maxSplitDepth {
		return best
	}

	var out [][]string
	for _, part := range best {
		out = append(out, s.split(part, depth+1)...)
	}
	return out
}

func (s *Splitter) splitConjunctions(tokens []string) [][]string {
	var parts [][]string
	var cur []string
	for _, tok := range tokens {
		if tok == ";" || s.cat.IsConjunction(tok) {
			parts = append(parts, cur)
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	return append(parts, cur)
}

// splitCommaVerb cuts at commas followed, after optional fillers, by an action verb.
func (s *Splitter) splitCommaVerb(tokens []string) [][]string {
	var parts [][]string
	start := 0
	for i, tok := range tokens {
		if tok != "," {
			continue
		}
		j := i + 1
		for j < len(tokens) && s.cat.IsFiller(tokens[j]) {
			j++
		}
		if n := s.verbAt(s.verbs, tokens, j); n > 0 {
			parts = append(parts, tokens[start:i])
			start = i + 1
		}
	}
	return append(parts, tokens[start:])
}

// splitCommaList separates enumerations ("add a hat, sunglasses") whose later items are bare noun phrases.
func (s *Splitter) splitCommaList(tokens []string) [][]string {
	var parts [][]string
	start := 0
	for i, tok := range tokens {
		if tok == "," {
			parts = append(parts, tokens[start:i])
			start = i + 1
		}
	}
	parts = append(parts, tokens[start:])
	for _, p := range parts[1:] {
		if !s.isBareNounPhrase(s.trim(p)) {
			return [][]string{tokens}
		}
	}
	return parts
}

// splitVerbSpans extracts every span led by a splitting verb that follows a boundary:
// the start of text, a separator, a conjunction or a filler.
func (s *Splitter) splitVerbSpans(tokens []string) [][]string {
	var starts []int
	for i := range tokens {
		if i > 0 && !s.isBoundary(tokens[i-1]) {
			continue
		}
		if s.verbAt(s.splitting, tokens, i) > 0 {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		return [][]string{tokens}
	}

	var parts [][]string
	if prefix := tokens[:starts[0]]; s.hasContent(prefix) {
		parts = append(parts, prefix)
	}
	for k, from := range starts {
		to := len(tokens)
		if k+1 < len(starts) {
			to = starts[k+1]
		}
		parts = append(parts, tokens[from:to])
	}
	return parts
}

func (s *Splitter) isBoundary(tok string) bool {
	return isSeparator(tok) || s.cat.IsConjunction(tok) || s.cat.IsFiller(tok)
}

// verbAt returns the token length of the first verb in verbs found at tokens[i], or 0.
func (s *Splitter) verbAt(verbs [][]string, tokens []string, i int) int {
	for _, v := range verbs {
		if i+len(v) > len(tokens) {
			continue
		}
		match := true
		for k, w := range v {
			if tokens[i+k] != w {
				match = false
				break
			}
		}
		if match {
			return len(v)
		}
	}
	return 0
}

// leadingVerb returns the first action verb in tokens.
func (s *Splitter) leadingVerb(tokens []string) string {
	for i := range tokens {
		if n := s.verbAt(s.verbs, tokens, i); n > 0 {
			return strings.Join(tokens[i:i+n], " ")
		}
	}
	return ""
}

func (s *Splitter) hasContent(tokens []string) bool {
	for _, tok := range tokens {
		if !isSeparator(tok) && s.cat.IsContentWord(tok) {
			return true
		}
	}
	return false
}

// trim strips leading conjunctions, articles and fillers, and trailing separators,
// conjunctions and fillers.
func (s *Splitter) trim(tokens []string) []string {
	for len(tokens) > 0 {
		if n := s.fillerAt(tokens, 0); n > 0 {
			tokens = tokens[n:]
			continue
		}
		if t := tokens[0]; isSeparator(t) || s.cat.IsConjunction(t) || s.cat.IsArticle(t) || s.cat.IsFiller(t) {
			tokens = tokens[1:]
			continue
		}
		break
	}
	for len(tokens) > 0 {
		t := tokens[len(tokens)-1]
		if isSeparator(t) || s.cat.IsConjunction(t) || s.cat.IsFiller(t) || s.cat.IsArticle(t) {
			tokens = tokens[:len(tokens)-1]
			continue
		}
		if len(tokens) >= 2 && s.cat.IsFiller(tokens[len(tokens)-2]+" "+t) {
			tokens = tokens[:len(tokens)-2]
			continue
		}
		break
	}
	return tokens
}

// fillerAt matches two-word fillers such as "thank you".
func (s *Splitter) fillerAt(tokens []string, i int) int {
	if i+1 < len(tokens) && s.cat.IsFiller(tokens[i]+" "+tokens[i+1]) {
		return 2
	}
	return 0
}

// inherit gives verbless bare noun phrases the action of the phrase before them.
func (s *Splitter) inherit(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if len(out) == 0 {
			out = append(out, p)
			continue
		}
		tokens := tokenize(p)
		prev := out[len(out)-1]
		_, keepsPrev := stripBackgroundKeep(prev)
		_, keeps := stripBackgroundKeep(p)
		verb := s.leadingVerb(tokenize(prev))
		if keeps || keepsPrev || s.leadingVerb(tokens) != "" || verb == "" || !s.isBareNounPhrase(tokens) {
			out = append(out, p)
			continue
		}
		if isBackgroundMention(prev) {
			out[len(out)-1] = prev + " and " + p
			continue
		}
		out = append(out, verb+" "+p)
	}
	return out
}

// isBareNounPhrase accepts up to five plain words that do not open with a preposition or pronoun.
func (s *Splitter) isBareNounPhrase(tokens []string) bool {
	if len(tokens) == 0 || len(tokens) > 5 {
		return false
	}
	if s.cat.IsPreposition(tokens[0]) || s.cat.IsPronoun(tokens[0]) {
		return false
	}
	meaningful := false
	for _, tok := range tokens {
		if !isWord(tok) {
			return false
		}
		if !s.cat.IsFiller(tok) {
			meaningful = true
		}
	}
	return meaningful
}

func isWord(tok string) bool {
	for _, r := range tok {
		if (r < 'a' || r > 'z') && r != '-' && r != '\'' {
			return false
		}
	}
	return tok != ""
}

// nonEmpty drops parts made only of separators.
func nonEmpty(parts [][]string) [][]string {
	out := parts[:0:0]
	for _, p := range parts {
		for _, tok := range p {
			if !isSeparator(tok) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
