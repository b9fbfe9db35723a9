package instruction

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/dotcommander/refiner/internal/vocab"
)

var punctuationFolder = strings.NewReplacer(
	"‘", "'", "’", "'", "“", "\"", "”", "\"",
	"–", " ", "—", " ", "…", " ",
)

// Normalize folds an instruction to the canonical form every rule matches against:
// NFKC, lower case, ASCII quotes, single spaces, no trailing sentence punctuation.
func Normalize(text string) string {
	s := norm.NFKC.String(text)
	s = punctuationFolder.Replace(s)
	// cases.Caser is stateful; one per call
	s = cases.Lower(language.English).String(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, "\"'` .!?")
}

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9'-]*|[,;&]`)

// tokenize splits a normalized phrase into words and the separators , ; &
func tokenize(s string) []string {
	return tokenPattern.FindAllString(s, -1)
}

// join rebuilds text from tokens, attaching commas to the preceding word.
func join(tokens []string) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && tok != "," && tok != ";" {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String()
}

// hasWord reports whether tokens hold anything besides separators.
func hasWord(tokens []string) bool {
	for _, tok := range tokens {
		if !isSeparator(tok) {
			return true
		}
	}
	return false
}

func isSeparator(tok string) bool {
	return tok == "," || tok == ";" || tok == "&"
}

// containsPhrase reports whether needle occurs in haystack on word boundaries.
func containsPhrase(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(" "+join(tokenize(haystack))+" ", " "+needle+" ")
}

// alternation builds a regexp alternation of literal words, longest first.
func alternation(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, w := range vocab.LongestFirst(words) {
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	return strings.Join(quoted, "|")
}
