package scene

import (
	"regexp"
	"strings"

	"github.com/dotcommander/refiner/internal/domain"
	"github.com/dotcommander/refiner/internal/instruction"
)

var (
	sentenceEnd     = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
	backgroundWords = regexp.MustCompile(`(?i)\b(?:background|backdrop|backgrounds)\b`)
)

const changesPrefix = "Changes:"

// Summarize rewrites a short description. Sentences about the background are dropped and
// restated once at the end. Change summaries accumulate: the items of an earlier "Changes:"
// sentence come first, followed by changes.
func Summarize(prior string, changes []string, background string) string {
	var kept, history []string
	for _, s := range sentences(prior) {
		if rest, ok := strings.CutPrefix(s, changesPrefix); ok {
			history = append(history, changeItems(rest)...)
			continue
		}
		if backgroundWords.MatchString(s) {
			continue
		}
		kept = append(kept, s+".")
	}
	history = append(history, changes...)
	if len(history) > 0 {
		kept = append(kept, changesPrefix+" "+strings.Join(history, "; ")+".")
	}
	kept = append(kept, BackgroundSentence(background))
	return strings.Join(kept, " ")
}

func changeItems(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ";") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// BackgroundSentence states the background in one sentence.
func BackgroundSentence(background string) string {
	if background == "" || background == domain.TransparentBackground {
		return "The background is transparent."
	}
	return "The background is " + background + "."
}

// ComposeText builds a plain-text prompt when no structured prior exists.
func ComposeText(base string, plan *instruction.Plan, state domain.BackgroundState) string {
	background := state.PromptBackground()
	if op, ok := plan.BackgroundOperation(); ok {
		background = domain.TransparentBackground
		if bc, isChange := op.(*instruction.BackgroundChange); isChange {
			background = bc.Description
		}
	}
	return Summarize(base, plan.Descriptions(), background)
}

func sentences(text string) []string {
	var out []string
	for _, s := range sentenceEnd.Split(strings.TrimSpace(text), -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
