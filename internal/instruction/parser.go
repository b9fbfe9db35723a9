// Package instruction turns free-text edit instructions into validated refinement plans.
package instruction

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/dotcommander/refiner/internal/vocab"
	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

// Parser runs the full pipeline: normalize, split, classify, recover, resolve, select.
// It holds no mutable state and is safe for concurrent use.
type Parser struct {
	cat        *vocab.Catalog
	splitter   *Splitter
	classifier *Classifier
	logger     *slog.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithLogger sets the parser's logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

// WithCatalog replaces the default vocabulary.
func WithCatalog(cat *vocab.Catalog) Option {
	return func(p *Parser) {
		p.cat = cat
	}
}

// NewParser builds a parser over the default vocabulary unless WithCatalog is given.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		cat:    vocab.Default(),
		logger: slog.Default().With("component", "instruction_parser"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.splitter = NewSplitter(p.cat)
	p.classifier = NewClassifier(p.cat)
	return p
}

// Catalog returns the vocabulary the parser was built with.
func (p *Parser) Catalog() *vocab.Catalog { return p.cat }

// Extractor returns the background extractor bound to the parser's vocabulary.
func (p *Parser) Extractor() *BackgroundExtractor { return p.classifier.bg }

// Parse builds the refinement plan for one instruction. Only blank input fails; phrases that
// cannot be understood are reported in the plan diagnostics.
func (p *Parser) Parse(text string) (*Plan, error) {
	normalized := Normalize(text)
	if !hasWord(tokenize(normalized)) {
		return nil, refinererrors.ErrEmptyInstruction
	}

	plan := &Plan{Instruction: strings.TrimSpace(text)}
	var ops []Operation
	for _, phrase := range p.splitter.Split(normalized) {
		op, ok := p.classify(phrase, &plan.Diagnostics)
		if ok {
			ops = append(ops, op)
		}
	}
	plan.Diagnostics.OperationsDetected = len(ops)

	plan.Operations, plan.Diagnostics.Conflicts = Resolve(ops)
	plan.ConflictsResolved = len(plan.Diagnostics.Conflicts) > 0
	plan.Strategy = SelectStrategy(plan.Operations)

	p.logger.Debug("instruction parsed",
		"strategy", plan.Strategy,
		"operations", len(plan.Operations),
		"dropped", len(plan.Diagnostics.Dropped),
		"conflicts", len(plan.Diagnostics.Conflicts))
	for _, dp := range plan.Diagnostics.Dropped {
		p.logger.Warn("phrase dropped", "phrase", dp.Phrase, "reason", dp.Reason)
	}
	return plan, nil
}

// classify applies the strict rules and, when they yield nothing specific, the recovery pass.
// A clause keeping the background is noted and removed before classification.
func (p *Parser) classify(phrase string, diag *Diagnostics) (Operation, bool) {
	if rest, kept := stripBackgroundKeep(phrase); kept {
		diag.Preserved = append(diag.Preserved, phrase)
		tokens := p.splitter.trim(tokenize(rest))
		if !p.splitter.hasContent(tokens) {
			return nil, false
		}
		phrase = join(tokens)
	}

	op := p.classifier.Classify(phrase)
	if op.Kind() != KindGeneralEdit {
		return op, true
	}

	recognized := p.classifier.Recognizes(phrase)
	fixed, reason, ok := p.classifier.Recover(phrase)
	if ok && fixed != phrase {
		if rop := p.classifier.Classify(fixed); rop.Kind() != KindGeneralEdit {
			src := rop.source()
			src.Phrase = phrase
			src.Recovered = true
			diag.Recovered = append(diag.Recovered, DroppedPhrase{Phrase: phrase, Reason: reason})
			return rop, true
		}
	}
	switch {
	case recognized:
		return op, true
	case ok:
		op.source().Recovered = true
		diag.Recovered = append(diag.Recovered, DroppedPhrase{Phrase: phrase, Reason: ReasonContent})
		return op, true
	}
	diag.Dropped = append(diag.Dropped, DroppedPhrase{Phrase: phrase, Reason: reason})
	return nil, false
}

// BackgroundOperation parses text and returns its background change or removal, if any.
func (p *Parser) BackgroundOperation(text string) (Operation, bool) {
	plan, err := p.Parse(text)
	if err != nil {
		return nil, false
	}
	return plan.BackgroundOperation()
}

var (
	defaultParser     *Parser
	defaultParserOnce sync.Once
)

// Parse runs the default parser.
func Parse(text string) (*Plan, error) {
	defaultParserOnce.Do(func() {
		defaultParser = NewParser()
	})
	return defaultParser.Parse(text)
}
