// Package core wires parsing, background tracking and prompt patching into one refinement
// pipeline.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/dotcommander/refiner/internal/background"
	"github.com/dotcommander/refiner/internal/domain"
	"github.com/dotcommander/refiner/internal/instruction"
	"github.com/dotcommander/refiner/internal/scene"
)

// DefaultRetryWindow is how long a request ID replays its first result.
const DefaultRetryWindow = 10 * time.Minute

// retryCacheSize bounds how many request IDs are remembered at once.
const retryCacheSize = 4096

// ErrImageKeyRequired rejects refinement requests without an image identity
var ErrImageKeyRequired = errors.New("image key is required")

// Request is one refinement of one image.
type Request struct {
	Instruction string
	// PriorPrompt is the structured scene prompt of the image being refined, if any.
	PriorPrompt []byte
	// BasePrompt is the plain-text prompt used when no structured prompt exists.
	BasePrompt string
	ImageKey   string
	// RequestID makes retries safe: a repeated ID returns the first result without touching the chain.
	RequestID string
}

// Summary is the caller-facing digest of a plan.
type Summary struct {
	OperationsDetected int                         `json:"operations_detected"`
	OperationsDropped  []instruction.DroppedPhrase `json:"operations_dropped,omitempty"`
	ConflictsResolved  bool                        `json:"conflicts_resolved"`
}

// Result is everything needed to execute a refinement.
type Result struct {
	Plan       *instruction.Plan      `json:"plan"`
	Patched    *scene.Prompt          `json:"patched_prompt,omitempty"`
	TextPrompt string                 `json:"text_prompt,omitempty"`
	Background domain.BackgroundState `json:"background"`
	Entry      domain.HistoryEntry    `json:"history_entry"`
	Summary    Summary                `json:"summary"`
}

// Refiner is the entry point of the refinement core.
type Refiner struct {
	parser      *instruction.Parser
	applier     *scene.Applier
	backgrounds *background.Manager
	metrics     *Metrics
	results     *expirable.LRU[string, *Result]
	inflight    singleflight.Group
	window      time.Duration
	logger      *slog.Logger
}

// Option configures a Refiner
type Option func(*Refiner)

// WithLogger sets the refiner's logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refiner) {
		r.logger = logger
	}
}

// WithParser replaces the default instruction parser
func WithParser(p *instruction.Parser) Option {
	return func(r *Refiner) {
		r.parser = p
	}
}

// WithMetrics records counters for every plan
func WithMetrics(m *Metrics) Option {
	return func(r *Refiner) {
		r.metrics = m
	}
}

// WithRetryWindow sets how long request IDs are remembered
func WithRetryWindow(d time.Duration) Option {
	return func(r *Refiner) {
		r.window = d
	}
}

// New creates a refiner tracking backgrounds with backgrounds.
func New(backgrounds *background.Manager, opts ...Option) *Refiner {
	r := &Refiner{
		backgrounds: backgrounds,
		window:      DefaultRetryWindow,
		logger:      slog.Default().With("component", "refiner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.parser == nil {
		r.parser = instruction.NewParser(instruction.WithLogger(r.logger))
	}
	r.applier = scene.NewApplier(r.parser.Catalog(), scene.WithLogger(r.logger))
	r.results = expirable.NewLRU[string, *Result](retryCacheSize, nil, r.window)
	return r
}

// Close drops every remembered request ID
func (r *Refiner) Close() {
	r.results.Purge()
}

// ParseInstruction turns text into a plan without touching any chain.
func (r *Refiner) ParseInstruction(text string) (*instruction.Plan, error) {
	plan, err := r.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	r.metrics.ObservePlan(plan)
	return plan, nil
}

// PlanRefinement parses the instruction, records it on the image's chain and patches the prior
// prompt. A malformed prior prompt is reported before the chain is touched.
func (r *Refiner) PlanRefinement(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.ImageKey) == "" {
		return nil, ErrImageKeyRequired
	}
	if req.RequestID == "" {
		return r.plan(ctx, req)
	}

	if res, ok := r.results.Get(req.RequestID); ok {
		r.metrics.ObserveReplay()
		r.logger.Info("replaying request", "request_id", req.RequestID, "image_key", req.ImageKey)
		return res, nil
	}
	v, err, shared := r.inflight.Do(req.RequestID, func() (interface{}, error) {
		if res, ok := r.results.Get(req.RequestID); ok {
			return res, nil
		}
		res, err := r.plan(ctx, req)
		if err != nil {
			return nil, err
		}
		r.results.Add(req.RequestID, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		r.metrics.ObserveReplay()
	}
	return v.(*Result), nil
}

func (r *Refiner) plan(ctx context.Context, req Request) (*Result, error) {
	plan, err := r.parser.Parse(req.Instruction)
	if err != nil {
		return nil, err
	}

	var prior *scene.Prompt
	if len(req.PriorPrompt) > 0 {
		if prior, err = scene.ParsePrompt(req.PriorPrompt); err != nil {
			return nil, err
		}
	}

	entry, err := r.backgrounds.Refine(ctx, req.ImageKey, prior, plan)
	if err != nil {
		return nil, err
	}
	state := entry.ResultingState()

	res := &Result{
		Plan:       plan,
		Background: state,
		Entry:      entry,
		Summary: Summary{
			OperationsDetected: plan.Diagnostics.OperationsDetected,
			OperationsDropped:  plan.Diagnostics.Dropped,
			ConflictsResolved:  plan.ConflictsResolved,
		},
	}
	if prior != nil {
		res.Patched = r.applier.Apply(prior, plan, state)
	} else {
		res.TextPrompt = scene.ComposeText(req.BasePrompt, plan, state)
	}

	r.metrics.ObservePlan(plan)
	r.metrics.ObserveEntry(entry)
	r.logger.Info("refinement planned",
		"image_key", req.ImageKey,
		"strategy", plan.Strategy,
		"operations", len(plan.Operations),
		"dropped", len(plan.Diagnostics.Dropped),
		"background", state.String())
	return res, nil
}

// Initialize seeds the chain for key from a prior structured prompt.
func (r *Refiner) Initialize(ctx context.Context, key string, prior []byte) (domain.BackgroundState, error) {
	var p *scene.Prompt
	if len(prior) > 0 {
		var err error
		if p, err = scene.ParsePrompt(prior); err != nil {
			return domain.BackgroundState{}, err
		}
	}
	return r.backgrounds.Initialize(ctx, key, p)
}

// GetBackgroundState never fails; unknown images report the default state.
func (r *Refiner) GetBackgroundState(ctx context.Context, key string) domain.BackgroundState {
	return r.backgrounds.CurrentState(ctx, key)
}

// History returns a copy of the image's refinement history.
func (r *Refiner) History(ctx context.Context, key string) ([]domain.HistoryEntry, error) {
	return r.backgrounds.History(ctx, key)
}

// Alias binds further identifiers of the same image to its chain.
func (r *Refiner) Alias(ctx context.Context, key string, aliases ...string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("alias: %w", ErrImageKeyRequired)
	}
	return r.backgrounds.Alias(ctx, key, aliases...)
}
