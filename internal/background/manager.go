// Package background tracks the canonical background intent of every image across a chain of
// refinements.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dotcommander/refiner/internal/domain"
	"github.com/dotcommander/refiner/internal/instruction"
	"github.com/dotcommander/refiner/internal/scene"
	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

// Manager is the background state machine. State changes only on a background change or an
// explicit background removal; every other instruction is recorded as preserved.
type Manager struct {
	registry *Registry
	parser   *instruction.Parser
	infer    bool
	cfg      RegistryConfig
	logger   *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithStore enables write-through persistence
func WithStore(store domain.ChainStore) Option {
	return func(m *Manager) {
		m.cfg.Store = store
	}
}

// WithCapacity bounds the number of chains kept in memory
func WithCapacity(n int) Option {
	return func(m *Manager) {
		m.cfg.Capacity = n
	}
}

// WithTTL evicts chains that were not touched for ttl
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.cfg.TTL = ttl
	}
}

// WithInferFromPrior seeds new chains from a prior prompt's background even when it was not
// explicitly set by the user.
func WithInferFromPrior(infer bool) Option {
	return func(m *Manager) {
		m.infer = infer
	}
}

// WithParser sets the parser used to locate the background phrase of compound instructions
func WithParser(p *instruction.Parser) Option {
	return func(m *Manager) {
		m.parser = p
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.cfg.Now = now
	}
}

// WithLogger sets the manager's logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager with its own chain registry.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		logger: slog.Default().With("component", "background_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.parser == nil {
		m.parser = instruction.NewParser(instruction.WithLogger(m.logger))
	}
	if m.cfg.Now == nil {
		m.cfg.Now = time.Now
	}
	m.cfg.Logger = m.logger.With("subcomponent", "registry")

	registry, err := NewRegistry(m.cfg)
	if err != nil {
		return nil, err
	}
	m.registry = registry
	return m, nil
}

// Registry exposes the underlying chain registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Initialize creates the chain for key if needed and seeds it from prior. An existing chain that
// already carries history or a non-default state is left alone.
func (m *Manager) Initialize(ctx context.Context, key string, prior *scene.Prompt) (domain.BackgroundState, error) {
	var state domain.BackgroundState
	err := m.registry.Mutate(ctx, key, true, func(chain *domain.Chain, created bool) (bool, error) {
		changed := m.seed(chain, created, prior)
		state = chain.BackgroundState
		return changed, nil
	})
	if err != nil {
		return domain.BackgroundState{}, fmt.Errorf("initialize %s: %w", key, err)
	}
	return state, nil
}

// seed applies prior's background to a fresh chain. Callers hold the chain lock.
func (m *Manager) seed(chain *domain.Chain, created bool, prior *scene.Prompt) bool {
	if prior == nil {
		return false
	}
	if !created && (len(chain.History) > 0 || chain.BackgroundState.Kind != domain.BackgroundDefault) {
		return false
	}

	now := m.cfg.Now()
	desc := strings.TrimSpace(prior.Background)
	opaque := desc != "" && !strings.EqualFold(desc, domain.TransparentBackground)
	var state domain.BackgroundState
	switch {
	case prior.ExplicitBackground && opaque:
		state = domain.ExplicitBackground(desc, false, now)
	case m.infer && opaque:
		state = domain.InferredBackground(desc, now)
	default:
		return false
	}
	chain.BackgroundState = state
	chain.LastModified = now
	m.logger.Debug("chain seeded from prior", "image_key", chain.ImageKey, "state", state.String())
	return true
}

// Update records text against the chain for key. When isBackgroundOp is false the state is left
// untouched and the entry is marked preserved.
func (m *Manager) Update(ctx context.Context, key, text string, isBackgroundOp bool) (domain.HistoryEntry, error) {
	var op instruction.Operation
	if isBackgroundOp {
		op, _ = m.parser.BackgroundOperation(text)
	}
	return m.update(ctx, key, text, isBackgroundOp, op, nil)
}

// UpdateFromPlan records a parsed plan, reusing its resolved background operation.
func (m *Manager) UpdateFromPlan(ctx context.Context, key string, plan *instruction.Plan) (domain.HistoryEntry, error) {
	return m.Refine(ctx, key, nil, plan)
}

// Refine seeds the chain from prior, when given, and records plan under one chain lock. The
// returned entry's ResultingState is the background this refinement produced, whatever other
// requests do to the chain afterwards.
func (m *Manager) Refine(ctx context.Context, key string, prior *scene.Prompt, plan *instruction.Plan) (domain.HistoryEntry, error) {
	op, hasOp := plan.BackgroundOperation()
	isBg := hasOp || m.IsBackgroundOperation(plan.Instruction)
	return m.update(ctx, key, plan.Instruction, isBg, op, prior)
}

func (m *Manager) update(ctx context.Context, key, text string, isBg bool, op instruction.Operation, prior *scene.Prompt) (domain.HistoryEntry, error) {
	var recorded domain.HistoryEntry
	err := m.registry.Mutate(ctx, key, true, func(chain *domain.Chain, created bool) (bool, error) {
		m.seed(chain, created, prior)
		now := m.cfg.Now()
		prev := chain.BackgroundState
		entry := domain.HistoryEntry{
			ID:                      ulid.Make().String(),
			Instruction:             text,
			Timestamp:               now,
			IsBackgroundOperation:   isBg,
			Preserved:               !isBg,
			PreviousBackgroundState: prev,
		}

		if isBg {
			if next, ok := m.transition(prev, text, op, now); ok {
				chain.BackgroundState = next
				entry.NewBackgroundState = &next
				m.logger.Info("background updated",
					"image_key", chain.ImageKey,
					"from", prev.String(),
					"to", next.String())
			} else {
				m.logger.Warn("background instruction without a description", "image_key", chain.ImageKey, "instruction", text)
			}
		}

		chain.History = append(chain.History, entry)
		chain.LastModified = now
		recorded = entry
		return true, nil
	})
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("update %s: %w", key, err)
	}
	return recorded, nil
}

func (m *Manager) transition(prev domain.BackgroundState, text string, op instruction.Operation, now time.Time) (domain.BackgroundState, bool) {
	replaced := prev.Kind == domain.BackgroundExplicit

	switch o := op.(type) {
	case *instruction.Removal:
		if o.IsBackgroundRemoval() {
			return domain.RemovedBackground(now), true
		}
	case *instruction.BackgroundChange:
		return domain.ExplicitBackground(o.Description, replaced, now), true
	}

	ex := m.parser.Extractor()
	if ex.IsBackgroundRemoval(text) {
		return domain.RemovedBackground(now), true
	}
	if desc, ok := ex.Extract(text); ok {
		return domain.ExplicitBackground(desc, replaced, now), true
	}
	return prev, false
}

// CurrentState returns the background state for key. Unknown keys report the default state.
func (m *Manager) CurrentState(ctx context.Context, key string) domain.BackgroundState {
	chain, err := m.registry.Snapshot(ctx, key)
	if err != nil {
		m.logger.Warn("state lookup failed", "image_key", key, "error", err)
	}
	if chain == nil {
		return domain.DefaultBackground(m.cfg.Now())
	}
	return chain.BackgroundState
}

// ShouldPreserve reports whether the current background must carry over into the edit.
func (m *Manager) ShouldPreserve(ctx context.Context, key, text string) bool {
	if m.IsBackgroundOperation(text) {
		return false
	}
	return m.CurrentState(ctx, key).PreserveAcrossRefinements
}

// IsBackgroundOperation reports whether text changes or removes the background.
func (m *Manager) IsBackgroundOperation(text string) bool {
	return m.parser.Extractor().IsBackgroundOperation(text)
}

// Alias registers additional identifiers for the image behind key.
func (m *Manager) Alias(ctx context.Context, key string, aliases ...string) error {
	if err := m.registry.Alias(ctx, key, aliases...); err != nil {
		return fmt.Errorf("alias %s: %w", key, err)
	}
	return nil
}

// History returns a copy of the chain's history.
func (m *Manager) History(ctx context.Context, key string) ([]domain.HistoryEntry, error) {
	chain, err := m.Chain(ctx, key)
	if err != nil {
		return nil, err
	}
	return chain.History, nil
}

// Chain returns a copy of the chain for key.
func (m *Manager) Chain(ctx context.Context, key string) (*domain.Chain, error) {
	chain, err := m.registry.Snapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, fmt.Errorf("%w: %s", refinererrors.ErrUnknownImageKey, CanonicalKey(key))
	}
	return chain, nil
}
