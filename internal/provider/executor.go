package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dotcommander/refiner/internal/core"
	"github.com/dotcommander/refiner/internal/instruction"
)

// API is the subset of the provider the executor drives
type API interface {
	Generate(ctx context.Context, req GenerateRequest) (*Job, error)
	Wait(ctx context.Context, requestID string) (*Status, error)
	EditBackground(ctx context.Context, req BackgroundEdit) (*Job, error)
	RegisterImage(ctx context.Context, imageURL string) (string, error)
	GenerateMask(ctx context.Context, visualID, target string) (*Mask, error)
	MaskFill(ctx context.Context, req MaskFillRequest) (*Job, error)
}

var _ API = (*Client)(nil)

// ErrNoSourceImage is returned when a strategy edits an image that was not supplied
var ErrNoSourceImage = errors.New("strategy requires a source image")

// Executor turns a planned refinement into provider calls.
type Executor struct {
	api    API
	logger *slog.Logger
}

// NewExecutor creates an executor over api
func NewExecutor(api API, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default().With("component", "executor")
	}
	return &Executor{api: api, logger: logger}
}

// Execute runs res against the image at imageURL and waits for the provider to finish.
// MultiStep plans go out as one combined regeneration, never as a chain of calls.
func (e *Executor) Execute(ctx context.Context, res *core.Result, imageURL string) (*Status, error) {
	strategy := res.Plan.Strategy
	e.logger.Info("executing refinement", "strategy", strategy, "operations", len(res.Plan.Operations))

	var (
		job *Job
		err error
	)
	switch strategy {
	case instruction.StrategyBackgroundRemoval:
		if imageURL == "" {
			return nil, fmt.Errorf("%s: %w", strategy, ErrNoSourceImage)
		}
		job, err = e.api.EditBackground(ctx, BackgroundEdit{Mode: BackgroundRemove, ImageURL: imageURL})
	case instruction.StrategyMaskBased:
		if imageURL == "" {
			return nil, fmt.Errorf("%s: %w", strategy, ErrNoSourceImage)
		}
		job, err = e.maskFill(ctx, res, imageURL)
	default:
		job, err = e.regenerate(ctx, res, imageURL)
	}
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", strategy, err)
	}
	return e.api.Wait(ctx, job.RequestID)
}

func (e *Executor) maskFill(ctx context.Context, res *core.Result, imageURL string) (*Job, error) {
	op := res.Plan.Operations[0]
	visualID, err := e.api.RegisterImage(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	mask, err := e.api.GenerateMask(ctx, visualID, maskTarget(op))
	if err != nil {
		return nil, err
	}
	e.logger.Debug("mask generated", "visual_id", visualID, "mask_id", mask.ID)
	return e.api.MaskFill(ctx, MaskFillRequest{ImageURL: imageURL, MaskURL: mask.URL, Prompt: op.Describe()})
}

func (e *Executor) regenerate(ctx context.Context, res *core.Result, imageURL string) (*Job, error) {
	req := GenerateRequest{ImageURL: imageURL}
	if res.Patched != nil {
		raw, err := json.Marshal(res.Patched)
		if err != nil {
			return nil, fmt.Errorf("encode structured prompt: %w", err)
		}
		req.StructuredPrompt = raw
	} else {
		req.Prompt = res.TextPrompt
	}
	return e.api.Generate(ctx, req)
}

// maskTarget names the region a high-specificity edit applies to.
func maskTarget(op instruction.Operation) string {
	switch o := op.(type) {
	case *instruction.Addition:
		if o.Location != "" {
			return o.Location
		}
		return o.Item
	case *instruction.TextureAddition:
		if o.TargetNoun != "" {
			return o.TargetNoun
		}
		return o.Texture
	}
	return op.Target()
}
