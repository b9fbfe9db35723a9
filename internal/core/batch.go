package core

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome of one request in a batch
type BatchItem struct {
	Index   int     `json:"index"`
	Request Request `json:"-"`
	Result  *Result `json:"result,omitempty"`
	Err     error   `json:"-"`
}

// BatchOption customizes Batch
type BatchOption func(*batchConfig)

type batchConfig struct {
	workers  int
	timeout  time.Duration
	failFast bool
}

// WithWorkers bounds how many images are refined at once
func WithWorkers(workers int) BatchOption {
	return func(c *batchConfig) {
		if workers > 0 {
			c.workers = workers
		}
	}
}

// WithItemTimeout sets the timeout for each request
func WithItemTimeout(timeout time.Duration) BatchOption {
	return func(c *batchConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithFailFast cancels the remaining work on the first failed request
func WithFailFast(failFast bool) BatchOption {
	return func(c *batchConfig) {
		c.failFast = failFast
	}
}

// Batch plans every request. Requests for the same image run one after another in input order;
// different images run concurrently. Items come back in input order with per-item errors.
func (r *Refiner) Batch(ctx context.Context, reqs []Request, opts ...BatchOption) ([]BatchItem, error) {
	cfg := batchConfig{workers: 4, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	items := make([]BatchItem, len(reqs))
	if len(reqs) == 0 {
		return items, nil
	}

	// group by resolved chain so aliases of one image share a lane
	var order []string
	lanes := make(map[string][]int)
	for i, req := range reqs {
		items[i] = BatchItem{Index: i, Request: req}
		key := r.backgrounds.Registry().Resolve(ctx, req.ImageKey)
		if _, ok := lanes[key]; !ok {
			order = append(order, key)
		}
		lanes[key] = append(lanes[key], i)
	}

	r.logger.Info("starting batch",
		"requests", len(reqs),
		"images", len(order),
		"workers", cfg.workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for _, key := range order {
		lane := lanes[key]
		g.Go(func() error {
			for _, i := range lane {
				if err := gctx.Err(); err != nil {
					items[i].Err = err
					continue
				}
				itemCtx, cancel := context.WithTimeout(gctx, cfg.timeout)
				res, err := r.PlanRefinement(itemCtx, reqs[i])
				cancel()
				items[i].Result, items[i].Err = res, err
				if err != nil {
					r.logger.Warn("batch item failed", "index", i, "image_key", reqs[i].ImageKey, "error", err)
					if cfg.failFast {
						return fmt.Errorf("request %d (%s): %w", i, reqs[i].ImageKey, err)
					}
				}
			}
			return nil
		})
	}
	err := g.Wait()

	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	r.logger.Info("batch completed", "requests", len(reqs), "failed", failed)
	return items, err
}
