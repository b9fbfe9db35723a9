package domain

import (
	"context"
	"errors"
)

// ErrChainNotFound is returned by stores that hold no chain for a key
var ErrChainNotFound = errors.New("chain not found")

// ChainStore persists refinement chains across processes
type ChainStore interface {
	// SaveChain writes the full chain, replacing any previous copy
	SaveChain(ctx context.Context, chain *Chain) error

	// LoadChain reads the chain stored under its canonical image key
	LoadChain(ctx context.Context, imageKey string) (*Chain, error)

	// SaveAlias points alias at a canonical image key
	SaveAlias(ctx context.Context, alias, imageKey string) error

	// ResolveAlias returns the canonical key for alias, or ErrChainNotFound
	ResolveAlias(ctx context.Context, alias string) (string, error)

	// ListChains returns every canonical image key
	ListChains(ctx context.Context) ([]string, error)

	// DeleteChain removes a chain and its aliases
	DeleteChain(ctx context.Context, imageKey string) error
}
