// Package storage persists refinement chains.
package storage

import (
	"context"

	"github.com/dotcommander/refiner/internal/domain"
)

// Storage is a flat blob store addressed by relative paths.
type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
}

var (
	_ Storage           = (*FileSystem)(nil)
	_ domain.ChainStore = (*FileStore)(nil)
	_ domain.ChainStore = (*SQLStore)(nil)
)
