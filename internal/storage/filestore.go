package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/dotcommander/refiner/internal/domain"
)

const (
	chainDir = "chains"
	aliasDir = "aliases"
)

// FileStore keeps one JSON document per chain and one pointer file per alias.
type FileStore struct {
	mu    sync.RWMutex
	blobs Storage
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{blobs: NewFileSystem(dir)}, nil
}

// encodeKey turns an image key, usually a URL, into a single safe path segment.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(name string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, ".json"))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func chainPath(key string) string { return path.Join(chainDir, encodeKey(key)+".json") }
func aliasPath(key string) string { return path.Join(aliasDir, encodeKey(key)+".json") }

type aliasRecord struct {
	Alias    string `json:"alias"`
	ImageKey string `json:"image_key"`
}

func (s *FileStore) SaveChain(ctx context.Context, chain *domain.Chain) error {
	data, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs.Save(ctx, chainPath(chain.ImageKey), data)
}

func (s *FileStore) LoadChain(ctx context.Context, imageKey string) (*domain.Chain, error) {
	s.mu.RLock()
	data, err := s.blobs.Load(ctx, chainPath(imageKey))
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrChainNotFound, imageKey)
	}
	if err != nil {
		return nil, err
	}

	var chain domain.Chain
	if err := json.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("decode chain %s: %w", imageKey, err)
	}
	return &chain, nil
}

func (s *FileStore) SaveAlias(ctx context.Context, alias, imageKey string) error {
	data, err := json.Marshal(aliasRecord{Alias: alias, ImageKey: imageKey})
	if err != nil {
		return fmt.Errorf("encode alias: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs.Save(ctx, aliasPath(alias), data)
}

// ResolveAlias is asked about every key the registry has not seen, so most lookups miss and
// stop at the existence check.
func (s *FileStore) ResolveAlias(ctx context.Context, alias string) (string, error) {
	s.mu.RLock()
	var (
		data []byte
		err  = os.ErrNotExist
	)
	if s.blobs.Exists(ctx, aliasPath(alias)) {
		data, err = s.blobs.Load(ctx, aliasPath(alias))
	}
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: alias %s", domain.ErrChainNotFound, alias)
	}
	if err != nil {
		return "", err
	}

	var rec aliasRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("decode alias %s: %w", alias, err)
	}
	return rec.ImageKey, nil
}

func (s *FileStore) ListChains(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	names, err := s.blobs.List(ctx, path.Join(chainDir, "*.json"))
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(names))
	for _, name := range names {
		key, err := decodeKey(path.Base(name))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *FileStore) DeleteChain(ctx context.Context, imageKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.blobs.List(ctx, path.Join(aliasDir, "*.json"))
	if err != nil {
		return err
	}
	for _, name := range names {
		data, err := s.blobs.Load(ctx, name)
		if err != nil {
			continue
		}
		var rec aliasRecord
		if json.Unmarshal(data, &rec) == nil && rec.ImageKey == imageKey {
			if err := s.blobs.Delete(ctx, name); err != nil {
				return err
			}
		}
	}
	return s.blobs.Delete(ctx, chainPath(imageKey))
}
