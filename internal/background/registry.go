package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/dotcommander/refiner/internal/domain"
	refinererrors "github.com/dotcommander/refiner/pkg/refiner/errors"
)

// DefaultCapacity bounds the number of chains held in memory.
const DefaultCapacity = 4096

// CanonicalKey normalizes an image identifier. URLs get a lower-cased scheme and host and lose
// their query, fragment and trailing slash; anything else is only trimmed.
func CanonicalKey(key string) string {
	key = strings.TrimSpace(key)
	u, err := url.Parse(key)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return key
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery, u.ForceQuery = "", false
	u.Fragment, u.RawFragment = "", ""
	return strings.TrimRight(u.String(), "/")
}

type entry struct {
	mu    sync.Mutex
	chain *domain.Chain
}

// chainCache is satisfied by both the size-only and the size+TTL LRU.
type chainCache interface {
	Get(key string) (*entry, bool)
	Add(key string, value *entry) bool
	Remove(key string) bool
	Len() int
}

// Registry owns every refinement chain. Its lock guards only the alias table and the cache
// index; each chain has its own lock, so different images never block each other while the
// same image is serialized.
type Registry struct {
	mu      sync.Mutex
	aliases map[string]string
	cache   chainCache

	store  domain.ChainStore
	loads  singleflight.Group
	now    func() time.Time
	logger *slog.Logger
}

// RegistryConfig selects the eviction policy: size-bounded LRU, or size+TTL when TTL > 0.
type RegistryConfig struct {
	Capacity int
	TTL      time.Duration
	Store    domain.ChainStore
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewRegistry creates a registry with the configured eviction policy.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "chain_registry")
	}

	r := &Registry{
		aliases: make(map[string]string),
		store:   cfg.Store,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}
	onEvict := func(key string, _ *entry) {
		r.logger.Debug("chain evicted", "image_key", key)
	}
	if cfg.TTL > 0 {
		r.cache = expirable.NewLRU[string, *entry](cfg.Capacity, onEvict, cfg.TTL)
		return r, nil
	}
	cache, err := lru.NewWithEvict[string, *entry](cfg.Capacity, onEvict)
	if err != nil {
		return nil, fmt.Errorf("create chain cache: %w", err)
	}
	r.cache = cache
	return r, nil
}

// Resolve maps any registered identifier to the canonical key of its chain.
func (r *Registry) Resolve(ctx context.Context, key string) string {
	canonical := CanonicalKey(key)

	r.mu.Lock()
	target, ok := r.aliases[canonical]
	r.mu.Unlock()
	if ok {
		return target
	}
	if r.store == nil {
		return canonical
	}

	target, err := r.store.ResolveAlias(ctx, canonical)
	if err != nil {
		if !errors.Is(err, domain.ErrChainNotFound) {
			r.logger.Warn("alias lookup failed", "alias", canonical, "error", err)
		}
		return canonical
	}
	r.mu.Lock()
	r.aliases[canonical] = target
	r.mu.Unlock()
	return target
}

// acquire returns the entry for key, loading it from the store or creating it when asked.
func (r *Registry) acquire(ctx context.Context, key string, create bool) (*entry, bool, error) {
	id := r.Resolve(ctx, key)

	r.mu.Lock()
	e, ok := r.cache.Get(id)
	r.mu.Unlock()
	if ok {
		return e, false, nil
	}

	if r.store != nil {
		v, err, _ := r.loads.Do(id, func() (interface{}, error) {
			return r.load(ctx, id)
		})
		if err != nil {
			return nil, false, err
		}
		if loaded := v.(*entry); loaded != nil {
			return loaded, false, nil
		}
	}
	if !create {
		return nil, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache.Get(id); ok {
		return e, false, nil
	}
	now := r.now()
	e = &entry{chain: &domain.Chain{
		ChainID:         uuid.NewString(),
		ImageKey:        id,
		BackgroundState: domain.DefaultBackground(now),
		History:         []domain.HistoryEntry{},
		CreatedAt:       now,
		LastModified:    now,
	}}
	r.cache.Add(id, e)
	r.logger.Debug("chain created", "image_key", id, "chain_id", e.chain.ChainID)
	return e, true, nil
}

func (r *Registry) load(ctx context.Context, id string) (*entry, error) {
	r.mu.Lock()
	if e, ok := r.cache.Get(id); ok {
		r.mu.Unlock()
		return e, nil
	}
	r.mu.Unlock()

	chain, err := r.store.LoadChain(ctx, id)
	if errors.Is(err, domain.ErrChainNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chain %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache.Get(id); ok {
		return e, nil
	}
	e := &entry{chain: chain}
	r.cache.Add(id, e)
	for _, alias := range chain.Aliases {
		r.aliases[alias] = id
	}
	return e, nil
}

// Mutate runs fn with exclusive access to the chain for key, creating the chain when asked.
// When fn reports a change the chain is written through to the store.
func (r *Registry) Mutate(ctx context.Context, key string, create bool, fn func(chain *domain.Chain, created bool) (bool, error)) error {
	e, created, err := r.acquire(ctx, key, create)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%w: %s", refinererrors.ErrUnknownImageKey, CanonicalKey(key))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	changed, err := fn(e.chain, created)
	if err != nil {
		return err
	}
	if (changed || created) && r.store != nil {
		if err := r.store.SaveChain(ctx, e.chain.Clone()); err != nil {
			return fmt.Errorf("save chain %s: %w", e.chain.ImageKey, err)
		}
	}
	return nil
}

// Snapshot returns a copy of the chain for key.
func (r *Registry) Snapshot(ctx context.Context, key string) (*domain.Chain, error) {
	e, _, err := r.acquire(ctx, key, false)
	if err != nil || e == nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.Clone(), nil
}

// Alias attaches identifiers to the chain for key, creating the chain if needed.
func (r *Registry) Alias(ctx context.Context, key string, aliases ...string) error {
	id := r.Resolve(ctx, key)
	var added []string
	err := r.Mutate(ctx, id, true, func(chain *domain.Chain, _ bool) (bool, error) {
		for _, alias := range aliases {
			alias = CanonicalKey(alias)
			if alias == "" || chain.HasAlias(alias) {
				continue
			}
			chain.Aliases = append(chain.Aliases, alias)
			added = append(added, alias)
		}
		if len(added) > 0 {
			chain.LastModified = r.now()
		}
		return len(added) > 0, nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, alias := range added {
		r.aliases[alias] = id
	}
	r.mu.Unlock()

	if r.store != nil {
		for _, alias := range added {
			if err := r.store.SaveAlias(ctx, alias, id); err != nil {
				return fmt.Errorf("save alias %s: %w", alias, err)
			}
		}
	}
	return nil
}

// Len returns the number of chains held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
