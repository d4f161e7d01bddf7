package reference

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/royaltyledger/internal/clock"
	"github.com/smallbiznis/royaltyledger/internal/reference/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RegistryParams struct {
	fx.In

	DB    *gorm.DB
	Repo  domain.Repository
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
}

type storeKey struct {
	platform snowflake.ID
	name     string
}

// Registry keeps reference ids in memory once resolved. Lookups are safe
// for concurrent use.
type Registry struct {
	db    *gorm.DB
	repo  domain.Repository
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	mu         sync.RWMutex
	platforms  map[string]snowflake.ID
	stores     map[storeKey]snowflake.ID
	currencies map[string]domain.Currency
}

func NewRegistry(p RegistryParams) *Registry {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Registry{
		db:         p.DB,
		repo:       p.Repo,
		log:        p.Log.Named("reference.registry"),
		genID:      p.GenID,
		clock:      c,
		platforms:  make(map[string]snowflake.ID),
		stores:     make(map[storeKey]snowflake.ID),
		currencies: make(map[string]domain.Currency),
	}
}

// Init seeds the default platforms and currencies and warms the cache. It
// may run any number of times.
func (r *Registry) Init(ctx context.Context) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range domain.DefaultCurrencies {
			c.CreatedAt = r.clock.Now()
			if err := r.repo.EnsureCurrency(ctx, tx, c); err != nil {
				return fmt.Errorf("seed currency %s: %w", c.Code, err)
			}
		}
		for _, name := range domain.DefaultPlatforms {
			if _, err := r.repo.EnsurePlatform(ctx, tx, domain.Platform{ID: r.genID.Generate(), Name: name, CreatedAt: r.clock.Now()}); err != nil {
				return fmt.Errorf("seed platform %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	platforms, err := r.repo.ListPlatforms(ctx, r.db)
	if err != nil {
		return err
	}
	stores, err := r.repo.ListStores(ctx, r.db)
	if err != nil {
		return err
	}
	currencies, err := r.repo.ListCurrencies(ctx, r.db)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range platforms {
		r.platforms[normalize(p.Name)] = p.ID
	}
	for _, s := range stores {
		r.stores[storeKey{platform: s.PlatformID, name: normalize(s.Name)}] = s.ID
	}
	for _, c := range currencies {
		r.currencies[c.Code] = c
	}
	r.log.Debug("reference data loaded",
		zap.Int("platforms", len(platforms)),
		zap.Int("stores", len(stores)),
		zap.Int("currencies", len(currencies)),
	)
	return nil
}

func (r *Registry) PlatformID(ctx context.Context, name string) (snowflake.ID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, domain.ErrInvalidName
	}
	key := normalize(name)

	r.mu.RLock()
	id, ok := r.platforms[key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	stored, err := r.repo.EnsurePlatform(ctx, r.db, domain.Platform{ID: r.genID.Generate(), Name: name, CreatedAt: r.clock.Now()})
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.platforms[key] = stored.ID
	r.mu.Unlock()
	return stored.ID, nil
}

// StoreID returns 0 without error for an empty store name; many statements
// do not name the outlet.
func (r *Registry) StoreID(ctx context.Context, platformID snowflake.ID, name string) (snowflake.ID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, nil
	}
	key := storeKey{platform: platformID, name: normalize(name)}

	r.mu.RLock()
	id, ok := r.stores[key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	stored, err := r.repo.EnsureStore(ctx, r.db, domain.Store{
		ID:         r.genID.Generate(),
		PlatformID: platformID,
		Name:       name,
		CreatedAt:  r.clock.Now(),
	})
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.stores[key] = stored.ID
	r.mu.Unlock()
	return stored.ID, nil
}

func (r *Registry) Currency(ctx context.Context, code string) (*domain.Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	r.mu.RLock()
	c, ok := r.currencies[code]
	r.mu.RUnlock()
	if ok {
		return &c, nil
	}

	currencies, err := r.repo.ListCurrencies(ctx, r.db)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range currencies {
		r.currencies[item.Code] = item
	}
	if c, ok := r.currencies[code]; ok {
		return &c, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCurrency, code)
}

func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
