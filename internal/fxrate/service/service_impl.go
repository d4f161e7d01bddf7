package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/cache"
	"github.com/smallbiznis/royaltyledger/internal/clock"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/fxrate/domain"
	obsmetrics "github.com/smallbiznis/royaltyledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	Policy     config.Policy
	Provider   domain.Provider     `optional:"true"`
	Redis      *redis.Client       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	provider   domain.Provider
	shared     sharedCache
	local      cache.Cache[string, domain.Quote]
	fallback   map[string]decimal.Decimal
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
}

func NewService(p Params) domain.Service {
	ttl := time.Duration(p.Config.FX.CacheTTL) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("fxrate.service"),
		genID:      p.GenID,
		provider:   p.Provider,
		shared:     sharedCache{client: p.Redis, ttl: ttl},
		local:      cache.NewTTLCache[string, domain.Quote](),
		fallback:   p.Policy.FallbackTable(),
		obsMetrics: p.ObsMetrics,
		clock:      c,
	}
}

// Quote resolves a rate from, in order: the process cache, redis, the
// fx_rates table, the HTTP provider and finally the static table.
func (s *Service) Quote(ctx context.Context, date time.Time, from, to string) (domain.Quote, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return domain.Quote{}, err
	}
	if from == to {
		return domain.Quote{Rate: decimal.NewFromInt(1), Source: domain.SourceIdentity}, nil
	}
	day := domain.DateKey(date)
	key := day + ":" + from + ":" + to

	if q, ok := s.local.Get(key); ok {
		return q, nil
	}
	if rate, ok := s.shared.get(ctx, day, from, to); ok {
		q := domain.Quote{Rate: rate, Source: domain.SourceProvider}
		s.local.Set(key, q, 0)
		return q, nil
	}

	stored, err := s.lookup(ctx, day, from, to)
	if err != nil {
		return domain.Quote{}, err
	}
	if stored != nil {
		q := domain.Quote{Rate: stored.Rate, Source: domain.SourceStored}
		s.local.Set(key, q, 0)
		return q, nil
	}

	if s.provider != nil {
		rate, err := s.provider.GetRate(ctx, date, from, to)
		if err == nil {
			if _, err := s.store(ctx, day, from, to, rate, domain.SourceProvider, false); err != nil {
				return domain.Quote{}, err
			}
			if err := s.shared.set(ctx, day, from, to, rate); err != nil {
				s.log.Warn("fx shared cache write failed", zap.Error(err))
			}
			q := domain.Quote{Rate: rate, Source: domain.SourceProvider}
			s.local.Set(key, q, 0)
			return q, nil
		}
		if !errors.Is(err, domain.ErrUnavailable) {
			return domain.Quote{}, err
		}
	}

	q := s.staticQuote(from, to)
	s.log.Warn("fx rate unavailable, using static table",
		zap.String("from_currency", from),
		zap.String("to_currency", to),
		zap.String("date", day),
		zap.String("rate", q.Rate.String()),
		zap.String("source", q.Source),
	)
	s.obsMetrics.RecordFXFallback(ctx, from, to)
	s.local.Set(key, q, 0)
	return q, nil
}

// staticQuote converts through the pivot table. Pairs the table does not
// cover pass through at 1.
func (s *Service) staticQuote(from, to string) domain.Quote {
	fromUnits, okFrom := s.fallback[from]
	toUnits, okTo := s.fallback[to]
	if !okFrom || !okTo || toUnits.IsZero() {
		return domain.Quote{Rate: decimal.NewFromInt(1), Approximate: true, Source: domain.SourceUnknown}
	}
	return domain.Quote{
		Rate:        fromUnits.DivRound(toUnits, 10),
		Approximate: true,
		Source:      domain.SourceFallback,
	}
}

// Record stores an operator supplied rate, replacing any earlier one for the
// same day and pair.
func (s *Service) Record(ctx context.Context, date time.Time, from, to string, rate decimal.Decimal) (*domain.Rate, error) {
	from, to, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, domain.ErrInvalidRate
	}
	day := domain.DateKey(date)
	if _, err := s.store(ctx, day, from, to, rate, domain.SourceManual, true); err != nil {
		return nil, err
	}
	row, err := s.lookup(ctx, day, from, to)
	if err != nil {
		return nil, err
	}
	s.local.Delete(day + ":" + from + ":" + to)
	if err := s.shared.del(ctx, day, from, to); err != nil {
		s.log.Warn("fx shared cache invalidation failed", zap.Error(err))
	}
	return row, nil
}

func (s *Service) List(ctx context.Context, from, to string) ([]domain.Rate, error) {
	q := s.db.WithContext(ctx)
	if from = strings.ToUpper(strings.TrimSpace(from)); from != "" {
		q = q.Where("from_ccy = ?", from)
	}
	if to = strings.ToUpper(strings.TrimSpace(to)); to != "" {
		q = q.Where("to_ccy = ?", to)
	}
	var rates []domain.Rate
	err := q.Order("rate_date, from_ccy, to_ccy").Find(&rates).Error
	return rates, err
}

func (s *Service) lookup(ctx context.Context, day, from, to string) (*domain.Rate, error) {
	var rate domain.Rate
	err := s.db.WithContext(ctx).
		Where("rate_date = ? AND from_ccy = ? AND to_ccy = ?", day, from, to).
		Take(&rate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

func (s *Service) store(ctx context.Context, day, from, to string, rate decimal.Decimal, source string, overwrite bool) (*domain.Rate, error) {
	row := &domain.Rate{
		ID:        s.genID.Generate(),
		RateDate:  day,
		FromCcy:   from,
		ToCcy:     to,
		Rate:      rate,
		Source:    source,
		CreatedAt: s.clock.Now(),
	}
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "rate_date"}, {Name: "from_ccy"}, {Name: "to_ccy"}},
	}
	if overwrite {
		conflict.DoUpdates = clause.AssignmentColumns([]string{"rate", "source"})
	} else {
		conflict.DoNothing = true
	}
	if err := s.db.WithContext(ctx).Clauses(conflict).Create(row).Error; err != nil {
		return nil, fmt.Errorf("store fx rate: %w", err)
	}
	return row, nil
}

func normalizePair(from, to string) (string, string, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if len(from) != 3 || len(to) != 3 {
		return "", "", fmt.Errorf("%w: %q/%q", domain.ErrInvalidCurrency, from, to)
	}
	return from, to, nil
}
