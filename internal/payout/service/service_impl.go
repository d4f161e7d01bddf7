package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/royaltyledger/internal/clock"
	"github.com/smallbiznis/royaltyledger/internal/config"
	obsmetrics "github.com/smallbiznis/royaltyledger/internal/observability/metrics"
	"github.com/smallbiznis/royaltyledger/internal/payout/domain"
	"github.com/smallbiznis/royaltyledger/internal/period"
	"github.com/smallbiznis/royaltyledger/internal/providers/pdf"
	"github.com/smallbiznis/royaltyledger/internal/ratelimit"
	revenuedomain "github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	sourcefiledomain "github.com/smallbiznis/royaltyledger/internal/sourcefile/domain"
	"github.com/smallbiznis/royaltyledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Config     config.Config
	Policy     config.Policy
	PDF        pdf.Provider        `optional:"true"`
	Guard      *ratelimit.Guard    `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	base       string
	rate       decimal.Decimal
	pdf        pdf.Provider
	guard      *ratelimit.Guard
	obsMetrics *obsmetrics.Metrics
	clock      clock.Clock
}

func NewService(p Params) domain.Service {
	base := strings.ToUpper(strings.TrimSpace(p.Config.BaseCurrency))
	if base == "" {
		base = "EUR"
	}
	renderer := p.PDF
	if renderer == nil {
		renderer = pdf.New()
	}
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payout.service"),
		genID:      p.GenID,
		base:       base,
		rate:       p.Policy.ArtistRate(),
		pdf:        renderer,
		guard:      p.Guard,
		obsMetrics: p.ObsMetrics,
		clock:      c,
	}
}

func (s *Service) Preview(ctx context.Context, req domain.Request) (*domain.Plan, error) {
	req, window, err := validate(req)
	if err != nil {
		return nil, err
	}

	var events []revenuedomain.RevenueEvent
	if err := s.db.WithContext(ctx).
		Where("label = ? AND occurred_at >= ? AND occurred_at < ?", req.Label, window.Start, window.End).
		Where(sourcefiledomain.HeadFilter).
		Order("platform ASC, currency ASC, occurred_at ASC, id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("load revenue events: %w", err)
	}

	var costs []revenuedomain.CostEvent
	if err := s.db.WithContext(ctx).
		Where("label = ? AND occurred_at >= ? AND occurred_at < ?", req.Label, window.Start, window.End).
		Where(sourcefiledomain.HeadFilter).
		Find(&costs).Error; err != nil {
		return nil, fmt.Errorf("load cost events: %w", err)
	}

	return s.plan(req, events, costs), nil
}

func (s *Service) plan(req domain.Request, events []revenuedomain.RevenueEvent, costs []revenuedomain.CostEvent) *domain.Plan {
	groups := map[string]*domain.Group{}
	keys := []string{}
	for i := range events {
		ev := &events[i]
		key := ev.Platform + "\x00" + ev.Currency
		g, ok := groups[key]
		if !ok {
			g = &domain.Group{
				Platform:        ev.Platform,
				Currency:        ev.Currency,
				RevenueOriginal: decimal.Zero,
				RevenueBase:     decimal.Zero,
			}
			groups[key] = g
			keys = append(keys, key)
		}
		g.Events++
		g.RevenueOriginal = g.RevenueOriginal.Add(ev.AmountOriginal)
		g.RevenueBase = g.RevenueBase.Add(ev.AmountBase)
		if ev.FXApproximate {
			g.Approximate = true
		}
	}
	sort.Strings(keys)

	plan := &domain.Plan{
		Label:        req.Label,
		Year:         req.Year,
		Quarter:      req.Quarter,
		BaseCurrency: s.base,
		ArtistRate:   s.rate,
		RevenueBase:  decimal.Zero,
		ArtistShare:  decimal.Zero,
		CostsBase:    decimal.Zero,
	}
	for _, key := range keys {
		g := groups[key]
		g.ArtistShareOriginal = g.RevenueOriginal.Mul(s.rate).Round(8)
		g.ArtistShareBase = g.RevenueBase.Mul(s.rate).Round(8)
		plan.Groups = append(plan.Groups, *g)
		plan.Events += g.Events
		plan.RevenueBase = plan.RevenueBase.Add(g.RevenueBase)
		plan.ArtistShare = plan.ArtistShare.Add(g.ArtistShareBase)
		if g.Approximate {
			plan.Approximate = true
		}
	}
	plan.LabelShare = plan.RevenueBase.Sub(plan.ArtistShare)

	for _, c := range costs {
		plan.Costs++
		plan.CostsBase = plan.CostsBase.Add(c.AmountBase)
	}
	return plan
}

func (s *Service) Create(ctx context.Context, req domain.Request) (*domain.Run, error) {
	req, _, err := validate(req)
	if err != nil {
		return nil, err
	}

	lockKey := slug.Make(req.Label)
	token, ok, err := s.guard.LockPayout(ctx, lockKey, req.Year, req.Quarter)
	if err != nil {
		return nil, fmt.Errorf("lock payout: %w", err)
	}
	if !ok {
		return nil, domain.ErrRunLocked
	}
	defer func() {
		if err := s.guard.UnlockPayout(context.WithoutCancel(ctx), lockKey, req.Year, req.Quarter, token); err != nil {
			s.log.Warn("failed to release payout lock", zap.Error(err))
		}
	}()

	var existing int64
	if err := s.db.WithContext(ctx).Model(&domain.Run{}).
		Where("label = ? AND period_year = ? AND period_quarter = ?", req.Label, req.Year, req.Quarter).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, domain.ErrRunExists
	}

	plan, err := s.Preview(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	run := &domain.Run{
		ID:            s.genID.Generate(),
		Label:         req.Label,
		PeriodYear:    req.Year,
		PeriodQuarter: req.Quarter,
		BaseCurrency:  plan.BaseCurrency,
		Status:        domain.StatusCreated,
		ArtistRate:    plan.ArtistRate,
		EventCount:    plan.Events,
		RevenueBase:   plan.RevenueBase,
		ArtistShare:   plan.ArtistShare,
		LabelShare:    plan.LabelShare,
		CostsBase:     plan.CostsBase,
		FXApproximate: plan.Approximate,
		CreatedAt:     now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lines").Create(run).Error; err != nil {
			return err
		}

		lines := make([]domain.Line, 0, len(plan.Groups))
		for _, g := range plan.Groups {
			lines = append(lines, domain.Line{
				ID:             s.genID.Generate(),
				RunID:          run.ID,
				ArtistName:     domain.UnknownArtist,
				Platform:       g.Platform,
				Currency:       g.Currency,
				EventCount:     g.Events,
				AmountOriginal: g.ArtistShareOriginal,
				AmountBase:     g.ArtistShareBase,
				FXRate:         g.FXRate(),
				CreatedAt:      now,
			})
		}
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&domain.Run{}).
			Where("id = ? AND status = ?", run.ID, domain.StatusCreated).
			Updates(map[string]any{"status": domain.StatusComputed, "computed_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInvalidStatus
		}
		run.Status = domain.StatusComputed
		run.ComputedAt = &now
		run.Lines = lines
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrRunExists
		}
		return nil, err
	}

	s.obsMetrics.RecordPayoutRun(ctx, string(run.Status))
	s.log.Info("payout run created",
		zap.String("run_id", run.ID.String()),
		zap.String("label", run.Label),
		zap.Int("year", run.PeriodYear),
		zap.Int("quarter", run.PeriodQuarter),
		zap.Int("lines", len(run.Lines)),
		zap.String("artist_share", run.ArtistShare.StringFixed(2)),
	)
	return run, nil
}

func (s *Service) Finalize(ctx context.Context, id snowflake.ID) (*domain.Run, error) {
	now := s.clock.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := getRun(tx, id, false)
		if err != nil {
			return err
		}
		switch run.Status {
		case domain.StatusFinalized:
			return domain.ErrFinalized
		case domain.StatusComputed:
		default:
			return domain.ErrInvalidStatus
		}
		result := tx.Model(&domain.Run{}).
			Where("id = ? AND status = ?", id, domain.StatusComputed).
			Updates(map[string]any{"status": domain.StatusFinalized, "finalized_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrInvalidStatus
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPayoutRun(ctx, string(domain.StatusFinalized))
	s.log.Info("payout run finalized", zap.String("run_id", id.String()))
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Run, error) {
	return getRun(s.db.WithContext(ctx), id, true)
}

func (s *Service) List(ctx context.Context, label string) ([]domain.Run, error) {
	q := s.db.WithContext(ctx).Model(&domain.Run{})
	if label = strings.TrimSpace(label); label != "" {
		q = q.Where("label = ?", label)
	}
	var runs []domain.Run
	if err := q.Order("period_year DESC, period_quarter DESC, label ASC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := getRun(tx, id, false)
		if err != nil {
			return err
		}
		if run.Status == domain.StatusFinalized {
			return domain.ErrFinalized
		}
		if err := tx.Where("run_id = ?", id).Delete(&domain.Line{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.Run{}, "id = ?", id).Error; err != nil {
			return err
		}
		s.log.Info("payout run deleted", zap.String("run_id", id.String()))
		return nil
	})
}

func (s *Service) Statement(ctx context.Context, id snowflake.ID, w io.Writer) error {
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	data := pdf.StatementData{
		Label:        run.Label,
		Period:       fmt.Sprintf("%d-Q%d", run.PeriodYear, run.PeriodQuarter),
		RunID:        run.ID.String(),
		Status:       string(run.Status),
		IssuedAt:     s.clock.Now().UTC().Format("2006-01-02"),
		BaseCurrency: run.BaseCurrency,
		ArtistRate:   run.ArtistRate.String(),
		Revenue:      money(run.BaseCurrency, run.RevenueBase),
		ArtistShare:  money(run.BaseCurrency, run.ArtistShare),
		LabelShare:   money(run.BaseCurrency, run.LabelShare),
		Costs:        money(run.BaseCurrency, run.CostsBase),
	}
	for _, line := range run.Lines {
		data.Lines = append(data.Lines, pdf.StatementLine{
			Artist:         line.ArtistName,
			Platform:       line.Platform,
			Currency:       line.Currency,
			Events:         line.EventCount,
			AmountOriginal: line.AmountOriginal.StringFixed(2),
			FXRate:         line.FXRate.String(),
			AmountBase:     money(run.BaseCurrency, line.AmountBase),
		})
	}
	if run.FXApproximate {
		data.Notes = append(data.Notes, "Some amounts were converted with approximate static rates.")
	}
	if run.Status != domain.StatusFinalized {
		data.Notes = append(data.Notes, "Draft: this run is not finalized.")
	}

	r, err := s.pdf.RenderStatement(ctx, data)
	if err != nil {
		return fmt.Errorf("render statement: %w", err)
	}
	if r == nil {
		return nil
	}
	_, err = io.Copy(w, r)
	return err
}

func getRun(q *gorm.DB, id snowflake.ID, withLines bool) (*domain.Run, error) {
	if withLines {
		q = q.Preload("Lines", func(lines *gorm.DB) *gorm.DB {
			return lines.Order("platform ASC, currency ASC")
		})
	}
	var run domain.Run
	if err := q.Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

func validate(req domain.Request) (domain.Request, period.Period, error) {
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		return req, period.Period{}, fmt.Errorf("%w: label is required", domain.ErrInvalidRequest)
	}
	window, err := period.Quarter(req.Year, req.Quarter)
	if err != nil {
		return req, period.Period{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return req, window, nil
}

func money(currency string, v decimal.Decimal) string {
	return currency + " " + v.StringFixed(2)
}

// ParseRunID parses the decimal run id printed by the CLI.
func ParseRunID(raw string) (snowflake.ID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: run id %q", domain.ErrInvalidRequest, raw)
	}
	return snowflake.ID(v), nil
}
