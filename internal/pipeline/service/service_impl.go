package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/royaltyledger/internal/canonical"
	"github.com/smallbiznis/royaltyledger/internal/classifier"
	"github.com/smallbiznis/royaltyledger/internal/clock"
	"github.com/smallbiznis/royaltyledger/internal/config"
	"github.com/smallbiznis/royaltyledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/royaltyledger/internal/observability/metrics"
	"github.com/smallbiznis/royaltyledger/internal/observability/push"
	"github.com/smallbiznis/royaltyledger/internal/observability/tracing"
	"github.com/smallbiznis/royaltyledger/internal/period"
	"github.com/smallbiznis/royaltyledger/internal/pipeline/domain"
	"github.com/smallbiznis/royaltyledger/internal/ratelimit"
	revenuedomain "github.com/smallbiznis/royaltyledger/internal/revenue/domain"
	sourcefiledomain "github.com/smallbiznis/royaltyledger/internal/sourcefile/domain"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	warehousedomain "github.com/smallbiznis/royaltyledger/internal/warehouse/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Config     config.Config
	Canonical  *canonical.Service
	Vendors    *vendor.Registry
	Classifier *classifier.Classifier
	Sources    sourcefiledomain.Service
	Normalizer revenuedomain.Normalizer
	Writer     revenuedomain.Writer
	Warehouse  warehousedomain.Service `optional:"true"`
	Guard      *ratelimit.Guard        `optional:"true"`
	ObsMetrics *obsmetrics.Metrics     `optional:"true"`
	Pusher     push.Pusher             `optional:"true"`
	Clock      clock.Clock             `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	sourcesRoot   string
	canonicalRoot string
	canonical     *canonical.Service
	vendors       *vendor.Registry
	classifier    *classifier.Classifier
	sources       sourcefiledomain.Service
	normalizer    revenuedomain.Normalizer
	writer        revenuedomain.Writer
	warehouse     warehousedomain.Service
	guard         *ratelimit.Guard
	obsMetrics    *obsmetrics.Metrics
	pusher        push.Pusher
	clock         clock.Clock
}

func NewService(p Params) domain.Service {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("pipeline"),
		sourcesRoot:   p.Config.SourcesRoot,
		canonicalRoot: p.Config.CanonicalRoot,
		canonical:     p.Canonical,
		vendors:       p.Vendors,
		classifier:    p.Classifier,
		sources:       p.Sources,
		normalizer:    p.Normalizer,
		writer:        p.Writer,
		warehouse:     p.Warehouse,
		guard:         p.Guard,
		obsMetrics:    p.ObsMetrics,
		pusher:        p.Pusher,
		clock:         c,
	}
}

func (s *Service) Run(ctx context.Context, req domain.Request) (*domain.Report, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	lockKey := canonical.LabelSlug(req.Label)
	token, ok, err := s.guard.LockLabel(ctx, lockKey)
	if err != nil {
		return nil, fmt.Errorf("lock label: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrLabelLocked, req.Label)
	}
	defer func() {
		if err := s.guard.UnlockLabel(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("failed to release label lock", zap.String("label", req.Label), zap.Error(err))
		}
	}()

	runID := ulid.Make().String()
	ctx = logger.ContextWithRun(ctx, runID, req.Label)
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("label", req.Label),
		attribute.String("root", req.Root),
	))
	defer span.End()
	log := logger.WithContext(ctx, s.log)

	report := &domain.Report{
		RunID:     runID,
		Label:     req.Label,
		Root:      req.Root,
		Status:    domain.RunRunning,
		StartedAt: s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&domain.IngestRun{
		ID:        runID,
		Label:     req.Label,
		Root:      req.Root,
		Status:    domain.RunRunning,
		StartedAt: report.StartedAt,
	}).Error; err != nil {
		return nil, fmt.Errorf("record ingest run: %w", err)
	}

	files, err := discover(req.Root, s.canonicalRoot)
	if err != nil {
		s.finish(ctx, report, domain.RunAborted)
		return report, fmt.Errorf("scan %s: %w", req.Root, err)
	}
	log.Info("ingest started", zap.String("root", req.Root), zap.Int("files", len(files)))

	var systemic error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			systemic = err
			break
		}
		report.Add(s.ingestFile(ctx, runID, req, path))
	}
	if systemic == nil && report.Written > 0 {
		s.rebuildWarehouse(ctx, report)
	}

	status := domain.RunCompleted
	switch {
	case systemic != nil:
		status = domain.RunAborted
		span.SetStatus(codes.Error, systemic.Error())
	case report.Failed():
		status = domain.RunPartial
	}
	s.finish(ctx, report, status)
	return report, systemic
}

// rebuildWarehouse refreshes the fact table once per batch. A failed rebuild
// leaves the stored events intact and marks the run partial; the fact table
// can be rebuilt on its own later.
func (s *Service) rebuildWarehouse(ctx context.Context, report *domain.Report) {
	if s.warehouse == nil {
		return
	}
	log := logger.WithContext(ctx, s.log)
	res, err := s.warehouse.Rebuild(ctx)
	if err != nil {
		log.Error("warehouse rebuild failed", zap.Error(err))
		report.Warehouse = &domain.WarehouseBuild{Error: err.Error()}
		return
	}
	report.Warehouse = &domain.WarehouseBuild{Facts: res.Facts, Duration: res.Duration.String()}
	log.Info("warehouse rebuilt", zap.Int("facts", res.Facts), zap.Duration("duration", res.Duration))
}

func (s *Service) validate(req domain.Request) (domain.Request, error) {
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		return req, fmt.Errorf("%w: label is required", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Root) == "" {
		req.Root = s.sourcesRoot
	}
	info, err := os.Stat(req.Root)
	if err != nil {
		return req, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if !info.IsDir() {
		return req, fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidRequest, req.Root)
	}
	if req.Vendor != "" {
		a, ok := s.vendors.Get(req.Vendor)
		if !ok {
			return req, fmt.Errorf("%w: unknown vendor %q", domain.ErrInvalidRequest, req.Vendor)
		}
		req.Vendor = a.Name()
	}
	return req, nil
}

// ingestFile takes one statement from raw bytes to stored events. All reads
// and conversions happen before the file transaction, which registers the
// file, captures every row and writes the events atomically.
func (s *Service) ingestFile(ctx context.Context, runID string, req domain.Request, path string) domain.FileReport {
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.file", trace.WithAttributes(attribute.String("file", path)))
	defer span.End()

	fr := domain.FileReport{Path: path, Noise: map[string]int{}}
	log := logger.WithFile(logger.WithContext(ctx, s.log), path, string(req.Vendor))

	res, err := s.canonical.Canonicalize(ctx, canonical.Request{
		Path:       path,
		Root:       req.Root,
		Label:      req.Label,
		VendorHint: req.Vendor,
	})
	if err != nil {
		fr.Error = err.Error()
		if errors.Is(err, period.ErrUnparseable) || errors.Is(err, canonical.ErrEmptyFile) {
			fr.Status = domain.FileSkipped
			log.Warn("file skipped", zap.Error(err))
		} else {
			fr.Status = domain.FileFailed
			span.SetStatus(codes.Error, err.Error())
			log.Error("file failed", zap.Error(err))
		}
		s.obsMetrics.RecordFile(ctx, string(req.Vendor), string(fr.Status))
		return fr
	}

	vendorName := string(res.Adapter.Name())
	log = logger.WithFile(logger.WithContext(ctx, s.log), path, vendorName)
	span.SetAttributes(
		attribute.String("vendor", vendorName),
		attribute.String("period", res.Period.Key()),
		attribute.Int("rows", len(res.Rows)),
	)

	fr.CanonicalPath = res.CanonicalPath
	fr.Vendor = vendorName
	fr.Period = res.Period.Key()
	fr.StatementType = string(res.StatementType)
	fr.Encoding = res.Encoding
	fr.DecimalComma = res.DecimalComma
	fr.Sheet = res.Sheet
	if res.Delimiter != 0 {
		fr.Delimiter = string(res.Delimiter)
	}

	captured := make([]revenuedomain.CapturedRow, 0, len(res.Rows))
	events := make([]revenuedomain.NormalizedEvent, 0, len(res.Rows))
	for _, row := range res.Rows {
		result := s.classifier.Classify(res.Adapter, row)
		fr.Rows.Add(result.Class)
		captured = append(captured, revenuedomain.CapturedRow{Row: row, Class: string(result.Class), Reason: result.Reason})

		switch result.Class {
		case classifier.ClassNoise:
			fr.Noise[result.Reason]++
			continue
		case classifier.ClassMalformed:
			log.Debug("malformed row", zap.Int("row", row.Ordinal))
			continue
		case classifier.ClassBlank:
			continue
		}

		ev, err := s.normalizer.Normalize(ctx, revenuedomain.NormalizeInput{
			Label:         req.Label,
			Adapter:       res.Adapter,
			StatementType: res.StatementType,
			Period:        res.Period,
			Row:           row,
		})
		if err != nil {
			return s.failed(ctx, span, log, fr, fmt.Errorf("normalize row %d: %w", row.Ordinal, err))
		}
		if ev.AmountInvalid {
			fr.AmountParseFailures++
		}
		if ev.Approximate {
			fr.FXApproximate++
		}
		if ev.Kind == revenuedomain.KindCost {
			fr.Costs++
		}
		events = append(events, ev)
	}
	if !fr.Rows.Balanced() {
		log.Error("row partition does not add up", zap.Any("rows", fr.Rows))
	}
	for class, count := range map[classifier.Class]int{
		classifier.ClassBlank:       fr.Rows.Blank,
		classifier.ClassNoise:       fr.Rows.Noise,
		classifier.ClassTransaction: fr.Rows.Transaction,
		classifier.ClassMalformed:   fr.Rows.Malformed,
	} {
		s.obsMetrics.RecordRows(ctx, vendorName, string(class), count)
	}

	var (
		sf      *sourcefiledomain.SourceFile
		outcome sourcefiledomain.RegisterOutcome
		written revenuedomain.WriteResult
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sf, outcome, err = s.sources.Register(ctx, tx, sourcefiledomain.RegisterRequest{
			Slot: sourcefiledomain.Slot{
				Label:         req.Label,
				Vendor:        vendorName,
				PeriodKey:     res.Period.Key(),
				StatementType: string(res.StatementType),
			},
			SHA256:        res.SHA256,
			RawSHA256:     res.RawSHA256,
			PeriodStart:   res.Period.Start,
			PeriodEnd:     res.Period.End,
			SourcePath:    res.SourcePath,
			CanonicalPath: res.CanonicalPath,
			Bytes:         res.Bytes,
			ModifiedAt:    res.ModTime,
			Metadata: map[string]any{
				"ingest_run_id":    runID,
				"encoding":         res.Encoding,
				"delimiter":        fr.Delimiter,
				"decimal_comma":    res.DecimalComma,
				"sheet":            res.Sheet,
				"rewritten_fields": res.RewrittenFields,
				"rows":             len(res.Rows),
			},
		})
		if err != nil {
			return fmt.Errorf("register source file: %w", err)
		}

		if _, err := s.writer.Capture(ctx, tx, sf.ID, revenuedomain.CaptureInput{
			Label:         req.Label,
			Vendor:        res.Adapter.Name(),
			StatementType: res.StatementType,
			PeriodKey:     res.Period.Key(),
			Rows:          captured,
		}); err != nil {
			return fmt.Errorf("capture raw rows: %w", err)
		}

		written, err = s.writer.WriteAll(ctx, tx, sf.ID, events)
		return err
	})
	if err != nil {
		return s.failed(ctx, span, log, fr, err)
	}

	fr.SourceFileID = sf.ID.String()
	fr.Registration = string(outcome)
	correctionOf := ""
	if sf.CorrectionOf != nil {
		correctionOf = sf.CorrectionOf.String()
		fr.CorrectionOf = correctionOf
	}
	fr.Written = written.Written
	fr.AlreadyPresent = written.AlreadyPresent
	fr.Status = domain.FileOK

	if err := s.canonical.WriteSidecar(res, fr.SourceFileID, correctionOf); err != nil {
		log.Warn("failed to write sidecar", zap.Error(err))
	}

	s.obsMetrics.RecordWrite(ctx, vendorName, fr.Written, fr.AlreadyPresent)
	s.obsMetrics.RecordFile(ctx, vendorName, string(fr.Status))
	log.Info("file ingested",
		zap.String("source_file_id", fr.SourceFileID),
		zap.String("registration", fr.Registration),
		zap.Int("total", fr.Rows.Total),
		zap.Int("transaction", fr.Rows.Transaction),
		zap.Int("noise", fr.Rows.Noise),
		zap.Int("blank", fr.Rows.Blank),
		zap.Int("malformed", fr.Rows.Malformed),
		zap.Int("written", fr.Written),
		zap.Int("already_present", fr.AlreadyPresent),
		zap.Int("amount_parse_failures", fr.AmountParseFailures),
		zap.Int("fx_approximate", fr.FXApproximate),
	)
	return fr
}

func (s *Service) failed(ctx context.Context, span trace.Span, log *zap.Logger, fr domain.FileReport, err error) domain.FileReport {
	fr.Status = domain.FileFailed
	fr.Error = err.Error()
	fr.Written, fr.AlreadyPresent = 0, 0
	span.SetStatus(codes.Error, err.Error())
	log.Error("file failed", zap.Error(err))
	s.obsMetrics.RecordFile(ctx, fr.Vendor, string(fr.Status))
	return fr
}

// finish stamps the report, stores it on the run record and pushes the
// batch metrics. Storage errors here are logged; the report is still
// returned to the operator.
func (s *Service) finish(ctx context.Context, report *domain.Report, status domain.RunStatus) {
	ctx = context.WithoutCancel(ctx)
	report.Status = status
	report.FinishedAt = s.clock.Now().UTC()
	log := logger.WithContext(ctx, s.log)

	encoded, err := json.Marshal(report)
	if err != nil {
		log.Error("failed to encode run report", zap.Error(err))
	}
	finished := report.FinishedAt
	if err := s.db.WithContext(ctx).Model(&domain.IngestRun{}).
		Where("id = ?", report.RunID).
		Updates(map[string]any{
			"status":        status,
			"finished_at":   &finished,
			"files_scanned": report.FilesScanned,
			"files_failed":  report.FilesFailed,
			"written":       report.Written,
			"report":        datatypes.JSON(encoded),
		}).Error; err != nil {
		log.Error("failed to store run report", zap.Error(err))
	}

	if s.pusher != nil {
		m := newBatchMetrics()
		m.observe(report)
		if err := s.pusher.Push(ctx, m.registry, map[string]string{"label": canonical.LabelSlug(report.Label)}); err != nil {
			log.Warn("failed to push batch metrics", zap.Error(err))
		}
	}

	log.Info("ingest finished",
		zap.String("status", string(status)),
		zap.Int("files", report.FilesScanned),
		zap.Int("failed", report.FilesFailed),
		zap.Int("skipped", report.FilesSkipped),
		zap.Int("written", report.Written),
		zap.Int("already_present", report.AlreadyPresent),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
}
