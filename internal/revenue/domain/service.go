package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/royaltyledger/internal/period"
	"github.com/smallbiznis/royaltyledger/internal/vendor"
	"gorm.io/gorm"
)

var ErrMissingSourceFile = errors.New("missing_source_file")

type EventKind string

const (
	KindRevenue EventKind = "revenue"
	KindCost    EventKind = "cost"
)

// NormalizeInput is the file level context of a transaction row.
type NormalizeInput struct {
	Label         string
	Adapter       vendor.Adapter
	StatementType vendor.StatementType
	Period        period.Period
	Row           vendor.Row
}

// NormalizedEvent carries exactly one of Revenue or Cost. Identity and
// ownership are assigned by the writer.
type NormalizedEvent struct {
	Kind    EventKind
	Revenue *RevenueEvent
	Cost    *CostEvent

	AmountInvalid bool
	Approximate   bool
}

type Normalizer interface {
	Normalize(ctx context.Context, in NormalizeInput) (NormalizedEvent, error)
}

type WriteResult struct {
	Written        int
	AlreadyPresent int
}

func (r *WriteResult) Add(inserted bool) {
	if inserted {
		r.Written++
	} else {
		r.AlreadyPresent++
	}
}

// CapturedRow is a classified source row bound for raw capture.
type CapturedRow struct {
	Row    vendor.Row
	Class  string
	Reason string
}

type CaptureInput struct {
	Label         string
	Vendor        vendor.Name
	StatementType vendor.StatementType
	PeriodKey     string
	Rows          []CapturedRow
}

type Writer interface {
	// Write inserts the event unless its identity hash is already stored.
	Write(ctx context.Context, tx *gorm.DB, sourceFileID snowflake.ID, ev NormalizedEvent) (inserted bool, err error)
	WriteAll(ctx context.Context, tx *gorm.DB, sourceFileID snowflake.ID, events []NormalizedEvent) (WriteResult, error)
	Capture(ctx context.Context, tx *gorm.DB, sourceFileID snowflake.ID, in CaptureInput) (int, error)
}
