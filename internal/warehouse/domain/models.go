package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	OriginEvent = "event"
	OriginRaw   = "raw"
)

// ReportingCurrencies are the currencies every fact is expanded into.
var ReportingCurrencies = []string{"EUR", "USD", "BRL"}

// Fact is a derived, disposable projection of one revenue event or, for
// vendors without normalized events, one captured raw row.
type Fact struct {
	ID           int64        `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Origin       string       `json:"origin" gorm:"type:text;not null"`
	OriginID     snowflake.ID `json:"origin_id" gorm:"not null"`
	SourceFileID snowflake.ID `json:"source_file_id" gorm:"not null;index"`
	RowOrdinal   int          `json:"row_ordinal" gorm:"not null"`

	Label          string    `json:"label" gorm:"type:text;not null;index:ix_fact_revenue_period,priority:1"`
	Vendor         string    `json:"vendor" gorm:"type:text;not null"`
	Platform       string    `json:"platform" gorm:"type:text;not null"`
	StoreName      string    `json:"store_name" gorm:"type:text"`
	OccurredAt     time.Time `json:"occurred_at" gorm:"not null"`
	PeriodGranular bool      `json:"period_granular" gorm:"not null;default:false"`
	Year           int       `json:"year" gorm:"not null;index:ix_fact_revenue_period,priority:2"`
	Quarter        int       `json:"quarter" gorm:"not null;index:ix_fact_revenue_period,priority:3"`
	Month          int       `json:"month" gorm:"not null"`

	Currency       string          `json:"currency" gorm:"type:char(3);not null"`
	AmountOriginal decimal.Decimal `json:"amount_original" gorm:"type:decimal(20,8);not null"`
	BaseCurrency   string          `json:"base_currency" gorm:"type:char(3);not null"`
	AmountBase     decimal.Decimal `json:"amount_base" gorm:"type:decimal(20,8);not null"`
	RevenueEUR     decimal.Decimal `json:"revenue_eur" gorm:"column:revenue_eur;type:decimal(20,8);not null"`
	RevenueUSD     decimal.Decimal `json:"revenue_usd" gorm:"column:revenue_usd;type:decimal(20,8);not null"`
	RevenueBRL     decimal.Decimal `json:"revenue_brl" gorm:"column:revenue_brl;type:decimal(20,8);not null"`
	FXApproximate  bool            `json:"fx_approximate" gorm:"not null;default:false"`
	Quantity       int64           `json:"quantity" gorm:"not null;default:0"`
	ProductType    string          `json:"product_type" gorm:"type:text"`

	ArtistName string `json:"artist_name" gorm:"type:text"`
	TrackTitle string `json:"track_title" gorm:"type:text"`
	ISRC       string `json:"isrc" gorm:"column:isrc;type:text"`
	ArtistID   string `json:"artist_id,omitempty" gorm:"type:text"`
	TrackID    string `json:"track_id,omitempty" gorm:"type:text"`
}

func (Fact) TableName() string { return "fact_revenue" }

type BuildResult struct {
	Facts       int
	FromEvents  int
	FromRaw     int
	RawVendors  []string
	Approximate int
	Duration    time.Duration
}

// Totals are aggregate figures over the fact table, rendered at fixed scale
// so two builds over the same events compare equal as text.
type Totals struct {
	Facts      int
	AmountBase decimal.Decimal
	RevenueEUR decimal.Decimal
	RevenueUSD decimal.Decimal
	RevenueBRL decimal.Decimal
	ByVendor   map[string]decimal.Decimal
}

type Service interface {
	Rebuild(ctx context.Context) (BuildResult, error)
	Totals(ctx context.Context) (Totals, error)
}
