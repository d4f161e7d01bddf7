package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// RevenueEvent is one monetized transaction or settlement line. Rows are
// append-only; a correction produces new events under the correcting file.
type RevenueEvent struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	SourceFileID snowflake.ID `json:"source_file_id" gorm:"not null;index"`
	RowOrdinal   int          `json:"row_ordinal" gorm:"not null"`
	IdentityHash string       `json:"identity_hash" gorm:"type:char(64);not null;uniqueIndex:ux_revenue_events_identity"`

	Label          string        `json:"label" gorm:"type:text;not null;index:ix_revenue_events_label_time,priority:1"`
	Vendor         string        `json:"vendor" gorm:"type:text;not null"`
	PlatformID     snowflake.ID  `json:"platform_id" gorm:"not null"`
	Platform       string        `json:"platform" gorm:"type:text;not null"`
	StoreID        *snowflake.ID `json:"store_id,omitempty"`
	StoreName      string        `json:"store_name" gorm:"type:text"`
	OccurredAt     time.Time     `json:"occurred_at" gorm:"not null;index:ix_revenue_events_label_time,priority:2"`
	PeriodGranular bool          `json:"period_granular" gorm:"not null;default:false"`
	PeriodKey      string        `json:"period_key" gorm:"type:text;not null"`

	Currency       string          `json:"currency" gorm:"type:char(3);not null"`
	AmountOriginal decimal.Decimal `json:"amount_original" gorm:"type:decimal(20,8);not null"`
	GrossOriginal  decimal.Decimal `json:"gross_original" gorm:"type:decimal(20,8);not null"`
	BaseCurrency   string          `json:"base_currency" gorm:"type:char(3);not null"`
	AmountBase     decimal.Decimal `json:"amount_base" gorm:"type:decimal(20,8);not null"`
	FXRate         decimal.Decimal `json:"fx_rate" gorm:"type:decimal(20,10);not null"`
	FXApproximate  bool            `json:"fx_approximate" gorm:"not null;default:false"`
	FXSource       string          `json:"fx_source" gorm:"type:text;not null"`
	Quantity       int64           `json:"quantity" gorm:"not null;default:0"`
	ProductType    string          `json:"product_type" gorm:"type:text"`
	AmountInvalid  bool            `json:"amount_invalid" gorm:"not null;default:false"`

	ArtistName    string     `json:"artist_name" gorm:"type:text"`
	TrackTitle    string     `json:"track_title" gorm:"type:text"`
	ISRC          string     `json:"isrc" gorm:"column:isrc;type:text"`
	UPC           string     `json:"upc" gorm:"column:upc;type:text"`
	CatalogNumber string     `json:"catalog_number" gorm:"type:text"`
	Country       string     `json:"country" gorm:"type:text"`
	TrackID       *uuid.UUID `json:"track_id,omitempty" gorm:"type:text"`
	ReleaseID     *uuid.UUID `json:"release_id,omitempty" gorm:"type:text"`
	ArtistID      *uuid.UUID `json:"artist_id,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (RevenueEvent) TableName() string { return "revenue_events" }

// CostEvent is a charge reported by an encoding-cost statement. Cost events
// share the identity scheme of revenue events.
type CostEvent struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	SourceFileID snowflake.ID `json:"source_file_id" gorm:"not null;index"`
	RowOrdinal   int          `json:"row_ordinal" gorm:"not null"`
	IdentityHash string       `json:"identity_hash" gorm:"type:char(64);not null;uniqueIndex:ux_cost_events_identity"`

	Label          string          `json:"label" gorm:"type:text;not null"`
	Vendor         string          `json:"vendor" gorm:"type:text;not null"`
	OccurredAt     time.Time       `json:"occurred_at" gorm:"not null"`
	PeriodGranular bool            `json:"period_granular" gorm:"not null;default:false"`
	PeriodKey      string          `json:"period_key" gorm:"type:text;not null"`
	Currency       string          `json:"currency" gorm:"type:char(3);not null"`
	AmountOriginal decimal.Decimal `json:"amount_original" gorm:"type:decimal(20,8);not null"`
	BaseCurrency   string          `json:"base_currency" gorm:"type:char(3);not null"`
	AmountBase     decimal.Decimal `json:"amount_base" gorm:"type:decimal(20,8);not null"`
	FXRate         decimal.Decimal `json:"fx_rate" gorm:"type:decimal(20,10);not null"`
	FXApproximate  bool            `json:"fx_approximate" gorm:"not null;default:false"`
	Description    string          `json:"description" gorm:"type:text"`
	ArtistName     string          `json:"artist_name" gorm:"type:text"`
	TrackTitle     string          `json:"track_title" gorm:"type:text"`
	ISRC           string          `json:"isrc" gorm:"column:isrc;type:text"`
	AmountInvalid  bool            `json:"amount_invalid" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (CostEvent) TableName() string { return "cost_events" }

// RawVendorRow captures a source row exactly as read, whatever its class.
type RawVendorRow struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	SourceFileID  snowflake.ID      `json:"source_file_id" gorm:"not null;uniqueIndex:ux_raw_vendor_rows_row,priority:1"`
	RowOrdinal    int               `json:"row_ordinal" gorm:"not null;uniqueIndex:ux_raw_vendor_rows_row,priority:2"`
	Label         string            `json:"label" gorm:"type:text;not null"`
	Vendor        string            `json:"vendor" gorm:"type:text;not null;index"`
	StatementType string            `json:"statement_type" gorm:"type:text;not null"`
	PeriodKey     string            `json:"period_key" gorm:"type:text;not null"`
	Class         string            `json:"class" gorm:"type:text;not null"`
	Reason        string            `json:"reason,omitempty" gorm:"type:text"`
	Columns       datatypes.JSON    `json:"columns" gorm:"type:json"`
	Raw           datatypes.JSONMap `json:"raw" gorm:"type:json"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null"`
}

func (RawVendorRow) TableName() string { return "raw_vendor_rows" }
