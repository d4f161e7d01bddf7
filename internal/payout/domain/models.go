package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusComputed  Status = "computed"
	StatusFinalized Status = "finalized"
)

const UnknownArtist = "Unknown Artist"

// Run is the payout authorization of one label for one quarter. At most one
// run exists per key.
type Run struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	Label         string       `json:"label" gorm:"type:text;not null;uniqueIndex:ux_payout_runs_period,priority:1"`
	PeriodYear    int          `json:"period_year" gorm:"not null;uniqueIndex:ux_payout_runs_period,priority:2"`
	PeriodQuarter int          `json:"period_quarter" gorm:"not null;uniqueIndex:ux_payout_runs_period,priority:3"`
	BaseCurrency  string       `json:"base_currency" gorm:"type:char(3);not null"`
	Status        Status       `json:"status" gorm:"type:text;not null"`

	ArtistRate    decimal.Decimal `json:"artist_rate" gorm:"type:decimal(6,4);not null"`
	EventCount    int             `json:"event_count" gorm:"not null;default:0"`
	RevenueBase   decimal.Decimal `json:"revenue_base" gorm:"type:decimal(20,8);not null"`
	ArtistShare   decimal.Decimal `json:"artist_share" gorm:"type:decimal(20,8);not null"`
	LabelShare    decimal.Decimal `json:"label_share" gorm:"type:decimal(20,8);not null"`
	CostsBase     decimal.Decimal `json:"costs_base" gorm:"type:decimal(20,8);not null"`
	FXApproximate bool            `json:"fx_approximate" gorm:"not null;default:false"`

	CreatedAt   time.Time  `json:"created_at" gorm:"not null"`
	ComputedAt  *time.Time `json:"computed_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`

	Lines []Line `json:"lines,omitempty" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (Run) TableName() string { return "payout_runs" }

// Line is an immutable artist share of one (platform, currency) group.
type Line struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	RunID          snowflake.ID    `json:"run_id" gorm:"not null;index"`
	ArtistName     string          `json:"artist_name" gorm:"type:text;not null"`
	Platform       string          `json:"platform" gorm:"type:text;not null"`
	Currency       string          `json:"currency" gorm:"type:char(3);not null"`
	EventCount     int             `json:"event_count" gorm:"not null"`
	RevenueEventID *snowflake.ID   `json:"revenue_event_id,omitempty"`
	AmountOriginal decimal.Decimal `json:"amount_original" gorm:"type:decimal(20,8);not null"`
	AmountBase     decimal.Decimal `json:"amount_base" gorm:"type:decimal(20,8);not null"`
	FXRate         decimal.Decimal `json:"fx_rate" gorm:"type:decimal(20,10);not null"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
}

func (Line) TableName() string { return "payout_lines" }

// Group is the aggregate of one (platform, currency) pair in a plan.
type Group struct {
	Platform            string
	Currency            string
	Events              int
	RevenueOriginal     decimal.Decimal
	RevenueBase         decimal.Decimal
	ArtistShareOriginal decimal.Decimal
	ArtistShareBase     decimal.Decimal
	Approximate         bool
}

// FXRate is the effective original-to-base rate of the group.
func (g Group) FXRate() decimal.Decimal {
	if g.RevenueOriginal.IsZero() {
		return decimal.NewFromInt(1)
	}
	return g.RevenueBase.DivRound(g.RevenueOriginal, 10)
}

// Plan is the computed payout of a period, persisted or not.
type Plan struct {
	Label        string
	Year         int
	Quarter      int
	BaseCurrency string
	ArtistRate   decimal.Decimal
	Groups       []Group
	Events       int
	RevenueBase  decimal.Decimal
	ArtistShare  decimal.Decimal
	LabelShare   decimal.Decimal
	Costs        int
	CostsBase    decimal.Decimal
	Approximate  bool
}
