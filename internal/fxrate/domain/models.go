package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrUnavailable     = errors.New("fx_rate_unavailable")
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidRate     = errors.New("invalid_fx_rate")
)

const (
	SourceIdentity = "identity"
	SourceProvider = "provider"
	SourceManual   = "manual"
	SourceStored   = "stored"
	SourceFallback = "fallback"
	SourceUnknown  = "unknown_pair"
)

// Rate is one stored conversion: 1 unit of FromCcy buys Rate units of ToCcy
// on RateDate.
type Rate struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	RateDate  string          `json:"rate_date" gorm:"type:char(10);not null;uniqueIndex:ux_fx_rates_pair,priority:1"`
	FromCcy   string          `json:"from_ccy" gorm:"type:char(3);not null;uniqueIndex:ux_fx_rates_pair,priority:2"`
	ToCcy     string          `json:"to_ccy" gorm:"type:char(3);not null;uniqueIndex:ux_fx_rates_pair,priority:3"`
	Rate      decimal.Decimal `json:"rate" gorm:"type:decimal(20,10);not null"`
	Source    string          `json:"source" gorm:"type:text;not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
}

func (Rate) TableName() string { return "fx_rates" }

// Quote is a rate as used by a conversion. Approximate quotes come from the
// static table and are flagged on every event converted with them.
type Quote struct {
	Rate        decimal.Decimal
	Approximate bool
	Source      string
}

// Provider fetches a market rate. It returns ErrUnavailable when the pair or
// date is not served.
type Provider interface {
	GetRate(ctx context.Context, date time.Time, from, to string) (decimal.Decimal, error)
}

type Service interface {
	// Quote never fails for want of a rate: the static table answers when
	// every other source is unavailable.
	Quote(ctx context.Context, date time.Time, from, to string) (Quote, error)
	Record(ctx context.Context, date time.Time, from, to string, rate decimal.Decimal) (*Rate, error)
	List(ctx context.Context, from, to string) ([]Rate, error)
}

func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
