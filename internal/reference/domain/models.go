package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Platform struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	Name      string       `json:"name" gorm:"type:text;not null;uniqueIndex:ux_platforms_name"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Platform) TableName() string { return "platforms" }

// Store is a retail or streaming outlet reached through a platform.
type Store struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	PlatformID snowflake.ID `json:"platform_id" gorm:"not null;uniqueIndex:ux_stores_platform_name,priority:1"`
	Name       string       `json:"name" gorm:"type:text;not null;uniqueIndex:ux_stores_platform_name,priority:2"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
}

func (Store) TableName() string { return "stores" }

type Currency struct {
	Code      string    `json:"code" gorm:"type:char(3);primaryKey;column:code"`
	Name      string    `json:"name" gorm:"type:text;not null"`
	Symbol    *string   `json:"symbol,omitempty" gorm:"type:text"`
	MinorUnit int16     `json:"minor_unit" gorm:"type:smallint;not null"`
	IsActive  bool      `json:"is_active,omitempty" gorm:"not null;default:true"`
	CreatedAt time.Time `json:"created_at,omitempty" gorm:"not null"`
}

func (Currency) TableName() string { return "currencies" }

func strptr(s string) *string { return &s }

// DefaultPlatforms and DefaultCurrencies are seeded on first start.
var (
	DefaultPlatforms  = []string{"Bandcamp", "Distribution"}
	DefaultCurrencies = []Currency{
		{Code: "EUR", Name: "Euro", Symbol: strptr("€"), MinorUnit: 2, IsActive: true},
		{Code: "USD", Name: "US Dollar", Symbol: strptr("$"), MinorUnit: 2, IsActive: true},
		{Code: "BRL", Name: "Brazilian Real", Symbol: strptr("R$"), MinorUnit: 2, IsActive: true},
		{Code: "GBP", Name: "Pound Sterling", Symbol: strptr("£"), MinorUnit: 2, IsActive: true},
	}
)
