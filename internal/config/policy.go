package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Policy holds the tunable inclusion rules of the ingest pipeline and the
// payout defaults. It is loaded from pipeline.yml when present.
type Policy struct {
	IncludeZeroAmount         bool              `mapstructure:"include_zero_amount"`
	SummaryKeywords           []string          `mapstructure:"summary_keywords"`
	ExchangeMarkers           []string          `mapstructure:"exchange_markers"`
	MinPopulatedColumns       int               `mapstructure:"min_populated_columns"`
	TrackSaleMarker           string            `mapstructure:"track_sale_marker"`
	BandcampItemTypes         []string          `mapstructure:"bandcamp_item_types"`
	BandcampExcludedItemTypes []string          `mapstructure:"bandcamp_excluded_item_types"`
	DefaultArtistRate         string            `mapstructure:"default_artist_rate"`
	FallbackPivotCurrency     string            `mapstructure:"fallback_pivot_currency"`
	FallbackRates             map[string]string `mapstructure:"fallback_rates"`
}

func DefaultPolicy() Policy {
	return Policy{
		IncludeZeroAmount:         true,
		SummaryKeywords:           []string{"total", "subtotal", "sub-total", "grand total", "sum", "summe", "gesamt"},
		ExchangeMarkers:           []string{"exchange", "rate"},
		MinPopulatedColumns:       4,
		TrackSaleMarker:           "Track",
		BandcampItemTypes:         []string{"track", "album", "bundle", "package"},
		BandcampExcludedItemTypes: []string{"payout", "payment", "transfer", "refund adjustment"},
		DefaultArtistRate:         "0.5",
		FallbackPivotCurrency:     "BRL",
		FallbackRates: map[string]string{
			"BRL": "1",
			"USD": "5.50",
			"EUR": "6.00",
			"GBP": "7.00",
		},
	}
}

// LoadPolicy reads pipeline.yml from the configured path or the default
// search locations. Missing files fall back to DefaultPolicy.
func LoadPolicy(cfg Config) (Policy, error) {
	v := viper.New()
	if cfg.PolicyFile != "" {
		v.SetConfigFile(cfg.PolicyFile)
	} else {
		v.SetConfigName("pipeline")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/royaltyledger")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfg.PolicyFile != "" {
			return Policy{}, fmt.Errorf("read pipeline policy: %w", err)
		}
	}

	// Keys absent from the file keep their default.
	policy := DefaultPolicy()
	const prefix = "policy."
	if v.IsSet(prefix + "include_zero_amount") {
		policy.IncludeZeroAmount = v.GetBool(prefix + "include_zero_amount")
	}
	if v.IsSet(prefix + "min_populated_columns") {
		policy.MinPopulatedColumns = v.GetInt(prefix + "min_populated_columns")
	}
	overrideString(v, prefix+"track_sale_marker", &policy.TrackSaleMarker)
	overrideString(v, prefix+"default_artist_rate", &policy.DefaultArtistRate)
	overrideString(v, prefix+"fallback_pivot_currency", &policy.FallbackPivotCurrency)
	overrideStrings(v, prefix+"summary_keywords", &policy.SummaryKeywords)
	overrideStrings(v, prefix+"exchange_markers", &policy.ExchangeMarkers)
	overrideStrings(v, prefix+"bandcamp_item_types", &policy.BandcampItemTypes)
	overrideStrings(v, prefix+"bandcamp_excluded_item_types", &policy.BandcampExcludedItemTypes)
	if v.IsSet(prefix + "fallback_rates") {
		for code, rate := range v.GetStringMapString(prefix + "fallback_rates") {
			policy.FallbackRates[strings.ToUpper(strings.TrimSpace(code))] = rate
		}
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func (p Policy) Validate() error {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.DefaultArtistRate))
	if err != nil {
		return fmt.Errorf("policy.default_artist_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("policy.default_artist_rate must be between 0 and 1")
	}
	if p.MinPopulatedColumns < 0 {
		return errors.New("policy.min_populated_columns cannot be negative")
	}
	for code, raw := range p.FallbackRates {
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("policy.fallback_rates.%s: %w", code, err)
		}
		if !value.IsPositive() {
			return fmt.Errorf("policy.fallback_rates.%s must be positive", code)
		}
	}
	return nil
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func overrideStrings(v *viper.Viper, key string, dst *[]string) {
	if v.IsSet(key) {
		*dst = v.GetStringSlice(key)
	}
}

// ArtistRate returns the default artist share as a decimal.
func (p Policy) ArtistRate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.DefaultArtistRate))
	if err != nil {
		return decimal.RequireFromString("0.5")
	}
	return rate
}

// FallbackTable returns the fallback rates keyed by upper-cased currency,
// each expressed in units of FallbackPivotCurrency.
func (p Policy) FallbackTable() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p.FallbackRates))
	for code, raw := range p.FallbackRates {
		value, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !value.IsPositive() {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = value
	}
	return out
}
