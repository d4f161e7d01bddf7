package amount

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmpty   = errors.New("amount_empty")
	ErrInvalid = errors.New("amount_invalid")
)

var (
	commaGroupedRe = regexp.MustCompile(`^[-+]?\d{1,3}(\.\d{3})+(,\d+)?$`)
	commaPlainRe   = regexp.MustCompile(`^[-+]?\d+(,\d+)?$`)
	dotGroupedRe   = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d+)?$`)
	thousandsRe    = regexp.MustCompile(`^\d{1,3}(,\d{3})+$`)
)

// Canonicalize rewrites a field to dot-decimal notation without grouping
// separators. Only strictly numeric fields are touched; anything else is
// returned unchanged with changed=false.
func Canonicalize(raw string, commaDecimal bool) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return raw, false
	}
	if commaDecimal {
		if commaGroupedRe.MatchString(value) || commaPlainRe.MatchString(value) {
			out := strings.ReplaceAll(value, ".", "")
			out = strings.ReplaceAll(out, ",", ".")
			return out, out != raw
		}
		return raw, false
	}
	if dotGroupedRe.MatchString(value) {
		out := strings.ReplaceAll(value, ",", "")
		return out, out != raw
	}
	return raw, false
}

// IsPlausible reports whether raw holds at least one digit and otherwise only
// digits, separators and signs.
func IsPlausible(raw string) bool {
	value := strings.TrimSpace(raw)
	digits := 0
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ',' || r == '.' || r == '-' || r == '+' || r == ' ':
		default:
			return false
		}
	}
	return digits > 0
}

// LooksMonetary reports whether raw is a number optionally decorated with a
// currency code or symbol, as found on statement total lines.
func LooksMonetary(raw string) bool {
	cleaned := stripDecoration(raw)
	return cleaned != "" && IsPlausible(cleaned)
}

// Parse reads a statement amount in either decimal convention. Currency
// symbols, codes and accounting parentheses are tolerated.
func Parse(raw string) (decimal.Decimal, error) {
	value := stripDecoration(raw)
	if value == "" {
		return decimal.Zero, ErrEmpty
	}

	negative := false
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		negative = true
		value = strings.TrimSpace(value[1 : len(value)-1])
	}
	if strings.HasSuffix(value, "-") {
		negative = !negative
		value = strings.TrimSpace(strings.TrimSuffix(value, "-"))
	}
	value = strings.ReplaceAll(value, " ", "")

	lastComma := strings.LastIndex(value, ",")
	lastDot := strings.LastIndex(value, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			value = strings.ReplaceAll(value, ".", "")
			value = strings.Replace(value, ",", ".", 1)
		} else {
			value = strings.ReplaceAll(value, ",", "")
		}
	case lastComma >= 0:
		unsigned := strings.TrimLeft(value, "+-")
		if thousandsRe.MatchString(unsigned) {
			value = strings.ReplaceAll(value, ",", "")
		} else if strings.Count(value, ",") == 1 {
			value = strings.Replace(value, ",", ".", 1)
		} else {
			return decimal.Zero, ErrInvalid
		}
	case strings.Count(value, ".") > 1:
		value = strings.ReplaceAll(value, ".", "")
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, ErrInvalid
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

var currencyTokens = []string{"EUR", "USD", "GBP", "BRL", "€", "$", "£", "R$"}

func stripDecoration(raw string) string {
	value := strings.TrimSpace(strings.ReplaceAll(raw, " ", " "))
	upper := strings.ToUpper(value)
	for _, token := range currencyTokens {
		if strings.HasPrefix(upper, token) {
			value = strings.TrimSpace(value[len(token):])
			upper = strings.ToUpper(value)
		}
		if strings.HasSuffix(upper, token) {
			value = strings.TrimSpace(value[:len(value)-len(token)])
			upper = strings.ToUpper(value)
		}
	}
	return value
}
