// Package core provides money parsing and handling utilities.
//
// Amounts are carried as decimal values. Parsing accepts both dot (12.34)
// and comma (12,34) separators; float inputs that are not finite degrade to
// zero instead of failing the surrounding computation.
package core

import (
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a non-negative decimal string to an amount.
//
// Examples:
//   ParseAmount("12.34")  -> 12.34, nil
//   ParseAmount("12,34")  -> 12.34, nil
//   ParseAmount("500000") -> 500000, nil
//   ParseAmount("-1")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if s == "." {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// AmountFromFloat converts f, treating NaN and ±Inf as zero.
func AmountFromFloat(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// AmountFromString parses a stored amount. Unparseable values are zero and
// ok is false.
func AmountFromString(s string) (d decimal.Decimal, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Ratio returns num/den as a float, or 0 when den is not positive.
func Ratio(num, den decimal.Decimal) float64 {
	if !den.IsPositive() {
		return 0
	}
	return num.Div(den).InexactFloat64()
}

// ClampUnit bounds r to [0, 1].
func ClampUnit(r float64) float64 {
	return math.Min(math.Max(r, 0), 1)
}
