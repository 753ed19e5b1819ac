package chart

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// minFractionDigits is the number of places shown for prices >= 1 and for
// prices without a fractional part.
const minFractionDigits = 4

// PriceDigits returns the number of decimal places FormatPrice uses for p.
// Prices below one keep their leading fractional zeros plus four digits.
func PriceDigits(p float64) int32 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return minFractionDigits
	}
	abs := decimal.NewFromFloat(p).Abs()
	s := abs.String()
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return minFractionDigits
	}
	if abs.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return minFractionDigits
	}
	frac := s[dot+1:]
	nonZeroIndex := strings.IndexFunc(frac, func(r rune) bool { return r != '0' })
	if nonZeroIndex < 0 {
		return minFractionDigits
	}
	return int32(nonZeroIndex) + minFractionDigits
}

// FormatPrice renders a price label. Rounding is half away from zero on the
// shortest decimal representation of p.
func FormatPrice(p float64) string {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return "-"
	}
	return decimal.NewFromFloat(p).StringFixed(PriceDigits(p))
}
