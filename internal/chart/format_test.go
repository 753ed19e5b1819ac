package chart

import (
	"strings"
	"testing"
)

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1.0000"},
		{100, "100.0000"},
		{1234.5, "1234.5000"},
		{12.345678, "12.3457"},
		{0.5, "0.5000"},
		{0.012, "0.01200"},
		{0.00012345, "0.0001235"},
		{0.000001, "0.000001000"},
		{-0.0025, "-0.002500"},
		{-42.1, "-42.1000"},
		{0, "0.0000"},
	}
	for _, tt := range tests {
		if got := FormatPrice(tt.in); got != tt.want {
			t.Errorf("FormatPrice(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func fractionDigits(s string) int {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(s) - dot - 1
}

func TestFormatPriceFourPlacesAtOrAboveOne(t *testing.T) {
	for _, p := range []float64{1, 1.5, 9.99999, 63250.123456, 1e9 + 0.25} {
		if got := fractionDigits(FormatPrice(p)); got != 4 {
			t.Errorf("FormatPrice(%v) has %d fraction digits, want 4", p, got)
		}
	}
}

func TestFormatPriceBelowOneKeepsLeadingZeros(t *testing.T) {
	tests := []struct {
		in           float64
		nonZeroIndex int
	}{
		{0.9, 0},
		{0.05, 1},
		{0.0012345, 2},
		{0.00012345, 3},
		{0.0000071, 5},
	}
	for _, tt := range tests {
		got := fractionDigits(FormatPrice(tt.in))
		if want := tt.nonZeroIndex + 4; got != want {
			t.Errorf("FormatPrice(%v) has %d fraction digits, want %d", tt.in, got, want)
		}
	}
}
