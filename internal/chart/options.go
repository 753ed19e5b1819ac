package chart

import (
	"fmt"
	"strings"
)

// Palette is the set of named colors used by the composer.
type Palette struct {
	Background string `yaml:"background" json:"background"`
	Text       string `yaml:"text" json:"text"`
	Grid       string `yaml:"grid" json:"grid"`
	CandleUp   string `yaml:"candle_up" json:"candle_up"`
	CandleDown string `yaml:"candle_down" json:"candle_down"`
	WickUp     string `yaml:"wick_up" json:"wick_up"`
	WickDown   string `yaml:"wick_down" json:"wick_down"`
	VolumeUp   string `yaml:"volume_up" json:"volume_up"`
	VolumeDown string `yaml:"volume_down" json:"volume_down"`
	Oracle     string `yaml:"oracle" json:"oracle"`
	Band       string `yaml:"band" json:"band"`
}

// DefaultPalette is a dark theme.
func DefaultPalette() Palette {
	return Palette{
		Background: "#0d1117",
		Text:       "#c9d1d9",
		Grid:       "#21262d",
		CandleUp:   "#26a69a",
		CandleDown: "#ef5350",
		WickUp:     "#26a69a",
		WickDown:   "#ef5350",
		VolumeUp:   "rgba(38,166,154,0.45)",
		VolumeDown: "rgba(239,83,80,0.45)",
		Oracle:     "#f0b90b",
		Band:       "rgba(239,83,80,0.18)",
	}
}

// Merge returns p with every empty field taken from fallback.
func (p Palette) Merge(fallback Palette) Palette {
	pick := func(v, d string) string {
		if strings.TrimSpace(v) == "" {
			return d
		}
		return v
	}
	return Palette{
		Background: pick(p.Background, fallback.Background),
		Text:       pick(p.Text, fallback.Text),
		Grid:       pick(p.Grid, fallback.Grid),
		CandleUp:   pick(p.CandleUp, fallback.CandleUp),
		CandleDown: pick(p.CandleDown, fallback.CandleDown),
		WickUp:     pick(p.WickUp, fallback.WickUp),
		WickDown:   pick(p.WickDown, fallback.WickDown),
		VolumeUp:   pick(p.VolumeUp, fallback.VolumeUp),
		VolumeDown: pick(p.VolumeDown, fallback.VolumeDown),
		Oracle:     pick(p.Oracle, fallback.Oracle),
		Band:       pick(p.Band, fallback.Band),
	}
}

// Variant selects how candles are painted.
type Variant string

const (
	VariantCandles Variant = "candles"
	VariantHollow  Variant = "hollow"
)

// ParseVariant accepts "candles" or "hollow" (case-insensitive); empty means candles.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case "", VariantCandles:
		return VariantCandles, nil
	case VariantHollow:
		return VariantHollow, nil
	}
	return "", fmt.Errorf("chart: unknown variant %q", s)
}

// Granularity is the bar resolution selected by the user.
type Granularity string

const (
	Granularity1s  Granularity = "1s"
	Granularity1m  Granularity = "1m"
	Granularity5m  Granularity = "5m"
	Granularity15m Granularity = "15m"
	Granularity1h  Granularity = "1h"
	Granularity4h  Granularity = "4h"
	Granularity1d  Granularity = "1d"
	Granularity1w  Granularity = "1w"
)

var granularitySeconds = map[Granularity]int64{
	Granularity1s:  1,
	Granularity1m:  60,
	Granularity5m:  300,
	Granularity15m: 900,
	Granularity1h:  3600,
	Granularity4h:  14400,
	Granularity1d:  86400,
	Granularity1w:  604800,
}

// ParseGranularity validates a granularity string.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := granularitySeconds[g]; !ok {
		return "", fmt.Errorf("chart: unknown granularity %q", s)
	}
	return g, nil
}

// Seconds is the bar duration, 0 for an unknown granularity.
func (g Granularity) Seconds() int64 { return granularitySeconds[g] }

// Intraday reports whether the time axis should show time of day.
func (g Granularity) Intraday() bool {
	s := g.Seconds()
	return s > 0 && s < granularitySeconds[Granularity1d]
}

// Heights are the two height presets toggled by Options.Expanded.
type Heights struct {
	Standard float64 `yaml:"standard" json:"standard"`
	Expanded float64 `yaml:"expanded" json:"expanded"`
}

// Options is the style configuration of a chart. Any change to Options
// rebuilds the surface.
type Options struct {
	Palette     Palette     `json:"palette"`
	Variant     Variant     `json:"variant"`
	Granularity Granularity `json:"granularity"`
	Expanded    bool        `json:"expanded"`
	Heights     Heights     `json:"heights"`
	Magnet      bool        `json:"magnet"`
	// Width and Height override the container size when positive.
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
}

// DefaultOptions returns hourly candles on the default palette.
func DefaultOptions() Options {
	return Options{
		Palette:     DefaultPalette(),
		Variant:     VariantCandles,
		Granularity: Granularity1h,
		Heights:     Heights{Standard: 420, Expanded: 680},
	}
}

// PresetHeight is the explicit height or the preset chosen by Expanded.
func (o Options) PresetHeight() float64 {
	if o.Height > 0 {
		return o.Height
	}
	if o.Expanded {
		return o.Heights.Expanded
	}
	return o.Heights.Standard
}

// normalized fills zero values from DefaultOptions.
func (o Options) normalized() Options {
	d := DefaultOptions()
	o.Palette = o.Palette.Merge(d.Palette)
	if o.Variant == "" {
		o.Variant = d.Variant
	}
	if o.Granularity == "" {
		o.Granularity = d.Granularity
	}
	if o.Heights.Standard <= 0 {
		o.Heights.Standard = d.Heights.Standard
	}
	if o.Heights.Expanded <= 0 {
		o.Heights.Expanded = d.Heights.Expanded
	}
	return o
}
