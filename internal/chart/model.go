// Package chart implements the viewport-driven chart component: it composes
// candle, volume, oracle and liquidation-band series onto an Engine surface,
// watches the visible range, and asks its owner for older history when the
// user scrolls close to the oldest loaded bar.
package chart

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsortedBars reports a bar sequence that is not strictly ascending by time.
	ErrUnsortedBars = errors.New("chart: bars must be strictly ascending by time")
	// ErrContainerNotAttached is returned by engines and containers when the host
	// element does not exist yet. The caller skips the pass and retries later.
	ErrContainerNotAttached = errors.New("chart: container not attached")
	// ErrDisposed is returned by Chart methods after Dispose.
	ErrDisposed = errors.New("chart: disposed")
)

// Bar is one OHLC candle at a UTC unix-second time slot.
type Bar struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// VolumeSample is traded volume for the bar at the same time slot.
type VolumeSample struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// OraclePoint is the oracle (index) price at a time slot.
type OraclePoint struct {
	Time  int64   `json:"time"`
	Price float64 `json:"price"`
}

// BandPoint holds both edges of the liquidation band at a time slot.
type BandPoint struct {
	Time   int64   `json:"time"`
	Price1 float64 `json:"price1"`
	Price2 float64 `json:"price2"`
}

// LiquidationBand is the shaded range between Price1 and Price2.
type LiquidationBand struct {
	Points []BandPoint `json:"points"`
}

// Dataset is everything the composer draws. Only Bars is required.
type Dataset struct {
	Bars    []Bar            `json:"bars"`
	Volumes []VolumeSample   `json:"volumes,omitempty"`
	Oracle  []OraclePoint    `json:"oracle,omitempty"`
	Band    *LiquidationBand `json:"band,omitempty"`
}

// Len is the number of loaded bars.
func (d Dataset) Len() int { return len(d.Bars) }

// Shape reports which optional series the dataset carries. Two datasets with
// the same shape can be swapped in place on an existing surface.
func (d Dataset) Shape() Shape {
	return Shape{
		Band:   d.Band != nil && len(d.Band.Points) > 0,
		Volume: len(d.Volumes) > 0,
		Oracle: len(d.Oracle) > 0,
	}
}

// Validate checks the bar ordering invariant.
func (d Dataset) Validate() error {
	return ValidateBars(d.Bars)
}

// FirstTime returns the time of the oldest bar, or 0 when empty.
func (d Dataset) FirstTime() int64 {
	if len(d.Bars) == 0 {
		return 0
	}
	return d.Bars[0].Time
}

// LastTime returns the time of the newest bar, or 0 when empty.
func (d Dataset) LastTime() int64 {
	if len(d.Bars) == 0 {
		return 0
	}
	return d.Bars[len(d.Bars)-1].Time
}

// Shape is the set of optional series present in a Dataset.
type Shape struct {
	Band   bool `json:"band"`
	Volume bool `json:"volume"`
	Oracle bool `json:"oracle"`
}

// ValidateBars returns ErrUnsortedBars when times are not strictly ascending.
func ValidateBars(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if bars[i].Time <= bars[i-1].Time {
			return fmt.Errorf("%w: index %d time %d after %d", ErrUnsortedBars, i, bars[i].Time, bars[i-1].Time)
		}
	}
	return nil
}

// VisibleRange is the time window the user currently sees.
type VisibleRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// LogicalRange is the visible window in bar-index coordinates. Values may be
// fractional and may extend past either end of the loaded data.
type LogicalRange struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// BarsInfo is the engine's answer to a bars-in-logical-range query.
type BarsInfo struct {
	BarsBefore float64 `json:"bars_before"`
	BarsAfter  float64 `json:"bars_after"`
}

// ValuePoint is a single-value series sample. Color is optional and
// overrides the series color for that point.
type ValuePoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
	Color string  `json:"color,omitempty"`
}

// Size is a container or surface size in CSS pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
