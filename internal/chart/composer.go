package chart

import (
	"context"
	"fmt"
)

// VolumeScaleID is the overlay price scale the volume histogram is pinned to.
const VolumeScaleID = ""

// volumeTopMargin leaves the bottom 30% of the pane to the volume histogram.
const volumeTopMargin = 0.7

const transparent = "rgba(0,0,0,0)"

// Composer builds surfaces and attaches the chart's series to them.
type Composer struct {
	Engine Engine
}

// Composition is one built surface and its series handles. Optional series
// are nil when the dataset lacked them.
type Composition struct {
	Surface  Surface
	BandFill Series
	BandMask Series
	Volume   Series
	Candles  Series
	Oracle   Series
	Shape    Shape
	Options  Options
	Size     Size
}

// Build creates a surface in c and attaches band, volume, candle and oracle
// series in that order, then pushes ds into them. On failure after the
// surface exists, the surface is removed.
func (cp Composer) Build(ctx context.Context, c Container, ds Dataset, opts Options) (*Composition, error) {
	if cp.Engine == nil {
		return nil, fmt.Errorf("chart: composer has no engine")
	}
	opts = opts.normalized()
	size, err := resolveSize(ctx, c, opts)
	if err != nil {
		return nil, err
	}

	surface, err := cp.Engine.CreateSurface(ctx, c, surfaceOptions(opts, size))
	if err != nil {
		return nil, err
	}
	comp := &Composition{Surface: surface, Shape: ds.Shape(), Options: opts, Size: size}
	if err := comp.attach(ctx); err != nil {
		_ = surface.Remove(ctx)
		return nil, err
	}
	if err := comp.SetData(ctx, ds); err != nil {
		_ = surface.Remove(ctx)
		return nil, err
	}
	return comp, nil
}

func resolveSize(ctx context.Context, c Container, opts Options) (Size, error) {
	size := Size{Width: opts.Width, Height: opts.PresetHeight()}
	if size.Width > 0 {
		return size, nil
	}
	s, err := c.Size(ctx)
	if err != nil {
		return Size{}, err
	}
	size.Width = s.Width - 1
	if size.Width <= 0 {
		return Size{}, ErrContainerNotAttached
	}
	return size, nil
}

func surfaceOptions(opts Options, size Size) SurfaceOptions {
	so := SurfaceOptions{
		Width:          size.Width,
		Height:         size.Height,
		Background:     opts.Palette.Background,
		TextColor:      opts.Palette.Text,
		GridColor:      opts.Palette.Grid,
		Crosshair:      CrosshairNormal,
		TimeVisible:    opts.Granularity.Intraday(),
		SecondsVisible: opts.Granularity.Seconds() > 0 && opts.Granularity.Seconds() < 60,
	}
	if opts.Magnet {
		so.Crosshair = CrosshairMagnet
	}
	return so
}

func (cm *Composition) attach(ctx context.Context) error {
	p := cm.Options.Palette
	s := cm.Surface
	var err error

	if cm.Shape.Band {
		cm.BandFill, err = s.AddAreaSeries(ctx, AreaStyle{TopColor: p.Band, BottomColor: p.Band, LineColor: p.Band, LineWidth: 1})
		if err != nil {
			return fmt.Errorf("chart: add band fill: %w", err)
		}
		cm.BandMask, err = s.AddAreaSeries(ctx, AreaStyle{TopColor: p.Background, BottomColor: p.Background, LineColor: p.Band, LineWidth: 1})
		if err != nil {
			return fmt.Errorf("chart: add band mask: %w", err)
		}
	}

	if cm.Shape.Volume {
		cm.Volume, err = s.AddHistogramSeries(ctx, HistogramStyle{Color: p.VolumeUp, PriceScaleID: VolumeScaleID, VolumeFormat: true})
		if err != nil {
			return fmt.Errorf("chart: add volume: %w", err)
		}
		if err := s.PriceScale(VolumeScaleID).SetMargins(ctx, volumeTopMargin, 0); err != nil {
			return fmt.Errorf("chart: volume scale margins: %w", err)
		}
	}

	cm.Candles, err = s.AddCandlestickSeries(ctx, candleStyle(cm.Options))
	if err != nil {
		return fmt.Errorf("chart: add candles: %w", err)
	}

	if cm.Shape.Oracle {
		cm.Oracle, err = s.AddLineSeries(ctx, LineStyle{Color: p.Oracle, LineWidth: 1})
		if err != nil {
			return fmt.Errorf("chart: add oracle: %w", err)
		}
	}
	return nil
}

func candleStyle(opts Options) CandleStyle {
	p := opts.Palette
	cs := CandleStyle{
		UpColor:         p.CandleUp,
		DownColor:       p.CandleDown,
		BorderUpColor:   p.CandleUp,
		BorderDownColor: p.CandleDown,
		WickUpColor:     p.WickUp,
		WickDownColor:   p.WickDown,
		PriceFormatter:  FormatPrice,
	}
	if opts.Variant == VariantHollow {
		cs.UpColor = transparent
	}
	return cs
}

// SetData replaces the content of every series in place. ds must have the
// composition's shape.
func (cm *Composition) SetData(ctx context.Context, ds Dataset) error {
	if ds.Shape() != cm.Shape {
		return fmt.Errorf("chart: dataset shape %+v does not match surface shape %+v", ds.Shape(), cm.Shape)
	}
	if cm.Shape.Band {
		upper, lower := bandEdges(ds.Band.Points)
		if err := cm.BandFill.SetValues(ctx, upper); err != nil {
			return fmt.Errorf("chart: set band fill: %w", err)
		}
		if err := cm.BandMask.SetValues(ctx, lower); err != nil {
			return fmt.Errorf("chart: set band mask: %w", err)
		}
	}
	if cm.Shape.Volume {
		if err := cm.Volume.SetValues(ctx, volumePoints(ds, cm.Options.Palette)); err != nil {
			return fmt.Errorf("chart: set volume: %w", err)
		}
	}
	if err := cm.Candles.SetBars(ctx, ds.Bars); err != nil {
		return fmt.Errorf("chart: set candles: %w", err)
	}
	if cm.Shape.Oracle {
		pts := make([]ValuePoint, len(ds.Oracle))
		for i, o := range ds.Oracle {
			pts[i] = ValuePoint{Time: o.Time, Value: o.Price}
		}
		if err := cm.Oracle.SetValues(ctx, pts); err != nil {
			return fmt.Errorf("chart: set oracle: %w", err)
		}
	}
	return nil
}

// Teardown removes the surface and every series on it.
func (cm *Composition) Teardown(ctx context.Context) error {
	return cm.Surface.Remove(ctx)
}

// bandEdges splits band points into the outer edge, drawn in the band
// color, and the inner edge, painted over in the background color.
func bandEdges(points []BandPoint) (upper, lower []ValuePoint) {
	upper = make([]ValuePoint, len(points))
	lower = make([]ValuePoint, len(points))
	for i, p := range points {
		hi, lo := p.Price1, p.Price2
		if lo > hi {
			hi, lo = lo, hi
		}
		upper[i] = ValuePoint{Time: p.Time, Value: hi}
		lower[i] = ValuePoint{Time: p.Time, Value: lo}
	}
	return upper, lower
}

// volumePoints colors each sample by the direction of the bar at the same
// time. Samples without a bar use the up color.
func volumePoints(ds Dataset, p Palette) []ValuePoint {
	down := make(map[int64]bool, len(ds.Bars))
	for _, b := range ds.Bars {
		down[b.Time] = b.Close < b.Open
	}
	pts := make([]ValuePoint, len(ds.Volumes))
	for i, v := range ds.Volumes {
		color := p.VolumeUp
		if down[v.Time] {
			color = p.VolumeDown
		}
		pts[i] = ValuePoint{Time: v.Time, Value: v.Value, Color: color}
	}
	return pts
}
