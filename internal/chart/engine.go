package chart

import "context"

// Engine creates drawing surfaces inside a host container.
type Engine interface {
	CreateSurface(ctx context.Context, c Container, opts SurfaceOptions) (Surface, error)
}

// Container is the host element a surface is mounted into.
type Container interface {
	// Selector identifies the host element to the engine.
	Selector() string
	// Size returns the current content-box size, or ErrContainerNotAttached.
	Size(ctx context.Context) (Size, error)
	// Observe calls fn on every content-box size change until stop is called.
	Observe(ctx context.Context, fn func(Size)) (stop func(), err error)
}

// Surface is one live chart instance and the series attached to it.
type Surface interface {
	AddAreaSeries(ctx context.Context, style AreaStyle) (Series, error)
	AddHistogramSeries(ctx context.Context, style HistogramStyle) (Series, error)
	AddCandlestickSeries(ctx context.Context, style CandleStyle) (Series, error)
	AddLineSeries(ctx context.Context, style LineStyle) (Series, error)
	TimeScale() TimeScale
	PriceScale(id string) PriceScale
	Resize(ctx context.Context, width, height float64) error
	Remove(ctx context.Context) error
}

// TimeScale is the horizontal axis of a surface.
type TimeScale interface {
	// VisibleRange reports false when the surface has no data.
	VisibleRange(ctx context.Context) (VisibleRange, bool, error)
	SetVisibleRange(ctx context.Context, r VisibleRange) error
	VisibleLogicalRange(ctx context.Context) (LogicalRange, bool, error)
	FitContent(ctx context.Context) error
	// SubscribeVisibleLogicalRangeChange registers fn; the bool is false when
	// the engine reports a null range. The returned func unsubscribes.
	SubscribeVisibleLogicalRangeChange(fn func(LogicalRange, bool)) (unsubscribe func())
}

// PriceScale is one vertical axis of a surface.
type PriceScale interface {
	SetMargins(ctx context.Context, top, bottom float64) error
}

// Series is one drawable series on a surface.
type Series interface {
	SetBars(ctx context.Context, bars []Bar) error
	SetValues(ctx context.Context, points []ValuePoint) error
	// BarsInLogicalRange reports false when the engine has no answer.
	BarsInLogicalRange(ctx context.Context, r LogicalRange) (BarsInfo, bool, error)
}

// CrosshairMode mirrors the engine's crosshair behavior.
type CrosshairMode int

const (
	CrosshairNormal CrosshairMode = 0
	CrosshairMagnet CrosshairMode = 1
)

// SurfaceOptions configures a new surface.
type SurfaceOptions struct {
	Width          float64       `json:"width"`
	Height         float64       `json:"height"`
	Background     string        `json:"background"`
	TextColor      string        `json:"text_color"`
	GridColor      string        `json:"grid_color"`
	Crosshair      CrosshairMode `json:"crosshair"`
	TimeVisible    bool          `json:"time_visible"`
	SecondsVisible bool          `json:"seconds_visible"`
}

// AreaStyle styles a filled area series.
type AreaStyle struct {
	TopColor         string `json:"top_color"`
	BottomColor      string `json:"bottom_color"`
	LineColor        string `json:"line_color"`
	LineWidth        int    `json:"line_width"`
	PriceLineVisible bool   `json:"price_line_visible"`
	LastValueVisible bool   `json:"last_value_visible"`
}

// HistogramStyle styles a histogram series.
type HistogramStyle struct {
	Color        string `json:"color"`
	PriceScaleID string `json:"price_scale_id"`
	VolumeFormat bool   `json:"volume_format"`
}

// CandleStyle styles the candlestick series. When PriceFormatter is set the
// engine must call it for every price label at format time.
type CandleStyle struct {
	UpColor         string               `json:"up_color"`
	DownColor       string               `json:"down_color"`
	BorderUpColor   string               `json:"border_up_color"`
	BorderDownColor string               `json:"border_down_color"`
	WickUpColor     string               `json:"wick_up_color"`
	WickDownColor   string               `json:"wick_down_color"`
	PriceFormatter  func(float64) string `json:"-"`
}

// LineStyle styles a line series.
type LineStyle struct {
	Color        string `json:"color"`
	LineWidth    int    `json:"line_width"`
	PriceScaleID string `json:"price_scale_id,omitempty"`
}
