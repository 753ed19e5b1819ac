package cdpcontrol

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

var (
	_ chart.Engine    = (*Engine)(nil)
	_ chart.Container = (*Container)(nil)
)

// Engine implements chart.Engine with LightweightCharts running in the
// chart page.
type Engine struct {
	client *Client
}

func NewEngine(client *Client) *Engine {
	return &Engine{client: client}
}

func (e *Engine) CreateSurface(ctx context.Context, c chart.Container, opts chart.SurfaceOptions) (chart.Surface, error) {
	id := e.client.events.nextID("s")
	if err := e.client.evalOnPage(ctx, jsCreateSurface(c.Selector(), id, opts), nil); err != nil {
		return nil, err
	}
	slog.Debug("cdpcontrol surface created", "surface_id", id, "selector", c.Selector(), "width", opts.Width, "height", opts.Height)
	return &surface{client: e.client, id: id}, nil
}

// Container is a DOM element in the chart page addressed by CSS selector.
type Container struct {
	client   *Client
	selector string
}

func NewContainer(client *Client, selector string) *Container {
	return &Container{client: client, selector: selector}
}

func (c *Container) Selector() string { return c.selector }

func (c *Container) Size(ctx context.Context) (chart.Size, error) {
	var out chart.Size
	if err := c.client.evalOnPage(ctx, jsContainerSize(c.selector), &out); err != nil {
		return chart.Size{}, err
	}
	return out, nil
}

// Observe installs a ResizeObserver on the element. fn runs on the event
// router goroutine.
func (c *Container) Observe(ctx context.Context, fn func(chart.Size)) (func(), error) {
	id := c.client.events.nextID("o")
	unlisten := c.client.events.listen(id, func(ev pageEvent) {
		if ev.Kind == "resize" {
			fn(chart.Size{Width: ev.Width, Height: ev.Height})
		}
	})
	if err := c.client.evalOnPage(ctx, jsObserveContainer(c.selector, id), nil); err != nil {
		unlisten()
		return nil, err
	}
	return func() {
		unlisten()
		ctx, cancel := context.WithTimeout(context.Background(), c.client.evalTimeout)
		defer cancel()
		if err := c.client.evalOnPage(ctx, jsUnobserveContainer(id), nil); err != nil {
			slog.Debug("cdpcontrol unobserve container failed", "listener_id", id, "error", err)
		}
	}, nil
}

type surface struct {
	client *Client
	id     string
}

func (s *surface) addSeries(ctx context.Context, kind seriesKind, opts map[string]any, formatter bool) (chart.Series, error) {
	id := s.client.events.nextID("r")
	if err := s.client.evalOnPage(ctx, jsAddSeries(s.id, id, kind, opts, formatter), nil); err != nil {
		return nil, err
	}
	return &series{client: s.client, id: id}, nil
}

func (s *surface) AddAreaSeries(ctx context.Context, st chart.AreaStyle) (chart.Series, error) {
	return s.addSeries(ctx, kindArea, map[string]any{
		"topColor":               st.TopColor,
		"bottomColor":            st.BottomColor,
		"lineColor":              st.LineColor,
		"lineWidth":              st.LineWidth,
		"priceLineVisible":       st.PriceLineVisible,
		"lastValueVisible":       st.LastValueVisible,
		"crosshairMarkerVisible": false,
	}, false)
}

func (s *surface) AddHistogramSeries(ctx context.Context, st chart.HistogramStyle) (chart.Series, error) {
	opts := map[string]any{
		"color":            st.Color,
		"priceScaleId":     st.PriceScaleID,
		"priceLineVisible": false,
		"lastValueVisible": false,
	}
	if st.VolumeFormat {
		opts["priceFormat"] = map[string]any{"type": "volume"}
	}
	return s.addSeries(ctx, kindHistogram, opts, false)
}

// AddCandlestickSeries ignores st.PriceFormatter itself: Go functions cannot
// run in the page, so a non-nil formatter selects the page-side mirror of
// chart.FormatPrice.
func (s *surface) AddCandlestickSeries(ctx context.Context, st chart.CandleStyle) (chart.Series, error) {
	return s.addSeries(ctx, kindCandlestick, map[string]any{
		"upColor":         st.UpColor,
		"downColor":       st.DownColor,
		"borderUpColor":   st.BorderUpColor,
		"borderDownColor": st.BorderDownColor,
		"wickUpColor":     st.WickUpColor,
		"wickDownColor":   st.WickDownColor,
		"borderVisible":   true,
	}, st.PriceFormatter != nil)
}

func (s *surface) AddLineSeries(ctx context.Context, st chart.LineStyle) (chart.Series, error) {
	opts := map[string]any{
		"color":            st.Color,
		"lineWidth":        st.LineWidth,
		"priceLineVisible": false,
	}
	if st.PriceScaleID != "" {
		opts["priceScaleId"] = st.PriceScaleID
	}
	return s.addSeries(ctx, kindLine, opts, false)
}

func (s *surface) TimeScale() chart.TimeScale { return &timeScale{s: s} }

func (s *surface) PriceScale(id string) chart.PriceScale { return &priceScale{s: s, id: id} }

func (s *surface) Resize(ctx context.Context, width, height float64) error {
	return s.client.evalOnPage(ctx, jsResizeSurface(s.id, width, height), nil)
}

func (s *surface) Remove(ctx context.Context) error {
	return s.client.evalOnPage(ctx, jsRemoveSurface(s.id), nil)
}

type priceScale struct {
	s  *surface
	id string
}

func (p *priceScale) SetMargins(ctx context.Context, top, bottom float64) error {
	return p.s.client.evalOnPage(ctx, jsPriceScaleMargins(p.s.id, p.id, top, bottom), nil)
}

type timeScale struct {
	s *surface
}

type rangeResult struct {
	Found bool    `json:"found"`
	From  float64 `json:"from"`
	To    float64 `json:"to"`
}

func (t *timeScale) VisibleRange(ctx context.Context) (chart.VisibleRange, bool, error) {
	var out rangeResult
	if err := t.s.client.evalOnPage(ctx, jsGetVisibleRange(t.s.id), &out); err != nil {
		return chart.VisibleRange{}, false, err
	}
	if !out.Found {
		return chart.VisibleRange{}, false, nil
	}
	return chart.VisibleRange{From: int64(out.From), To: int64(out.To)}, true, nil
}

func (t *timeScale) SetVisibleRange(ctx context.Context, r chart.VisibleRange) error {
	return t.s.client.evalOnPage(ctx, jsSetVisibleRange(t.s.id, r), nil)
}

func (t *timeScale) VisibleLogicalRange(ctx context.Context) (chart.LogicalRange, bool, error) {
	var out rangeResult
	if err := t.s.client.evalOnPage(ctx, jsGetVisibleLogicalRange(t.s.id), &out); err != nil {
		return chart.LogicalRange{}, false, err
	}
	if !out.Found {
		return chart.LogicalRange{}, false, nil
	}
	return chart.LogicalRange{From: out.From, To: out.To}, true, nil
}

func (t *timeScale) FitContent(ctx context.Context) error {
	return t.s.client.evalOnPage(ctx, jsFitContent(t.s.id), nil)
}

// SubscribeVisibleLogicalRangeChange registers fn in Go before installing
// the page listener, so no notification is lost. fn runs on the event
// router goroutine.
func (t *timeScale) SubscribeVisibleLogicalRangeChange(fn func(chart.LogicalRange, bool)) func() {
	c := t.s.client
	id := c.events.nextID("l")
	unlisten := c.events.listen(id, func(ev pageEvent) {
		if ev.Kind == "range" {
			fn(chart.LogicalRange{From: ev.From, To: ev.To}, ev.OK)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.evalTimeout)
	defer cancel()
	if err := c.evalOnPage(ctx, jsSubscribeRange(t.s.id, id), nil); err != nil {
		slog.Warn("cdpcontrol subscribe range failed", "surface_id", t.s.id, "error", err)
	}

	surfaceID := t.s.id
	return func() {
		unlisten()
		ctx, cancel := context.WithTimeout(context.Background(), c.evalTimeout)
		defer cancel()
		if err := c.evalOnPage(ctx, jsUnsubscribeRange(surfaceID, id), nil); err != nil {
			slog.Debug("cdpcontrol unsubscribe range failed", "surface_id", surfaceID, "error", err)
		}
	}
}

type series struct {
	client *Client
	id     string
}

func (s *series) SetBars(ctx context.Context, bars []chart.Bar) error {
	if bars == nil {
		bars = []chart.Bar{}
	}
	start := time.Now()
	err := s.client.evalOnPage(ctx, jsSetSeriesData(s.id, bars), nil)
	slog.Debug("cdpcontrol set bars", "series_id", s.id, "bars", len(bars), "duration_ms", time.Since(start).Milliseconds())
	return err
}

func (s *series) SetValues(ctx context.Context, points []chart.ValuePoint) error {
	if points == nil {
		points = []chart.ValuePoint{}
	}
	return s.client.evalOnPage(ctx, jsSetSeriesData(s.id, points), nil)
}

func (s *series) BarsInLogicalRange(ctx context.Context, r chart.LogicalRange) (chart.BarsInfo, bool, error) {
	var out struct {
		Found      bool    `json:"found"`
		BarsBefore float64 `json:"bars_before"`
		BarsAfter  float64 `json:"bars_after"`
	}
	if err := s.client.evalOnPage(ctx, jsBarsInLogicalRange(s.id, r), &out); err != nil {
		return chart.BarsInfo{}, false, err
	}
	if !out.Found {
		return chart.BarsInfo{}, false, nil
	}
	return chart.BarsInfo{BarsBefore: out.BarsBefore, BarsAfter: out.BarsAfter}, true, nil
}
