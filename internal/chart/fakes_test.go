package chart

import (
	"context"
	"sort"
	"sync"
	"time"
)

type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due timers in deadline order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

func (c *manualClock) Scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type fakeContainer struct {
	mu        sync.Mutex
	size      Size
	detached  bool
	observers map[int]func(Size)
	nextID    int
	stops     int
}

func newFakeContainer(w, h float64) *fakeContainer {
	return &fakeContainer{size: Size{Width: w, Height: h}, observers: map[int]func(Size){}}
}

func (c *fakeContainer) Selector() string { return "#chart-host" }

func (c *fakeContainer) Size(context.Context) (Size, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return Size{}, ErrContainerNotAttached
	}
	return c.size, nil
}

func (c *fakeContainer) Observe(_ context.Context, fn func(Size)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil, ErrContainerNotAttached
	}
	id := c.nextID
	c.nextID++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.stops++
		c.mu.Unlock()
	}, nil
}

func (c *fakeContainer) Observers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.observers)
}

// Attach marks the container present without notifying observers.
func (c *fakeContainer) Attach() {
	c.mu.Lock()
	c.detached = false
	c.mu.Unlock()
}

func (c *fakeContainer) Emit(s Size) {
	c.mu.Lock()
	c.size = s
	c.detached = false
	fns := make([]func(Size), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

type fakeEngine struct {
	mu       sync.Mutex
	surfaces []*fakeSurface
	err      error
}

func (e *fakeEngine) CreateSurface(_ context.Context, c Container, opts SurfaceOptions) (Surface, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	s := &fakeSurface{opts: opts, ts: &fakeTimeScale{subs: map[int]func(LogicalRange, bool){}}, margins: map[string][2]float64{}}
	e.surfaces = append(e.surfaces, s)
	return s, nil
}

func (e *fakeEngine) Surfaces() []*fakeSurface {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeSurface(nil), e.surfaces...)
}

func (e *fakeEngine) Last() *fakeSurface {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.surfaces) == 0 {
		return nil
	}
	return e.surfaces[len(e.surfaces)-1]
}

type fakeSurface struct {
	mu      sync.Mutex
	opts    SurfaceOptions
	series  []*fakeSeries
	ts      *fakeTimeScale
	margins map[string][2]float64
	resizes []Size
	removed bool
}

func (s *fakeSurface) add(kind string, style any) *fakeSeries {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs := &fakeSeries{kind: kind, style: style}
	s.series = append(s.series, fs)
	return fs
}

func (s *fakeSurface) AddAreaSeries(_ context.Context, st AreaStyle) (Series, error) {
	return s.add("area", st), nil
}

func (s *fakeSurface) AddHistogramSeries(_ context.Context, st HistogramStyle) (Series, error) {
	return s.add("histogram", st), nil
}

func (s *fakeSurface) AddCandlestickSeries(_ context.Context, st CandleStyle) (Series, error) {
	return s.add("candlestick", st), nil
}

func (s *fakeSurface) AddLineSeries(_ context.Context, st LineStyle) (Series, error) {
	return s.add("line", st), nil
}

func (s *fakeSurface) TimeScale() TimeScale { return s.ts }

func (s *fakeSurface) PriceScale(id string) PriceScale { return fakePriceScale{s: s, id: id} }

func (s *fakeSurface) Resize(_ context.Context, w, h float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizes = append(s.resizes, Size{Width: w, Height: h})
	return nil
}

func (s *fakeSurface) Remove(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = true
	return nil
}

func (s *fakeSurface) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.series))
	for i, fs := range s.series {
		out[i] = fs.kind
	}
	return out
}

func (s *fakeSurface) Candles() *fakeSeries {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fs := range s.series {
		if fs.kind == "candlestick" {
			return fs
		}
	}
	return nil
}

func (s *fakeSurface) Removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed
}

func (s *fakeSurface) Resizes() []Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Size(nil), s.resizes...)
}

type fakePriceScale struct {
	s  *fakeSurface
	id string
}

func (p fakePriceScale) SetMargins(_ context.Context, top, bottom float64) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.margins[p.id] = [2]float64{top, bottom}
	return nil
}

type fakeTimeScale struct {
	mu         sync.Mutex
	visible    VisibleRange
	hasVisible bool
	logical    LogicalRange
	hasLogical bool
	setRanges  []VisibleRange
	fits       int
	subs       map[int]func(LogicalRange, bool)
	nextSub    int
}

func (t *fakeTimeScale) VisibleRange(context.Context) (VisibleRange, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible, t.hasVisible, nil
}

func (t *fakeTimeScale) SetVisibleRange(_ context.Context, r VisibleRange) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setRanges = append(t.setRanges, r)
	t.visible = r
	t.hasVisible = true
	return nil
}

func (t *fakeTimeScale) VisibleLogicalRange(context.Context) (LogicalRange, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.logical, t.hasLogical, nil
}

func (t *fakeTimeScale) FitContent(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fits++
	return nil
}

func (t *fakeTimeScale) SubscribeVisibleLogicalRangeChange(fn func(LogicalRange, bool)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Scroll sets both ranges and notifies subscribers.
func (t *fakeTimeScale) Scroll(lr LogicalRange, vr VisibleRange) {
	t.mu.Lock()
	t.logical, t.hasLogical = lr, true
	t.visible, t.hasVisible = vr, true
	fns := make([]func(LogicalRange, bool), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(lr, true)
	}
}

func (t *fakeTimeScale) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (t *fakeTimeScale) SetRanges() []VisibleRange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]VisibleRange(nil), t.setRanges...)
}

type fakeSeries struct {
	mu      sync.Mutex
	kind    string
	style   any
	bars    []Bar
	values  []ValuePoint
	sets    int
	info    BarsInfo
	hasInfo bool
}

func (s *fakeSeries) SetBars(_ context.Context, bars []Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = bars
	s.sets++
	return nil
}

func (s *fakeSeries) SetValues(_ context.Context, pts []ValuePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = pts
	s.sets++
	return nil
}

func (s *fakeSeries) BarsInLogicalRange(context.Context, LogicalRange) (BarsInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info, s.hasInfo, nil
}

func (s *fakeSeries) SetBarsBefore(n float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = BarsInfo{BarsBefore: n}
	s.hasInfo = true
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func makeBars(n int, start, step int64) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = Bar{Time: start + int64(i)*step, Open: p, High: p + 2, Low: p - 1, Close: p + 1}
	}
	return bars
}
