package chart

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultThreshold is the number of loaded bars left of the visible
	// window below which older history is requested.
	DefaultThreshold = 50
	// DefaultDebounce is the quiet period after the last range change
	// before the fetch condition is evaluated.
	DefaultDebounce = 150 * time.Millisecond
)

// TrackerConfig wires a Tracker to its collaborators.
type TrackerConfig struct {
	Threshold float64
	Debounce  time.Duration
	Clock     Clock
	Guard     *GuardCell
	View      *ViewState
	FetchMore func()
	Recorder  Recorder
	// Context bounds engine calls made when the timer fires.
	Context context.Context
}

// Tracker watches a surface's visible logical range and calls FetchMore
// when fewer than Threshold bars remain loaded before the window. Range
// notifications are coalesced through a single-slot debounce timer.
type Tracker struct {
	threshold float64
	debounce  time.Duration
	clock     Clock
	guard     *GuardCell
	view      *ViewState
	fetchMore func()
	rec       Recorder
	ctx       context.Context

	mu          sync.Mutex
	gen         uint64
	timer       Timer
	ts          TimeScale
	candles     Series
	unsubscribe func()
}

func NewTracker(cfg TrackerConfig) *Tracker {
	t := &Tracker{
		threshold: cfg.Threshold,
		debounce:  cfg.Debounce,
		clock:     cfg.Clock,
		guard:     cfg.Guard,
		view:      cfg.View,
		fetchMore: cfg.FetchMore,
		rec:       cfg.Recorder,
		ctx:       cfg.Context,
	}
	if t.threshold <= 0 {
		t.threshold = DefaultThreshold
	}
	if t.debounce <= 0 {
		t.debounce = DefaultDebounce
	}
	if t.clock == nil {
		t.clock = SystemClock{}
	}
	if t.guard == nil {
		t.guard = NewGuardCell()
	}
	if t.view == nil {
		t.view = &ViewState{}
	}
	if t.rec == nil {
		t.rec = nopRecorder{}
	}
	if t.ctx == nil {
		t.ctx = context.Background()
	}
	return t
}

// Attach starts tracking ts, measuring loaded bars against candles. Any
// previous attachment is detached first.
func (t *Tracker) Attach(ts TimeScale, candles Series) {
	t.Detach()

	t.mu.Lock()
	gen := t.gen
	t.ts = ts
	t.candles = candles
	t.mu.Unlock()

	unsub := ts.SubscribeVisibleLogicalRangeChange(func(LogicalRange, bool) {
		t.onRangeChange(gen)
	})

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		unsub()
		return
	}
	t.unsubscribe = unsub
	t.mu.Unlock()
}

// Detach cancels the pending timer and unsubscribes. A timer callback that
// is already running becomes a no-op.
func (t *Tracker) Detach() {
	t.mu.Lock()
	t.gen++
	t.cancelLocked()
	unsub := t.unsubscribe
	t.unsubscribe = nil
	t.ts = nil
	t.candles = nil
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Cancel stops the pending debounce timer, if any.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	t.cancelLocked()
	t.mu.Unlock()
}

// Pending reports whether a debounce timer is outstanding.
func (t *Tracker) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *Tracker) cancelLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) onRangeChange(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.ts == nil || t.timer != nil {
		return
	}
	if guard, n := t.guard.Load(); guard.Suppress(n) {
		return
	}
	t.timer = t.clock.AfterFunc(t.debounce, func() { t.fire(gen) })
}

func (t *Tracker) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	ts, candles := t.ts, t.candles
	t.mu.Unlock()

	if ts == nil || candles == nil {
		return
	}
	ctx := t.ctx

	lr, ok, err := ts.VisibleLogicalRange(ctx)
	if err != nil || !ok {
		if err != nil {
			slog.Debug("chart tracker logical range unavailable", "error", err)
		}
		t.skip("range_unavailable", nil)
		return
	}

	guard, n := t.guard.Load()
	if guard.Suppress(n) {
		t.skip(guard.Reason(n), nil)
		return
	}

	info, ok, err := candles.BarsInLogicalRange(ctx, lr)
	if err != nil || !ok {
		if err != nil {
			slog.Debug("chart tracker bars in range unavailable", "error", err)
		}
		t.skip("bars_unknown", nil)
		return
	}
	before := info.BarsBefore
	if before >= t.threshold {
		t.skip("enough_history", &before)
		return
	}

	t.mu.Lock()
	stale := gen != t.gen
	t.mu.Unlock()
	if stale {
		return
	}

	r, saved, err := t.view.Hold(ctx, ts)
	if err != nil {
		slog.Debug("chart tracker capture visible range failed", "error", err)
	}
	ev := Event{Kind: EventFetchTriggered, At: time.Now(), Bars: n, BarsBefore: &before}
	if saved {
		ev.Range = &r
	}
	t.rec.Record(ev)
	if t.fetchMore != nil {
		t.fetchMore()
	}
}

func (t *Tracker) skip(reason string, before *float64) {
	t.rec.Record(Event{Kind: EventFetchSkipped, At: time.Now(), BarsBefore: before, Reason: reason})
}
