package chart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config wires a Chart to its collaborators. Engine and Container are required.
type Config struct {
	Engine    Engine
	Container Container
	// FetchMore is called with no arguments when older history is needed.
	FetchMore func()
	Clock     Clock
	Recorder  Recorder
	Threshold float64
	Debounce  time.Duration
	Options   Options
}

// Chart owns one surface in one container: the composition, the viewport
// tracker, the view state and the resize observer.
type Chart struct {
	container Container
	composer  Composer
	tracker   *Tracker
	view      *ViewState
	guard     *GuardCell
	rec       Recorder

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	options    Options
	dataset    Dataset
	hasData    bool
	comp       *Composition
	observer   *ViewportObserver
	mounted    bool
	disposed   bool
	rebuilds   int
	lastReason string
}

func New(cfg Config) *Chart {
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Chart{
		container: cfg.Container,
		composer:  Composer{Engine: cfg.Engine},
		view:      &ViewState{},
		guard:     NewGuardCell(),
		rec:       rec,
		ctx:       ctx,
		cancel:    cancel,
		options:   cfg.Options.normalized(),
	}
	c.tracker = NewTracker(TrackerConfig{
		Threshold: cfg.Threshold,
		Debounce:  cfg.Debounce,
		Clock:     cfg.Clock,
		Guard:     c.guard,
		View:      c.view,
		FetchMore: cfg.FetchMore,
		Recorder:  rec,
		Context:   ctx,
	})
	return c
}

// Mount installs the resize observer and builds the surface when a dataset
// is already present. A container that is not attached yet is not an
// error: observing and building are retried on the next dataset, options
// or size change.
func (c *Chart) Mount(ctx context.Context) error {
	obs, err := ObserveViewport(ctx, c.container, c.onResize, c.rec)
	if err != nil && !errors.Is(err, ErrContainerNotAttached) {
		return fmt.Errorf("chart: observe container: %w", err)
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		obs.Close()
		return ErrDisposed
	}
	old := c.observer
	c.observer = obs
	c.mounted = true
	var (
		evs      []Event
		buildErr error
	)
	if c.hasData && c.comp == nil {
		evs, buildErr = c.rebuildLocked(ctx, "mount")
	}
	c.mu.Unlock()

	old.Close()
	c.record(evs)
	return buildErr
}

// SetDataset replaces the dataset. A dataset with the same shape is pushed
// into the existing series; a different shape rebuilds the surface. Either
// way the visible range is kept: the one held for a pending history fetch
// if there is one, otherwise the range on screen before the update.
func (c *Chart) SetDataset(ctx context.Context, ds Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.dataset = ds
	c.hasData = true
	c.guard.SetDatasetLen(ds.Len())

	var (
		evs []Event
		err error
	)
	switch {
	case !c.mounted:
	case c.comp == nil:
		evs, err = c.rebuildLocked(ctx, "dataset")
	case c.comp.Shape != ds.Shape():
		if !c.view.Held() {
			c.captureLocked(ctx)
		}
		evs, err = c.rebuildLocked(ctx, "shape_changed")
	default:
		if !c.view.Held() {
			c.captureLocked(ctx)
		}
		evs, err = c.updateLocked(ctx)
	}
	if c.comp != nil && err == nil {
		c.view.Release()
	}
	c.mu.Unlock()

	c.record(evs)
	return err
}

// SetOptions applies new style options. Any change rebuilds the surface
// and keeps the user's visible range.
func (c *Chart) SetOptions(ctx context.Context, opts Options) error {
	opts = opts.normalized()

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if opts == c.options {
		c.mu.Unlock()
		return nil
	}
	c.options = opts

	var (
		evs []Event
		err error
	)
	if c.mounted && c.hasData {
		if c.comp != nil {
			c.captureLocked(ctx)
		}
		evs, err = c.rebuildLocked(ctx, "options_changed")
	}
	c.mu.Unlock()

	c.record(evs)
	return err
}

// SetGuard updates the fetch guard read by the debounce timer. A guard
// that ends a fetch without new data (capped, or LastLength restored after
// a failure) releases the range held for that fetch.
func (c *Chart) SetGuard(g GuardState) {
	c.guard.SetGuard(g)
	if g.Refetching || !c.view.Held() {
		return
	}
	if _, n := c.guard.Load(); g.Capped || g.LastLength != n {
		c.view.Release()
	}
}

// Options returns the current normalized options.
func (c *Chart) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.options
}

// Observer returns the resize observer handle. It is nil before Mount and
// while the container has never been attached.
func (c *Chart) Observer() *ViewportObserver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}

// VisibleRange reads the current time range from the live surface.
func (c *Chart) VisibleRange(ctx context.Context) (VisibleRange, bool, error) {
	c.mu.Lock()
	comp := c.comp
	c.mu.Unlock()
	if comp == nil {
		return VisibleRange{}, false, nil
	}
	return comp.Surface.TimeScale().VisibleRange(ctx)
}

// SetVisibleRange moves the live surface to r and saves it so it survives
// the next rebuild.
func (c *Chart) SetVisibleRange(ctx context.Context, r VisibleRange) error {
	if r.To <= r.From {
		return fmt.Errorf("chart: visible range to %d must be after from %d", r.To, r.From)
	}
	c.view.Save(r)
	c.mu.Lock()
	comp := c.comp
	c.mu.Unlock()
	if comp == nil {
		return nil
	}
	return comp.Surface.TimeScale().SetVisibleRange(ctx, r)
}

// Dispose closes the resize observer, cancels the debounce timer and
// removes the surface. It is safe to call more than once.
func (c *Chart) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	obs := c.observer
	c.observer = nil
	c.mu.Unlock()

	obs.Close()

	c.mu.Lock()
	c.tracker.Detach()
	comp := c.comp
	c.comp = nil
	c.mu.Unlock()

	c.cancel()
	if comp != nil {
		return comp.Teardown(ctx)
	}
	return nil
}

// State is a point-in-time view of the chart for diagnostics.
type State struct {
	Mounted      bool          `json:"mounted"`
	Built        bool          `json:"built"`
	Disposed     bool          `json:"disposed"`
	DatasetLen   int           `json:"dataset_len"`
	FirstTime    int64         `json:"first_time,omitempty"`
	LastTime     int64         `json:"last_time,omitempty"`
	Shape        Shape         `json:"shape"`
	Options      Options       `json:"options"`
	Guard        GuardState    `json:"guard"`
	SavedRange   *VisibleRange `json:"saved_range,omitempty"`
	Size         *Size         `json:"size,omitempty"`
	PendingFetch bool          `json:"pending_fetch"`
	Rebuilds     int           `json:"rebuilds"`
	LastRebuild  string        `json:"last_rebuild,omitempty"`
}

func (c *Chart) State() State {
	c.mu.Lock()
	st := State{
		Mounted:     c.mounted,
		Built:       c.comp != nil,
		Disposed:    c.disposed,
		DatasetLen:  c.dataset.Len(),
		FirstTime:   c.dataset.FirstTime(),
		LastTime:    c.dataset.LastTime(),
		Shape:       c.dataset.Shape(),
		Options:     c.options,
		Rebuilds:    c.rebuilds,
		LastRebuild: c.lastReason,
	}
	if c.comp != nil {
		size := c.comp.Size
		st.Size = &size
	}
	c.mu.Unlock()

	st.Guard, _ = c.guard.Load()
	if r, ok := c.view.Saved(); ok {
		st.SavedRange = &r
	}
	st.PendingFetch = c.tracker.Pending()
	return st
}

func (c *Chart) onResize(width, height float64) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	if c.comp == nil {
		var evs []Event
		var err error
		if c.mounted && c.hasData {
			evs, err = c.rebuildLocked(c.ctx, "container_ready")
		}
		c.mu.Unlock()
		if err != nil {
			slog.Debug("chart build on resize failed", "error", err)
		}
		c.record(evs)
		return
	}
	opts := c.options
	if opts.Width > 0 {
		width = opts.Width
	}
	if opts.Height > 0 || height <= 0 {
		height = opts.PresetHeight()
	}
	c.comp.Size = Size{Width: width, Height: height}
	surface := c.comp.Surface
	c.mu.Unlock()

	if err := surface.Resize(c.ctx, width, height); err != nil {
		slog.Debug("chart resize failed", "width", width, "height", height, "error", err)
	}
}

// captureLocked saves the visible range of the live surface before it is
// replaced.
func (c *Chart) captureLocked(ctx context.Context) {
	if c.comp == nil {
		return
	}
	if _, _, err := c.view.Capture(ctx, c.comp.Surface.TimeScale()); err != nil {
		slog.Debug("chart capture visible range failed", "error", err)
	}
}

// rebuildLocked tears down the current surface and builds a new one. A
// container that is not attached skips the pass without error.
func (c *Chart) rebuildLocked(ctx context.Context, reason string) ([]Event, error) {
	c.observeLocked(ctx)
	c.tracker.Detach()
	if c.comp != nil {
		if err := c.comp.Teardown(ctx); err != nil {
			slog.Debug("chart teardown failed", "error", err)
		}
		c.comp = nil
	}

	comp, err := c.composer.Build(ctx, c.container, c.dataset, c.options)
	if errors.Is(err, ErrContainerNotAttached) {
		slog.Debug("chart container not attached, skipping build", "reason", reason)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.comp = comp
	c.rebuilds++
	c.lastReason = reason

	evs := []Event{{Kind: EventRebuild, At: time.Now(), Bars: c.dataset.Len(), Size: &comp.Size, Reason: reason}}
	ts := comp.Surface.TimeScale()
	if r, ok, err := c.view.Apply(ctx, ts); err != nil {
		slog.Debug("chart apply saved range failed", "error", err)
	} else if ok {
		evs = append(evs, Event{Kind: EventRangeRestored, At: time.Now(), Range: &r})
	} else if err := ts.FitContent(ctx); err != nil {
		slog.Debug("chart fit content failed", "error", err)
	}
	c.tracker.Attach(ts, comp.Candles)
	return evs, nil
}

// observeLocked installs the resize observer if Mount could not.
func (c *Chart) observeLocked(ctx context.Context) {
	if c.observer != nil || !c.mounted {
		return
	}
	obs, err := ObserveViewport(ctx, c.container, c.onResize, c.rec)
	if err != nil {
		if !errors.Is(err, ErrContainerNotAttached) {
			slog.Debug("chart observe container failed", "error", err)
		}
		return
	}
	c.observer = obs
}

func (c *Chart) updateLocked(ctx context.Context) ([]Event, error) {
	if err := c.comp.SetData(ctx, c.dataset); err != nil {
		return nil, err
	}
	evs := []Event{{Kind: EventContentUpdate, At: time.Now(), Bars: c.dataset.Len()}}
	if r, ok, err := c.view.Apply(ctx, c.comp.Surface.TimeScale()); err != nil {
		slog.Debug("chart apply saved range failed", "error", err)
	} else if ok {
		evs = append(evs, Event{Kind: EventRangeRestored, At: time.Now(), Range: &r})
	}
	return evs, nil
}

func (c *Chart) record(evs []Event) {
	for _, e := range evs {
		c.rec.Record(e)
	}
}
