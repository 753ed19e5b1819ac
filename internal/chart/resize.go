package chart

import (
	"context"
	"sync"
	"time"
)

// ViewportObserver keeps a surface sized to its container. It is returned
// to the owner, who may also read the last applied size.
type ViewportObserver struct {
	apply func(width, height float64)
	rec   Recorder

	mu         sync.Mutex
	unmounting bool
	size       Size
	hasSize    bool
	stop       func()
}

// ObserveViewport subscribes to c's size changes. Each event is inset by one
// unit horizontally; non-positive widths are dropped and the rest are passed
// to apply. rec may be nil.
func ObserveViewport(ctx context.Context, c Container, apply func(width, height float64), rec Recorder) (*ViewportObserver, error) {
	if rec == nil {
		rec = nopRecorder{}
	}
	o := &ViewportObserver{apply: apply, rec: rec}
	stop, err := c.Observe(ctx, o.handle)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	if o.unmounting {
		o.mu.Unlock()
		stop()
		return o, nil
	}
	o.stop = stop
	o.mu.Unlock()
	return o, nil
}

func (o *ViewportObserver) handle(s Size) {
	o.mu.Lock()
	if o.unmounting {
		o.mu.Unlock()
		return
	}
	width := s.Width - 1
	if width <= 0 {
		o.mu.Unlock()
		o.rec.Record(Event{Kind: EventResizeDropped, At: time.Now(), Size: &s, Reason: "non_positive_width"})
		return
	}
	applied := Size{Width: width, Height: s.Height}
	o.size = applied
	o.hasSize = true
	o.mu.Unlock()

	if o.apply != nil {
		o.apply(applied.Width, applied.Height)
	}
	o.rec.Record(Event{Kind: EventResizeApplied, At: time.Now(), Size: &applied})
}

// Size returns the last inset size passed to apply.
func (o *ViewportObserver) Size() (Size, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.size, o.hasSize
}

// Close marks the observer as unmounting and then disconnects it. Events
// already queued become no-ops. Close is idempotent.
func (o *ViewportObserver) Close() {
	if o == nil {
		return
	}
	o.mu.Lock()
	if o.unmounting {
		o.mu.Unlock()
		return
	}
	o.unmounting = true
	stop := o.stop
	o.stop = nil
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
}
