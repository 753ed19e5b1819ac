package chart

import (
	"context"
	"sync"
)

// ViewState holds at most one saved visible time range. It is the only
// piece of chart state that survives a surface rebuild. A range saved by
// Hold is kept for the dataset that answers a history fetch; otherwise the
// owner captures the live range before each update.
type ViewState struct {
	mu    sync.Mutex
	saved *VisibleRange
	held  bool
}

// Save replaces the saved range.
func (v *ViewState) Save(r VisibleRange) {
	v.mu.Lock()
	v.saved = &r
	v.mu.Unlock()
}

// Saved returns the saved range, if any.
func (v *ViewState) Saved() (VisibleRange, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.saved == nil {
		return VisibleRange{}, false
	}
	return *v.saved, true
}

// Clear drops the saved range so the next surface auto-fits.
func (v *ViewState) Clear() {
	v.mu.Lock()
	v.saved = nil
	v.held = false
	v.mu.Unlock()
}

// Hold captures the visible range of ts and marks it as waiting for the
// fetched data. When ts has no range, an earlier saved range is held.
func (v *ViewState) Hold(ctx context.Context, ts TimeScale) (VisibleRange, bool, error) {
	r, ok, err := v.Capture(ctx, ts)
	v.mu.Lock()
	v.held = v.saved != nil
	v.mu.Unlock()
	return r, ok, err
}

// Held reports whether a range saved by Hold has not been released.
func (v *ViewState) Held() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held
}

// Release ends a hold. The saved range is kept.
func (v *ViewState) Release() {
	v.mu.Lock()
	v.held = false
	v.mu.Unlock()
}

// Capture reads the current visible range from ts and saves it. A surface
// without data leaves the saved range untouched.
func (v *ViewState) Capture(ctx context.Context, ts TimeScale) (VisibleRange, bool, error) {
	r, ok, err := ts.VisibleRange(ctx)
	if err != nil || !ok {
		return VisibleRange{}, false, err
	}
	v.Save(r)
	return r, true, nil
}

// Apply sets the saved range on ts. It reports false and leaves the time
// scale alone when nothing is saved.
func (v *ViewState) Apply(ctx context.Context, ts TimeScale) (VisibleRange, bool, error) {
	r, ok := v.Saved()
	if !ok {
		return VisibleRange{}, false, nil
	}
	if err := ts.SetVisibleRange(ctx, r); err != nil {
		return r, false, err
	}
	return r, true, nil
}
