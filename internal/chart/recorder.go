package chart

import "time"

// EventKind names a chart lifecycle event.
type EventKind string

const (
	EventRebuild        EventKind = "rebuild"
	EventContentUpdate  EventKind = "content_update"
	EventFetchTriggered EventKind = "fetch_triggered"
	EventFetchSkipped   EventKind = "fetch_skipped"
	EventRangeRestored  EventKind = "range_restored"
	EventResizeApplied  EventKind = "resize_applied"
	EventResizeDropped  EventKind = "resize_dropped"
)

// Event is one observation emitted by a Chart.
type Event struct {
	Kind       EventKind     `json:"kind"`
	At         time.Time     `json:"at"`
	Bars       int           `json:"bars,omitempty"`
	BarsBefore *float64      `json:"bars_before,omitempty"`
	Range      *VisibleRange `json:"range,omitempty"`
	Size       *Size         `json:"size,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// Recorder receives chart events. Implementations must not block and must
// not call back into the Chart.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) Record(e Event) { f(e) }

// MultiRecorder fans every event out to each recorder in order.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(e Event) {
	for _, r := range m {
		if r != nil {
			r.Record(e)
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
