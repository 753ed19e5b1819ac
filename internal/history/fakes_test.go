package history

import (
	"context"
	"sync"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

// fakeSource answers from fn and records every query.
type fakeSource struct {
	mu      sync.Mutex
	queries []Query
	fn      func(q Query) (Page, error)
	// olderGate, when set, blocks queries with a Before bound until it is
	// closed.
	olderGate chan struct{}
}

func (s *fakeSource) Candles(ctx context.Context, q Query) (Page, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	fn, gate := s.fn, s.olderGate
	s.mu.Unlock()
	if gate != nil && q.Before > 0 {
		select {
		case <-gate:
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}
	return fn(q)
}

func (s *fakeSource) Queries() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queries...)
}

// fakeSink records what the loader published, in order.
type fakeSink struct {
	mu       sync.Mutex
	datasets []chart.Dataset
	guards   []chart.GuardState
	order    []string
}

func (s *fakeSink) SetDataset(_ context.Context, ds chart.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets = append(s.datasets, ds)
	s.order = append(s.order, "dataset")
	return nil
}

func (s *fakeSink) SetGuard(g chart.GuardState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guards = append(s.guards, g)
	s.order = append(s.order, "guard")
}

func (s *fakeSink) LastGuard() chart.GuardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.guards) == 0 {
		return chart.GuardState{}
	}
	return s.guards[len(s.guards)-1]
}

func (s *fakeSink) LastDataset() chart.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.datasets) == 0 {
		return chart.Dataset{}
	}
	return s.datasets[len(s.datasets)-1]
}

// hourlyPage returns n hourly bars ending just before the given time.
func hourlyPage(before int64, n int) Page {
	var p Page
	for i := n; i >= 1; i-- {
		t := before - int64(i)*3600
		p.Bars = append(p.Bars, chart.Bar{Time: t, Open: 1, High: 2, Low: 0.5, Close: 1.5})
		p.Volumes = append(p.Volumes, chart.VolumeSample{Time: t, Value: 10})
	}
	return p
}

// historySource serves hourly bars from earliest up to latest (exclusive).
func historySource(earliest, latest int64) *fakeSource {
	return &fakeSource{fn: func(q Query) (Page, error) {
		end := q.Before
		if end == 0 {
			end = latest
		}
		n := q.Limit
		if avail := int((end - earliest) / 3600); avail < n {
			n = avail
		}
		if n <= 0 {
			return Page{}, nil
		}
		return hourlyPage(end, n), nil
	}}
}
