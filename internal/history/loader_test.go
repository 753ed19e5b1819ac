package history

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

const latest = int64(1_700_000_000 / 3600 * 3600)

func newTestLoader(src Source) (*Loader, *fakeSink) {
	l := NewLoader(LoaderConfig{Source: src, Market: "BTC-PERP", Granularity: chart.Granularity1h})
	sink := &fakeSink{}
	l.SetSink(sink)
	return l, sink
}

func TestLoadInitialPublishesNewestPage(t *testing.T) {
	src := historySource(latest-10_000*3600, latest)
	l, sink := newTestLoader(src)
	defer l.Close()

	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	q := src.Queries()[0]
	if q.Before != 0 || q.Limit != DefaultPageSize || q.Market != "BTC-PERP" || q.Granularity != chart.Granularity1h {
		t.Fatalf("query = %+v", q)
	}
	ds := sink.LastDataset()
	if ds.Len() != DefaultPageSize {
		t.Fatalf("published %d bars, want %d", ds.Len(), DefaultPageSize)
	}
	if ds.LastTime() != latest-3600 {
		t.Fatalf("last time = %d, want %d", ds.LastTime(), latest-3600)
	}
	if g := sink.LastGuard(); g != (chart.GuardState{}) {
		t.Fatalf("guard = %+v, want zero", g)
	}
	if l.LastFetch().IsZero() {
		t.Fatalf("LastFetch not set")
	}
}

func TestFetchMoreMarksRefetchingBeforeReturning(t *testing.T) {
	src := historySource(latest-10_000*3600, latest)
	src.olderGate = make(chan struct{})
	l, sink := newTestLoader(src)
	defer l.Close()
	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	first := l.Snapshot().FirstTime()

	l.FetchMore()
	want := chart.GuardState{Refetching: true, LastLength: DefaultPageSize}
	if g := l.Guard(); g != want {
		t.Fatalf("guard after FetchMore = %+v, want %+v", g, want)
	}
	if g := sink.LastGuard(); g != want {
		t.Fatalf("published guard = %+v, want %+v", g, want)
	}

	// A second request while the first is in flight is ignored.
	l.FetchMore()
	if _, err := l.FetchOlder(context.Background()); !errors.Is(err, ErrFetchInProgress) {
		t.Fatalf("FetchOlder() error = %v, want ErrFetchInProgress", err)
	}

	close(src.olderGate)
	l.Wait()

	queries := src.Queries()
	if len(queries) != 2 {
		t.Fatalf("queries = %d, want 2", len(queries))
	}
	if queries[1].Before != first {
		t.Fatalf("older query before = %d, want %d", queries[1].Before, first)
	}
	if n := l.Snapshot().Len(); n != 2*DefaultPageSize {
		t.Fatalf("bars = %d, want %d", n, 2*DefaultPageSize)
	}
	want = chart.GuardState{LastLength: DefaultPageSize}
	if g := sink.LastGuard(); g != want {
		t.Fatalf("final guard = %+v, want %+v", g, want)
	}
	sink.mu.Lock()
	tail := sink.order[len(sink.order)-2:]
	sink.mu.Unlock()
	if !slices.Equal(tail, []string{"guard", "dataset"}) {
		t.Fatalf("publish order = %v, want guard then dataset", tail)
	}
}

func TestFetchOlderCapsOnEmptyPage(t *testing.T) {
	src := historySource(latest-400*3600, latest)
	l, _ := newTestLoader(src)
	defer l.Close()
	ctx := context.Background()
	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	added, err := l.FetchOlder(ctx)
	if err != nil || added != 100 {
		t.Fatalf("FetchOlder() = %d, %v; want 100, nil", added, err)
	}
	if l.Guard().Capped {
		t.Fatalf("capped after a non-empty page")
	}

	added, err = l.FetchOlder(ctx)
	if err != nil || added != 0 {
		t.Fatalf("FetchOlder() = %d, %v; want 0, nil", added, err)
	}
	g := l.Guard()
	if !g.Capped || g.Refetching {
		t.Fatalf("guard = %+v, want capped and idle", g)
	}
	if !g.Suppress(l.Snapshot().Len()) {
		t.Fatalf("capped guard must suppress fetching")
	}

	if _, err := l.FetchOlder(ctx); !errors.Is(err, ErrCapped) {
		t.Fatalf("FetchOlder() error = %v, want ErrCapped", err)
	}
	if got := len(src.Queries()); got != 3 {
		t.Fatalf("queries = %d, want 3", got)
	}
}

func TestFetchOlderReportsCapOnce(t *testing.T) {
	src := historySource(latest-300*3600, latest)
	type capped struct {
		market string
		g      chart.Granularity
		bars   int
	}
	var calls []capped
	l := NewLoader(LoaderConfig{
		Source:      src,
		Market:      "BTC-PERP",
		Granularity: chart.Granularity1h,
		OnCapped: func(market string, g chart.Granularity, bars int) {
			calls = append(calls, capped{market, g, bars})
		},
	})
	l.SetSink(&fakeSink{})
	defer l.Close()
	ctx := context.Background()
	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	if _, err := l.FetchOlder(ctx); err != nil {
		t.Fatalf("FetchOlder() error = %v", err)
	}
	if _, err := l.FetchOlder(ctx); !errors.Is(err, ErrCapped) {
		t.Fatalf("FetchOlder() error = %v, want ErrCapped", err)
	}

	want := []capped{{"BTC-PERP", chart.Granularity1h, DefaultPageSize}}
	if !slices.Equal(calls, want) {
		t.Fatalf("OnCapped calls = %+v, want %+v", calls, want)
	}
}

func TestReloadClearsCap(t *testing.T) {
	src := historySource(latest-300*3600, latest)
	l, _ := newTestLoader(src)
	defer l.Close()
	ctx := context.Background()
	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	if _, err := l.FetchOlder(ctx); err != nil || !l.Guard().Capped {
		t.Fatalf("FetchOlder() error = %v, capped = %v", err, l.Guard().Capped)
	}

	if err := l.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if g := l.Guard(); g.Capped || g.Refetching {
		t.Fatalf("guard after Reload = %+v", g)
	}
	if q := src.Queries(); q[len(q)-1].Before != 0 {
		t.Fatalf("Reload query = %+v, want newest page", q[len(q)-1])
	}
}

func TestFetchOlderErrorAllowsRetry(t *testing.T) {
	boom := errors.New("upstream down")
	good := historySource(latest-10_000*3600, latest)
	src := &fakeSource{fn: func(q Query) (Page, error) {
		if q.Before > 0 {
			return Page{}, boom
		}
		return good.fn(q)
	}}
	l, sink := newTestLoader(src)
	defer l.Close()
	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	if _, err := l.FetchOlder(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("FetchOlder() error = %v, want %v", err, boom)
	}
	want := chart.GuardState{}
	if g := sink.LastGuard(); g != want {
		t.Fatalf("guard = %+v, want %+v", g, want)
	}
	if want.Suppress(l.Snapshot().Len()) {
		t.Fatalf("guard must allow another attempt")
	}
}

func TestFetchOlderBeforeInitialLoad(t *testing.T) {
	l, _ := newTestLoader(historySource(0, latest))
	defer l.Close()
	if _, err := l.FetchOlder(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("FetchOlder() error = %v, want ErrNoData", err)
	}
}

func TestRefreshLatestMergesTail(t *testing.T) {
	now := latest
	src := &fakeSource{}
	src.fn = func(q Query) (Page, error) { return hourlyPage(now, 3), nil }
	l, sink := newTestLoader(src)
	defer l.Close()
	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	now = latest + 3600
	src.fn = func(q Query) (Page, error) {
		p := hourlyPage(now, 2)
		p.Bars[0].Close = 9
		return p, nil
	}
	if err := l.RefreshLatest(context.Background()); err != nil {
		t.Fatalf("RefreshLatest() error = %v", err)
	}

	ds := sink.LastDataset()
	if ds.Len() != 4 {
		t.Fatalf("bars = %d, want 4", ds.Len())
	}
	if err := ds.Validate(); err != nil {
		t.Fatalf("merged bars unsorted: %v", err)
	}
	if ds.Bars[2].Close != 9 {
		t.Fatalf("bar at %d not replaced: %+v", ds.Bars[2].Time, ds.Bars[2])
	}
	if ds.LastTime() != latest {
		t.Fatalf("last time = %d, want %d", ds.LastTime(), latest)
	}
}

func TestSetGranularityDiscardsInflightFetch(t *testing.T) {
	src := historySource(latest-10_000*3600, latest)
	src.olderGate = make(chan struct{})
	l, _ := newTestLoader(src)
	defer l.Close()
	ctx := context.Background()
	if err := l.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}

	l.FetchMore()
	if err := l.SetGranularity(ctx, chart.Granularity4h); err != nil {
		t.Fatalf("SetGranularity() error = %v", err)
	}
	close(src.olderGate)
	l.Wait()

	if n := l.Snapshot().Len(); n != DefaultPageSize {
		t.Fatalf("bars = %d, want only the reloaded page", n)
	}
	if g := l.Guard(); g != (chart.GuardState{}) {
		t.Fatalf("guard = %+v, want zero after reload", g)
	}
	reloaded := slices.ContainsFunc(src.Queries(), func(q Query) bool {
		return q.Granularity == chart.Granularity4h && q.Before == 0
	})
	if !reloaded {
		t.Fatalf("no 4h reload issued: %+v", src.Queries())
	}
	if err := l.SetGranularity(ctx, "2h"); err == nil {
		t.Fatalf("SetGranularity(2h) error = nil")
	}
}

func TestCloseCancelsBackgroundFetch(t *testing.T) {
	src := historySource(latest-10_000*3600, latest)
	src.olderGate = make(chan struct{})
	l, _ := newTestLoader(src)
	if err := l.LoadInitial(context.Background()); err != nil {
		t.Fatalf("LoadInitial() error = %v", err)
	}
	l.FetchMore()

	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return")
	}
}

func TestMergeByTime(t *testing.T) {
	key := func(b chart.Bar) int64 { return b.Time }
	base := []chart.Bar{{Time: 10, Close: 1}, {Time: 20, Close: 1}}

	tests := []struct {
		name     string
		incoming []chart.Bar
		want     []int64
	}{
		{name: "empty keeps base", incoming: nil, want: []int64{10, 20}},
		{name: "prepend older", incoming: []chart.Bar{{Time: 0}, {Time: 5}}, want: []int64{0, 5, 10, 20}},
		{name: "append newer", incoming: []chart.Bar{{Time: 30}}, want: []int64{10, 20, 30}},
		{name: "overlap", incoming: []chart.Bar{{Time: 20, Close: 2}, {Time: 30}}, want: []int64{10, 20, 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeByTime(base, tt.incoming, key)
			var times []int64
			for _, b := range got {
				times = append(times, b.Time)
			}
			if !slices.Equal(times, tt.want) {
				t.Fatalf("times = %v, want %v", times, tt.want)
			}
		})
	}

	got := mergeByTime(base, []chart.Bar{{Time: 20, Close: 2}}, key)
	if got[1].Close != 2 {
		t.Fatalf("incoming bar did not win: %+v", got[1])
	}
	if base[1].Close != 1 {
		t.Fatalf("base modified: %+v", base[1])
	}
}
