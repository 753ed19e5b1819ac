package history

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

var (
	ErrFetchInProgress = errors.New("history: fetch already in progress")
	ErrCapped          = errors.New("history: no older history")
	ErrNoData          = errors.New("history: nothing loaded yet")
)

// Sink receives the merged dataset and the guard signals. *chart.Chart
// satisfies it.
type Sink interface {
	SetDataset(ctx context.Context, ds chart.Dataset) error
	SetGuard(g chart.GuardState)
}

type LoaderConfig struct {
	Source      Source
	Market      string
	Granularity chart.Granularity
	PageSize    int
	// Context bounds fetches started by FetchMore.
	Context context.Context
	// OnCapped runs once each time older history runs out.
	OnCapped func(market string, g chart.Granularity, bars int)
}

// Loader owns the loaded history for one market and drives the guard
// signals the viewport tracker consults before asking for more.
type Loader struct {
	src      Source
	market   string
	pageSize int
	onCapped func(market string, g chart.Granularity, bars int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pubMu orders publications so the sink never sees an older state
	// after a newer one.
	pubMu sync.Mutex

	mu          sync.Mutex
	sink        Sink
	granularity chart.Granularity
	ds          chart.Dataset
	guard       chart.GuardState
	epoch       uint64
	lastFetch   time.Time
}

func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	ctx, cancel := context.WithCancel(cfg.Context)
	return &Loader{
		src:         cfg.Source,
		market:      cfg.Market,
		pageSize:    cfg.PageSize,
		onCapped:    cfg.OnCapped,
		granularity: cfg.Granularity,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetSink connects the chart. The loader is usually built before the chart
// because the chart's fetch callback is the loader's FetchMore.
func (l *Loader) SetSink(s Sink) {
	l.mu.Lock()
	l.sink = s
	l.mu.Unlock()
}

func (l *Loader) Market() string { return l.market }

func (l *Loader) Granularity() chart.Granularity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.granularity
}

// Snapshot returns the loaded dataset. The slices are shared and must not be
// modified.
func (l *Loader) Snapshot() chart.Dataset {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ds
}

func (l *Loader) Guard() chart.GuardState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.guard
}

// LastFetch is when a page was last received, zero before the first one.
func (l *Loader) LastFetch() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFetch
}

// LoadInitial drops everything loaded so far and fetches the newest page.
func (l *Loader) LoadInitial(ctx context.Context) error {
	l.mu.Lock()
	l.epoch++
	epoch := l.epoch
	l.ds = chart.Dataset{}
	l.guard = chart.GuardState{Refetching: true}
	q := l.queryLocked(0)
	l.mu.Unlock()

	start := time.Now()
	page, err := l.src.Candles(ctx, q)

	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return nil
	}
	l.guard = chart.GuardState{}
	if err != nil {
		l.mu.Unlock()
		l.publish(ctx, false)
		return fmt.Errorf("history: load initial: %w", err)
	}
	l.ds = mergePage(chart.Dataset{}, page)
	l.lastFetch = time.Now()
	n := l.ds.Len()
	l.mu.Unlock()

	slog.Info("history initial load", "market", q.Market, "granularity", q.Granularity, "bars", n, "duration_ms", time.Since(start).Milliseconds())
	l.publish(ctx, true)
	return nil
}

// Reload forgets stored pages for the current market and granularity and
// loads the newest page again. It clears Capped, so history that was
// exhausted is asked for again.
func (l *Loader) Reload(ctx context.Context) error {
	if inv, ok := l.src.(Invalidator); ok {
		l.mu.Lock()
		q := l.queryLocked(0)
		l.mu.Unlock()
		if err := inv.Invalidate(ctx, q); err != nil {
			return fmt.Errorf("history: reload: %w", err)
		}
		slog.Info("history cache invalidated", "market", q.Market, "granularity", q.Granularity)
	}
	return l.LoadInitial(ctx)
}

// SetGranularity switches the bar size and reloads from the newest page.
// Fetches still running for the old granularity are discarded.
func (l *Loader) SetGranularity(ctx context.Context, g chart.Granularity) error {
	if g.Seconds() == 0 {
		return fmt.Errorf("history: unknown granularity %q", g)
	}
	l.mu.Lock()
	same := g == l.granularity
	l.granularity = g
	l.mu.Unlock()
	if same {
		return nil
	}
	return l.LoadInitial(ctx)
}

// FetchMore requests the page before the oldest loaded bar. It marks the
// fetch in flight before returning and completes in the background. Calls
// while a fetch is running or after history is exhausted do nothing.
func (l *Loader) FetchMore() {
	op, err := l.beginOlder()
	if err != nil {
		slog.Debug("history fetch more ignored", "market", l.market, "reason", err)
		return
	}
	l.publish(l.ctx, false)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if _, err := l.finishOlder(l.ctx, op); err != nil {
			slog.Warn("history fetch more failed", "market", l.market, "before", op.q.Before, "error", err)
		}
	}()
}

// FetchOlder is the synchronous form of FetchMore. It returns the number of
// bars added.
func (l *Loader) FetchOlder(ctx context.Context) (int, error) {
	op, err := l.beginOlder()
	if err != nil {
		return 0, err
	}
	l.publish(ctx, false)
	return l.finishOlder(ctx, op)
}

type olderFetch struct {
	q          Query
	epoch      uint64
	prevLength int
}

func (l *Loader) beginOlder() (olderFetch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.guard.Refetching:
		return olderFetch{}, ErrFetchInProgress
	case l.guard.Capped:
		return olderFetch{}, ErrCapped
	case l.ds.Len() == 0:
		return olderFetch{}, ErrNoData
	}
	op := olderFetch{
		q:          l.queryLocked(l.ds.FirstTime()),
		epoch:      l.epoch,
		prevLength: l.guard.LastLength,
	}
	l.guard.Refetching = true
	l.guard.LastLength = l.ds.Len()
	return op, nil
}

func (l *Loader) finishOlder(ctx context.Context, op olderFetch) (int, error) {
	start := time.Now()
	page, err := l.src.Candles(ctx, op.q)

	l.mu.Lock()
	if op.epoch != l.epoch {
		l.mu.Unlock()
		return 0, nil
	}
	l.guard.Refetching = false
	if err != nil {
		// Restore the previous length so the next pan can retry.
		l.guard.LastLength = op.prevLength
		l.mu.Unlock()
		l.publish(ctx, false)
		return 0, fmt.Errorf("history: fetch older: %w", err)
	}
	before := l.ds.Len()
	l.ds = mergePage(l.ds, page)
	l.lastFetch = time.Now()
	added := l.ds.Len() - before
	justCapped := added <= 0 && !l.guard.Capped
	if added <= 0 {
		l.guard.Capped = true
	}
	total, capped, g := l.ds.Len(), l.guard.Capped, l.granularity
	l.mu.Unlock()

	slog.Info("history fetch older done",
		"market", op.q.Market,
		"before", op.q.Before,
		"added", added,
		"total", total,
		"capped", capped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	l.publish(ctx, added > 0)
	if justCapped && l.onCapped != nil {
		l.onCapped(op.q.Market, g, total)
	}
	return added, nil
}

// RefreshLatest fetches the newest page and merges it in. Bars already
// loaded at the same time are replaced.
func (l *Loader) RefreshLatest(ctx context.Context) error {
	l.mu.Lock()
	epoch := l.epoch
	q := l.queryLocked(0)
	l.mu.Unlock()

	page, err := l.src.Candles(ctx, q)
	if err != nil {
		return fmt.Errorf("history: refresh latest: %w", err)
	}

	l.mu.Lock()
	if epoch != l.epoch {
		l.mu.Unlock()
		return nil
	}
	before := l.ds.Len()
	l.ds = mergePage(l.ds, page)
	l.lastFetch = time.Now()
	added := l.ds.Len() - before
	l.mu.Unlock()

	slog.Debug("history refresh latest", "market", q.Market, "bars", len(page.Bars), "added", added)
	l.publish(ctx, len(page.Bars) > 0)
	return nil
}

// Close cancels background fetches and waits for them.
func (l *Loader) Close() {
	l.cancel()
	l.wg.Wait()
}

// Wait blocks until background fetches finish.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) queryLocked(before int64) Query {
	return Query{Market: l.market, Granularity: l.granularity, Before: before, Limit: l.pageSize}
}

// publish pushes the current guard and, when withData is set, the dataset.
// The guard goes first: a dataset that grew is only worth a new fetch once
// the sink knows the previous one finished.
func (l *Loader) publish(ctx context.Context, withData bool) {
	l.pubMu.Lock()
	defer l.pubMu.Unlock()

	l.mu.Lock()
	sink, ds, guard := l.sink, l.ds, l.guard
	l.mu.Unlock()
	if sink == nil {
		return
	}
	sink.SetGuard(guard)
	if !withData {
		return
	}
	if err := sink.SetDataset(ctx, ds); err != nil {
		slog.Warn("history publish dataset failed", "market", l.market, "bars", ds.Len(), "error", err)
	}
}

// mergePage folds a page into ds. Entries are keyed by time; the page wins
// on a collision.
func mergePage(ds chart.Dataset, p Page) chart.Dataset {
	out := chart.Dataset{
		Bars:    mergeByTime(ds.Bars, p.Bars, func(b chart.Bar) int64 { return b.Time }),
		Volumes: mergeByTime(ds.Volumes, p.Volumes, func(v chart.VolumeSample) int64 { return v.Time }),
		Oracle:  mergeByTime(ds.Oracle, p.Oracle, func(o chart.OraclePoint) int64 { return o.Time }),
	}
	var band []chart.BandPoint
	if ds.Band != nil {
		band = ds.Band.Points
	}
	band = mergeByTime(band, p.Band, func(b chart.BandPoint) int64 { return b.Time })
	if len(band) > 0 {
		out.Band = &chart.LiquidationBand{Points: band}
	}
	return out
}

// mergeByTime never modifies base; it returns base itself when incoming is
// empty and a new slice otherwise.
func mergeByTime[T any](base, incoming []T, timeOf func(T) int64) []T {
	if len(incoming) == 0 {
		return base
	}
	byTime := make(map[int64]T, len(base)+len(incoming))
	for _, v := range base {
		byTime[timeOf(v)] = v
	}
	for _, v := range incoming {
		byTime[timeOf(v)] = v
	}
	out := make([]T, 0, len(byTime))
	for _, v := range byTime {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(timeOf(a), timeOf(b)) })
	return out
}
