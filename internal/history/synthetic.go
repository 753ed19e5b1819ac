package history

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

// SyntheticConfig configures an offline source.
type SyntheticConfig struct {
	Seed      uint64
	BasePrice float64
	// Earliest is the oldest slot the source will produce. Pages before it
	// come back empty, which caps the loader.
	Earliest time.Time
	// Band adds a liquidation band below the price.
	Band bool
	Now  func() time.Time
}

// SyntheticSource generates deterministic candles: the same slot always
// yields the same bar, so overlapping pages agree.
type SyntheticSource struct {
	seed     uint64
	base     float64
	earliest int64
	band     bool
	now      func() time.Time
}

func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var earliest int64
	if !cfg.Earliest.IsZero() {
		earliest = cfg.Earliest.Unix()
	}
	return &SyntheticSource{
		seed:     cfg.Seed,
		base:     cfg.BasePrice,
		earliest: earliest,
		band:     cfg.Band,
		now:      cfg.Now,
	}
}

func (s *SyntheticSource) Candles(ctx context.Context, q Query) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if err := q.validate(); err != nil {
		return Page{}, err
	}
	step := q.Granularity.Seconds()
	end := q.Before
	if end <= 0 {
		end = s.now().Unix()/step*step + step
	}
	last := (end - 1) / step * step
	first := last - int64(q.Limit-1)*step
	if floor := (s.earliest + step - 1) / step * step; first < floor {
		first = floor
	}

	var page Page
	for t := first; t <= last; t += step {
		bar := chart.Bar{Time: t, Open: s.price(t, step), Close: s.price(t+step, step)}
		rng := s.rng(t)
		bar.High = math.Max(bar.Open, bar.Close) * (1 + rng.Float64()*0.004)
		bar.Low = math.Min(bar.Open, bar.Close) * (1 - rng.Float64()*0.004)
		page.Bars = append(page.Bars, bar)
		page.Volumes = append(page.Volumes, chart.VolumeSample{Time: t, Value: math.Round(1000 * (0.5 + rng.Float64()))})
		page.Oracle = append(page.Oracle, chart.OraclePoint{Time: t, Price: bar.Close * (1 + (rng.Float64()-0.5)*0.002)})
		if s.band {
			page.Band = append(page.Band, chart.BandPoint{Time: t, Price1: bar.Close * 0.94, Price2: bar.Close * 0.97})
		}
	}
	return page, nil
}

// price is a slow wave plus a faster one plus per-slot noise, all scaled to
// the bar size so every granularity looks alike.
func (s *SyntheticSource) price(t, step int64) float64 {
	x := float64(t) / float64(step)
	noise := (s.rng(t).Float64() - 0.5) * 0.006
	return s.base * (1 + 0.15*math.Sin(2*math.Pi*x/500) + 0.05*math.Sin(2*math.Pi*x/60) + noise)
}

func (s *SyntheticSource) rng(t int64) *rand.Rand {
	return rand.New(rand.NewPCG(s.seed, uint64(t)))
}
