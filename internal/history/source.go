// Package history loads candle history for the chart: the latest page on
// start, older pages when the viewport nears the left edge, and periodic
// refreshes of the newest bars.
package history

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

// DefaultPageSize is the number of bars requested per page.
const DefaultPageSize = 300

// Query selects one page of bars.
type Query struct {
	Market      string            `json:"market"`
	Granularity chart.Granularity `json:"granularity"`
	// Before is an exclusive upper time bound. Zero asks for the newest bars.
	Before int64 `json:"before,omitempty"`
	Limit  int   `json:"limit"`
}

func (q Query) validate() error {
	if q.Market == "" {
		return fmt.Errorf("history: market is required")
	}
	if q.Granularity.Seconds() == 0 {
		return fmt.Errorf("history: unknown granularity %q", q.Granularity)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("history: limit must be positive")
	}
	return nil
}

// Page is one response from a Source. All slices are ordered by time.
type Page struct {
	Bars    []chart.Bar          `json:"bars"`
	Volumes []chart.VolumeSample `json:"volumes,omitempty"`
	Oracle  []chart.OraclePoint  `json:"oracle,omitempty"`
	Band    []chart.BandPoint    `json:"band,omitempty"`
}

// Source returns pages of bars. An empty page for a Before query means no
// older history exists.
type Source interface {
	Candles(ctx context.Context, q Query) (Page, error)
}

// Invalidator is a Source that keeps pages and can forget those of one
// market and granularity.
type Invalidator interface {
	Invalidate(ctx context.Context, q Query) error
}
