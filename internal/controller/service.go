// Package controller exposes the running chart, its history loader and the
// snapshot store as one service for the HTTP API.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/perpchart/internal/cdpcontrol"
	"github.com/dgnsrekt/perpchart/internal/chart"
	"github.com/dgnsrekt/perpchart/internal/snapshot"
)

// Chart is the part of *chart.Chart the service drives.
type Chart interface {
	State() chart.State
	Options() chart.Options
	SetOptions(ctx context.Context, opts chart.Options) error
	VisibleRange(ctx context.Context) (chart.VisibleRange, bool, error)
	SetVisibleRange(ctx context.Context, r chart.VisibleRange) error
}

// Loader is the part of *history.Loader the service drives.
type Loader interface {
	Market() string
	Granularity() chart.Granularity
	LastFetch() time.Time
	SetGranularity(ctx context.Context, g chart.Granularity) error
	FetchOlder(ctx context.Context) (int, error)
	RefreshLatest(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Browser is the chart tab as seen by health checks and snapshots.
type Browser interface {
	Page(ctx context.Context) (cdpcontrol.PageInfo, error)
	CaptureScreenshot(ctx context.Context, format string, quality int) ([]byte, error)
}

type Config struct {
	Chart     Chart
	Loader    Loader
	Browser   Browser
	Snapshots *snapshot.Store
	// SnapshotKeep bounds the number of stored snapshots; 0 keeps all.
	SnapshotKeep int
}

// Service wraps chart control operations.
type Service struct {
	chart  Chart
	loader Loader
	cdp    Browser
	snaps  *snapshot.Store
	keep   int
	now    func() time.Time
}

func NewService(cfg Config) *Service {
	return &Service{
		chart:  cfg.Chart,
		loader: cfg.Loader,
		cdp:    cfg.Browser,
		snaps:  cfg.Snapshots,
		keep:   cfg.SnapshotKeep,
		now:    time.Now,
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

func validation(format string, args ...any) error {
	return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ChartState is the API view of the running chart.
type ChartState struct {
	Market      string            `json:"market"`
	Granularity chart.Granularity `json:"granularity"`
	LastFetch   *time.Time        `json:"last_fetch,omitempty"`
	Chart       chart.State       `json:"chart"`
}

func (s *Service) State(ctx context.Context) (ChartState, error) {
	st := ChartState{
		Market:      s.loader.Market(),
		Granularity: s.loader.Granularity(),
		Chart:       s.chart.State(),
	}
	if t := s.loader.LastFetch(); !t.IsZero() {
		st.LastFetch = &t
	}
	return st, nil
}

func (s *Service) Options(ctx context.Context) (chart.Options, error) {
	return s.chart.Options(), nil
}

// OptionsPatch changes only the fields that are set.
type OptionsPatch struct {
	Variant     *string
	Granularity *string
	Expanded    *bool
	Magnet      *bool
	Palette     *chart.Palette
	Width       *float64
	Height      *float64
}

// UpdateOptions applies patch on top of the current options. A new
// granularity rebuilds the surface first and then reloads history at the
// new bar size.
func (s *Service) UpdateOptions(ctx context.Context, patch OptionsPatch) (chart.Options, error) {
	opts := s.chart.Options()
	if patch.Variant != nil {
		v, err := chart.ParseVariant(*patch.Variant)
		if err != nil {
			return chart.Options{}, validation("%v", err)
		}
		opts.Variant = v
	}
	regranulate := false
	if patch.Granularity != nil {
		g, err := chart.ParseGranularity(*patch.Granularity)
		if err != nil {
			return chart.Options{}, validation("%v", err)
		}
		regranulate = g != opts.Granularity
		opts.Granularity = g
	}
	if patch.Expanded != nil {
		opts.Expanded = *patch.Expanded
	}
	if patch.Magnet != nil {
		opts.Magnet = *patch.Magnet
	}
	if patch.Palette != nil {
		opts.Palette = patch.Palette.Merge(opts.Palette)
	}
	if patch.Width != nil {
		if *patch.Width < 0 {
			return chart.Options{}, validation("width must not be negative")
		}
		opts.Width = *patch.Width
	}
	if patch.Height != nil {
		if *patch.Height < 0 {
			return chart.Options{}, validation("height must not be negative")
		}
		opts.Height = *patch.Height
	}

	if err := s.chart.SetOptions(ctx, opts); err != nil {
		return chart.Options{}, err
	}
	if regranulate {
		if err := s.loader.SetGranularity(ctx, opts.Granularity); err != nil {
			return chart.Options{}, err
		}
		slog.Info("controller granularity changed", "market", s.loader.Market(), "granularity", opts.Granularity)
	}
	return s.chart.Options(), nil
}

func (s *Service) GetVisibleRange(ctx context.Context) (chart.VisibleRange, error) {
	r, ok, err := s.chart.VisibleRange(ctx)
	if err != nil {
		return chart.VisibleRange{}, err
	}
	if !ok {
		return chart.VisibleRange{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeSurfaceNotFound, Message: "chart has no visible range yet"}
	}
	return r, nil
}

func (s *Service) SetVisibleRange(ctx context.Context, from, to int64) (chart.VisibleRange, error) {
	if to <= from {
		return chart.VisibleRange{}, validation("to (%d) must be after from (%d)", to, from)
	}
	r := chart.VisibleRange{From: from, To: to}
	if err := s.chart.SetVisibleRange(ctx, r); err != nil {
		return chart.VisibleRange{}, err
	}
	return r, nil
}

// FetchResult reports a manual history fetch.
type FetchResult struct {
	Added int              `json:"added"`
	Bars  int              `json:"bars"`
	Guard chart.GuardState `json:"guard"`
}

// FetchOlder loads one page of older history, the same request a pan to
// the left edge makes.
func (s *Service) FetchOlder(ctx context.Context) (FetchResult, error) {
	added, err := s.loader.FetchOlder(ctx)
	if err != nil {
		return FetchResult{}, err
	}
	st := s.chart.State()
	return FetchResult{Added: added, Bars: st.DatasetLen, Guard: st.Guard}, nil
}

func (s *Service) RefreshLatest(ctx context.Context) (ChartState, error) {
	if err := s.loader.RefreshLatest(ctx); err != nil {
		return ChartState{}, err
	}
	return s.State(ctx)
}

// ReloadHistory drops cached pages and the capped flag and loads the newest
// page again.
func (s *Service) ReloadHistory(ctx context.Context) (ChartState, error) {
	if err := s.loader.Reload(ctx); err != nil {
		return ChartState{}, err
	}
	slog.Info("controller history reloaded", "market", s.loader.Market())
	return s.State(ctx)
}

// HealthResult reports whether the chart tab is reachable and built.
type HealthResult struct {
	Status  string               `json:"status"`
	Page    *cdpcontrol.PageInfo `json:"page,omitempty"`
	Error   string               `json:"error,omitempty"`
	Mounted bool                 `json:"mounted"`
	Built   bool                 `json:"built"`
	Bars    int                  `json:"bars"`
}

func (s *Service) DeepHealthCheck(ctx context.Context) (HealthResult, error) {
	st := s.chart.State()
	res := HealthResult{Status: "ok", Mounted: st.Mounted, Built: st.Built, Bars: st.DatasetLen}
	page, err := s.cdp.Page(ctx)
	if err != nil {
		res.Status = "degraded"
		res.Error = err.Error()
		return res, nil
	}
	res.Page = &page
	if !st.Built {
		res.Status = "degraded"
	}
	return res, nil
}

// --- Snapshot methods ---

func (s *Service) TakeSnapshot(ctx context.Context, format string, quality int, notes string) (snapshot.Meta, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", "png":
		format = "png"
		quality = 0
	case "jpg", "jpeg":
		format = "jpeg"
		if quality == 0 {
			quality = 90
		}
		if quality < 1 || quality > 100 {
			return snapshot.Meta{}, validation("quality must be between 1 and 100")
		}
	default:
		return snapshot.Meta{}, validation("format must be png or jpeg")
	}

	img, err := s.cdp.CaptureScreenshot(ctx, format, quality)
	if err != nil {
		return snapshot.Meta{}, err
	}

	st := s.chart.State()
	meta := snapshot.Meta{
		ID:          snapshot.NewID(),
		Market:      s.loader.Market(),
		Granularity: st.Options.Granularity,
		Variant:     st.Options.Variant,
		Format:      format,
		Bars:        st.DatasetLen,
		CreatedAt:   s.now().UTC(),
		Notes:       notes,
	}
	if st.Size != nil {
		meta.Width, meta.Height = st.Size.Width, st.Size.Height
	}
	if r, ok, err := s.chart.VisibleRange(ctx); err == nil && ok {
		meta.Range = &r
	} else if err != nil {
		slog.Debug("controller snapshot range unavailable", "error", err)
	}

	if err := s.snaps.Save(meta, img); err != nil {
		return snapshot.Meta{}, &cdpcontrol.CodedError{Code: cdpcontrol.CodeEvalFailure, Message: fmt.Sprintf("save snapshot: %v", err)}
	}
	meta.SizeBytes = len(img)

	if s.keep > 0 {
		if removed, err := s.snaps.Prune(s.keep); err != nil {
			slog.Warn("controller snapshot prune failed", "error", err)
		} else if removed > 0 {
			slog.Info("controller snapshots pruned", "removed", removed, "keep", s.keep)
		}
	}
	return meta, nil
}

func (s *Service) ListSnapshots(ctx context.Context) ([]snapshot.Meta, error) {
	return s.snaps.List()
}

func (s *Service) GetSnapshot(ctx context.Context, id string) (snapshot.Meta, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return snapshot.Meta{}, err
	}
	meta, err := s.snaps.Get(strings.TrimSpace(id))
	if err != nil {
		return snapshot.Meta{}, snapshotErr(err)
	}
	return meta, nil
}

func (s *Service) ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error) {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return nil, "", err
	}
	data, format, err := s.snaps.ReadImage(strings.TrimSpace(id))
	if err != nil {
		return nil, "", snapshotErr(err)
	}
	return data, format, nil
}

func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "snapshot_id"); err != nil {
		return err
	}
	if err := s.snaps.Delete(strings.TrimSpace(id)); err != nil {
		return snapshotErr(err)
	}
	return nil
}

func snapshotErr(err error) error {
	switch {
	case errors.Is(err, snapshot.ErrInvalidID):
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: err.Error(), Cause: err}
	case errors.Is(err, snapshot.ErrNotFound):
		return &cdpcontrol.CodedError{Code: cdpcontrol.CodeSnapshotNotFound, Message: err.Error(), Cause: err}
	default:
		return err
	}
}
