package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/perpchart/internal/chart"
	"github.com/dgnsrekt/perpchart/internal/controller"
)

type palettePatch struct {
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
	Grid       string `json:"grid,omitempty"`
	CandleUp   string `json:"candle_up,omitempty"`
	CandleDown string `json:"candle_down,omitempty"`
	WickUp     string `json:"wick_up,omitempty"`
	WickDown   string `json:"wick_down,omitempty"`
	VolumeUp   string `json:"volume_up,omitempty"`
	VolumeDown string `json:"volume_down,omitempty"`
	Oracle     string `json:"oracle,omitempty"`
	Band       string `json:"band,omitempty"`
}

func (p *palettePatch) palette() *chart.Palette {
	if p == nil {
		return nil
	}
	pal := chart.Palette(*p)
	return &pal
}

func registerChartHandlers(api huma.API, svc Service) {
	type stateOutput struct {
		Body controller.ChartState
	}
	huma.Register(api, huma.Operation{OperationID: "get-chart-state", Method: http.MethodGet, Path: "/api/v1/chart", Summary: "Get chart, guard and history state", Tags: []string{"Chart"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.State(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	type optionsOutput struct {
		Body chart.Options
	}
	huma.Register(api, huma.Operation{OperationID: "get-chart-options", Method: http.MethodGet, Path: "/api/v1/chart/options", Summary: "Get chart style options", Tags: []string{"Chart"}},
		func(ctx context.Context, input *struct{}) (*optionsOutput, error) {
			opts, err := svc.Options(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &optionsOutput{Body: opts}, nil
		})

	type updateOptionsInput struct {
		Body struct {
			Variant     *string        `json:"variant,omitempty" doc:"Candle variant" enum:"candles,hollow"`
			Granularity *string        `json:"granularity,omitempty" doc:"Bar size; a change reloads history" enum:"1s,1m,5m,15m,1h,4h,1d,1w"`
			Expanded    *bool          `json:"expanded,omitempty" doc:"Use the expanded height preset"`
			Magnet      *bool          `json:"magnet,omitempty" doc:"Snap the crosshair to bar values"`
			Palette     *palettePatch  `json:"palette,omitempty" doc:"Colors to override; empty fields keep the current color"`
			Width       *float64       `json:"width,omitempty" doc:"Explicit width in px; 0 follows the container"`
			Height      *float64       `json:"height,omitempty" doc:"Explicit height in px; 0 uses the height preset"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "update-chart-options", Method: http.MethodPatch, Path: "/api/v1/chart/options", Summary: "Update chart style options", Description: "Any change rebuilds the chart surface and keeps the visible range.", Tags: []string{"Chart"}},
		func(ctx context.Context, input *updateOptionsInput) (*optionsOutput, error) {
			opts, err := svc.UpdateOptions(ctx, controller.OptionsPatch{
				Variant:     input.Body.Variant,
				Granularity: input.Body.Granularity,
				Expanded:    input.Body.Expanded,
				Magnet:      input.Body.Magnet,
				Palette:     input.Body.Palette.palette(),
				Width:       input.Body.Width,
				Height:      input.Body.Height,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &optionsOutput{Body: opts}, nil
		})

	type rangeOutput struct {
		Body chart.VisibleRange
	}
	huma.Register(api, huma.Operation{OperationID: "get-visible-range", Method: http.MethodGet, Path: "/api/v1/chart/visible-range", Summary: "Get the visible time range", Tags: []string{"Chart"}},
		func(ctx context.Context, input *struct{}) (*rangeOutput, error) {
			r, err := svc.GetVisibleRange(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &rangeOutput{Body: r}, nil
		})

	type setRangeInput struct {
		Body struct {
			From int64 `json:"from" required:"true" doc:"Unix seconds of the left edge"`
			To   int64 `json:"to" required:"true" doc:"Unix seconds of the right edge"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-visible-range", Method: http.MethodPut, Path: "/api/v1/chart/visible-range", Summary: "Set the visible time range", Description: "The range is kept across later rebuilds.", Tags: []string{"Chart"}},
		func(ctx context.Context, input *setRangeInput) (*rangeOutput, error) {
			r, err := svc.SetVisibleRange(ctx, input.Body.From, input.Body.To)
			if err != nil {
				return nil, mapErr(err)
			}
			return &rangeOutput{Body: r}, nil
		})

	type fetchOutput struct {
		Body controller.FetchResult
	}
	huma.Register(api, huma.Operation{OperationID: "fetch-older-history", Method: http.MethodPost, Path: "/api/v1/chart/history/older", Summary: "Load one page of older history", Description: "Returns 409 while a fetch is running or once history is exhausted.", Tags: []string{"History"}},
		func(ctx context.Context, input *struct{}) (*fetchOutput, error) {
			res, err := svc.FetchOlder(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &fetchOutput{Body: res}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "refresh-latest-history", Method: http.MethodPost, Path: "/api/v1/chart/history/latest", Summary: "Reload the newest page of bars", Tags: []string{"History"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.RefreshLatest(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "reload-history", Method: http.MethodPost, Path: "/api/v1/chart/history/reload", Summary: "Drop cached pages and reload history", Description: "Clears the exhausted-history flag; older pages are fetched again from the source.", Tags: []string{"History"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			st, err := svc.ReloadHistory(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &stateOutput{Body: st}, nil
		})
}
