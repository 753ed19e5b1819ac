package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/perpchart/internal/cdpcontrol"
	"github.com/dgnsrekt/perpchart/internal/chart"
	"github.com/dgnsrekt/perpchart/internal/controller"
	"github.com/dgnsrekt/perpchart/internal/history"
	"github.com/dgnsrekt/perpchart/internal/snapshot"
)

type Service interface {
	State(ctx context.Context) (controller.ChartState, error)
	Options(ctx context.Context) (chart.Options, error)
	UpdateOptions(ctx context.Context, patch controller.OptionsPatch) (chart.Options, error)
	GetVisibleRange(ctx context.Context) (chart.VisibleRange, error)
	SetVisibleRange(ctx context.Context, from, to int64) (chart.VisibleRange, error)
	FetchOlder(ctx context.Context) (controller.FetchResult, error)
	RefreshLatest(ctx context.Context) (controller.ChartState, error)
	ReloadHistory(ctx context.Context) (controller.ChartState, error)
	DeepHealthCheck(ctx context.Context) (controller.HealthResult, error)
	TakeSnapshot(ctx context.Context, format string, quality int, notes string) (snapshot.Meta, error)
	ListSnapshots(ctx context.Context) ([]snapshot.Meta, error)
	GetSnapshot(ctx context.Context, id string) (snapshot.Meta, error)
	ReadSnapshotImage(ctx context.Context, id string) ([]byte, string, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Options mounts the non-huma handlers next to the API. Nil handlers are
// skipped.
type Options struct {
	PagePath string
	Page     http.Handler
	Events   http.Handler
}

type statusOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("perpchart API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", htmlHandler(docsHTML))
	router.Get("/docs/events", htmlHandler(eventsDocsHTML))
	if opts.Page != nil {
		path := opts.PagePath
		if path == "" {
			path = "/chart"
		}
		router.Method(http.MethodGet, path, opts.Page)
		router.Method(http.MethodHead, path, opts.Page)
	}
	if opts.Events != nil {
		router.Method(http.MethodGet, "/api/v1/events", opts.Events)
	}

	registerChartHandlers(api, svc)
	registerSnapshotHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func htmlHandler(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(page)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodePageNotFound, cdpcontrol.CodeSurfaceNotFound, cdpcontrol.CodeSnapshotNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeContainerDetached:
			return huma.Error409Conflict(coded.Message)
		case cdpcontrol.CodeEvalTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case cdpcontrol.CodeAPIUnavailable, cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	switch {
	case errors.Is(err, history.ErrFetchInProgress),
		errors.Is(err, history.ErrCapped),
		errors.Is(err, history.ErrNoData),
		errors.Is(err, chart.ErrDisposed),
		errors.Is(err, chart.ErrContainerNotAttached):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, chart.ErrUnsortedBars):
		return huma.Error502BadGateway(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
