package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/perpchart/internal/api"
	"github.com/dgnsrekt/perpchart/internal/browser"
	"github.com/dgnsrekt/perpchart/internal/cdpcontrol"
	"github.com/dgnsrekt/perpchart/internal/chart"
	"github.com/dgnsrekt/perpchart/internal/config"
	"github.com/dgnsrekt/perpchart/internal/controller"
	"github.com/dgnsrekt/perpchart/internal/history"
	"github.com/dgnsrekt/perpchart/internal/netutil"
	"github.com/dgnsrekt/perpchart/internal/notify"
	"github.com/dgnsrekt/perpchart/internal/page"
	"github.com/dgnsrekt/perpchart/internal/relay"
	"github.com/dgnsrekt/perpchart/internal/snapshot"
	"github.com/dgnsrekt/perpchart/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load chartd config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("chartd config loaded",
		"market", cfg.Market,
		"granularity", cfg.Granularity,
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.CDPURL(),
		"launch_browser", cfg.LaunchBrowser,
		"headless", cfg.Headless,
		"upstream_url", cfg.UpstreamURL,
		"redis_addr", cfg.RedisAddr,
		"page_size", cfg.PageSize,
		"fetch_threshold", cfg.FetchThreshold,
		"fetch_debounce_ms", cfg.FetchDebounce.Milliseconds(),
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("chartd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	opts, err := cfg.ChartOptions()
	if err != nil {
		return err
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.BindFallbacks, len(cfg.BindFallbacks) > 0)
	if err != nil {
		return fmt.Errorf("select bind address: %w", err)
	}
	bindAddr := ln.Addr().String()
	pageURL := cfg.PageURL(bindAddr)

	// Event sinks.
	feeds := relay.DefaultConfig()
	if cfg.RelayFeedsFile != "" {
		if feeds, err = relay.LoadConfig(cfg.RelayFeedsFile); err != nil {
			_ = ln.Close()
			return err
		}
	}
	broker := relay.NewBroker()
	journal := storage.NewJournal(cfg.JournalDir, cfg.Market, cfg.Market, 0, cfg.JournalMaxMB)
	defer func() { _ = journal.Close() }()
	recorder := chart.MultiRecorder{journal, relay.NewRelay(feeds, broker, cfg.Market)}

	snaps, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		_ = ln.Close()
		return err
	}

	src, closeSource, err := buildSource(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer closeSource()

	notifier := &notify.Notifier{Endpoint: cfg.NtfyURL}
	loader := history.NewLoader(history.LoaderConfig{
		Source:      src,
		Market:      cfg.Market,
		Granularity: opts.Granularity,
		PageSize:    cfg.PageSize,
		Context:     ctx,
		OnCapped:    notifier.HistoryCapped,
	})
	defer loader.Close()

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), cfg.PagePath, cfg.EvalTimeout())
	defer func() { _ = cdpClient.Close() }()

	ch := chart.New(chart.Config{
		Engine:    cdpcontrol.NewEngine(cdpClient),
		Container: cdpcontrol.NewContainer(cdpClient, "#"+cfg.ContainerID),
		FetchMore: loader.FetchMore,
		Recorder:  recorder,
		Threshold: cfg.FetchThreshold,
		Debounce:  cfg.FetchDebounce,
		Options:   opts,
	})
	loader.SetSink(ch)

	pageHandler, err := page.Handler(page.Config{
		Title:       cfg.Market + " " + string(opts.Granularity),
		ContainerID: cfg.ContainerID,
		ChartLibURL: cfg.ChartLibURL,
		Background:  opts.Palette.Background,
	})
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("render chart page: %w", err)
	}

	svc := controller.NewService(controller.Config{
		Chart:        ch,
		Loader:       loader,
		Browser:      cdpClient,
		Snapshots:    snaps,
		SnapshotKeep: cfg.SnapshotKeep,
	})
	srv := &http.Server{
		Handler: api.NewServer(svc, api.Options{
			PagePath: cfg.PagePath,
			Page:     pageHandler,
			Events:   relay.SSEHandler(broker),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("chartd listening", "addr", bindAddr, "page", pageURL, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   pageURL,
			ProfileDir: cfg.ProfileDir,
			Headless:   cfg.Headless,
		})
		if err := launcher.Launch(ctx); err != nil {
			shutdown(srv)
			return fmt.Errorf("launch browser: %w", err)
		}
		defer launcher.Stop()
	}

	if _, err := browser.EnsureTab(ctx, cfg.CDPURL(), pageURL, cfg.PagePath); err != nil {
		shutdown(srv)
		return err
	}
	if err := cdpClient.Connect(ctx); err != nil {
		shutdown(srv)
		return fmt.Errorf("connect CDP: %w", err)
	}

	if err := loader.LoadInitial(ctx); err != nil {
		slog.Warn("initial history load failed", "market", cfg.Market, "error", err)
	}
	if err := mountChart(ctx, ch, cfg.EvalTimeout()); err != nil {
		shutdown(srv)
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), cfg.EvalTimeout())
		defer cancel()
		if err := ch.Dispose(dctx); err != nil {
			slog.Debug("chart dispose failed", "error", err)
		}
	}()

	refresher, err := history.NewTailRefresher(loader, cfg.RefreshSpec, cfg.EvalTimeout())
	if err != nil {
		shutdown(srv)
		return err
	}
	refresher.Start()
	defer refresher.Stop()

	select {
	case <-ctx.Done():
		slog.Info("chartd shutting down")
	case err := <-serveErr:
		shutdown(srv)
		return fmt.Errorf("http server: %w", err)
	}
	shutdown(srv)
	return nil
}

// buildSource picks the upstream API when configured and the synthetic
// generator otherwise. Redis, when configured, caches both.
func buildSource(ctx context.Context, cfg *config.Config) (history.Source, func(), error) {
	var src history.Source
	if cfg.UpstreamURL != "" {
		src = history.NewUpstreamSource(cfg.UpstreamURL, &http.Client{Timeout: 15 * time.Second})
		slog.Info("history source", "kind", "upstream", "url", cfg.UpstreamURL)
	} else {
		src = history.NewSyntheticSource(history.SyntheticConfig{
			Seed:     cfg.SyntheticSeed,
			Earliest: time.Now().AddDate(0, 0, -cfg.SyntheticDays),
			Band:     cfg.SyntheticBand,
		})
		slog.Info("history source", "kind", "synthetic", "seed", cfg.SyntheticSeed, "days", cfg.SyntheticDays)
	}

	if cfg.RedisAddr == "" {
		return src, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("history cache enabled", "redis_addr", cfg.RedisAddr, "db", cfg.RedisDB, "ttl", cfg.CacheTTL)
	cached := history.NewCachedSource(src, rdb, cfg.CacheTTL, history.DefaultCacheNamespace)
	return cached, func() { _ = rdb.Close() }, nil
}

// mountChart retries until the page has loaded the chart library and, once
// history is loaded, the surface is built in the host element.
func mountChart(ctx context.Context, ch *chart.Chart, evalTimeout time.Duration) error {
	deadline := time.Now().Add(6 * evalTimeout)
	for attempt := 1; ; attempt++ {
		err := ch.Mount(ctx)
		if err == nil {
			if st := ch.State(); st.Built || st.DatasetLen == 0 {
				slog.Info("chart mounted", "attempts", attempt)
				return nil
			}
			err = chart.ErrContainerNotAttached
		}
		retry := cdpcontrol.HasCode(err, cdpcontrol.CodeAPIUnavailable) || errors.Is(err, chart.ErrContainerNotAttached)
		if !retry || time.Now().After(deadline) {
			return fmt.Errorf("mount chart: %w", err)
		}
		slog.Debug("chart not ready", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("chartd shutdown failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
