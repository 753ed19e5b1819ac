package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPURL() != "http://127.0.0.1:9220" {
		t.Fatalf("CDPURL() = %q", cfg.CDPURL())
	}
	if cfg.FetchThreshold != 50 || cfg.FetchDebounce != 150*time.Millisecond {
		t.Fatalf("fetch tuning = %v / %v", cfg.FetchThreshold, cfg.FetchDebounce)
	}
	if cfg.PageURL("127.0.0.1:8190") != "http://127.0.0.1:8190/chart" {
		t.Fatalf("PageURL() = %q", cfg.PageURL("127.0.0.1:8190"))
	}
	if len(cfg.BindFallbacks) != 2 {
		t.Fatalf("BindFallbacks = %v", cfg.BindFallbacks)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHARTD_FETCH_THRESHOLD", "25.5")
	t.Setenv("CHARTD_FETCH_DEBOUNCE_MS", "400")
	t.Setenv("CHARTD_EVAL_TIMEOUT_MS", "10")
	t.Setenv("CHARTD_PAGE_PATH", "view")
	t.Setenv("CHARTD_PUBLIC_URL", "http://chart.local/")
	t.Setenv("CHARTD_LAUNCH_BROWSER", "false")
	t.Setenv("CHARTD_BIND_FALLBACKS", " a:1 , ,b:2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FetchThreshold != 25.5 || cfg.FetchDebounce != 400*time.Millisecond {
		t.Fatalf("fetch tuning = %v / %v", cfg.FetchThreshold, cfg.FetchDebounce)
	}
	if cfg.EvalTimeout() != time.Second {
		t.Fatalf("EvalTimeout() = %v, want clamped to 1s", cfg.EvalTimeout())
	}
	if got := cfg.PageURL("ignored:1"); got != "http://chart.local/view" {
		t.Fatalf("PageURL() = %q", got)
	}
	if cfg.LaunchBrowser {
		t.Fatalf("LaunchBrowser = true")
	}
	if len(cfg.BindFallbacks) != 2 || cfg.BindFallbacks[1] != "b:2" {
		t.Fatalf("BindFallbacks = %q", cfg.BindFallbacks)
	}
}

func TestLoadRejectsBadPageSize(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CHARTD_PAGE_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil for zero page size")
	}
}

func TestChartOptionsWithTheme(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theme.yaml")
	body := "palette:\n  background: \"#ffffff\"\n  candle_up: \"#089981\"\nheights:\n  standard: 480\nmagnet: true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{Granularity: "15m", Variant: "hollow", ThemeFile: path}

	opts, err := cfg.ChartOptions()
	if err != nil {
		t.Fatalf("ChartOptions() error = %v", err)
	}
	def := chart.DefaultOptions()
	if opts.Palette.Background != "#ffffff" || opts.Palette.CandleUp != "#089981" {
		t.Fatalf("palette overrides lost: %+v", opts.Palette)
	}
	if opts.Palette.Grid != def.Palette.Grid {
		t.Fatalf("unset palette entry = %q, want default %q", opts.Palette.Grid, def.Palette.Grid)
	}
	if opts.Heights.Standard != 480 || opts.Heights.Expanded != def.Heights.Expanded {
		t.Fatalf("heights = %+v", opts.Heights)
	}
	if !opts.Magnet || opts.Granularity != chart.Granularity15m || opts.Variant != chart.VariantHollow {
		t.Fatalf("opts = %+v", opts)
	}
}

func TestChartOptionsErrors(t *testing.T) {
	if _, err := (&Config{Granularity: "2h", Variant: "candles"}).ChartOptions(); err == nil {
		t.Fatalf("ChartOptions() error = nil for bad granularity")
	}
	if _, err := (&Config{Granularity: "1h", Variant: "heikin"}).ChartOptions(); err == nil {
		t.Fatalf("ChartOptions() error = nil for bad variant")
	}
	if _, err := (&Config{Granularity: "1h", Variant: "candles", ThemeFile: "/nonexistent/theme.yaml"}).ChartOptions(); err == nil {
		t.Fatalf("ChartOptions() error = nil for missing theme")
	}
}
