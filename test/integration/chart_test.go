//go:build integration

package integration

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func getState(t *testing.T) chartState {
	t.Helper()
	resp := env.GET(t, "/api/v1/chart")
	requireStatus(t, resp, http.StatusOK)
	return decodeJSON[chartState](t, resp)
}

func TestVisibleRangeSurvivesOptionsRebuild(t *testing.T) {
	st := getState(t)
	span := (st.Chart.LastTime - st.Chart.FirstTime) / 4
	want := map[string]int64{"from": st.Chart.LastTime - 2*span, "to": st.Chart.LastTime - span}

	resp := env.PUT(t, "/api/v1/chart/visible-range", want)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = env.PATCH(t, "/api/v1/chart/options", map[string]any{"variant": "hollow"})
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()
	t.Cleanup(func() {
		r := env.PATCH(t, "/api/v1/chart/options", map[string]any{"variant": "candles"})
		r.Body.Close()
	})

	after := getState(t)
	if after.Chart.Rebuilds <= st.Chart.Rebuilds {
		t.Fatalf("rebuilds = %d, want more than %d", after.Chart.Rebuilds, st.Chart.Rebuilds)
	}

	resp = env.GET(t, "/api/v1/chart/visible-range")
	requireStatus(t, resp, http.StatusOK)
	got := decodeJSON[map[string]int64](t, resp)
	// The engine snaps to bar boundaries.
	slack := span / 10
	if d := got["from"] - want["from"]; d > slack || d < -slack {
		t.Fatalf("from = %d, want about %d", got["from"], want["from"])
	}
}

func TestFetchOlderGrowsHistory(t *testing.T) {
	before := getState(t)
	if before.Chart.Guard.Capped {
		t.Skip("history already capped")
	}

	resp := env.POST(t, "/api/v1/chart/history/older", nil)
	if resp.StatusCode == http.StatusConflict {
		resp.Body.Close()
		t.Skip("a fetch is already running or history is capped")
	}
	requireStatus(t, resp, http.StatusOK)
	res := decodeJSON[struct {
		Added int `json:"added"`
		Bars  int `json:"bars"`
	}](t, resp)

	if res.Added > 0 && res.Bars <= before.Chart.DatasetLen {
		t.Fatalf("bars = %d after adding %d to %d", res.Bars, res.Added, before.Chart.DatasetLen)
	}
	after := getState(t)
	if after.Chart.FirstTime > before.Chart.FirstTime {
		t.Fatalf("first time moved forward: %d -> %d", before.Chart.FirstTime, after.Chart.FirstTime)
	}
}

func TestEventsStreamPublishesRebuild(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.BaseURL+"/api/v1/events?feeds=surface", nil)
	resp, err := env.Client.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	requireStatus(t, resp, http.StatusOK)

	go func() {
		time.Sleep(500 * time.Millisecond)
		for _, body := range []string{`{"expanded":true}`, `{"expanded":false}`} {
			req, _ := http.NewRequest(http.MethodPatch, env.BaseURL+"/api/v1/chart/options", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			if r, err := env.Client.Do(req); err == nil {
				r.Body.Close()
			}
		}
	}()

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data:") && strings.Contains(line, `"kind":"rebuild"`) {
			return
		}
	}
	t.Fatalf("no rebuild event before timeout: %v", sc.Err())
}
