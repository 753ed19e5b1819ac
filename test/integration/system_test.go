//go:build integration

package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestHealth(t *testing.T) {
	resp := env.GET(t, "/health")
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		Status string `json:"status"`
	}](t, resp)
	requireField(t, result.Status, "ok", "status")
}

func TestDeepHealth(t *testing.T) {
	resp := env.GET(t, "/api/v1/health/deep")
	requireStatus(t, resp, http.StatusOK)

	result := decodeJSON[struct {
		Status string `json:"status"`
		Built  bool   `json:"built"`
		Page   *struct {
			URL string `json:"url"`
		} `json:"page"`
	}](t, resp)
	requireField(t, result.Status, "ok", "status")
	if result.Page == nil || !strings.Contains(result.Page.URL, "/chart") {
		t.Fatalf("deep health page = %+v", result.Page)
	}
}

func TestChartPage(t *testing.T) {
	resp := env.GET(t, "/chart")
	requireStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "lightweight-charts") {
		t.Fatalf("chart page does not load the chart library")
	}
}
