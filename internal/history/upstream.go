package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

const maxUpstreamBody = 32 << 20

// UpstreamSource reads pages from a candle service:
//
//	GET {base}/candles?market=BTC-PERP&granularity=1h&limit=300[&before=1700000000]
//
// The response body is a Page.
type UpstreamSource struct {
	baseURL string
	client  *http.Client
}

func NewUpstreamSource(baseURL string, client *http.Client) *UpstreamSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &UpstreamSource{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *UpstreamSource) Candles(ctx context.Context, q Query) (Page, error) {
	if err := q.validate(); err != nil {
		return Page{}, err
	}
	v := url.Values{}
	v.Set("market", q.Market)
	v.Set("granularity", string(q.Granularity))
	v.Set("limit", strconv.Itoa(q.Limit))
	if q.Before > 0 {
		v.Set("before", strconv.FormatInt(q.Before, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/candles?"+v.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("history: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("history: upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Page{}, fmt.Errorf("history: upstream HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var page Page
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpstreamBody)).Decode(&page); err != nil {
		return Page{}, fmt.Errorf("history: decode upstream page: %w", err)
	}
	if err := chart.ValidateBars(page.Bars); err != nil {
		return Page{}, fmt.Errorf("history: upstream page: %w", err)
	}
	return page, nil
}
