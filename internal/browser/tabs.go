package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// EnsureTab returns the first page target whose URL contains filter,
// opening pageURL in a new tab when none exists. The tab outlives the call.
func EnsureTab(ctx context.Context, cdpURL, pageURL, filter string) (target.ID, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, cdpURL)
	defer allocCancel()

	tempCtx, tempCancel := chromedp.NewContext(allocCtx)
	defer tempCancel()
	if err := chromedp.Run(tempCtx); err != nil {
		return "", fmt.Errorf("browser: connect: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return "", fmt.Errorf("browser: list targets: %w", err)
	}
	if id, ok := matchTab(targets, filter); ok {
		slog.Info("browser chart tab found", "target_id", id)
		return id, nil
	}

	var id target.ID
	err = chromedp.Run(tempCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		var err error
		id, err = target.CreateTarget(pageURL).Do(cdp.WithExecutor(ctx, c.Browser))
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("browser: open %s: %w", pageURL, err)
	}
	slog.Info("browser chart tab opened", "target_id", id, "url", pageURL)
	return id, nil
}

func matchTab(targets []*target.Info, filter string) (target.ID, bool) {
	filter = strings.ToLower(filter)
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if filter == "" || strings.Contains(strings.ToLower(t.URL), filter) {
			return t.TargetID, true
		}
	}
	return "", false
}
