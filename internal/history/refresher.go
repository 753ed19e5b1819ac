package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRefreshSpec refreshes the newest bars every 30 seconds.
const DefaultRefreshSpec = "@every 30s"

// TailRefresher keeps the newest bars current on a cron schedule. Spec uses
// the six-field (with seconds) cron syntax or a descriptor such as
// "@every 30s".
type TailRefresher struct {
	cron    *cron.Cron
	loader  *Loader
	timeout time.Duration

	mu      sync.Mutex
	running bool
}

func NewTailRefresher(loader *Loader, spec string, timeout time.Duration) (*TailRefresher, error) {
	if spec == "" {
		spec = DefaultRefreshSpec
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &TailRefresher{
		cron:    cron.New(cron.WithSeconds()),
		loader:  loader,
		timeout: timeout,
	}
	if _, err := r.cron.AddFunc(spec, r.Tick); err != nil {
		return nil, fmt.Errorf("history: register refresh %q: %w", spec, err)
	}
	return r, nil
}

func (r *TailRefresher) Start() {
	r.cron.Start()
	slog.Info("history tail refresher started", "market", r.loader.Market())
}

// Stop waits for a running refresh to finish.
func (r *TailRefresher) Stop() {
	<-r.cron.Stop().Done()
	slog.Info("history tail refresher stopped", "market", r.loader.Market())
}

// Tick runs one refresh. Overlapping ticks are skipped.
func (r *TailRefresher) Tick() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		slog.Debug("history tail refresh skipped", "reason", "previous refresh running")
		return
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(r.loader.ctx, r.timeout)
	defer cancel()
	if err := r.loader.RefreshLatest(ctx); err != nil {
		slog.Warn("history tail refresh failed", "market", r.loader.Market(), "error", err)
	}
}
