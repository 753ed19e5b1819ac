package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

// Relay publishes chart events to the broker under every feed that lists
// the event's kind. It implements chart.Recorder.
type Relay struct {
	broker *Broker
	market string
	feeds  map[chart.EventKind][]string
}

func NewRelay(cfg *Config, broker *Broker, market string) *Relay {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	feeds := make(map[chart.EventKind][]string)
	for _, f := range cfg.Feeds {
		for _, k := range f.Kinds {
			feeds[chart.EventKind(k)] = append(feeds[chart.EventKind(k)], f.Name)
		}
	}
	slog.Info("relay configured", "feeds", len(cfg.Feeds), "market", market)
	return &Relay{broker: broker, market: market, feeds: feeds}
}

type payload struct {
	Market string `json:"market"`
	chart.Event
}

func (r *Relay) Record(e chart.Event) {
	names := r.feeds[e.Kind]
	if len(names) == 0 || r.broker.ClientCount() == 0 {
		return
	}
	data, err := json.Marshal(payload{Market: r.market, Event: e})
	if err != nil {
		slog.Debug("relay marshal event failed", "kind", e.Kind, "error", err)
		return
	}
	for _, name := range names {
		r.broker.Publish(Event{Feed: name, Payload: string(data)})
	}
}
