package relay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

// FeedConfig groups chart event kinds under a feed name. SSE clients pick
// feeds with ?feeds=a,b.
type FeedConfig struct {
	Name  string   `yaml:"name"`
	Kinds []string `yaml:"kinds"`
}

type Config struct {
	Feeds []FeedConfig `yaml:"feeds"`
}

// DefaultConfig is used when no feed file is configured.
func DefaultConfig() *Config {
	return &Config{Feeds: []FeedConfig{
		{Name: "fetch", Kinds: []string{string(chart.EventFetchTriggered), string(chart.EventFetchSkipped)}},
		{Name: "surface", Kinds: []string{string(chart.EventRebuild), string(chart.EventContentUpdate), string(chart.EventRangeRestored)}},
		{Name: "resize", Kinds: []string{string(chart.EventResizeApplied), string(chart.EventResizeDropped)}},
	}}
}

// LoadConfig reads and validates a feed YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	known := map[chart.EventKind]bool{
		chart.EventRebuild:        true,
		chart.EventContentUpdate:  true,
		chart.EventFetchTriggered: true,
		chart.EventFetchSkipped:   true,
		chart.EventRangeRestored:  true,
		chart.EventResizeApplied:  true,
		chart.EventResizeDropped:  true,
	}
	for i, f := range c.Feeds {
		if f.Name == "" {
			return fmt.Errorf("relay config: feed[%d] missing name", i)
		}
		if len(f.Kinds) == 0 {
			return fmt.Errorf("relay config: feed[%d] (%s) has no kinds", i, f.Name)
		}
		for _, k := range f.Kinds {
			if !known[chart.EventKind(k)] {
				return fmt.Errorf("relay config: feed[%d] (%s) unknown kind %q", i, f.Name, k)
			}
		}
	}
	return nil
}
