package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

// Theme is the optional YAML file named by CHARTD_THEME_FILE:
//
//	palette:
//	  background: "#ffffff"
//	  candle_up: "#089981"
//	heights:
//	  standard: 480
//	magnet: true
type Theme struct {
	Palette chart.Palette `yaml:"palette"`
	Heights chart.Heights `yaml:"heights"`
	Magnet  bool          `yaml:"magnet"`
}

// LoadTheme reads a theme file. Missing palette entries and heights keep
// their defaults.
func LoadTheme(path string) (Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, fmt.Errorf("theme: %w", err)
	}
	var t Theme
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Theme{}, fmt.Errorf("theme: %w", err)
	}
	if t.Heights.Standard < 0 || t.Heights.Expanded < 0 {
		return Theme{}, fmt.Errorf("theme: heights must not be negative")
	}
	return t, nil
}

// ChartOptions builds the initial chart options from the environment and
// the theme file, if any.
func (c *Config) ChartOptions() (chart.Options, error) {
	opts := chart.DefaultOptions()
	g, err := chart.ParseGranularity(c.Granularity)
	if err != nil {
		return chart.Options{}, fmt.Errorf("config: CHARTD_GRANULARITY: %w", err)
	}
	opts.Granularity = g
	v, err := chart.ParseVariant(c.Variant)
	if err != nil {
		return chart.Options{}, fmt.Errorf("config: CHARTD_VARIANT: %w", err)
	}
	opts.Variant = v

	if c.ThemeFile == "" {
		return opts, nil
	}
	t, err := LoadTheme(c.ThemeFile)
	if err != nil {
		return chart.Options{}, err
	}
	opts.Palette = t.Palette.Merge(opts.Palette)
	if t.Heights.Standard > 0 {
		opts.Heights.Standard = t.Heights.Standard
	}
	if t.Heights.Expanded > 0 {
		opts.Heights.Expanded = t.Heights.Expanded
	}
	opts.Magnet = t.Magnet
	return opts, nil
}
