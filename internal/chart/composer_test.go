package chart

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func fullDataset(n int) Dataset {
	bars := makeBars(n, 1_700_000_000, 3600)
	ds := Dataset{Bars: bars, Band: &LiquidationBand{}}
	for i, b := range bars {
		ds.Volumes = append(ds.Volumes, VolumeSample{Time: b.Time, Value: float64(10 + i)})
		ds.Oracle = append(ds.Oracle, OraclePoint{Time: b.Time, Price: b.Close})
		ds.Band.Points = append(ds.Band.Points, BandPoint{Time: b.Time, Price1: b.Low - 5, Price2: b.High + 5})
	}
	return ds
}

func TestComposerAttachOrder(t *testing.T) {
	tests := []struct {
		name string
		ds   Dataset
		want []string
	}{
		{"all series", fullDataset(5), []string{"area", "area", "histogram", "candlestick", "line"}},
		{"bars only", Dataset{Bars: makeBars(5, 0, 60)}, []string{"candlestick"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			comp, err := Composer{Engine: eng}.Build(context.Background(), newFakeContainer(801, 0), tt.ds, DefaultOptions())
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			if got := eng.Last().Kinds(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("series = %v, want %v", got, tt.want)
			}
			if comp.Shape != tt.ds.Shape() {
				t.Fatalf("shape = %+v", comp.Shape)
			}
		})
	}
}

func TestComposerStyling(t *testing.T) {
	eng := &fakeEngine{}
	opts := DefaultOptions()
	opts.Variant = VariantHollow
	opts.Magnet = true
	opts.Expanded = true
	opts.Granularity = Granularity15m

	_, err := Composer{Engine: eng}.Build(context.Background(), newFakeContainer(1001, 0), fullDataset(3), opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	s := eng.Last()

	if s.opts.Width != 1000 || s.opts.Height != opts.Heights.Expanded {
		t.Fatalf("surface size = %vx%v", s.opts.Width, s.opts.Height)
	}
	if s.opts.Crosshair != CrosshairMagnet || !s.opts.TimeVisible || s.opts.SecondsVisible {
		t.Fatalf("surface options = %+v", s.opts)
	}
	if m := s.margins[VolumeScaleID]; m != [2]float64{0.7, 0} {
		t.Fatalf("volume margins = %v", m)
	}

	fill := s.series[0].style.(AreaStyle)
	mask := s.series[1].style.(AreaStyle)
	if fill.TopColor != opts.Palette.Band || fill.BottomColor != opts.Palette.Band {
		t.Fatalf("band fill = %+v", fill)
	}
	if mask.TopColor != opts.Palette.Background || mask.BottomColor != opts.Palette.Background {
		t.Fatalf("band mask = %+v", mask)
	}

	cs := s.Candles().style.(CandleStyle)
	if cs.UpColor != transparent || cs.BorderUpColor != opts.Palette.CandleUp {
		t.Fatalf("hollow candle style = %+v", cs)
	}
	if cs.PriceFormatter == nil || cs.PriceFormatter(0.00012345) != "0.0001235" {
		t.Fatalf("candle price formatter not wired")
	}
}

func TestComposerExplicitSizeSkipsContainer(t *testing.T) {
	c := newFakeContainer(0, 0)
	c.detached = true
	opts := DefaultOptions()
	opts.Width, opts.Height = 640, 300

	eng := &fakeEngine{}
	comp, err := Composer{Engine: eng}.Build(context.Background(), c, Dataset{Bars: makeBars(2, 0, 60)}, opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if comp.Size != (Size{Width: 640, Height: 300}) {
		t.Fatalf("size = %+v", comp.Size)
	}
}

func TestComposerContainerNotAttached(t *testing.T) {
	c := newFakeContainer(0, 0)
	c.detached = true
	eng := &fakeEngine{}
	_, err := Composer{Engine: eng}.Build(context.Background(), c, Dataset{Bars: makeBars(2, 0, 60)}, DefaultOptions())
	if !errors.Is(err, ErrContainerNotAttached) {
		t.Fatalf("Build() error = %v, want ErrContainerNotAttached", err)
	}
	if len(eng.Surfaces()) != 0 {
		t.Fatalf("surface created for detached container")
	}
}

func TestCompositionData(t *testing.T) {
	ds := fullDataset(4)
	ds.Bars[1].Close = ds.Bars[1].Open - 1
	eng := &fakeEngine{}
	_, err := Composer{Engine: eng}.Build(context.Background(), newFakeContainer(801, 0), ds, DefaultOptions())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	s := eng.Last()
	p := DefaultPalette()

	upper, lower := s.series[0].values, s.series[1].values
	for i := range upper {
		if upper[i].Value <= lower[i].Value {
			t.Fatalf("band point %d: upper %v <= lower %v", i, upper[i].Value, lower[i].Value)
		}
	}
	vol := s.series[2].values
	if vol[0].Color != p.VolumeUp || vol[1].Color != p.VolumeDown {
		t.Fatalf("volume colors = %q, %q", vol[0].Color, vol[1].Color)
	}
	if got := len(s.Candles().bars); got != 4 {
		t.Fatalf("candles = %d", got)
	}
	if got := s.series[4].values[2].Value; got != ds.Oracle[2].Price {
		t.Fatalf("oracle value = %v", got)
	}
}
