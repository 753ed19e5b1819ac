package cdpcontrol

import (
	"fmt"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

func jsContainerSize(selector string) string {
	return wrapJSEval(fmt.Sprintf(`
var el = document.querySelector(%s);
if (!el) return _fail("%s", "container not found: " + %s);
return _ok({width: el.clientWidth, height: el.clientHeight});`,
		jsString(selector), CodeContainerDetached, jsString(selector)))
}

func jsObserveContainer(selector, listenerID string) string {
	return wrapJSEval(fmt.Sprintf(`
var el = document.querySelector(%s);
if (!el) return _fail("%s", "container not found: " + %s);
var id = %s;
if (pc.observers[id]) pc.observers[id].disconnect();
var ro = new ResizeObserver(function(entries) {
  for (var i = 0; i < entries.length; i++) {
    var cr = entries[i].contentRect;
    pc.emit({kind: "resize", id: id, width: cr.width, height: cr.height});
  }
});
ro.observe(el);
pc.observers[id] = ro;
return _ok({id: id});`,
		jsString(selector), CodeContainerDetached, jsString(selector), jsString(listenerID)))
}

func jsUnobserveContainer(listenerID string) string {
	return wrapJSEval(fmt.Sprintf(`
var id = %s;
if (pc.observers[id]) { pc.observers[id].disconnect(); delete pc.observers[id]; }
return _ok({id: id});`, jsString(listenerID)))
}

// surfaceConfig is the createChart option object.
func surfaceConfig(o chart.SurfaceOptions) map[string]any {
	return map[string]any{
		"width":  o.Width,
		"height": o.Height,
		"layout": map[string]any{
			"background": map[string]any{"type": "solid", "color": o.Background},
			"textColor":  o.TextColor,
		},
		"grid": map[string]any{
			"vertLines": map[string]any{"color": o.GridColor},
			"horzLines": map[string]any{"color": o.GridColor},
		},
		"crosshair": map[string]any{"mode": int(o.Crosshair)},
		"timeScale": map[string]any{
			"timeVisible":    o.TimeVisible,
			"secondsVisible": o.SecondsVisible,
		},
		"rightPriceScale": map[string]any{"borderColor": o.GridColor},
	}
}

func jsCreateSurface(selector, surfaceID string, o chart.SurfaceOptions) string {
	return wrapJSEval(fmt.Sprintf(`
var el = document.querySelector(%s);
if (!el) return _fail("%s", "container not found: " + %s);
var id = %s;
if (pc.surfaces[id]) { pc.surfaces[id].chart.remove(); }
var c = LWC.createChart(el, %s);
pc.surfaces[id] = {chart: c, subs: {}};
return _ok({id: id});`,
		jsString(selector), CodeContainerDetached, jsString(selector), jsString(surfaceID), jsJSON(surfaceConfig(o))))
}

func jsRemoveSurface(surfaceID string) string {
	return wrapJSEval(fmt.Sprintf(`
var id = %s;
var s = _surface(id);
if (!s) return _ok({removed: false});
var ts = s.chart.timeScale();
for (var k in s.subs) { try { ts.unsubscribeVisibleLogicalRangeChange(s.subs[k]); } catch (_) {} }
s.chart.remove();
delete pc.surfaces[id];
for (var sid in pc.series) { if (pc.series[sid].surface === id) delete pc.series[sid]; }
return _ok({removed: true});`, jsString(surfaceID)))
}

func jsResizeSurface(surfaceID string, width, height float64) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
if (!s) return _noSurface(%s);
s.chart.resize(%s, %s);
return _ok(null);`, jsString(surfaceID), jsString(surfaceID), jsJSON(width), jsJSON(height)))
}

func jsPriceScaleMargins(surfaceID, scaleID string, top, bottom float64) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
if (!s) return _noSurface(%s);
s.chart.priceScale(%s).applyOptions({scaleMargins: {top: %s, bottom: %s}});
return _ok(null);`, jsString(surfaceID), jsString(surfaceID), jsString(scaleID), jsJSON(top), jsJSON(bottom)))
}

// seriesKind selects the LightweightCharts add*Series method.
type seriesKind string

const (
	kindArea        seriesKind = "Area"
	kindHistogram   seriesKind = "Histogram"
	kindCandlestick seriesKind = "Candlestick"
	kindLine        seriesKind = "Line"
)

// jsAddSeries adds a series. With priceFormatter the series formats its
// labels with the page-side price formatter.
func jsAddSeries(surfaceID, seriesID string, kind seriesKind, opts map[string]any, priceFormatter bool) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
if (!s) return _noSurface(%s);
var opts = %s;
if (%t) opts.priceFormat = {type: "custom", minMove: 1e-12, formatter: pc.fmt};
var api = s.chart["add" + %s + "Series"](opts);
pc.series[%s] = {api: api, surface: %s};
return _ok({id: %s});`,
		jsString(surfaceID), jsString(surfaceID), jsJSON(opts), priceFormatter, jsString(string(kind)),
		jsString(seriesID), jsString(surfaceID), jsString(seriesID)))
}

func jsSetSeriesData(seriesID string, data any) string {
	return wrapJSEval(fmt.Sprintf(`
var se = pc.series[%s];
if (!se) return _fail("%s", "series not found: " + %s);
se.api.setData(%s);
return _ok(null);`, jsString(seriesID), CodeSurfaceNotFound, jsString(seriesID), jsJSON(data)))
}

func jsBarsInLogicalRange(seriesID string, r chart.LogicalRange) string {
	return wrapJSEval(fmt.Sprintf(`
var se = pc.series[%s];
if (!se) return _fail("%s", "series not found: " + %s);
var info = se.api.barsInLogicalRange({from: %s, to: %s});
if (!info) return _ok({found: false});
return _ok({found: true, bars_before: info.barsBefore, bars_after: info.barsAfter});`,
		jsString(seriesID), CodeSurfaceNotFound, jsString(seriesID), jsJSON(r.From), jsJSON(r.To)))
}

func jsGetVisibleRange(surfaceID string) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
if (!s) return _noSurface(%s);
var r = s.chart.timeScale().getVisibleRange();
if (!r) return _ok({found: false});
return _ok({found: true, from: Number(r.from), to: Number(r.to)});`, jsString(surfaceID), jsString(surfaceID)))
}

func jsSetVisibleRange(surfaceID string, r chart.VisibleRange) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
if (!s) return _noSurface(%s);
s.chart.timeScale().setVisibleRange({from: %d, to: %d});
return _ok(null);`, jsString(surfaceID), jsString(surfaceID), r.From, r.To))
}

func jsGetVisibleLogicalRange(surfaceID string) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
if (!s) return _noSurface(%s);
var r = s.chart.timeScale().getVisibleLogicalRange();
if (!r) return _ok({found: false});
return _ok({found: true, from: r.from, to: r.to});`, jsString(surfaceID), jsString(surfaceID)))
}

func jsFitContent(surfaceID string) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
if (!s) return _noSurface(%s);
s.chart.timeScale().fitContent();
return _ok(null);`, jsString(surfaceID), jsString(surfaceID)))
}

func jsSubscribeRange(surfaceID, listenerID string) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
if (!s) return _noSurface(%s);
var id = %s;
var h = function(r) {
  if (r) pc.emit({kind: "range", id: id, ok: true, from: r.from, to: r.to});
  else pc.emit({kind: "range", id: id, ok: false});
};
s.chart.timeScale().subscribeVisibleLogicalRangeChange(h);
s.subs[id] = h;
return _ok({id: id});`, jsString(surfaceID), jsString(surfaceID), jsString(listenerID)))
}

func jsUnsubscribeRange(surfaceID, listenerID string) string {
	return wrapJSEval(fmt.Sprintf(`
var s = _surface(%s);
var id = %s;
if (!s || !s.subs[id]) return _ok({removed: false});
s.chart.timeScale().unsubscribeVisibleLogicalRangeChange(s.subs[id]);
delete s.subs[id];
return _ok({removed: true});`, jsString(surfaceID), jsString(listenerID)))
}
