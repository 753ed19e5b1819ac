package cdpcontrol

// jsRuntime installs window.__pc on first use and binds local names used by
// every script. Surfaces, series, range listeners and resize observers are
// registered under ids allocated in Go, so a reloaded page simply reports
// them as missing.
const jsRuntime = `
if (!window.__pc) {
  var _price = ` + jsPriceFormat + `;
  window.__pc = {
    surfaces: {}, series: {}, observers: {},
    emit: function(ev) {
      if (typeof window.` + bindingName + ` === "function") window.` + bindingName + `(JSON.stringify(ev));
    },
    digits: _price.digits,
    fmt: _price.fmt
  };
}
var pc = window.__pc;
var LWC = window.LightweightCharts;
if (!LWC) return JSON.stringify({ok:false,error_code:"` + CodeAPIUnavailable + `",error_message:"lightweight-charts not loaded"});
function _ok(data) { return JSON.stringify({ok:true,data:data}); }
function _fail(code, msg) { return JSON.stringify({ok:false,error_code:code,error_message:msg}); }
function _surface(id) { return pc.surfaces[id] || null; }
function _noSurface(id) { return _fail("` + CodeSurfaceNotFound + `", "surface not found: " + id); }
`

// jsPriceFormat mirrors chart.FormatPrice in the page. It works on the
// shortest decimal string of the price and rounds half away from zero, so
// labels match the Go formatter digit for digit.
const jsPriceFormat = `(function() {
  function zeros(n) { return n > 0 ? new Array(n + 1).join("0") : ""; }
  function dec(a) {
    var s = String(a), e = s.indexOf("e");
    if (e < 0) return s;
    var mant = s.slice(0, e), exp = parseInt(s.slice(e + 1), 10);
    var dot = mant.indexOf("."), ds = mant.replace(".", "");
    var point = (dot < 0 ? mant.length : dot) + exp;
    if (point <= 0) return "0." + zeros(-point) + ds;
    if (point >= ds.length) return ds + zeros(point - ds.length);
    return ds.slice(0, point) + "." + ds.slice(point);
  }
  function digits(p) {
    if (!isFinite(p)) return 4;
    var a = Math.abs(p), s = dec(a), dot = s.indexOf(".");
    if (dot < 0 || a >= 1) return 4;
    var frac = s.slice(dot + 1), i = 0;
    while (i < frac.length && frac.charAt(i) === "0") i++;
    return i < frac.length ? i + 4 : 4;
  }
  function fmt(p) {
    if (!isFinite(p)) return "-";
    var n = digits(p), s = dec(Math.abs(p)), dot = s.indexOf(".");
    var ip = dot < 0 ? s : s.slice(0, dot), fp = dot < 0 ? "" : s.slice(dot + 1);
    var up = fp.length > n && fp.charCodeAt(n) >= 53;
    var ds = (ip + (fp + zeros(n)).slice(0, n)).split("");
    if (up) {
      var i = ds.length - 1;
      for (; i >= 0 && ds[i] === "9"; i--) ds[i] = "0";
      if (i < 0) ds.unshift("1"); else ds[i] = String.fromCharCode(ds[i].charCodeAt(0) + 1);
    }
    var all = ds.join(""), cut = all.length - n;
    var out = all.slice(0, cut) + "." + all.slice(cut);
    return (p < 0 && /[1-9]/.test(out) ? "-" : "") + out;
  }
  return {digits: digits, fmt: fmt};
})()`
