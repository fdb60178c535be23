package sinkcdp

// jsApplySink routes every currently-attached media element to the given
// sink id. Elements that already match are counted as applied; the rest
// get setSinkId plus a durable desired-sink attribute and lifecycle
// watchers. Partial success applies what it can and reports
// all_applied=false.
func jsApplySink(id string) string {
	return wrapJSEvalAsync(jsWatchHelpers + `
var want = ` + jsString(id) + `;
window.__sinktabDesired = want;
var els = document.querySelectorAll("audio, video");
var total = els.length, applied = 0, failures = [];
for (var i = 0; i < els.length; i++) {
  var el = els[i];
  var key = _tag(el);
  el.setAttribute("` + sinkAttr + `", want);
  _watch(el);
  if (typeof el.setSinkId !== "function") {
    failures.push(key + ": setSinkId unsupported");
    continue;
  }
  if (el.sinkId === want) { applied++; continue; }
  try {
    await el.setSinkId(want);
    applied++;
  } catch (e) {
    failures.push(key + ": " + String(e && e.message || e));
  }
}
return JSON.stringify({ok:true,data:{
  total: total,
  applied: applied,
  all_applied: applied === total,
  failures: failures
}});`)
}

// jsCheckAllOn reports true only when at least one media element exists
// and every one reports the given sink id as its current output.
func jsCheckAllOn(id string) string {
	return wrapJSEval(`
var want = ` + jsString(id) + `;
var els = document.querySelectorAll("audio, video");
var allOn = els.length > 0;
for (var i = 0; i < els.length; i++) {
  if (els[i].sinkId !== want) { allOn = false; break; }
}
return JSON.stringify({ok:true,data:{elements: els.length, all_on: allOn}});`)
}

// jsSentinel is installed once per document (attach time plus every new
// document). It catches media elements created after an apply pass:
// capture-phase listeners on the document tag, watch, and route any
// element that starts playing while a page-level desired sink is set.
// playing/emptied/ended do not bubble, so capture phase is required.
func jsSentinel() string {
	return `(function(){
if (window.__sinktabSentinel) return;
window.__sinktabSentinel = true;
` + jsWatchHelpers + `
document.addEventListener("playing", function(ev) {
  var el = ev.target;
  if (!_isMedia(el) || el.` + watchMarker + `) return;
  _tag(el);
  var want = _desired(el);
  if (want) {
    el.setAttribute("` + sinkAttr + `", want);
    if (typeof el.setSinkId === "function" && el.sinkId !== want) {
      el.setSinkId(want).catch(function() {});
    }
  }
  _watch(el);
  _report(el, "playing");
}, true);
document.addEventListener("emptied", function(ev) {
  var el = ev.target;
  if (_isMedia(el) && !el.` + watchMarker + `) { _report(el, "emptied"); }
}, true);
document.addEventListener("ended", function(ev) {
  var el = ev.target;
  if (_isMedia(el) && !el.` + watchMarker + `) { _report(el, "ended"); }
}, true);
})()`
}
