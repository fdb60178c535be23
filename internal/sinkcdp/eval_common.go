package sinkcdp

import "encoding/json"

// In-page markers. The desired sink id lives on the element itself as a
// durable attribute so it survives DOM mutation within the page; the
// watch marker is a plain property so re-arming after navigation starts
// from a clean slate.
const (
	sinkAttr    = "data-sinktab-sink"
	reportFunc  = "__sinktabReport"
	watchMarker = "__sinktabWatched"
)

// jsWatchHelpers provides _isMedia/_tag/_desired/_apply/_watch — the
// per-element binding state machine shared by the apply, check, and
// sentinel scripts. _watch is idempotent: once the marker is set the
// lifecycle listeners are never attached again.
const jsWatchHelpers = `
function _isMedia(el) {
  return el && (el.tagName === "AUDIO" || el.tagName === "VIDEO");
}
function _tag(el) {
  if (!el.__sinktabId) {
    window.__sinktabSeq = (window.__sinktabSeq || 0) + 1;
    el.__sinktabId = "el-" + window.__sinktabSeq;
  }
  return el.__sinktabId;
}
function _report(el, event) {
  if (typeof window.` + reportFunc + ` !== "function") return;
  try {
    window.` + reportFunc + `(JSON.stringify({
      element: _tag(el),
      event: event,
      desired_sink: el.getAttribute("` + sinkAttr + `") || "",
      current_sink: el.sinkId || ""
    }));
  } catch (_) {}
}
function _desired(el) {
  var d = el.getAttribute("` + sinkAttr + `");
  if (d) return d;
  return window.__sinktabDesired || "";
}
function _watch(el) {
  if (el.` + watchMarker + `) return;
  el.` + watchMarker + ` = true;
  el.addEventListener("emptied", function() { _report(el, "emptied"); });
  el.addEventListener("ended", function() { _report(el, "ended"); });
  el.addEventListener("playing", function() {
    var want = _desired(el);
    if (want && typeof el.setSinkId === "function" && el.sinkId !== want) {
      el.setSinkId(want).catch(function() {});
    }
    _report(el, "playing");
  });
}
`

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }
