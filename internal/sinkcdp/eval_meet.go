package sinkcdp

// Google Meet keeps its toggle buttons marked with data-is-muted and
// descriptive aria-labels; the leave-call button only exists inside a
// meeting. Scraping those is the same approach the in-call UI tests use
// and has survived several Meet redesigns better than class names.

const jsMeetHelpers = `
function _meetBtn(words) {
  var btns = document.querySelectorAll("button[aria-label], div[role=button][aria-label]");
  for (var i = 0; i < btns.length; i++) {
    var label = (btns[i].getAttribute("aria-label") || "").toLowerCase();
    var all = true;
    for (var j = 0; j < words.length; j++) {
      if (label.indexOf(words[j]) === -1) { all = false; break; }
    }
    if (all) return btns[i];
  }
  return null;
}
function _meetMuted(btn) {
  if (!btn) return false;
  if (btn.getAttribute("data-is-muted") === "true") return true;
  var label = (btn.getAttribute("aria-label") || "").toLowerCase();
  return label.indexOf("turn on") !== -1;
}
`

func jsMeetState() string {
	return wrapJSEval(jsMeetHelpers + `
var mic = _meetBtn(["microphone"]);
var cam = _meetBtn(["camera"]);
var leave = _meetBtn(["leave call"]);
return JSON.stringify({ok:true,data:{
  title: document.title || "",
  in_meeting: leave !== null,
  mic_muted: _meetMuted(mic),
  cam_muted: _meetMuted(cam)
}});`)
}

// jsMeetJoin clicks the pre-meeting join control. Both the plain "Join
// now" and the knock variant "Ask to join" count; in-meeting pages have
// neither and report joined=false.
func jsMeetJoin() string {
	return wrapJSEval(jsMeetHelpers + `
var spans = document.querySelectorAll("button span, div[role=button] span");
var btn = null;
for (var i = 0; i < spans.length; i++) {
  var txt = (spans[i].textContent || "").trim().toLowerCase();
  if (txt === "join now" || txt === "ask to join") {
    btn = spans[i].closest("button, div[role=button]");
    break;
  }
}
if (!btn) {
  return JSON.stringify({ok:true,data:{joined:false}});
}
btn.click();
return JSON.stringify({ok:true,data:{joined:true}});`)
}
