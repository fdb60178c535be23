package sinkcdp

// jsCapabilityHelper provides _ensureCap() — the permission gate. Tries
// the speaker-selection permission state first, then falls back to a
// minimal audio-capture probe whose only purpose is to unlock device
// labels; any granted stream is stopped immediately. The outcome is
// cached on the window for the page lifetime. Never throws: a denied or
// unsupported platform resolves to {granted:false}.
const jsCapabilityHelper = `
async function _ensureCap() {
  if (window.__sinktabCap) return window.__sinktabCap;
  var cap = {granted: false, via: ""};
  try {
    var st = await navigator.permissions.query({name: "speaker-selection"});
    if (st && st.state === "granted") {
      cap = {granted: true, via: "permission-state"};
    }
  } catch (_) {}
  if (!cap.granted && navigator.mediaDevices && navigator.mediaDevices.getUserMedia) {
    try {
      var stream = await navigator.mediaDevices.getUserMedia({audio: true});
      stream.getTracks().forEach(function(t) { t.stop(); });
      cap = {granted: true, via: "capture-probe"};
    } catch (_) {}
  }
  window.__sinktabCap = cap;
  return cap;
}
`

func jsEnsureCapability() string {
	return wrapJSEvalAsync(jsCapabilityHelper + `
var cap = await _ensureCap();
return JSON.stringify({ok:true,data:cap});`)
}

// jsListDevices enumerates devices after running the permission gate.
// Entries without both a usable label and id are dropped; unnamed
// placeholder devices are not actionable. With warm=true an available
// output picker may be triggered once to unlock labels when the first
// enumeration comes back unlabeled.
func jsListDevices(warm bool) string {
	return wrapJSEvalAsync(jsCapabilityHelper + `
var warm = ` + jsJSON(warm) + `;
await _ensureCap();
if (!navigator.mediaDevices || !navigator.mediaDevices.enumerateDevices) {
  return JSON.stringify({ok:true,data:{audioinput:[],audiooutput:[],videoinput:[]}});
}
function _collect(devs) {
  var out = {audioinput: [], audiooutput: [], videoinput: []};
  for (var i = 0; i < devs.length; i++) {
    var d = devs[i];
    if (!d.label || !d.deviceId) continue;
    if (!out[d.kind]) continue;
    out[d.kind].push({kind: d.kind, label: d.label, id: d.deviceId});
  }
  return out;
}
var out = _collect(await navigator.mediaDevices.enumerateDevices());
if (warm && out.audiooutput.length === 0 && typeof navigator.mediaDevices.selectAudioOutput === "function") {
  try {
    await navigator.mediaDevices.selectAudioOutput();
    out = _collect(await navigator.mediaDevices.enumerateDevices());
  } catch (_) {}
}
return JSON.stringify({ok:true,data:out});`)
}

// jsRequestPicker invokes the platform's explicit output-device prompt.
// The surrounding Go call bounds the wait; an unsupported platform
// resolves to picked=false rather than an error.
func jsRequestPicker() string {
	return wrapJSEvalAsync(`
if (!navigator.mediaDevices || typeof navigator.mediaDevices.selectAudioOutput !== "function") {
  return JSON.stringify({ok:true,data:{picked:false}});
}
var dev = await navigator.mediaDevices.selectAudioOutput();
return JSON.stringify({ok:true,data:{picked:true,label:dev.label || "",id:dev.deviceId || ""}});`)
}

// jsTrySink probes whether a stored id is still usable in this browsing
// context by applying it to the first media element. Used by the
// resolver before falling back to a fresh enumeration.
func jsTrySink(id string) string {
	return wrapJSEvalAsync(`
var want = ` + jsString(id) + `;
var els = document.querySelectorAll("audio, video");
if (els.length === 0) {
  return JSON.stringify({ok:true,data:{usable:false,reason:"no media elements"}});
}
var el = els[0];
if (typeof el.setSinkId !== "function") {
  return JSON.stringify({ok:true,data:{usable:false,reason:"setSinkId unsupported"}});
}
if (el.sinkId === want) {
  return JSON.stringify({ok:true,data:{usable:true}});
}
try {
  await el.setSinkId(want);
  return JSON.stringify({ok:true,data:{usable:true}});
} catch (e) {
  return JSON.stringify({ok:true,data:{usable:false,reason:String(e && e.message || e)}});
}`)
}
