package shellbridge

import "encoding/json"

// evalEnvelope is the JSON contract every evaluated snippet returns.
type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func jsString(v string) string {
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

func jsReadLocation() string {
	return wrapJSEval(`
return JSON.stringify({ok:true,data:{location:String(window.location.href)}});`)
}

func jsReadPageContext() string {
	return wrapJSEval(`
return JSON.stringify({ok:true,data:{
  url: String(window.location.href),
  user_agent: String(navigator.userAgent || ""),
  viewport_width: window.innerWidth || 0,
  viewport_height: window.innerHeight || 0,
  device_pixel_ratio: window.devicePixelRatio || 1,
  visibility: String(document.visibilityState || "visible")
}});`)
}

func jsReplaceLocation(location string) string {
	return wrapJSEval(`
history.replaceState(null, "", ` + jsString(location) + `);
window.dispatchEvent(new HashChangeEvent("hashchange"));
return JSON.stringify({ok:true,data:{location:String(window.location.href)}});`)
}

func jsVisibilityState() string {
	return wrapJSEval(`
return JSON.stringify({ok:true,data:{visibility:String(document.visibilityState || "visible")}});`)
}

func jsClearPageStorage() string {
	return wrapJSEval(`
var cleared = [];
try { window.localStorage.clear(); cleared.push("localStorage"); } catch(e) {}
try { window.sessionStorage.clear(); cleared.push("sessionStorage"); } catch(e) {}
return JSON.stringify({ok:true,data:{cleared:cleared}});`)
}

func jsClearOfflineCaches() string {
	return wrapJSEvalAsync(`
var removed = 0;
if (window.caches && window.caches.keys) {
  var keys = await window.caches.keys();
  for (var i = 0; i < keys.length; i++) {
    try { await window.caches.delete(keys[i]); removed++; } catch(e) {}
  }
}
return JSON.stringify({ok:true,data:{removed:removed}});`)
}

func jsShowOverlay(html string) string {
	return wrapJSEval(`
var prior = document.getElementById("sk-overlay-host");
if (prior) { prior.remove(); }
var host = document.createElement("div");
host.id = "sk-overlay-host";
host.innerHTML = ` + jsString(html) + `;
document.documentElement.appendChild(host);
var scripts = host.querySelectorAll("script");
for (var i = 0; i < scripts.length; i++) {
  var s = document.createElement("script");
  s.textContent = scripts[i].textContent;
  host.appendChild(s);
  scripts[i].remove();
}
return JSON.stringify({ok:true});`)
}

func jsHideOverlay() string {
	return wrapJSEval(`
var host = document.getElementById("sk-overlay-host");
var shown = false;
if (host) { host.remove(); shown = true; }
return JSON.stringify({ok:true,data:{removed:shown}});`)
}
