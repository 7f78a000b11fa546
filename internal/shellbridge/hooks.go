package shellbridge

// bindingName is the CDP binding the bootstrap hooks call back through.
const bindingName = "__shellkeeper"

// bootstrapJS installs the in-page hooks. It runs before any page script via
// Page.addScriptToEvaluateOnNewDocument and once directly after attach for
// the already-loaded document; the guard flag keeps the second install a
// no-op. Uncaught exceptions, unhandled rejections, visibility changes,
// route changes and overlay actions all funnel through the binding. Failed
// sub-resource loads are observed on the network domain instead, so no
// capture-phase error listener is installed here.
const bootstrapJS = `(function(){
if (window.__shellkeeperHooks) { return; }
window.__shellkeeperHooks = true;

var send = function(payload){
  try {
    if (typeof window.` + bindingName + ` === "function") {
      window.` + bindingName + `(JSON.stringify(payload));
    }
  } catch (e) {}
};

window.addEventListener("error", function(ev){
  if (!ev) { return; }
  var err = ev.error;
  send({
    type: "error",
    name: err && err.name ? String(err.name) : "",
    message: ev.message ? String(ev.message) : (err ? String(err) : ""),
    source: ev.filename ? String(ev.filename) : "",
    line: ev.lineno || 0,
    col: ev.colno || 0,
    stack: err && err.stack ? String(err.stack) : ""
  });
});

window.addEventListener("unhandledrejection", function(ev){
  var reason = ev && ev.reason;
  send({
    type: "rejection",
    name: reason && reason.name ? String(reason.name) : "",
    message: reason && reason.message ? String(reason.message) : String(reason),
    stack: reason && reason.stack ? String(reason.stack) : ""
  });
});

document.addEventListener("visibilitychange", function(){
  send({ type: "visibility", state: String(document.visibilityState) });
});

window.addEventListener("hashchange", function(){
  send({
    type: "route",
    url: String(window.location.href),
    fragment: String(window.location.hash || "").replace(/^#/, "")
  });
});
})();`
