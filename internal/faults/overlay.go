package faults

import (
	"encoding/json"
	"html"
	"log/slog"
)

// OverlayHTML renders the recovery overlay for a report. The markup is
// self-contained (inline styles, no framework, no external resources)
// because the view framework may be exactly the thing that failed. Buttons
// call back through the host binding for actions the page cannot perform on
// its own.
func OverlayHTML(r Report) string {
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		slog.Debug("overlay payload marshal failed", "error", err)
		payload = []byte(`{"message":` + jsonString(r.Message) + `}`)
	}

	return `
<div id="sk-overlay" style="position:fixed;inset:0;z-index:2147483647;background:#101522;color:#f4f4f4;font-family:-apple-system,Helvetica,Arial,sans-serif;padding:24px;overflow:auto;">
  <h2 style="margin:0 0 8px;font-size:20px;">Something went wrong</h2>
  <p style="margin:0 0 16px;font-size:14px;opacity:.8;">` + html.EscapeString(r.Message) + `</p>
  <div style="display:flex;gap:8px;flex-wrap:wrap;margin-bottom:16px;">
    <button id="sk-copy" style="padding:10px 14px;border:0;border-radius:6px;background:#3b82f6;color:#fff;font-size:14px;">Copy details</button>
    <button id="sk-toggle" style="padding:10px 14px;border:0;border-radius:6px;background:#374151;color:#fff;font-size:14px;">Show details</button>
    <button id="sk-clear" style="padding:10px 14px;border:0;border-radius:6px;background:#b91c1c;color:#fff;font-size:14px;">Clear cache &amp; reload</button>
    <button id="sk-reload" style="padding:10px 14px;border:0;border-radius:6px;background:#374151;color:#fff;font-size:14px;">Reload</button>
  </div>
  <pre id="sk-payload" style="display:none;white-space:pre-wrap;word-break:break-all;background:#0b0e17;border-radius:6px;padding:12px;font-size:11px;user-select:text;-webkit-user-select:text;">` + html.EscapeString(string(payload)) + `</pre>
</div>
<script>
(function(){
  var payload = document.getElementById('sk-payload');
  var copyBtn = document.getElementById('sk-copy');
  var send = function(action){
    try { window.__shellkeeper(JSON.stringify({type:'overlay', action:action})); } catch (e) {}
  };
  copyBtn.addEventListener('click', function(){
    var text = payload.textContent;
    var done = function(){ copyBtn.textContent = 'Copied'; };
    if (navigator.clipboard && navigator.clipboard.writeText) {
      navigator.clipboard.writeText(text).then(done, function(){ manualSelect(); });
    } else {
      manualSelect();
    }
    function manualSelect(){
      payload.style.display = 'block';
      var range = document.createRange();
      range.selectNodeContents(payload);
      var sel = window.getSelection();
      sel.removeAllRanges();
      sel.addRange(range);
      copyBtn.textContent = 'Select & copy manually';
    }
  });
  document.getElementById('sk-toggle').addEventListener('click', function(){
    var visible = payload.style.display !== 'none';
    payload.style.display = visible ? 'none' : 'block';
    this.textContent = visible ? 'Show details' : 'Hide details';
  });
  document.getElementById('sk-clear').addEventListener('click', function(){ send('clear-cache-reload'); });
  document.getElementById('sk-reload').addEventListener('click', function(){ location.reload(); });
})();
</script>`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
