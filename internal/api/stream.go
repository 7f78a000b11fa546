package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// streamHandler upgrades to WebSocket and feeds the subscriber every trace
// append and lifecycle transition as a JSON text frame, until the client
// disconnects.
func streamHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Warn("diagnostics stream upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		slog.Info("diagnostics stream opened", "remote", r.RemoteAddr)

		events := svc.Subscribe()
		closed := make(chan struct{})

		// Drain client frames so close and ping frames are handled; any read
		// error means the client went away.
		go func() {
			defer close(closed)
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		defer func() {
			_ = conn.Close()
			slog.Info("diagnostics stream closed", "remote", r.RemoteAddr)
		}()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case ev := <-events:
				data, err := json.Marshal(ev)
				if err != nil {
					slog.Debug("diagnostics stream marshal failed", "error", err)
					continue
				}
				if err := wsutil.WriteServerText(conn, data); err != nil {
					slog.Debug("diagnostics stream write failed", "error", err)
					return
				}
			}
		}
	}
}
