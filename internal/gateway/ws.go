package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
)

// handleRunEvents upgrades GET /ws/runs to a WebSocket and streams run
// lifecycle events as JSON text frames until the client disconnects.
func (g *Gateway) handleRunEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			g.logger.Warn("websocket accept failed", "error", err)
			return
		}
		release := g.metrics.AddWSClient()
		defer release()
		defer conn.Close(websocket.StatusInternalError, "unexpected close")

		events, unsubscribe := g.dispatcher.Events().Subscribe()
		defer unsubscribe()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			case ev, ok := <-events:
				if !ok {
					_ = conn.Close(websocket.StatusNormalClosure, "event stream closed")
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
					g.logger.Debug("websocket client gone", "error", err)
					return
				}
			}
		}
	}
}
