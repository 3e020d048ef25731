package daemon

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"locsim/internal/logging"
	"locsim/internal/types"
)

const (
	sseHeartbeatInterval = 15 * time.Second
	wsWriteTimeout       = 10 * time.Second
	wsPongTimeout        = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// deviceFilter returns a predicate for the optional ?device= query value.
func deviceFilter(r *http.Request) func(types.Event) bool {
	deviceID := strings.TrimSpace(r.URL.Query().Get("device"))
	if deviceID == "" {
		return func(types.Event) bool { return true }
	}
	return func(evt types.Event) bool { return evt.DeviceID == deviceID }
}

// EventStream serves the event channel as server-sent events, one
// "event: <name>" line plus a JSON "data:" line per event.
func (a *API) EventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	if a.Events == nil {
		writeServiceError(w, unavailableError("event stream not available", nil))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	ch, cancel := a.Events.Subscribe()
	defer cancel()
	match := deviceFilter(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	_, _ = w.Write([]byte(":\n\n"))
	flusher.Flush()

	reqID := logging.NewRequestID()
	logger := a.logger()
	logger.Debug("events_stream_open", logging.F("req_id", reqID))
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	var count int
	reason := "unknown"
	defer func() {
		logger.Debug("events_stream_close",
			logging.F("req_id", reqID),
			logging.F("count", count),
			logging.F("reason", reason),
		)
	}()
	for {
		select {
		case <-ctx.Done():
			reason = "ctx_done"
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(":\n\n"))
			flusher.Flush()
		case evt, ok := <-ch:
			if !ok {
				reason = "channel_closed"
				return
			}
			if !match(evt) {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			count++
			_, _ = w.Write([]byte("event: " + string(evt.Type) + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// EventSocket serves the same stream as JSON text frames over a WebSocket.
func (a *API) EventSocket(w http.ResponseWriter, r *http.Request) {
	if a.Events == nil {
		writeServiceError(w, unavailableError("event stream not available", nil))
		return
	}
	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	ch, cancel := a.Events.Subscribe()
	defer cancel()
	match := deviceFilter(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger().Warn("events_ws_upgrade_failed", logging.Err(err))
		return
	}
	defer conn.Close()

	// The read side only services control frames and notices a closed peer.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPongTimeout / 2)
	defer ping.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if !match(evt) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				a.logger().Debug("events_ws_write_failed", logging.Err(err))
				return
			}
		}
	}
}
