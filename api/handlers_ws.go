package api

import (
	"net/http"
	"time"

	"github.com/IDGS-904-22002349/Eathereye/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StateStream pushes every state change to a WebSocket client, starting with
// the current state. Client messages are ignored.
func (h *Handler) StateStream(w http.ResponseWriter, r *http.Request) {
	states, cancel := h.deps.State.Watch()
	defer cancel()
	stream(w, r, states, func(s models.AppState) any { return newStateResponse(s) })
}

// SettingsStream pushes the preferences on every change, starting with the
// stored values.
func (h *Handler) SettingsStream(w http.ResponseWriter, r *http.Request) {
	prefs, cancel := h.deps.Settings.Watch()
	defer cancel()
	stream(w, r, prefs, func(p models.UserPreferences) any { return p })
}

// AlertStream pushes the full notification list, newest first, whenever it
// changes.
func (h *Handler) AlertStream(w http.ResponseWriter, r *http.Request) {
	alerts, cancel := h.deps.Alerts.Watch()
	defer cancel()
	stream(w, r, alerts, func(list []models.AlertNotification) any {
		if list == nil {
			return []models.AlertNotification{}
		}
		return list
	})
}

// stream upgrades the request and writes every value from updates as JSON
// until the client goes away or updates is closed.
func stream[T any](w http.ResponseWriter, r *http.Request, updates <-chan T, render func(T) any) {
	l := GetLogger(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	stop := make(chan struct{})
	go func() {
		defer close(stop)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case v, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(render(v)); err != nil {
				l.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
