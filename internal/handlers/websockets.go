package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"servalliance/internal/logger"
	wshub "servalliance/internal/services/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientRegistry is the alert hub as seen by the websocket handler.
type ClientRegistry interface {
	Register(client wshub.Conn)
	Unregister(client wshub.Conn)
}

// AlertsWebsocketHandler subscribes a dashboard to live alert events. The
// connection is read only to notice the client leaving.
func AlertsWebsocketHandler(hub ClientRegistry, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(pongWait))
		connection.SetPongHandler(func(string) error {
			connection.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		hub.Register(connection)
		defer hub.Unregister(connection)

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					deadline := time.Now().Add(writeWait)
					if err := connection.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
						return
					}
				}
			}
		}()

		logger.Info("Dashboard connected from %s", r.RemoteAddr)
		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logger.Info("Dashboard disconnected: %v", err)
				return
			}
		}
	}
}
